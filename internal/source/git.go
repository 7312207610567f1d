package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// DefaultMaxCommits caps how many commits a GitSource loads.
const DefaultMaxCommits = 50

// maxCommitMessageLength truncates pathological commit messages so a
// single commit cannot dominate the prompt.
const maxCommitMessageLength = 500

// GitSource loads commit subjects and bodies from a local repository,
// walking history from HEAD back to an optional ref.
type GitSource struct {
	// RepoPath is the repository root.
	RepoPath string

	// SinceRef stops the walk at a tag, branch, or revision, exclusive.
	// Empty walks from HEAD until MaxCommits.
	SinceRef string

	// MaxCommits caps the walk. Defaults to DefaultMaxCommits.
	MaxCommits int
}

// NewGit creates a GitSource for the repository at repoPath, collecting
// commits newer than sinceRef.
func NewGit(repoPath, sinceRef string) *GitSource {
	return &GitSource{RepoPath: repoPath, SinceRef: sinceRef}
}

// Load walks commits from HEAD, newest first, and renders them as a
// bulleted list with subjects and indented bodies.
func (s *GitSource) Load(ctx context.Context) (string, error) {
	repo, err := git.PlainOpen(s.RepoPath)
	if err != nil {
		return "", fmt.Errorf("failed to open repository %s: %w", s.RepoPath, err)
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	var stopAt plumbing.Hash
	if s.SinceRef != "" {
		rev, err := repo.ResolveRevision(plumbing.Revision(s.SinceRef))
		if err != nil {
			return "", fmt.Errorf("failed to resolve revision %q: %w", s.SinceRef, err)
		}
		stopAt = *rev
	}

	maxCommits := s.MaxCommits
	if maxCommits <= 0 {
		maxCommits = DefaultMaxCommits
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return "", fmt.Errorf("failed to read commit log: %w", err)
	}
	defer iter.Close()

	var entries []string
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.SinceRef != "" && c.Hash == stopAt {
			return storer.ErrStop
		}
		entries = append(entries, formatCommit(c))
		if len(entries) >= maxCommits {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to walk commits: %w", err)
	}

	if len(entries) == 0 {
		return "", fmt.Errorf("%s..HEAD: %w", s.SinceRef, ErrNoContent)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Commits (%d total)\n\n", len(entries))
	b.WriteString(strings.Join(entries, "\n"))
	return b.String(), nil
}

// formatCommit renders one commit as "- <hash>: <subject>" with the body
// indented beneath it.
func formatCommit(c *object.Commit) string {
	message := strings.TrimSpace(c.Message)
	if len(message) > maxCommitMessageLength {
		message = message[:maxCommitMessageLength] + "..."
	}

	subject, body, _ := strings.Cut(message, "\n")
	entry := fmt.Sprintf("- %s: %s", c.Hash.String()[:8], strings.TrimSpace(subject))

	body = strings.TrimSpace(body)
	if body != "" {
		entry += "\n  " + strings.ReplaceAll(body, "\n", "\n  ")
	}
	return entry
}

var _ Source = (*GitSource)(nil)
