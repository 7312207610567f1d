package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/changelogd/internal/config"
)

// DefaultMaxReleases caps how many release bodies a GitHubSource loads.
const DefaultMaxReleases = 10

// GitHubSource loads recent release bodies from a GitHub repository.
type GitHubSource struct {
	// Owner and Repo identify the repository.
	Owner string
	Repo  string

	// MaxReleases caps how many releases are loaded. Defaults to
	// DefaultMaxReleases.
	MaxReleases int

	// Client is the GitHub API client. Defaults to an unauthenticated
	// client; tests point it at a local server.
	Client *github.Client
}

// NewGitHub creates a GitHubSource for owner/repo. The token is optional;
// unauthenticated clients can read public repositories at reduced rate
// limits.
func NewGitHub(ctx context.Context, owner, repo string, token config.Secret) *GitHubSource {
	var httpClient *http.Client
	if token.IsSet() {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
		httpClient = oauth2.NewClient(ctx, ts)
	}
	return &GitHubSource{
		Owner:  owner,
		Repo:   repo,
		Client: github.NewClient(httpClient),
	}
}

// Load fetches published releases, newest first, and renders each as a
// "## <tag>" section over its body.
func (s *GitHubSource) Load(ctx context.Context) (string, error) {
	client := s.Client
	if client == nil {
		client = github.NewClient(nil)
	}

	maxReleases := s.MaxReleases
	if maxReleases <= 0 {
		maxReleases = DefaultMaxReleases
	}

	perPage := maxReleases
	if perPage > 100 {
		perPage = 100
	}
	opts := &github.ListOptions{PerPage: perPage}

	var sections []string
	for {
		releases, resp, err := client.Repositories.ListReleases(ctx, s.Owner, s.Repo, opts)
		if err != nil {
			return "", fmt.Errorf("failed to list releases for %s/%s: %w", s.Owner, s.Repo, err)
		}

		for _, rel := range releases {
			if rel.GetDraft() {
				continue
			}
			body := strings.TrimSpace(rel.GetBody())
			if body == "" {
				continue
			}
			sections = append(sections, formatRelease(rel.GetTagName(), rel.GetName(), body))
			if len(sections) >= maxReleases {
				break
			}
		}

		if len(sections) >= maxReleases || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	if len(sections) == 0 {
		return "", fmt.Errorf("%s/%s releases: %w", s.Owner, s.Repo, ErrNoContent)
	}
	return strings.Join(sections, "\n\n"), nil
}

// formatRelease renders one release as a markdown section. The release
// name is appended when it adds information beyond the tag.
func formatRelease(tag, name, body string) string {
	header := tag
	if name != "" && name != tag {
		if header == "" {
			header = name
		} else {
			header = fmt.Sprintf("%s (%s)", tag, name)
		}
	}
	if header == "" {
		return body
	}
	return "## " + header + "\n\n" + body
}

var _ Source = (*GitHubSource)(nil)
