package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/changelogd/internal/config"
	"github.com/fyrsmithlabs/changelogd/internal/distill"
	"github.com/fyrsmithlabs/changelogd/internal/logging"
	"github.com/fyrsmithlabs/changelogd/internal/source"
	"github.com/fyrsmithlabs/changelogd/pkg/changelog"
)

// Artifact formats accepted by --format.
const (
	formatMarkdown = "markdown"
	formatJSON     = "json"
)

// watchSettleDelay lets an editor's burst of save events settle before
// re-running the pipeline.
const watchSettleDelay = 200 * time.Millisecond

var (
	// distillGitRepo reads commit messages from a local repository
	distillGitRepo string
	// distillSinceRef bounds the commit walk at a tag or ref (exclusive)
	distillSinceRef string
	// distillGitHubRepo reads recent release notes from owner/repo
	distillGitHubRepo string
	// distillMaxCommits caps the git source
	distillMaxCommits int
	// distillMaxReleases caps the GitHub source
	distillMaxReleases int
	// distillOutput writes the artifact to a file instead of stdout
	distillOutput string
	// distillFormat selects the artifact format
	distillFormat string
	// distillWatch re-runs distillation when the input file changes
	distillWatch bool
)

var distillCmd = &cobra.Command{
	Use:   "distill [file]",
	Short: "Distill release content into a categorized changelog",
	Long: `Distill release notes, commit logs, or PR text into a categorized
changelog. Reads from a file, stdin, a local git repository, or GitHub
releases.

The changelog goes to stdout (or --output); the run summary goes to
stderr.

Examples:
  # Distill a release notes file
  changelogd distill RELEASE_NOTES.md

  # Distill from stdin
  gh pr view 42 --json body -q .body | changelogd distill -

  # Distill commit messages since the last tag
  changelogd distill --git . --since v1.4.0

  # Distill the latest GitHub releases
  changelogd distill --github grafana/loki

  # Re-render on every save
  changelogd distill --watch draft-notes.md -o CHANGELOG.md

  # Full report as JSON
  changelogd distill --format json RELEASE_NOTES.md`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDistill,
}

func init() {
	distillCmd.Flags().StringVar(&distillGitRepo, "git", "", "read commit messages from a local git repository")
	distillCmd.Flags().StringVar(&distillSinceRef, "since", "", "stop the commit walk at this tag or ref (requires --git)")
	distillCmd.Flags().StringVar(&distillGitHubRepo, "github", "", "read recent release notes from a GitHub owner/repo")
	distillCmd.Flags().IntVar(&distillMaxCommits, "max-commits", source.DefaultMaxCommits, "maximum commits to read with --git")
	distillCmd.Flags().IntVar(&distillMaxReleases, "max-releases", source.DefaultMaxReleases, "maximum releases to read with --github")
	distillCmd.Flags().StringVarP(&distillOutput, "output", "o", "", "write the changelog to a file instead of stdout")
	distillCmd.Flags().StringVar(&distillFormat, "format", formatMarkdown, "artifact format: markdown or json")
	distillCmd.Flags().BoolVar(&distillWatch, "watch", false, "re-run distillation when the input file changes")
}

// runDistill handles the distill command.
func runDistill(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if distillFormat != formatMarkdown && distillFormat != formatJSON {
		return fmt.Errorf("unknown format %q (expected %s or %s)", distillFormat, formatMarkdown, formatJSON)
	}

	rt, err := setupRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := newService(rt.cfg, rt.logger.Underlying())
	if err != nil {
		return err
	}

	src, err := selectSource(ctx, rt.cfg, args)
	if err != nil {
		return err
	}

	if distillWatch {
		file, ok := src.(*source.FileSource)
		if !ok || file.Path == "" || file.Path == "-" {
			return errors.New("--watch requires a file argument")
		}
		return watchAndDistill(ctx, rt, svc, file.Path)
	}

	return distillOnce(logging.WithRunID(ctx, uuid.New().String()), rt, svc, src)
}

// selectSource picks the input source from the file argument and the
// --git/--github flags. Exactly one input is allowed.
func selectSource(ctx context.Context, cfg *config.Config, args []string) (source.Source, error) {
	path := ""
	if len(args) > 0 {
		path = args[0]
	}

	selected := 0
	if distillGitRepo != "" {
		selected++
	}
	if distillGitHubRepo != "" {
		selected++
	}
	if path != "" {
		selected++
	}
	if selected > 1 {
		return nil, errors.New("choose one input: a file argument, --git, or --github")
	}
	if distillSinceRef != "" && distillGitRepo == "" {
		return nil, errors.New("--since requires --git")
	}

	switch {
	case distillGitRepo != "":
		src := source.NewGit(distillGitRepo, distillSinceRef)
		src.MaxCommits = distillMaxCommits
		return src, nil

	case distillGitHubRepo != "":
		owner, repo, ok := strings.Cut(distillGitHubRepo, "/")
		if !ok || owner == "" || repo == "" {
			return nil, fmt.Errorf("--github expects owner/repo, got %q", distillGitHubRepo)
		}
		src := source.NewGitHub(ctx, owner, repo, cfg.GitHub.Token)
		src.MaxReleases = distillMaxReleases
		return src, nil

	default:
		return source.NewFile(path), nil
	}
}

// distillOnce loads the source, runs the pipeline, and writes the
// artifact and summary.
func distillOnce(ctx context.Context, rt *runtime, svc *distill.Service, src source.Source) error {
	content, err := src.Load(ctx)
	if err != nil {
		return err
	}

	report, err := svc.Run(ctx, content)
	if err != nil {
		return err
	}

	if err := writeArtifact(report); err != nil {
		return err
	}

	printDistillSummary(report)
	return nil
}

// writeArtifact renders the report in the selected format and writes it
// to stdout or the --output file.
func writeArtifact(report *distill.Report) error {
	var artifact []byte
	switch distillFormat {
	case formatJSON:
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		artifact = append(out, '\n')
	default:
		artifact = []byte(report.Changelog)
		if len(artifact) > 0 && artifact[len(artifact)-1] != '\n' {
			artifact = append(artifact, '\n')
		}
	}

	if distillOutput == "" {
		_, err := os.Stdout.Write(artifact)
		return err
	}
	if err := os.WriteFile(distillOutput, artifact, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", distillOutput, err)
	}
	return nil
}

// printDistillSummary writes the styled run summary to stderr.
func printDistillSummary(report *distill.Report) {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n",
		okStyle.Render("✓"),
		titleStyle.Render(fmt.Sprintf("%d changes distilled", len(report.Changes))))
	fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("bump:"), string(report.Bump))
	fmt.Fprintf(&b, "  %s ~%d\n", labelStyle.Render("tokens:"), report.TokenEstimate)

	if line := statsLine(report.Stats); line != "" {
		fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("counts:"), line)
	}

	for _, w := range report.Warnings {
		fmt.Fprintf(&b, "  %s %s\n", warnStyle.Render("!"), dimStyle.Render(w))
	}

	fmt.Fprint(os.Stderr, b.String())
}

// statsLine formats the non-zero category counts.
func statsLine(stats changelog.Stats) string {
	parts := make([]string, 0, 10)
	add := func(n int, name string) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, name))
		}
	}
	add(stats.Breaking, "breaking")
	add(stats.Security, "security")
	add(stats.Features, "features")
	add(stats.Fixes, "fixes")
	add(stats.Improvements, "improvements")
	add(stats.Performance, "performance")
	add(stats.Deprecations, "deprecations")
	add(stats.Infrastructure, "infrastructure")
	add(stats.Docs, "docs")
	add(stats.Other, "other")
	return strings.Join(parts, ", ")
}

// watchAndDistill re-runs distillation whenever the input file changes.
// Failed runs are reported and watching continues; editors save broken
// intermediate states.
func watchAndDistill(ctx context.Context, rt *runtime, svc *distill.Service, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to initialize filesystem watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors that save atomically
	// replace the inode and a file watch goes stale.
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	// Each save gets its own run ID so a failed run's log entries stay
	// attributable after the next one starts.
	run := func() {
		runCtx := logging.WithRunID(ctx, uuid.New().String())
		if err := distillOnce(runCtx, rt, svc, source.NewFile(abs)); err != nil {
			rt.logger.Warn(runCtx, "distillation failed, still watching",
				zap.String("file", abs),
				zap.Error(err),
			)
			fmt.Fprintf(os.Stderr, "%s %v\n", rejectStyle.Render("✗"), err)
		}
	}

	run()
	fmt.Fprintln(os.Stderr, dimStyle.Render(fmt.Sprintf("watching %s, ^C to stop", path)))

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-pending:
			pending = nil
			run()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Editors emit bursts of events per save; let them settle.
			pending = time.After(watchSettleDelay)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			rt.logger.Warn(ctx, "watcher error", zap.Error(err))
		}
	}
}
