package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/changelogd/internal/source"
	"github.com/fyrsmithlabs/changelogd/pkg/budget"
	"github.com/fyrsmithlabs/changelogd/pkg/textsplit"
)

var splitCmd = &cobra.Command{
	Use:   "split [file]",
	Short: "Show how content would be chunked for extraction",
	Long: `Split content with the configured chunk size and overlap and print
per-chunk statistics. Useful for tuning pipeline.chunk_size before an
expensive distill run.

Examples:
  # Inspect chunking for a file
  changelogd split RELEASE_NOTES.md

  # Inspect chunking from stdin
  cat notes.md | changelogd split -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSplit,
}

// runSplit handles the split command.
func runSplit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := setupRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	content, err := source.NewFile(path).Load(ctx)
	if err != nil {
		return err
	}

	splitter, err := textsplit.New(textsplit.Config{
		ChunkSize: rt.cfg.Pipeline.ChunkSize,
		Overlap:   rt.cfg.Pipeline.ChunkOverlap,
		Logger:    rt.logger.Underlying(),
	})
	if err != nil {
		return err
	}

	chunks := splitter.Chunk(content)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %d chunks (size %d, overlap %d)\n",
		titleStyle.Render("split:"),
		len(chunks), rt.cfg.Pipeline.ChunkSize, rt.cfg.Pipeline.ChunkOverlap)

	for i, chunk := range chunks {
		fmt.Fprintf(&b, "  %s %6d chars  ~%-5d tokens  %s\n",
			labelStyle.Render(fmt.Sprintf("#%-3d", i+1)),
			len(chunk),
			budget.EstimateTokens(chunk),
			dimStyle.Render(firstLine(chunk)))
	}

	fmt.Fprintf(&b, "%s %d chars, ~%d tokens\n",
		labelStyle.Render("total:"),
		len(content), budget.EstimateTokens(content))

	_, err = fmt.Fprint(os.Stdout, b.String())
	return err
}

// firstLine returns the chunk's first non-empty line, truncated for
// display.
func firstLine(chunk string) string {
	for _, line := range strings.Split(chunk, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		runes := []rune(line)
		if len(runes) > 60 {
			return string(runes[:57]) + "..."
		}
		return line
	}
	return ""
}
