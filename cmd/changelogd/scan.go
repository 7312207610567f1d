package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/changelogd/internal/source"
	"github.com/fyrsmithlabs/changelogd/pkg/threatscan"
)

var scanCmd = &cobra.Command{
	Use:   "scan [file]",
	Short: "Scan content for injection attempts without distilling it",
	Long: `Scan release content against the threat rules and report what the
distillation pipeline would do with it. Exits non-zero when the content
would be rejected, so the command works as a CI gate.

Examples:
  # Scan a file
  changelogd scan RELEASE_NOTES.md

  # Scan from stdin
  cat notes.md | changelogd scan -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

// runScan handles the scan command.
func runScan(cmd *cobra.Command, args []string) error {
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

	scanner := threatscan.NewScanner(threatscan.Config{
		MaxTokens:      rt.cfg.Scanner.MaxTokens,
		MaxContentSize: rt.cfg.Scanner.MaxContentSize,
		Logger:         rt.logger.Underlying(),
	})

	result := scanner.Scan(content)
	err = scanner.HandleResult(result)
	printScanReport(result, err == nil)

	return err
}

// printScanReport writes the styled scan report to stderr.
func printScanReport(result threatscan.ScanResult, allowed bool) {
	var b strings.Builder

	verdict := okStyle.Render("allowed")
	if !allowed {
		verdict = rejectStyle.Render("rejected")
	}

	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render("scan:"), verdict)
	fmt.Fprintf(&b, "  %s %s\n",
		labelStyle.Render("threat level:"),
		levelStyle(result.Level).Render(strings.ToUpper(result.Level.String())))
	fmt.Fprintf(&b, "  %s ~%d\n", labelStyle.Render("tokens:"), result.TokenEstimate)

	if result.Truncated {
		fmt.Fprintf(&b, "  %s %s\n",
			warnStyle.Render("!"),
			"content exceeds the token budget and would be truncated")
	}
	for _, issue := range result.Issues {
		fmt.Fprintf(&b, "  %s %s\n", dimStyle.Render("-"), issue)
	}

	fmt.Fprint(os.Stderr, b.String())
}
