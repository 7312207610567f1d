// Package main implements the changelogd CLI for distilling untrusted
// release content into structured changelogs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/changelogd/internal/config"
	"github.com/fyrsmithlabs/changelogd/internal/distill"
	"github.com/fyrsmithlabs/changelogd/internal/logging"
	"github.com/fyrsmithlabs/changelogd/internal/telemetry"
	"github.com/fyrsmithlabs/changelogd/pkg/llm"
	"github.com/fyrsmithlabs/changelogd/pkg/mapreduce"
	"github.com/fyrsmithlabs/changelogd/pkg/threatscan"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath is the config file location; empty uses the default path
	configPath string
	// logLevel overrides logging.level from the config
	logLevel string
	// logFormat overrides logging.format from the config
	logFormat string
)

func main() {
	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "changelogd",
	Short: "Distill release content into structured changelogs",
	Long: `changelogd turns untrusted release notes, commit logs, and PR text
into a categorized changelog through a scan-extract-filter-render pipeline.

Input is threat-scanned before any model sees it, large content is split
into bounded chunks for parallel extraction, and every model response is
validated on the way back.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/changelogd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format override: json, console")

	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"changelogd {{.Version}} (commit %s, built %s)\n", gitCommit, buildDate))

	rootCmd.AddCommand(distillCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(splitCmd)
	rootCmd.AddCommand(serveCmd)
}

// runtime carries the dependencies every command shares.
type runtime struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
}

// setupRuntime loads configuration and brings up telemetry and logging,
// in that order: the logger may ship records through the OTEL bridge.
func setupRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	tel, err := telemetry.New(ctx, telemetryConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := newLogger(cfg, tel)
	if err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = tel.Shutdown(shutdownCtx)
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return &runtime{
		cfg:       cfg,
		logger:    logger,
		telemetry: tel,
	}, nil
}

// Close flushes telemetry and logs. Shutdown gets its own deadline so a
// canceled command context cannot cut the flush short.
func (r *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.telemetry.Shutdown(ctx); err != nil {
		r.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
	_ = r.logger.Sync()
}

// telemetryConfig translates the user-facing telemetry section into the
// telemetry package's config.
func telemetryConfig(cfg *config.Config) *telemetry.Config {
	tc := telemetry.NewDefaultConfig()
	tc.Enabled = cfg.Telemetry.Enabled
	tc.Endpoint = cfg.Telemetry.Endpoint
	tc.Protocol = cfg.Telemetry.Protocol
	tc.Insecure = cfg.Telemetry.Insecure
	tc.ServiceName = cfg.Telemetry.ServiceName
	tc.ServiceVersion = version
	tc.SampleRate = cfg.Telemetry.SampleRate
	return tc
}

// newLogger translates the user-facing logging section and builds the
// logger, bridging to OTEL when that output is enabled.
func newLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	lc := logging.NewDefaultConfig()
	lc.Level = level
	lc.Format = cfg.Logging.Format
	lc.Output.Stdout = cfg.Logging.Stdout
	lc.Output.Stderr = cfg.Logging.Stderr
	lc.Output.OTEL = cfg.Logging.OTEL

	return logging.NewLogger(lc, tel.LoggerProvider())
}

// newService builds the distillation service from configuration. Shared
// by the distill and serve commands.
func newService(cfg *config.Config, logger *zap.Logger) (*distill.Service, error) {
	gen, err := llm.New(llm.Config{
		Provider:   cfg.LLM.Provider,
		Model:      cfg.LLM.Model,
		APIKey:     cfg.LLM.APIKey.Value(),
		BaseURL:    cfg.LLM.BaseURL,
		Timeout:    cfg.LLM.Timeout.Duration(),
		MaxRetries: cfg.LLM.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	return distill.New(distill.Config{
		Scanner: threatscan.Config{
			MaxTokens:      cfg.Scanner.MaxTokens,
			MaxContentSize: cfg.Scanner.MaxContentSize,
		},
		ValidationMode: threatscan.ValidationMode(cfg.Scanner.ValidationMode),
		Engine: mapreduce.Config{
			ChunkSize:       cfg.Pipeline.ChunkSize,
			Overlap:         cfg.Pipeline.ChunkOverlap,
			MaxWorkers:      cfg.Pipeline.MaxWorkers,
			ReduceThreshold: cfg.Pipeline.ReduceThreshold,
			Flatten:         !cfg.Pipeline.SkipFlatten,
		},
		BudgetMaxTokens: cfg.Budget.MaxTokens,
		Summarize:       cfg.Budget.Summarize,
		Filter:          cfg.Filter,
		Logger:          logger,
	}, gen)
}
