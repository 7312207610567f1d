// Package distill orchestrates the full pipeline from untrusted release
// text to a bounded, rendered changelog: threat scanning, extraction
// (map-reduce for large inputs, a single call otherwise), exclusion
// filtering, priority sorting, markdown rendering, and budget
// enforcement on the result.
package distill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/changelogd/internal/logging"
	"github.com/fyrsmithlabs/changelogd/pkg/budget"
	"github.com/fyrsmithlabs/changelogd/pkg/changelog"
	"github.com/fyrsmithlabs/changelogd/pkg/llm"
	"github.com/fyrsmithlabs/changelogd/pkg/mapreduce"
	"github.com/fyrsmithlabs/changelogd/pkg/threatscan"
)

const tracerName = "github.com/fyrsmithlabs/changelogd/internal/distill"
const meterName = "distill"

// Config holds configuration for a Service.
type Config struct {
	// Scanner bounds and threat rules applied to loaded content. Zero
	// fields take scanner defaults.
	Scanner threatscan.Config

	// ValidationMode selects how injection checks run: pattern, llm,
	// both, or none. Defaults to ModePattern.
	ValidationMode threatscan.ValidationMode

	// Engine tunes the map-reduce extraction pipeline. A zero value takes
	// mapreduce.NewDefaultConfig.
	Engine mapreduce.Config

	// BudgetMaxTokens bounds the rendered changelog. Defaults to
	// budget.DefaultMaxTokens.
	BudgetMaxTokens int

	// Summarize condenses an over-budget changelog with the generator
	// instead of truncating sections.
	Summarize bool

	// Filter drops changes before rendering.
	Filter changelog.FilterConfig

	Logger *zap.Logger
}

// Report is the outcome of one distillation run.
type Report struct {
	// RunID correlates logs, traces, and output for this run.
	RunID string `json:"run_id"`

	// Changelog is the rendered markdown, already fitted to the budget.
	Changelog string `json:"changelog"`

	// Changes is the final change list in priority order.
	Changes []changelog.Change `json:"changes"`

	// Stats tallies the final changes per category.
	Stats changelog.Stats `json:"stats"`

	// Bump is the semantic version bump the changes imply.
	Bump changelog.Bump `json:"bump"`

	// TokenEstimate is the estimated token count of Changelog.
	TokenEstimate int `json:"token_estimate"`

	// Warnings records every degraded path taken during the run.
	Warnings []string `json:"warnings,omitempty"`
}

// Service runs distillations. A Service is immutable after construction
// and safe for concurrent use.
type Service struct {
	scanner   *threatscan.Scanner
	engine    *mapreduce.Engine
	governor  *budget.Governor
	generator llm.Generator
	filter    changelog.FilterConfig
	mode      threatscan.ValidationMode

	// scanMaxTokens mirrors the scanner's token budget for the pre-call
	// truncation on the single-call path.
	scanMaxTokens int

	logger *zap.Logger

	tracer trace.Tracer
	meter  metric.Meter

	runCounter    metric.Int64Counter
	errorCounter  metric.Int64Counter
	runDuration   metric.Float64Histogram
	changesEmit   metric.Int64Histogram
}

// New creates a Service from config and a text generator.
func New(cfg Config, gen llm.Generator) (*Service, error) {
	if gen == nil {
		return nil, errors.New("generator is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.ValidationMode == "" {
		cfg.ValidationMode = threatscan.ModePattern
	}
	mode, err := threatscan.ParseValidationMode(string(cfg.ValidationMode))
	if err != nil {
		return nil, err
	}

	scanMaxTokens := cfg.Scanner.MaxTokens
	if scanMaxTokens <= 0 {
		scanMaxTokens = budget.DefaultMaxTokens
	}
	if cfg.Scanner.Logger == nil {
		cfg.Scanner.Logger = logger
	}

	if cfg.Engine == (mapreduce.Config{}) {
		cfg.Engine = mapreduce.NewDefaultConfig()
	}
	if cfg.Engine.Logger == nil {
		cfg.Engine.Logger = logger
	}
	engine, err := mapreduce.New(cfg.Engine)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	govCfg := budget.GovernorConfig{
		MaxTokens: cfg.BudgetMaxTokens,
		Logger:    logger,
	}
	if cfg.Summarize {
		summarizer, err := budget.NewSummarizer(budget.SummarizerConfig{
			Generate:   gen.Generate,
			ChunkSize:  cfg.Engine.ChunkSize,
			Overlap:    cfg.Engine.Overlap,
			MaxWorkers: cfg.Engine.MaxWorkers,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating summarizer: %w", err)
		}
		govCfg.Summarizer = summarizer
	}

	s := &Service{
		scanner:       threatscan.NewScanner(cfg.Scanner),
		engine:        engine,
		governor:      budget.NewGovernor(govCfg),
		generator:     gen,
		filter:        cfg.Filter,
		mode:          mode,
		scanMaxTokens: scanMaxTokens,
		logger:        logger,
		tracer:        otel.Tracer(tracerName),
		meter:         otel.Meter(meterName),
	}

	if err := s.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return s, nil
}

// Run distills content into a changelog report.
//
// The run degrades rather than aborts wherever the pipeline allows it:
// failed chunks, unusable reduce or flatten output, and budget truncation
// each append a warning to the report. Hard failures are content the scan
// policy rejects, a generation call failure on the single-call path, and
// an exclusion pattern that does not compile.
func (s *Service) Run(ctx context.Context, content string) (*Report, error) {
	// Callers that already track a run (the CLI, the HTTP handler) stamp
	// the context; otherwise the run gets a fresh ID here.
	runID := logging.RunIDFromContext(ctx)
	if runID == "" {
		runID = uuid.New().String()
	}
	ctx, span := s.tracer.Start(ctx, "distill.run",
		trace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.Int("content_length", len(content)),
		),
	)
	defer span.End()

	if strings.TrimSpace(content) == "" {
		return nil, errors.New("content cannot be empty")
	}

	start := time.Now()
	logger := s.logger.With(zap.String("run_id", runID))
	s.runCounter.Add(ctx, 1)

	scan, warnings, err := s.scanContent(ctx, logger, content)
	if err != nil {
		span.RecordError(err)
		s.errorCounter.Add(ctx, 1,
			metric.WithAttributes(attribute.String("error_type", "content_rejected")))
		return nil, err
	}

	changes, extractWarnings, err := s.extract(ctx, logger, content, scan)
	warnings = append(warnings, extractWarnings...)
	if err != nil {
		span.RecordError(err)
		s.errorCounter.Add(ctx, 1,
			metric.WithAttributes(attribute.String("error_type", "extraction_failed")))
		return nil, err
	}
	if len(changes) == 0 {
		warnings = append(warnings, "no changes extracted from content")
	}

	filtered, err := changelog.Filter(changes, s.filter, logger)
	if err != nil {
		span.RecordError(err)
		s.errorCounter.Add(ctx, 1,
			metric.WithAttributes(attribute.String("error_type", "filter_failed")))
		return nil, fmt.Errorf("filtering changes: %w", err)
	}
	if dropped := len(changes) - len(filtered); dropped > 0 {
		logger.Info("changes excluded by filter",
			zap.Int("dropped", dropped),
			zap.Int("kept", len(filtered)),
		)
	}

	changelog.SortByPriority(filtered)
	changelog.AssignIDs(filtered)

	stats := changelog.StatsFromChanges(filtered)
	bump := changelog.BumpKind(filtered)
	rendered := changelog.RenderMarkdown(filtered)

	fit := s.governor.Fit(ctx, rendered)
	warnings = append(warnings, fit.Warnings...)

	// Final advisory pass over the artifact itself. Logged only: by this
	// point every piece of model output has already been validated once.
	if issues := s.scanner.ValidateResponse(fit.Content); len(issues) > 0 {
		logger.Warn("suspicious patterns in rendered changelog",
			zap.Strings("issues", issues),
		)
	}

	report := &Report{
		RunID:         runID,
		Changelog:     fit.Content,
		Changes:       filtered,
		Stats:         stats,
		Bump:          bump,
		TokenEstimate: fit.FinalTokens,
		Warnings:      warnings,
	}

	duration := time.Since(start)
	s.runDuration.Record(ctx, duration.Seconds())
	s.changesEmit.Record(ctx, int64(len(filtered)))
	span.SetAttributes(
		attribute.Int("changes_final", len(filtered)),
		attribute.Int("warnings", len(warnings)),
		attribute.String("bump", string(bump)),
		attribute.Int("token_estimate", fit.FinalTokens),
	)
	logger.Info("distillation complete",
		zap.Int("changes", len(filtered)),
		zap.String("bump", string(bump)),
		zap.Int("token_estimate", fit.FinalTokens),
		zap.Int("warnings", len(warnings)),
		zap.Duration("duration", duration),
	)

	return report, nil
}

// Scan runs the threat scan alone and reports whether the policy would
// reject the content. Serves the scan CLI command and HTTP endpoint.
func (s *Service) Scan(ctx context.Context, content string) (threatscan.ScanResult, error) {
	_, span := s.tracer.Start(ctx, "distill.scan_only",
		trace.WithAttributes(attribute.Int("content_length", len(content))),
	)
	defer span.End()

	result := s.scanner.Scan(content)
	span.SetAttributes(
		attribute.String("threat_level", result.Level.String()),
		attribute.Int("issues", len(result.Issues)),
	)

	if err := s.scanner.HandleResult(result); err != nil {
		span.RecordError(err)
		return result, err
	}
	return result, nil
}

// scanContent scans content and applies the configured validation mode.
// A non-nil error means the content must not be processed. Warnings record
// LLM validation being unavailable.
func (s *Service) scanContent(ctx context.Context, logger *zap.Logger, content string) (threatscan.ScanResult, []string, error) {
	ctx, span := s.tracer.Start(ctx, "distill.scan",
		trace.WithAttributes(attribute.String("mode", string(s.mode))),
	)
	defer span.End()

	result := s.scanner.Scan(content)
	span.SetAttributes(
		attribute.String("threat_level", result.Level.String()),
		attribute.Int("issues", len(result.Issues)),
		attribute.Bool("truncated", result.Truncated),
	)

	switch s.mode {
	case threatscan.ModeNone:
		logger.Debug("content validation disabled",
			zap.String("threat_level", result.Level.String()),
		)
		return result, nil, nil

	case threatscan.ModePattern:
		if err := s.scanner.HandleResult(result); err != nil {
			span.RecordError(err)
			return result, nil, err
		}
		return result, nil, nil

	case threatscan.ModeBoth:
		if err := s.scanner.HandleResult(result); err != nil {
			span.RecordError(err)
			return result, nil, err
		}
		if result.Level < threatscan.LevelMedium {
			return result, nil, nil
		}
		// Borderline content gets a second opinion.
		warnings, err := s.llmValidate(ctx, logger, content)
		if err != nil {
			span.RecordError(err)
		}
		return result, warnings, err

	default: // threatscan.ModeLLM
		warnings, err := s.llmValidate(ctx, logger, content)
		if err != nil {
			span.RecordError(err)
		}
		return result, warnings, err
	}
}

// llmValidate asks the generator whether content is a prompt injection
// attempt. A validation call failure degrades to a warning rather than
// blocking the run; a flagged result rejects the content.
func (s *Service) llmValidate(ctx context.Context, logger *zap.Logger, content string) ([]string, error) {
	flagged, err := s.scanner.ValidateWithLLM(ctx, content, s.generator.Generate)
	if err != nil {
		logger.Warn("llm validation unavailable", zap.Error(err))
		return []string{fmt.Sprintf("llm validation unavailable: %v", err)}, nil
	}
	if flagged {
		return nil, &threatscan.ContentRejectedError{
			Level:  threatscan.LevelHigh,
			Issues: []string{"LLM validation flagged prompt injection"},
		}
	}
	return nil, nil
}

// extract produces changes from content, fanning out through the
// map-reduce engine for large inputs and making one sanitized call
// otherwise. An engine run that yields neither changes nor warnings made
// no generation calls (indivisible content), so it falls through to the
// single-call path.
func (s *Service) extract(ctx context.Context, logger *zap.Logger, content string, scan threatscan.ScanResult) ([]changelog.Change, []string, error) {
	ctx, span := s.tracer.Start(ctx, "distill.extract")
	defer span.End()

	if s.engine.NeedsProcessing(content) {
		result, err := s.engine.Process(ctx, content, s.generator.Generate, s.generator.Generate)
		if err != nil {
			span.RecordError(err)
			return nil, nil, fmt.Errorf("map-reduce extraction failed: %w", err)
		}
		if len(result.Changes) > 0 || len(result.Warnings) > 0 {
			span.SetAttributes(
				attribute.String("path", "mapreduce"),
				attribute.Int("changes", len(result.Changes)),
			)
			return result.Changes, result.Warnings, nil
		}
		logger.Debug("engine made no calls, using single-call path")
	}

	var warnings []string
	sanitized := s.scanner.Sanitize(content)
	if scan.Truncated {
		sanitized = budget.TruncateByPriority(sanitized, s.scanMaxTokens)
		warnings = append(warnings, fmt.Sprintf("content truncated to %d tokens before extraction", s.scanMaxTokens))
	}

	response, err := s.generator.Generate(ctx, mapreduce.ExtractionPrompt(sanitized))
	if err != nil {
		span.RecordError(err)
		return nil, warnings, fmt.Errorf("extraction call failed: %w", err)
	}

	if issues := s.scanner.ValidateResponse(response); len(issues) > 0 {
		logger.Warn("suspicious patterns in extraction response",
			zap.Strings("issues", issues),
		)
	}

	changes := changelog.ParseChanges(response)
	span.SetAttributes(
		attribute.String("path", "single"),
		attribute.Int("changes", len(changes)),
	)
	return changes, warnings, nil
}

// initMetrics initializes OpenTelemetry metrics.
func (s *Service) initMetrics() error {
	var err error

	s.runCounter, err = s.meter.Int64Counter(
		"distill.runs_total",
		metric.WithDescription("Total number of distillation runs"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create runs counter: %w", err)
	}

	s.errorCounter, err = s.meter.Int64Counter(
		"distill.errors_total",
		metric.WithDescription("Total number of failed distillation runs by error type"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create errors counter: %w", err)
	}

	s.runDuration, err = s.meter.Float64Histogram(
		"distill.duration_seconds",
		metric.WithDescription("Time spent on distillation runs"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 120.0),
	)
	if err != nil {
		return fmt.Errorf("failed to create duration histogram: %w", err)
	}

	s.changesEmit, err = s.meter.Int64Histogram(
		"distill.changes",
		metric.WithDescription("Changes emitted per distillation run"),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100),
	)
	if err != nil {
		return fmt.Errorf("failed to create changes histogram: %w", err)
	}

	return nil
}
