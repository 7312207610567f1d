// Package mapreduce orchestrates chunked extraction of structured changes
// from inputs too large for a single model call.
//
// The pipeline:
//
//	input
//	    ↓ NeedsProcessing? ──no──→ caller uses its single-call path
//	    ↓ yes
//	chunk with overlap (textsplit)
//	    ↓
//	MAP     one extraction call per chunk, bounded parallelism
//	    ↓
//	REDUCE  one dedupe-only call over the union (skipped for small sets)
//	    ↓
//	FLATTEN optional net-state pass
//	    ↓
//	*Result
//
// Chunk failures are isolated: a failed chunk contributes zero changes and
// one warning while the other chunks proceed, so a single bad call never
// fails the whole run. Every degraded path records a warning on the Result.
// The engine never retries or rate-limits the injected generation
// functions; retry policy belongs to the caller.
package mapreduce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/changelogd/pkg/changelog"
	"github.com/fyrsmithlabs/changelogd/pkg/textsplit"
	"github.com/fyrsmithlabs/changelogd/pkg/threatscan"
)

const tracerName = "github.com/fyrsmithlabs/changelogd/pkg/mapreduce"
const meterName = "mapreduce"

// Default pipeline parameters.
const (
	// DefaultMaxWorkers bounds map-phase parallelism.
	DefaultMaxWorkers = 5

	// DefaultReduceThreshold is the change count at or below which the
	// reduce call is skipped: tiny sets have nothing worth deduplicating
	// and the extra call would only cost tokens.
	DefaultReduceThreshold = 5
)

// ErrInvalidConfig indicates invalid engine configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// GenerateFunc is the injected text-generation collaborator: one call per
// chunk in the map phase, one each for reduce and flatten.
type GenerateFunc func(ctx context.Context, prompt string) (string, error)

// Config holds configuration for an Engine.
type Config struct {
	// ChunkSize is both the processing threshold and the maximum chunk
	// size in characters.
	ChunkSize int

	// Overlap is the number of characters adjacent chunks share.
	Overlap int

	// MaxWorkers bounds map-phase parallelism. The effective pool size is
	// min(chunk count, MaxWorkers).
	MaxWorkers int

	// ReduceThreshold is the change count at or below which reduction is
	// skipped.
	ReduceThreshold int

	// Flatten enables the net-state pass after reduction.
	Flatten bool

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// NewDefaultConfig returns a Config with production defaults.
func NewDefaultConfig() Config {
	return Config{
		ChunkSize:       textsplit.DefaultChunkSize,
		Overlap:         textsplit.DefaultOverlap,
		MaxWorkers:      DefaultMaxWorkers,
		ReduceThreshold: DefaultReduceThreshold,
		Flatten:         true,
	}
}

// Validate validates the configuration. Chunk size and overlap are
// validated by the splitter at construction.
func (c Config) Validate() error {
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("%w: max workers must be positive, got %d", ErrInvalidConfig, c.MaxWorkers)
	}
	if c.ReduceThreshold < 0 {
		return fmt.Errorf("%w: reduce threshold cannot be negative, got %d", ErrInvalidConfig, c.ReduceThreshold)
	}
	return nil
}

// Result is the outcome of a Process call. Warnings record every degraded
// path taken (failed chunks, reduce fallback, flatten fallback) so callers
// can surface quality loss without debug logging.
type Result struct {
	Changes  []changelog.Change
	Warnings []string
}

// Engine runs the map/reduce pipeline. An Engine is immutable after
// construction and safe for concurrent use.
type Engine struct {
	splitter *textsplit.Splitter
	scanner  *threatscan.Scanner
	cfg      Config
	logger   *zap.Logger

	tracer trace.Tracer
	meter  metric.Meter

	runCounter    metric.Int64Counter
	chunkCounter  metric.Int64Counter
	chunkFailures metric.Int64Counter
	runDuration   metric.Float64Histogram
}

// New creates an Engine from config.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	splitter, err := textsplit.New(textsplit.Config{
		ChunkSize: cfg.ChunkSize,
		Overlap:   cfg.Overlap,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating splitter: %w", err)
	}

	e := &Engine{
		splitter: splitter,
		scanner:  threatscan.NewScanner(threatscan.NewDefaultConfig()),
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		meter:    otel.Meter(meterName),
	}

	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return e, nil
}

// NeedsProcessing reports whether content is large enough to require the
// pipeline. It is a pure length check: callers should use their cheaper
// single-call path when it returns false, and Process on such content
// performs zero generation calls.
func (e *Engine) NeedsProcessing(content string) bool {
	return textsplit.NeedsChunking(content, e.cfg.ChunkSize)
}

// Process runs the full pipeline over content. The reduce function also
// serves the flatten phase; passing nil uses extract for everything.
//
// Content below the processing threshold, or content the splitter cannot
// divide into more than one chunk, returns an empty Result without any
// generation calls: the caller's single-call path handles it.
func (e *Engine) Process(ctx context.Context, content string, extract, reduce GenerateFunc) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "mapreduce.process",
		trace.WithAttributes(attribute.Int("content_length", len(content))),
	)
	defer span.End()

	if extract == nil {
		return nil, errors.New("extract function is required")
	}
	if reduce == nil {
		reduce = extract
	}

	start := time.Now()

	if !e.NeedsProcessing(content) {
		return &Result{}, nil
	}

	chunks := e.splitter.Chunk(content)
	if len(chunks) <= 1 {
		// A single indivisible unit; nothing to fan out over.
		return &Result{}, nil
	}

	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))
	e.runCounter.Add(ctx, 1)
	e.chunkCounter.Add(ctx, int64(len(chunks)))
	e.logger.Debug("processing large input",
		zap.Int("content_length", len(content)),
		zap.Int("chunks", len(chunks)),
	)

	all, warnings := e.mapPhase(ctx, chunks, extract)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(all) == 0 {
		e.logger.Warn("map phase produced no changes",
			zap.Int("chunks", len(chunks)),
			zap.Int("failed_chunks", len(warnings)),
		)
		return &Result{Warnings: warnings}, nil
	}

	changelog.AssignIDs(all)

	reduced, reduceWarnings := e.reducePhase(ctx, all, reduce)
	warnings = append(warnings, reduceWarnings...)

	final := reduced
	if e.cfg.Flatten {
		var flattenWarnings []string
		final, flattenWarnings = e.flattenPhase(ctx, reduced, reduce)
		warnings = append(warnings, flattenWarnings...)
	}

	changelog.AssignIDs(final)

	e.runDuration.Record(ctx, time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("changes_extracted", len(all)),
		attribute.Int("changes_final", len(final)),
		attribute.Int("warnings", len(warnings)),
	)

	return &Result{Changes: final, Warnings: warnings}, nil
}

// mapPhase fans extraction out across chunks with bounded parallelism.
// Results land in a slot array indexed by chunk position, so the collected
// order is the chunk order regardless of which call finishes first.
func (e *Engine) mapPhase(ctx context.Context, chunks []string, extract GenerateFunc) ([]changelog.Change, []string) {
	results := make([][]changelog.Change, len(chunks))
	failures := make([]error, len(chunks))

	workers := e.cfg.MaxWorkers
	if len(chunks) < workers {
		workers = len(chunks)
	}
	sem := make(chan struct{}, workers)

	var wg sync.WaitGroup
	for i, chunk := range chunks {
		wg.Add(1)
		go func(idx int, text string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				failures[idx] = ctx.Err()
				return
			}

			results[idx], failures[idx] = e.extractChunk(ctx, idx, text, extract)
		}(i, chunk)
	}
	wg.Wait()

	var all []changelog.Change
	var warnings []string
	for i := range chunks {
		if failures[i] != nil {
			e.chunkFailures.Add(ctx, 1)
			e.logger.Warn("chunk extraction failed",
				zap.Int("chunk", i+1),
				zap.Int("chunks", len(chunks)),
				zap.Error(failures[i]),
			)
			warnings = append(warnings, fmt.Sprintf("chunk %d of %d failed extraction: %v", i+1, len(chunks), failures[i]))
			continue
		}
		all = append(all, results[i]...)
	}
	return all, warnings
}

func (e *Engine) extractChunk(ctx context.Context, idx int, chunk string, extract GenerateFunc) ([]changelog.Change, error) {
	ctx, span := e.tracer.Start(ctx, "mapreduce.extract_chunk",
		trace.WithAttributes(
			attribute.Int("chunk_index", idx),
			attribute.Int("chunk_length", len(chunk)),
		),
	)
	defer span.End()

	// Chunk text is untrusted; strip injection patterns before it is
	// embedded in the prompt.
	sanitized := e.scanner.Sanitize(chunk)

	response, err := extract(ctx, fmt.Sprintf(mapPromptTemplate, sanitized))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if issues := e.scanner.ValidateResponse(response); len(issues) > 0 {
		e.logger.Warn("suspicious patterns in extraction response",
			zap.Int("chunk_index", idx),
			zap.Strings("issues", issues),
		)
	}

	return changelog.ParseChanges(response), nil
}

// reducePhase deduplicates the union of per-chunk extractions in a single
// call. Sets at or below the threshold skip the call entirely. A reduce
// that fails or parses to nothing falls back to the full input list sorted
// by priority: degraded output over silent data loss.
func (e *Engine) reducePhase(ctx context.Context, all []changelog.Change, reduce GenerateFunc) ([]changelog.Change, []string) {
	if len(all) <= e.cfg.ReduceThreshold {
		return all, nil
	}

	ctx, span := e.tracer.Start(ctx, "mapreduce.reduce",
		trace.WithAttributes(attribute.Int("input_changes", len(all))),
	)
	defer span.End()

	prompt := fmt.Sprintf(reducePromptTemplate, changelog.FormatChanges(all, e.scanner.Sanitize))
	response, err := reduce(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		changelog.SortByPriority(all)
		return all, []string{fmt.Sprintf("reduce call failed, keeping all %d extracted changes sorted by priority: %v", len(all), err)}
	}

	if issues := e.scanner.ValidateResponse(response); len(issues) > 0 {
		e.logger.Warn("suspicious patterns in reduce response", zap.Strings("issues", issues))
	}

	reduced := changelog.ParseChanges(response)
	if len(reduced) == 0 {
		changelog.SortByPriority(all)
		return all, []string{fmt.Sprintf("reduce output was unparsable, keeping all %d extracted changes sorted by priority", len(all))}
	}

	e.logger.Debug("reduced changes",
		zap.Int("before", len(all)),
		zap.Int("after", len(reduced)),
	)
	span.SetAttributes(attribute.Int("output_changes", len(reduced)))
	return reduced, nil
}

// flattenPhase determines the net state of the reduced list: additions
// later reverted cancel out, improvements collapse to their final form,
// related items consolidate. Flatten can only shrink or merge the list,
// never replace it: an unusable response keeps the reduced list.
func (e *Engine) flattenPhase(ctx context.Context, reduced []changelog.Change, reduce GenerateFunc) ([]changelog.Change, []string) {
	ctx, span := e.tracer.Start(ctx, "mapreduce.flatten",
		trace.WithAttributes(attribute.Int("input_changes", len(reduced))),
	)
	defer span.End()

	prompt := fmt.Sprintf(flattenPromptTemplate, changelog.FormatChanges(reduced, e.scanner.Sanitize))
	response, err := reduce(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		return reduced, []string{fmt.Sprintf("flatten call failed, keeping %d reduced changes: %v", len(reduced), err)}
	}

	flattened := changelog.ParseFlattened(response)
	if len(flattened) == 0 {
		return reduced, []string{fmt.Sprintf("flatten returned no usable changes, keeping %d reduced changes", len(reduced))}
	}

	e.logger.Info("flattened changes to net state",
		zap.Int("before", len(reduced)),
		zap.Int("after", len(flattened)),
	)
	span.SetAttributes(attribute.Int("output_changes", len(flattened)))
	return flattened, nil
}

// initMetrics initializes OpenTelemetry metrics.
func (e *Engine) initMetrics() error {
	var err error

	e.runCounter, err = e.meter.Int64Counter(
		"mapreduce.operations_total",
		metric.WithDescription("Total number of map/reduce pipeline runs"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create operations counter: %w", err)
	}

	e.chunkCounter, err = e.meter.Int64Counter(
		"mapreduce.chunks_total",
		metric.WithDescription("Total number of chunks fanned out in the map phase"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create chunks counter: %w", err)
	}

	e.chunkFailures, err = e.meter.Int64Counter(
		"mapreduce.chunk_failures_total",
		metric.WithDescription("Total number of chunks whose extraction failed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create chunk failures counter: %w", err)
	}

	e.runDuration, err = e.meter.Float64Histogram(
		"mapreduce.duration_seconds",
		metric.WithDescription("Time spent on full pipeline runs"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 120.0),
	)
	if err != nil {
		return fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return nil
}
