package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Telemetry owns the process's OTLP export pipelines: traces, metrics,
// and logs. A disabled or degraded Telemetry still answers every method
// with usable no-op instruments, so callers never branch on telemetry
// state.
type Telemetry struct {
	cfg *Config

	tracerProvider *trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	loggerProvider *sdklog.LoggerProvider

	healthy  atomic.Bool
	degraded atomic.Bool
}

// New validates cfg and brings up the enabled pipelines. Each pipeline
// degrades independently: a collector that cannot be reached leaves
// that signal on no-op providers instead of failing the command.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	t := &Telemetry{cfg: cfg}
	t.healthy.Store(true)
	if !cfg.Enabled {
		return t, nil
	}

	res := newResource(cfg)

	if tp, err := newTracerProvider(ctx, cfg, res); err == nil {
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
	} else {
		t.degraded.Store(true)
	}

	if mp, err := newMeterProvider(ctx, cfg, res); err == nil {
		if mp != nil {
			t.meterProvider = mp
			otel.SetMeterProvider(mp)
		}
	} else {
		t.degraded.Store(true)
	}

	if lp, err := newLoggerProvider(ctx, cfg, res); err == nil {
		t.loggerProvider = lp
	} else {
		t.degraded.Store(true)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return t, nil
}

// TracerProvider returns the trace provider, falling back to the otel
// global (a no-op unless someone else installed one).
func (t *Telemetry) TracerProvider() oteltrace.TracerProvider {
	if t == nil || t.tracerProvider == nil {
		return otel.GetTracerProvider()
	}
	return t.tracerProvider
}

// MeterProvider returns the metric provider, falling back to the otel
// global.
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	if t == nil || t.meterProvider == nil {
		return otel.GetMeterProvider()
	}
	return t.meterProvider
}

// LoggerProvider returns the log provider backing the zap OTEL bridge,
// or nil when the log pipeline is not up. The logging package treats
// nil as "no OTEL sink".
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil || t.loggerProvider == nil {
		return nil
	}
	return t.loggerProvider
}

// Tracer returns a tracer for the given instrumentation scope.
func (t *Telemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	return t.TracerProvider().Tracer(name, opts...)
}

// Meter returns a meter for the given instrumentation scope.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	return t.MeterProvider().Meter(name, opts...)
}

// pipeline pairs one signal's flush and shutdown hooks.
type pipeline struct {
	name     string
	flush    func(context.Context) error
	shutdown func(context.Context) error
}

func (t *Telemetry) pipelines() []pipeline {
	var ps []pipeline
	if t.tracerProvider != nil {
		ps = append(ps, pipeline{"traces", t.tracerProvider.ForceFlush, t.tracerProvider.Shutdown})
	}
	if t.meterProvider != nil {
		ps = append(ps, pipeline{"metrics", t.meterProvider.ForceFlush, t.meterProvider.Shutdown})
	}
	if t.loggerProvider != nil {
		ps = append(ps, pipeline{"logs", t.loggerProvider.ForceFlush, t.loggerProvider.Shutdown})
	}
	return ps
}

// Shutdown flushes and stops every pipeline, reporting all failures.
// When ctx carries no deadline, the configured shutdown timeout
// applies, so a bare context.Background() cannot hang the exit path.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok && t.cfg != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.ShutdownTimeout.Duration())
		defer cancel()
	}

	var errs []error
	for _, p := range t.pipelines() {
		if err := p.shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s shutdown: %w", p.name, err))
		}
	}
	t.healthy.Store(false)
	return errors.Join(errs...)
}

// ForceFlush exports everything pending on all pipelines.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil {
		return nil
	}

	var errs []error
	for _, p := range t.pipelines() {
		if err := p.flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s flush: %w", p.name, err))
		}
	}
	return errors.Join(errs...)
}

// HealthStatus reports pipeline health.
type HealthStatus struct {
	Healthy  bool
	Degraded bool
}

// Health returns the current telemetry health.
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{Healthy: false, Degraded: true}
	}
	return HealthStatus{
		Healthy:  t.healthy.Load(),
		Degraded: t.degraded.Load(),
	}
}

// IsEnabled reports whether telemetry is configured on and not shut
// down.
func (t *Telemetry) IsEnabled() bool {
	if t == nil || t.cfg == nil {
		return false
	}
	return t.cfg.Enabled && t.healthy.Load()
}
