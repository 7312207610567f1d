package logging

import "go.uber.org/zap/zapcore"

// newSampledCore bounds log volume below Error. Warn and below route
// through a per-message sampler; Error and above always pass.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}

	sampled := zapcore.NewSamplerWithOptions(
		newBandCore(core, TraceLevel, zapcore.WarnLevel),
		cfg.Tick,
		cfg.Initial,
		cfg.Thereafter,
	)
	errors := newBandCore(core, zapcore.ErrorLevel, zapcore.FatalLevel)

	return zapcore.NewTee(sampled, errors)
}

// bandCore restricts a core to an inclusive level band.
type bandCore struct {
	zapcore.Core
	lo, hi zapcore.Level
}

func newBandCore(core zapcore.Core, lo, hi zapcore.Level) zapcore.Core {
	return &bandCore{Core: core, lo: lo, hi: hi}
}

func (c *bandCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.lo && lvl <= c.hi && c.Core.Enabled(lvl)
}

func (c *bandCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *bandCore) With(fields []zapcore.Field) zapcore.Core {
	return &bandCore{Core: c.Core.With(fields), lo: c.lo, hi: c.hi}
}
