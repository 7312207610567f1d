package logging

import (
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/changelogd/pkg/safepattern"
)

// Config holds logging configuration. It is assembled in code from the
// application config rather than unmarshaled directly.
type Config struct {
	// Level is the minimum level written to the configured sinks.
	Level zapcore.Level

	// Format selects the encoder: "json" or "console".
	Format string

	// Output selects sinks. CLI commands log to stderr so stdout stays
	// reserved for the rendered changelog.
	Output OutputConfig

	// Service is attached to every entry as the "service" field.
	Service string

	// WithCaller annotates entries with the calling file and line.
	WithCaller bool

	// StacktraceLevel attaches stack traces at or above this level.
	StacktraceLevel zapcore.Level

	// Sampling caps the volume of sub-error entries.
	Sampling SamplingConfig

	// Redaction masks secret-bearing fields and values at the encoder.
	Redaction RedactionConfig
}

// OutputConfig enables sinks individually. Any combination is valid as
// long as at least one is on.
type OutputConfig struct {
	Stdout bool
	Stderr bool
	OTEL   bool
}

// SamplingConfig drops repeated sub-error entries after a burst: within
// each Tick, the first Initial entries per message pass, then one in
// every Thereafter. Error and above are never sampled.
type SamplingConfig struct {
	Enabled    bool
	Tick       time.Duration
	Initial    int
	Thereafter int
}

// RedactionConfig lists field names that always redact and safepattern
// expressions that redact string values on match.
type RedactionConfig struct {
	Enabled  bool
	Fields   []string
	Patterns []string
}

// Field names redacted by default, matched case-insensitively.
var defaultRedactFields = []string{
	"password", "secret", "token", "api_key",
	"authorization", "bearer", "credential", "private_key",
}

// Value shapes redacted by default: bearer headers, api-key assignments,
// and the provider and GitHub token formats changelogd handles.
var defaultRedactPatterns = []string{
	`(?i)bearer\s+\S+`,
	`(?i)api[_-]?key[=:]\s*\S+`,
	`\bsk-[a-zA-Z0-9_-]{8,}`,
	`\bgh[pousr]_[A-Za-z0-9_]{16,}`,
}

// NewDefaultConfig returns production defaults: JSON to stdout at info
// level, sampling and redaction enabled.
func NewDefaultConfig() *Config {
	return &Config{
		Level:           zapcore.InfoLevel,
		Format:          "json",
		Output:          OutputConfig{Stdout: true},
		Service:         "changelogd",
		WithCaller:      true,
		StacktraceLevel: zapcore.ErrorLevel,
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       time.Second,
			Initial:    100,
			Thereafter: 10,
		},
		Redaction: RedactionConfig{
			Enabled:  true,
			Fields:   defaultRedactFields,
			Patterns: defaultRedactPatterns,
		},
	}
}

// Validate checks the configuration, compiling every redaction pattern
// so a bad one fails logger construction instead of the first log call.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if !c.Output.Stdout && !c.Output.Stderr && !c.Output.OTEL {
		return fmt.Errorf("at least one output must be enabled (stdout, stderr, or otel)")
	}
	if c.Sampling.Enabled {
		if c.Sampling.Tick <= 0 {
			return fmt.Errorf("sampling tick must be positive, got %s", c.Sampling.Tick)
		}
		if c.Sampling.Initial <= 0 {
			return fmt.Errorf("sampling initial must be positive, got %d", c.Sampling.Initial)
		}
	}
	if c.Redaction.Enabled {
		for _, p := range c.Redaction.Patterns {
			if _, err := safepattern.CompileWithTimeout(p, redactMatchTimeout); err != nil {
				return fmt.Errorf("invalid redaction pattern: %w", err)
			}
		}
	}
	return nil
}
