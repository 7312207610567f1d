// Package config provides configuration loading for changelogd.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then environment variable overrides. See Load for precedence and the
// security checks applied to config files.
package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/changelogd/pkg/budget"
	"github.com/fyrsmithlabs/changelogd/pkg/changelog"
	"github.com/fyrsmithlabs/changelogd/pkg/llm"
	"github.com/fyrsmithlabs/changelogd/pkg/mapreduce"
	"github.com/fyrsmithlabs/changelogd/pkg/safepattern"
	"github.com/fyrsmithlabs/changelogd/pkg/textsplit"
	"github.com/fyrsmithlabs/changelogd/pkg/threatscan"
)

// LLM provider names accepted by LLMConfig.Provider.
const (
	ProviderAnthropic = llm.ProviderAnthropic
	ProviderOpenAI    = llm.ProviderOpenAI
	ProviderLangChain = llm.ProviderLangChain
)

// Config holds the complete changelogd configuration.
type Config struct {
	Pipeline  PipelineConfig         `koanf:"pipeline"`
	Scanner   ScannerConfig          `koanf:"scanner"`
	Budget    BudgetConfig           `koanf:"budget"`
	LLM       LLMConfig              `koanf:"llm"`
	GitHub    GitHubConfig           `koanf:"github"`
	Filter    changelog.FilterConfig `koanf:"filter"`
	Server    ServerConfig           `koanf:"server"`
	Logging   LoggingConfig          `koanf:"logging"`
	Telemetry TelemetryConfig        `koanf:"telemetry"`
}

// PipelineConfig holds map-reduce pipeline tuning.
type PipelineConfig struct {
	ChunkSize       int `koanf:"chunk_size"`
	ChunkOverlap    int `koanf:"chunk_overlap"`
	MaxWorkers      int `koanf:"max_workers"`
	ReduceThreshold int `koanf:"reduce_threshold"`

	// SkipFlatten disables the net-state flatten pass after reduction.
	// The pass is on by default.
	SkipFlatten bool `koanf:"skip_flatten"`
}

// ScannerConfig holds threat scanner limits and the response validation mode.
type ScannerConfig struct {
	MaxTokens      int    `koanf:"max_tokens"`
	MaxContentSize int    `koanf:"max_content_size"`
	ValidationMode string `koanf:"validation_mode"` // both, pattern, llm, none
}

// BudgetConfig holds output token budget settings.
type BudgetConfig struct {
	MaxTokens int  `koanf:"max_tokens"`
	Summarize bool `koanf:"summarize"` // summarize instead of truncating sections
}

// LLMConfig holds generator provider settings.
type LLMConfig struct {
	Provider   string   `koanf:"provider"` // anthropic, openai, langchain
	Model      string   `koanf:"model"`
	APIKey     Secret   `koanf:"api_key"`
	BaseURL    string   `koanf:"base_url"`
	Timeout    Duration `koanf:"timeout"`
	MaxRetries int      `koanf:"max_retries"`
}

// GitHubConfig holds credentials for the GitHub release source.
// The env transformer maps the conventional GITHUB_TOKEN variable here.
type GitHubConfig struct {
	Token Secret `koanf:"token"`
}

// ServerConfig holds HTTP server configuration for `changelogd serve`.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds the user-facing logging knobs. The logging package
// owns the full config; cmd translates this section into it. Logs default
// to stderr: stdout carries the changelog artifact.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // trace, debug, info, warn, error
	Format string `koanf:"format"` // json, console
	Stdout bool   `koanf:"stdout"`
	Stderr bool   `koanf:"stderr"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig holds the user-facing telemetry knobs. The telemetry
// package owns the full config; cmd translates this section into it.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"` // grpc, http/protobuf
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
	ServiceName string  `koanf:"service_name"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Pipeline defaults mirror the package-level constants so the CLI and
	// library behave identically out of the box.
	if cfg.Pipeline.ChunkSize == 0 {
		cfg.Pipeline.ChunkSize = textsplit.DefaultChunkSize
	}
	if cfg.Pipeline.ChunkOverlap == 0 {
		cfg.Pipeline.ChunkOverlap = textsplit.DefaultOverlap
	}
	if cfg.Pipeline.MaxWorkers == 0 {
		cfg.Pipeline.MaxWorkers = mapreduce.DefaultMaxWorkers
	}
	if cfg.Pipeline.ReduceThreshold == 0 {
		cfg.Pipeline.ReduceThreshold = mapreduce.DefaultReduceThreshold
	}

	// Scanner defaults
	if cfg.Scanner.MaxTokens == 0 {
		cfg.Scanner.MaxTokens = budget.DefaultMaxTokens
	}
	if cfg.Scanner.MaxContentSize == 0 {
		cfg.Scanner.MaxContentSize = threatscan.DefaultMaxContentSize
	}
	if cfg.Scanner.ValidationMode == "" {
		cfg.Scanner.ValidationMode = string(threatscan.ModePattern)
	}

	// Budget defaults
	if cfg.Budget.MaxTokens == 0 {
		cfg.Budget.MaxTokens = budget.DefaultMaxTokens
	}

	// LLM defaults
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = ProviderAnthropic
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = Duration(60 * time.Second)
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}

	// Server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if !cfg.Logging.Stdout && !cfg.Logging.Stderr && !cfg.Logging.OTEL {
		cfg.Logging.Stderr = true
	}

	// Telemetry defaults (disabled unless configured)
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "changelogd"
	}
	if !cfg.Telemetry.Enabled {
		cfg.Telemetry.Insecure = true
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Pipeline.ChunkSize <= 0 {
		return fmt.Errorf("pipeline.chunk_size must be positive, got %d", c.Pipeline.ChunkSize)
	}
	if c.Pipeline.ChunkOverlap < 0 {
		return fmt.Errorf("pipeline.chunk_overlap cannot be negative, got %d", c.Pipeline.ChunkOverlap)
	}
	if c.Pipeline.ChunkOverlap >= c.Pipeline.ChunkSize {
		return fmt.Errorf("pipeline.chunk_overlap (%d) must be smaller than pipeline.chunk_size (%d)",
			c.Pipeline.ChunkOverlap, c.Pipeline.ChunkSize)
	}
	if c.Pipeline.MaxWorkers < 1 {
		return fmt.Errorf("pipeline.max_workers must be at least 1, got %d", c.Pipeline.MaxWorkers)
	}
	if c.Pipeline.ReduceThreshold < 0 {
		return fmt.Errorf("pipeline.reduce_threshold cannot be negative, got %d", c.Pipeline.ReduceThreshold)
	}

	if c.Scanner.MaxTokens <= 0 {
		return fmt.Errorf("scanner.max_tokens must be positive, got %d", c.Scanner.MaxTokens)
	}
	if c.Scanner.MaxContentSize <= 0 {
		return fmt.Errorf("scanner.max_content_size must be positive, got %d", c.Scanner.MaxContentSize)
	}
	if _, err := threatscan.ParseValidationMode(c.Scanner.ValidationMode); err != nil {
		return fmt.Errorf("scanner.validation_mode: %w", err)
	}

	if c.Budget.MaxTokens <= 0 {
		return fmt.Errorf("budget.max_tokens must be positive, got %d", c.Budget.MaxTokens)
	}

	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderLangChain:
	default:
		return fmt.Errorf("llm.provider must be %q, %q, or %q, got %q",
			ProviderAnthropic, ProviderOpenAI, ProviderLangChain, c.LLM.Provider)
	}
	if c.LLM.Timeout.Duration() <= 0 {
		return errors.New("llm.timeout must be positive")
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries cannot be negative, got %d", c.LLM.MaxRetries)
	}

	// Exclusion patterns are untrusted input; reject unsafe ones at load
	// time rather than at first filter call.
	for _, pattern := range c.Filter.ExcludePatterns {
		if err := safepattern.Validate(pattern); err != nil {
			return fmt.Errorf("filter.exclude_patterns: %w", err)
		}
	}
	if c.Filter.MaxPerSection < 0 {
		return fmt.Errorf("filter.max_per_section cannot be negative, got %d", c.Filter.MaxPerSection)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if c.Logging.Level != "trace" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(c.Logging.Level)); err != nil {
			return fmt.Errorf("logging.level: %w", err)
		}
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return errors.New("telemetry.endpoint is required when telemetry is enabled")
		}
		if c.Telemetry.ServiceName == "" {
			return errors.New("telemetry.service_name is required when telemetry is enabled")
		}
	}
	if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
		return fmt.Errorf("telemetry.protocol must be 'grpc' or 'http/protobuf', got %q", c.Telemetry.Protocol)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate)
	}

	return nil
}
