// Package llm provides the text generation clients the distillation
// pipeline calls into.
//
// The package exposes one capability, Generator: prompt in, raw text out.
// Prompt construction, response parsing, and chunking stay with the
// callers (mapreduce, threatscan, budget); a Generator only moves text to
// a provider and returns what came back. Retry, rate limiting, and
// secret scrubbing on outbound prompts all live here at the egress point,
// so no caller has to reimplement them.
//
// Anthropic and OpenAI get native HTTP clients. Everything else rides the
// langchaingo adapter, which wraps any llms.Model as a Generator.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider names accepted by Config.Provider.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderLangChain = "langchain"
)

// Default configuration values.
const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-sonnet-20241022"
	defaultOpenAIBaseURL    = "https://api.openai.com"
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultMaxTokens        = 4096
	defaultTemperature      = 0.3
	defaultTimeout          = 60 * time.Second
	defaultMaxRetries       = 3
	defaultBaseBackoff      = 1 * time.Second
)

// Rate limiter defaults: 50 requests per minute for both APIs.
const (
	defaultRateLimit = 50.0 / 60.0 // ~0.83 requests per second
	defaultBurst     = 5           // Allow bursts of up to 5 requests
)

// Generator is the text generation capability the pipeline is built
// around. Implementations must be safe for concurrent use; the map phase
// calls Generate from multiple goroutines.
type Generator interface {
	// Generate sends the prompt to the model and returns the raw text
	// response.
	Generate(ctx context.Context, prompt string) (string, error)

	// Available reports whether the generator is configured and can
	// serve requests.
	Available() bool
}

// GeneratorFunc adapts a plain function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Available returns true when f is non-nil.
func (f GeneratorFunc) Available() bool {
	return f != nil
}

// Config selects and configures a provider client.
type Config struct {
	Provider   string        // anthropic, openai, langchain
	Model      string        // provider model name; defaulted per provider
	APIKey     string        // never logged; prompts are scrubbed before egress
	BaseURL    string        // override for proxies and tests
	Timeout    time.Duration // per-request HTTP timeout
	MaxRetries int           // retry budget for retryable failures
}

// New creates a Generator for the configured provider.
func New(cfg Config) (Generator, error) {
	switch cfg.Provider {
	case ProviderAnthropic:
		return newAnthropicClient(cfg)
	case ProviderOpenAI:
		return newOpenAIClient(cfg)
	case ProviderLangChain:
		return newLangChainOpenAI(cfg)
	default:
		return nil, fmt.Errorf("unknown provider: %q", cfg.Provider)
	}
}

// retryableError wraps an error to indicate the request can be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryableError checks whether any error in the chain is marked
// retryable.
func isRetryableError(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}

// generateWithRetries runs do up to maxRetries+1 times with exponential
// backoff between attempts. Non-retryable errors abort immediately, and
// context cancellation wins over backoff sleeps.
func generateWithRetries(ctx context.Context, maxRetries int, baseBackoff time.Duration, do func(context.Context) (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		response, err := do(ctx)
		if err == nil {
			return response, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			return "", err
		}
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}
