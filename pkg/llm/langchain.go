package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// langChainGenerator adapts a langchaingo model to the Generator
// interface, so the pipeline can ride every provider langchaingo
// supports without a native client here.
type langChainGenerator struct {
	model llms.Model
}

// NewLangChain wraps an existing langchaingo model as a Generator.
func NewLangChain(model llms.Model) Generator {
	return &langChainGenerator{model: model}
}

// newLangChainOpenAI builds a langchaingo client speaking the OpenAI
// dialect. Self-hosted gateways (vLLM, LiteLLM, Ollama's compatibility
// endpoint) all accept it, which makes this the default langchain wiring.
func newLangChainOpenAI(cfg Config) (Generator, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		// langchaingo requires a token even for keyless local gateways
		apiKey = "placeholder"
	}

	opts := []openai.Option{
		openai.WithToken(apiKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating langchain client: %w", err)
	}

	return &langChainGenerator{model: model}, nil
}

// Generate sends the prompt through langchaingo and returns the text
// response. The prompt is scrubbed for secret material before it leaves
// the process.
func (g *langChainGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.model == nil {
		return "", fmt.Errorf("langchain model not configured")
	}

	response, err := llms.GenerateFromSinglePrompt(ctx, g.model, ScrubSecrets(prompt),
		llms.WithTemperature(defaultTemperature))
	if err != nil {
		return "", fmt.Errorf("langchain generation failed: %w", err)
	}

	return response, nil
}

// Available reports whether a model is wired in.
func (g *langChainGenerator) Available() bool {
	return g.model != nil
}

var _ Generator = (*langChainGenerator)(nil)
