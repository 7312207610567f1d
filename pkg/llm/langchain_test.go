package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// fakeModel records the last prompt it saw and returns a fixed response.
type fakeModel struct {
	lastPrompt string
	response   string
	err        error
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				m.lastPrompt = text.Text
			}
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: m.response}},
	}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	m.lastPrompt = prompt
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

func TestLangChainGenerator_Generate(t *testing.T) {
	model := &fakeModel{response: "[feature|low] CLI colors | Added color output"}
	gen := NewLangChain(model)

	out, err := gen.Generate(context.Background(), "Extract changes from: added color output")
	require.NoError(t, err)
	assert.Equal(t, "[feature|low] CLI colors | Added color output", out)
	assert.Contains(t, model.lastPrompt, "added color output")
}

func TestLangChainGenerator_ScrubsPrompt(t *testing.T) {
	model := &fakeModel{response: "ok"}
	gen := NewLangChain(model)

	_, err := gen.Generate(context.Background(), "config had api_key: sk-verylongtestkey12345678901234567890 in it")
	require.NoError(t, err)

	assert.NotContains(t, model.lastPrompt, "verylongtestkey")
	assert.Contains(t, model.lastPrompt, "[REDACTED")
}

func TestLangChainGenerator_Error(t *testing.T) {
	model := &fakeModel{err: errors.New("model unavailable")}
	gen := NewLangChain(model)

	_, err := gen.Generate(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "langchain generation failed")
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestLangChainGenerator_Available(t *testing.T) {
	assert.False(t, NewLangChain(nil).Available())
	assert.True(t, NewLangChain(&fakeModel{}).Available())
}

func TestNewLangChainOpenAI_Defaults(t *testing.T) {
	gen, err := newLangChainOpenAI(Config{
		BaseURL: "http://localhost:11434/v1",
		Model:   "llama3",
	})
	require.NoError(t, err)
	assert.True(t, gen.Available())
}
