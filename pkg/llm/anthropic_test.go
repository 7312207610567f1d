package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestAnthropic builds a client against the test server with a
// millisecond backoff so retry tests stay fast.
func newTestAnthropic(t *testing.T, serverURL string) *anthropicClient {
	t.Helper()
	client, err := newAnthropicClient(Config{
		APIKey:  "test-key",
		BaseURL: serverURL,
	})
	require.NoError(t, err)
	client.baseBackoff = time.Millisecond
	return client
}

func anthropicTextResponse(text string) string {
	resp := map[string]any{
		"id":   "msg_123",
		"type": "message",
		"role": "assistant",
		"content": []map[string]string{
			{"type": "text", "text": text},
		},
		"model": defaultAnthropicModel,
	}
	data, err := json.Marshal(resp)
	if err != nil {
		panic(err)
	}
	return string(data)
}

func TestNewAnthropicClient(t *testing.T) {
	t.Run("requires api key", func(t *testing.T) {
		_, err := newAnthropicClient(Config{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "API key required")
	})

	t.Run("applies defaults", func(t *testing.T) {
		client, err := newAnthropicClient(Config{APIKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, defaultAnthropicModel, client.model)
		assert.Equal(t, defaultAnthropicBaseURL, client.baseURL)
		assert.Equal(t, defaultTimeout, client.httpClient.Timeout)
		assert.Equal(t, defaultMaxRetries, client.maxRetries)
		assert.True(t, client.Available())
	})

	t.Run("honors overrides", func(t *testing.T) {
		client, err := newAnthropicClient(Config{
			APIKey:     "k",
			Model:      "claude-3-haiku-20240307",
			BaseURL:    "http://localhost:8089",
			Timeout:    5 * time.Second,
			MaxRetries: 1,
		})
		require.NoError(t, err)
		assert.Equal(t, "claude-3-haiku-20240307", client.model)
		assert.Equal(t, "http://localhost:8089", client.baseURL)
		assert.Equal(t, 5*time.Second, client.httpClient.Timeout)
		assert.Equal(t, 1, client.maxRetries)
	})
}

func TestAnthropicClient_Generate(t *testing.T) {
	var gotReq anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("Anthropic-Version"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		_, _ = w.Write([]byte(anthropicTextResponse("[feature|high] Dark mode | Added a dark mode toggle")))
	}))
	defer server.Close()

	client := newTestAnthropic(t, server.URL)

	out, err := client.Generate(context.Background(), "Extract changes from: added a dark mode toggle")
	require.NoError(t, err)
	assert.Equal(t, "[feature|high] Dark mode | Added a dark mode toggle", out)

	assert.Equal(t, defaultAnthropicModel, gotReq.Model)
	assert.Equal(t, defaultMaxTokens, gotReq.MaxTokens)
	assert.InDelta(t, defaultTemperature, gotReq.Temperature, 0.001)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "user", gotReq.Messages[0].Role)
	assert.Contains(t, gotReq.Messages[0].Content, "added a dark mode toggle")
}

func TestAnthropicClient_Generate_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(anthropicTextResponse("recovered")))
	}))
	defer server.Close()

	client := newTestAnthropic(t, server.URL)

	out, err := client.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.EqualValues(t, 3, calls.Load())
}

func TestAnthropicClient_Generate_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestAnthropic(t, server.URL)
	client.maxRetries = 2

	_, err := client.Generate(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.EqualValues(t, 3, calls.Load())
}

func TestAnthropicClient_Generate_NonRetryableError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"model not found"}}`))
	}))
	defer server.Close()

	client := newTestAnthropic(t, server.URL)

	_, err := client.Generate(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
	assert.EqualValues(t, 1, calls.Load(), "4xx responses must not be retried")
}

func TestAnthropicClient_Generate_EmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"msg_123","type":"message","role":"assistant","content":[],"model":"claude-3-5-sonnet-20241022"}`))
	}))
	defer server.Close()

	client := newTestAnthropic(t, server.URL)

	_, err := client.Generate(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty response")
}

func TestAnthropicClient_Generate_ScrubsPrompt(t *testing.T) {
	var gotReq anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(anthropicTextResponse("ok")))
	}))
	defer server.Close()

	client := newTestAnthropic(t, server.URL)

	prompt := "Release notes say: rotate ANTHROPIC_API_KEY=sk-ant-REDACTED before shipping"
	_, err := client.Generate(context.Background(), prompt)
	require.NoError(t, err)

	require.Len(t, gotReq.Messages, 1)
	sent := gotReq.Messages[0].Content
	assert.NotContains(t, sent, "sk-ant-api03")
	assert.Contains(t, sent, "[REDACTED")
	assert.Contains(t, sent, "before shipping", "non-secret text must survive scrubbing")
}

func TestAnthropicClient_Generate_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(anthropicTextResponse("late")))
	}))
	defer server.Close()

	client := newTestAnthropic(t, server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Generate(ctx, "prompt")
	require.Error(t, err)
}
