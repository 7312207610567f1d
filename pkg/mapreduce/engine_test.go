package mapreduce

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spyGenerator counts calls and delegates to fn, so tests can assert how
// many generation calls a pipeline run made.
type spyGenerator struct {
	mu    sync.Mutex
	calls int
	fn    func(prompt string) (string, error)
}

func (s *spyGenerator) generate(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(prompt)
}

func (s *spyGenerator) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// threeChunkInput builds three ~46-character paragraphs so a ChunkSize of
// 60 with no overlap yields exactly one chunk per paragraph, each holding
// a unique marker word.
func threeChunkInput() string {
	return strings.Join([]string{
		"alpha " + strings.Repeat("x", 40),
		"beta " + strings.Repeat("y", 40),
		"gamma " + strings.Repeat("z", 40),
	}, "\n\n")
}

func twoChunkInput() string {
	return strings.Join([]string{
		"alpha " + strings.Repeat("x", 40),
		"beta " + strings.Repeat("y", 40),
	}, "\n\n")
}

func testConfig() Config {
	cfg := NewDefaultConfig()
	cfg.ChunkSize = 60
	cfg.Overlap = 0
	cfg.Flatten = false
	return cfg
}

func extractResponse(lines ...string) string {
	return "<CHANGES>\n" + strings.Join(lines, "\n") + "\n</CHANGES>"
}

// routeByMarker returns a fixed response per chunk, keyed by the marker
// word embedded in the prompt.
func routeByMarker(prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, "alpha"):
		return extractResponse("[feature|high] Alpha support | Added alpha"), nil
	case strings.Contains(prompt, "beta"):
		return extractResponse("[fix|medium] Beta repair | Fixed beta"), nil
	case strings.Contains(prompt, "gamma"):
		return extractResponse("[docs|low] Gamma docs | Documented gamma"), nil
	default:
		return "", errors.New("prompt matched no known chunk")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{name: "zero workers", mutate: func(c *Config) { c.MaxWorkers = 0 }, wantErr: true},
		{name: "negative workers", mutate: func(c *Config) { c.MaxWorkers = -1 }, wantErr: true},
		{name: "negative reduce threshold", mutate: func(c *Config) { c.ReduceThreshold = -1 }, wantErr: true},
		{name: "zero reduce threshold", mutate: func(c *Config) { c.ReduceThreshold = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_InvalidChunking(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Overlap = cfg.ChunkSize

	_, err := New(cfg)

	require.Error(t, err)
}

func TestEngine_NeedsProcessing(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	assert.False(t, e.NeedsProcessing("short release note"))
	assert.False(t, e.NeedsProcessing(strings.Repeat("a", 60)))
	assert.True(t, e.NeedsProcessing(strings.Repeat("a", 61)))
}

func TestProcess_SmallInputMakesNoCalls(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	extract := &spyGenerator{fn: routeByMarker}

	result, err := e.Process(context.Background(), "one small fix", extract.generate, nil)

	require.NoError(t, err)
	assert.Empty(t, result.Changes)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, 0, extract.callCount())
}

func TestProcess_NilExtract(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	_, err = e.Process(context.Background(), threeChunkInput(), nil, nil)

	require.Error(t, err)
}

func TestProcess_MapAcrossChunks(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	extract := &spyGenerator{fn: routeByMarker}
	reduce := &spyGenerator{fn: func(string) (string, error) {
		return "", errors.New("reduce must not run for small sets")
	}}

	result, err := e.Process(context.Background(), threeChunkInput(), extract.generate, reduce.generate)

	require.NoError(t, err)
	assert.Equal(t, 3, extract.callCount())
	assert.Equal(t, 0, reduce.callCount())
	assert.Empty(t, result.Warnings)

	require.Len(t, result.Changes, 3)
	assert.Equal(t, "change-1", result.Changes[0].ID)
	assert.Equal(t, "Alpha support", result.Changes[0].Title)
	assert.Equal(t, "change-2", result.Changes[1].ID)
	assert.Equal(t, "Beta repair", result.Changes[1].Title)
	assert.Equal(t, "change-3", result.Changes[2].ID)
	assert.Equal(t, "Gamma docs", result.Changes[2].Title)
}

func TestProcess_ChunkFailureIsolated(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	extract := &spyGenerator{fn: func(prompt string) (string, error) {
		if strings.Contains(prompt, "beta") {
			return "", errors.New("boom")
		}
		return routeByMarker(prompt)
	}}

	result, err := e.Process(context.Background(), threeChunkInput(), extract.generate, nil)

	require.NoError(t, err, "one failed chunk must not fail the run")

	require.Len(t, result.Changes, 2)
	assert.Equal(t, "Alpha support", result.Changes[0].Title)
	assert.Equal(t, "change-1", result.Changes[0].ID)
	assert.Equal(t, "Gamma docs", result.Changes[1].Title)
	assert.Equal(t, "change-2", result.Changes[1].ID)

	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "chunk 2")
	assert.Contains(t, result.Warnings[0], "boom")
}

func TestProcess_AllChunksFailed(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	extract := &spyGenerator{fn: func(string) (string, error) {
		return "", errors.New("provider down")
	}}

	result, err := e.Process(context.Background(), threeChunkInput(), extract.generate, nil)

	require.NoError(t, err)
	assert.Empty(t, result.Changes)
	assert.Len(t, result.Warnings, 3)
}

func TestProcess_DeterministicOrderUnderStaggeredCompletion(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	// The first chunk finishes last and the last chunk finishes first;
	// IDs must still follow chunk order, not completion order.
	extract := &spyGenerator{fn: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "alpha"):
			time.Sleep(30 * time.Millisecond)
		case strings.Contains(prompt, "beta"):
			time.Sleep(10 * time.Millisecond)
		}
		return routeByMarker(prompt)
	}}

	result, err := e.Process(context.Background(), threeChunkInput(), extract.generate, nil)

	require.NoError(t, err)
	require.Len(t, result.Changes, 3)
	assert.Equal(t, "Alpha support", result.Changes[0].Title)
	assert.Equal(t, "Beta repair", result.Changes[1].Title)
	assert.Equal(t, "Gamma docs", result.Changes[2].Title)
	for i, c := range result.Changes {
		assert.Equal(t, fmt.Sprintf("change-%d", i+1), c.ID)
	}
}

func TestProcess_ReduceDeduplicates(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	// Each chunk reports the shared change plus one of its own: 6 items,
	// over the reduce threshold.
	extract := &spyGenerator{fn: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "alpha"):
			return extractResponse(
				"[feature|high] Shared thing | Seen in overlap",
				"[feature|medium] Alpha only | a",
			), nil
		case strings.Contains(prompt, "beta"):
			return extractResponse(
				"[feature|high] Shared thing | Seen in overlap",
				"[fix|low] Beta only | b",
			), nil
		case strings.Contains(prompt, "gamma"):
			return extractResponse(
				"[feature|high] Shared thing | Seen in overlap",
				"[docs|low] Gamma only | c",
			), nil
		}
		return "", errors.New("unknown chunk")
	}}

	reduce := &spyGenerator{fn: func(prompt string) (string, error) {
		require.Contains(t, prompt, "DEDUPLICATE")
		require.Contains(t, prompt, "Shared thing")
		return extractResponse(
			"[feature|high] Shared thing | Seen in overlap",
			"[feature|medium] Alpha only | a",
			"[fix|low] Beta only | b",
			"[docs|low] Gamma only | c",
		), nil
	}}

	result, err := e.Process(context.Background(), threeChunkInput(), extract.generate, reduce.generate)

	require.NoError(t, err)
	assert.Equal(t, 1, reduce.callCount())
	assert.Empty(t, result.Warnings)

	require.Len(t, result.Changes, 4)
	assert.Equal(t, "Shared thing", result.Changes[0].Title)
	assert.Equal(t, "change-1", result.Changes[0].ID)
	assert.Equal(t, "change-4", result.Changes[3].ID)
}

func TestProcess_ReduceUnparsableFallsBack(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	extract := &spyGenerator{fn: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "alpha"):
			return extractResponse(
				"[docs|low] Alpha docs | a",
				"[feature|high] Alpha feature | a",
			), nil
		case strings.Contains(prompt, "beta"):
			return extractResponse(
				"[fix|medium] Beta fix | b",
				"[fix|low] Beta cleanup | b",
			), nil
		case strings.Contains(prompt, "gamma"):
			return extractResponse(
				"[breaking|high] Gamma removal | g",
				"[security|medium] Gamma patch | g",
			), nil
		}
		return "", errors.New("unknown chunk")
	}}

	reduce := &spyGenerator{fn: func(string) (string, error) {
		return "I'm sorry, I can't help with that.", nil
	}}

	result, err := e.Process(context.Background(), threeChunkInput(), extract.generate, reduce.generate)

	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "unparsable")

	// All six originals survive. High importance first (breaking before
	// feature), then medium (security before fix), then low (fix before
	// docs).
	require.Len(t, result.Changes, 6)
	titles := make([]string, len(result.Changes))
	for i, c := range result.Changes {
		titles[i] = c.Title
	}
	assert.Equal(t, []string{
		"Gamma removal",
		"Alpha feature",
		"Gamma patch",
		"Beta fix",
		"Beta cleanup",
		"Alpha docs",
	}, titles)
}

func TestProcess_ReduceErrorFallsBack(t *testing.T) {
	cfg := testConfig()
	cfg.ReduceThreshold = 2
	e, err := New(cfg)
	require.NoError(t, err)

	extract := &spyGenerator{fn: routeByMarker}
	reduce := &spyGenerator{fn: func(string) (string, error) {
		return "", errors.New("rate limited")
	}}

	result, err := e.Process(context.Background(), threeChunkInput(), extract.generate, reduce.generate)

	require.NoError(t, err, "reduce failure degrades, never fails the run")
	assert.Equal(t, 1, reduce.callCount())
	require.Len(t, result.Changes, 3)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "reduce call failed")
}

func TestProcess_FlattenNetState(t *testing.T) {
	cfg := testConfig()
	cfg.Flatten = true
	e, err := New(cfg)
	require.NoError(t, err)

	extract := &spyGenerator{fn: routeByMarker}
	reduce := &spyGenerator{fn: func(prompt string) (string, error) {
		require.Contains(t, prompt, "NET STATE")
		return "<FLATTENED>\n[feature|high] Net feature | Final form\n</FLATTENED>\n" +
			"<REMOVED reason=\"reverted\">\n- [fix|medium] Beta repair\n</REMOVED>", nil
	}}

	result, err := e.Process(context.Background(), twoChunkInput(), extract.generate, reduce.generate)

	require.NoError(t, err)
	assert.Equal(t, 1, reduce.callCount(), "two items skip reduce; only flatten runs")
	assert.Empty(t, result.Warnings)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, "Net feature", result.Changes[0].Title)
	assert.Equal(t, "change-1", result.Changes[0].ID)
}

func TestProcess_FlattenUnusableKeepsReduced(t *testing.T) {
	cfg := testConfig()
	cfg.Flatten = true
	e, err := New(cfg)
	require.NoError(t, err)

	extract := &spyGenerator{fn: routeByMarker}
	reduce := &spyGenerator{fn: func(string) (string, error) {
		return "the changes look fine to me", nil
	}}

	result, err := e.Process(context.Background(), twoChunkInput(), extract.generate, reduce.generate)

	require.NoError(t, err)
	require.Len(t, result.Changes, 2)
	assert.Equal(t, "Alpha support", result.Changes[0].Title)
	assert.Equal(t, "Beta repair", result.Changes[1].Title)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "flatten")
}

func TestProcess_ContextCancelled(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	extract := &spyGenerator{fn: routeByMarker}

	_, err = e.Process(ctx, threeChunkInput(), extract.generate, nil)

	require.ErrorIs(t, err, context.Canceled)
}
