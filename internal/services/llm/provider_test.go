package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/continuum/internal/interfaces"
)

// createTestLogger creates a logger for testing
func createTestLogger() arbor.ILogger {
	return arbor.NewLogger()
}

// stubProvider is a scriptable CompletionProvider for chain tests.
type stubProvider struct {
	name       string
	configured bool
	response   string
	err        error
	calls      int
}

func (s *stubProvider) Name() string     { return s.name }
func (s *stubProvider) Configured() bool { return s.configured }
func (s *stubProvider) Complete(ctx context.Context, req interfaces.CompletionRequest) (string, error) {
	s.calls++
	return s.response, s.err
}

func TestChain_FirstProviderSucceeds(t *testing.T) {
	first := &stubProvider{name: "first", configured: true, response: `{"ok":true}`}
	second := &stubProvider{name: "second", configured: true, response: "unused"}
	chain := NewChain(createTestLogger(), first, second)

	resp, err := chain.Complete(context.Background(), interfaces.CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, second.calls, "fallback must not run when primary succeeds")
}

func TestChain_FallsBackOnFailure(t *testing.T) {
	first := &stubProvider{name: "first", configured: true, err: errors.New("500 upstream error")}
	second := &stubProvider{name: "second", configured: true, response: "fallback answer"}
	chain := NewChain(createTestLogger(), first, second)

	resp, err := chain.Complete(context.Background(), interfaces.CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "fallback answer", resp)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
}

func TestChain_SkipsUnconfigured(t *testing.T) {
	first := &stubProvider{name: "first", configured: false}
	second := &stubProvider{name: "second", configured: true, response: "answer"}
	chain := NewChain(createTestLogger(), first, second)

	resp, err := chain.Complete(context.Background(), interfaces.CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "answer", resp)
	assert.Equal(t, 0, first.calls, "unconfigured provider must be skipped, not called")
}

func TestChain_AllFail(t *testing.T) {
	first := &stubProvider{name: "first", configured: true, err: errors.New("boom")}
	second := &stubProvider{name: "second", configured: true, err: errors.New("also boom")}
	chain := NewChain(createTestLogger(), first, second)

	_, err := chain.Complete(context.Background(), interfaces.CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all completion providers failed")
}

func TestChain_NoneConfigured(t *testing.T) {
	chain := NewChain(createTestLogger(), &stubProvider{name: "only"})

	assert.False(t, chain.Configured())
	_, err := chain.Complete(context.Background(), interfaces.CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no completion provider is configured")
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain json untouched",
			input:    `{"a":1}`,
			expected: `{"a":1}`,
		},
		{
			name:     "fenced with language tag",
			input:    "```json\n{\"a\":1}\n```",
			expected: `{"a":1}`,
		},
		{
			name:     "fenced without language tag",
			input:    "```\n{\"a\":1}\n```",
			expected: `{"a":1}`,
		},
		{
			name:     "surrounding whitespace",
			input:    "  \n```json\n{\"a\": 1}\n```\n  ",
			expected: `{"a": 1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StripFences(tt.input))
		})
	}
}

func TestDecodeJSON_ToleratesProse(t *testing.T) {
	var out struct {
		Cards []struct {
			Number int `json:"number"`
		} `json:"cards"`
	}

	input := "Here is the analysis you asked for:\n{\"cards\":[{\"number\":3}]}\nLet me know if you need more."
	require.NoError(t, DecodeJSON(input, &out))
	require.Len(t, out.Cards, 1)
	assert.Equal(t, 3, out.Cards[0].Number)
}

func TestDecodeJSON_NoObject(t *testing.T) {
	var out map[string]interface{}
	err := DecodeJSON("the model refused to answer", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no JSON object found")
}

func TestDecodeJSON_MalformedInsideBraces(t *testing.T) {
	var out map[string]interface{}
	err := DecodeJSON(`{"a": definitely not json}`, &out)
	require.Error(t, err)
}
