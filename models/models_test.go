package models

import (
	"context"
	"errors"
	"testing"

	"github.com/rickchristie/relay"
	"github.com/rickchristie/relay/internal/tt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		input    Options
		expected string
	}{
		{name: "openai", input: Options{Provider: "openai", Token: "sk-test", Name: "gpt-4o-mini"}},
		{name: "openai custom base", input: Options{Provider: "OpenAI", Token: "sk-test", BaseURL: "http://localhost:1234/v1"}},
		{name: "github", input: Options{Provider: "github", Token: "ghp_test"}},
		{name: "openai without token", input: Options{Provider: "openai"}, expected: "openai token is required"},
		{name: "github without token", input: Options{Provider: "github"}, expected: "github token is required"},
		{name: "unknown provider", input: Options{Provider: "carrier-pigeon", Token: "x"}, expected: "unsupported model provider"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, err := New(tc.input)
			if tc.expected != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.expected)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, m)
		})
	}
}

func TestUsageOf(t *testing.T) {
	resp := func(info map[string]any) *llms.ContentResponse {
		return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "x", GenerationInfo: info}}}
	}

	tests := []struct {
		name     string
		input    *llms.ContentResponse
		expected Usage
	}{
		{name: "nil response", input: nil, expected: Usage{}},
		{name: "no info", input: resp(nil), expected: Usage{}},
		{
			name:     "openai keys",
			input:    resp(map[string]any{"PromptTokens": 12, "CompletionTokens": 3, "TotalTokens": 15, "PromptCachedTokens": 4}),
			expected: Usage{InputTokens: 12, OutputTokens: 3, TotalTokens: 15, CachedInputTokens: 4},
		},
		{
			name:     "anthropic keys, total computed",
			input:    resp(map[string]any{"InputTokens": int64(7), "OutputTokens": int32(2)}),
			expected: Usage{InputTokens: 7, OutputTokens: 2, TotalTokens: 9},
		},
		{
			name:     "float counts",
			input:    resp(map[string]any{"input_tokens": float64(5), "output_tokens": float64(1), "ReasoningTokens": 8}),
			expected: Usage{InputTokens: 5, OutputTokens: 1, TotalTokens: 6, ReasoningTokens: 8},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, UsageOf(tc.input))
		})
	}
}

// usageModel answers with fixed token counts.
type usageModel struct{}

func (usageModel) GenerateContent(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        "ALLOW",
		GenerationInfo: map[string]any{"PromptTokens": 20, "CompletionTokens": 1},
	}}}, nil
}

func (m usageModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestTraced_CountsCalls(t *testing.T) {
	stats := relay.NewStats()
	m := NewTraced(usageModel{}, "fake").WithStats(stats).WithLogger(tt.Logger())

	out, err := m.Call(context.Background(), "review this")
	require.NoError(t, err)
	assert.Equal(t, "ALLOW", out)

	_, err = m.GenerateContent(context.Background(), []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, "again"),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.GetCounter(relay.KeyModelCalls))
	assert.Equal(t, int64(0), stats.GetCounter(relay.KeyModelErrors))
	assert.Equal(t, int64(40), stats.GetCounter(relay.KeyModelInputTokens))
	assert.Equal(t, int64(2), stats.GetCounter(relay.KeyModelOutputTokens))
}

func TestTraced_Error(t *testing.T) {
	mock := tt.NewMockModel().AddError(errors.New("rate limited"))
	m := NewTraced(mock, "mock")

	_, err := m.GenerateContent(context.Background(), nil)
	assert.EqualError(t, err, "rate limited")
	assert.Equal(t, int64(1), m.Stats().GetCounter(relay.KeyModelCalls))
	assert.Equal(t, int64(1), m.Stats().GetCounter(relay.KeyModelErrors))
	assert.Same(t, mock, m.Unwrap())
}
