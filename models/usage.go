package models

import "github.com/tmc/langchaingo/llms"

// Usage is token accounting normalized across providers.
type Usage struct {
	InputTokens       int `json:"input_tokens"`
	OutputTokens      int `json:"output_tokens"`
	TotalTokens       int `json:"total_tokens"`
	CachedInputTokens int `json:"cached_input_tokens,omitempty"`
	ReasoningTokens   int `json:"reasoning_tokens,omitempty"`
}

// UsageOf reads the first choice's generation info. Providers name the same
// counts differently; the first non-zero key wins.
func UsageOf(resp *llms.ContentResponse) Usage {
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return Usage{}
	}
	info := resp.Choices[0].GenerationInfo
	if info == nil {
		return Usage{}
	}

	u := Usage{
		// OpenAI-compatible, Anthropic, Google / Bedrock
		InputTokens:  firstInt(info, "PromptTokens", "InputTokens", "input_tokens"),
		OutputTokens: firstInt(info, "CompletionTokens", "OutputTokens", "output_tokens"),
		CachedInputTokens: firstInt(info,
			"PromptCachedTokens", "CacheReadInputTokens", "CachedTokens"),
		ReasoningTokens: firstInt(info,
			"ReasoningTokens", "CompletionReasoningTokens", "ThinkingTokens"),
	}
	u.TotalTokens = firstInt(info, "TotalTokens", "total_tokens")
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	return u
}

func firstInt(m map[string]any, keys ...string) int {
	for _, k := range keys {
		if v := intValue(m[k]); v > 0 {
			return v
		}
	}
	return 0
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	default:
		return 0
	}
}
