// Package models builds the language model behind model-backed hooks and
// records every call it makes.
package models

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Providers New understands.
const (
	ProviderOpenAI = "openai"
	ProviderGitHub = "github"
)

// DefaultGitHubModel is used for the github provider when no name is set.
const DefaultGitHubModel = "openai/gpt-4o-mini"

// Options select and authenticate a model.
type Options struct {
	Provider string
	Name     string
	Token    string
	BaseURL  string
}

// New creates the client for opts.Provider. Both providers speak the OpenAI
// chat completions protocol.
func New(opts Options, extra ...openai.Option) (llms.Model, error) {
	switch strings.ToLower(opts.Provider) {
	case ProviderOpenAI:
		if opts.Token == "" {
			return nil, fmt.Errorf("openai token is required")
		}
		o := []openai.Option{openai.WithToken(opts.Token)}
		if opts.Name != "" {
			o = append(o, openai.WithModel(opts.Name))
		}
		if opts.BaseURL != "" {
			o = append(o, openai.WithBaseURL(opts.BaseURL))
		}
		llm, err := openai.New(append(o, extra...)...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		return llm, nil
	case ProviderGitHub:
		name := opts.Name
		if name == "" {
			name = DefaultGitHubModel
		}
		if opts.BaseURL != "" {
			extra = append([]openai.Option{openai.WithBaseURL(opts.BaseURL)}, extra...)
		}
		return NewGitHubModel(name, opts.Token, extra...)
	default:
		return nil, fmt.Errorf("unsupported model provider %q", opts.Provider)
	}
}
