package models

import (
	"fmt"
	"net/http"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// GitHubModelsBaseURL is the base URL for the GitHub Models API. The
// OpenAI-compatible chat completions endpoint is at {baseURL}/chat/completions.
const GitHubModelsBaseURL = "https://models.github.ai/inference"

// githubHeaderTransport injects the GitHub API version header into every
// request.
type githubHeaderTransport struct {
	base http.RoundTripper
}

func (t *githubHeaderTransport) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	return t.base.RoundTrip(req)
}

// NewGitHubModel creates a model backed by the GitHub Models API.
//
// The token must be a fine-grained GitHub personal access token with the
// models:read permission. Model names use the publisher/model form, e.g.
// "openai/gpt-4.1" or "meta/llama-4-scout". opts are applied after the
// defaults, so they can override the base URL or HTTP client.
func NewGitHubModel(model, token string, opts ...openai.Option) (llms.Model, error) {
	if token == "" {
		return nil, fmt.Errorf(
			"github token is required: " +
				"create a fine-grained PAT with models:read " +
				"at https://github.com/settings/personal-access-tokens/new",
		)
	}

	base := []openai.Option{
		openai.WithBaseURL(GitHubModelsBaseURL),
		openai.WithToken(token),
		openai.WithModel(model),
		openai.WithHTTPClient(&githubHeaderTransport{base: http.DefaultTransport}),
	}
	llm, err := openai.New(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub Models client: %w", err)
	}
	return llm, nil
}
