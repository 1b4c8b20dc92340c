package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/samber/lo"

	"github.com/ineyio/rewritegate"
)

// Provider is an adapter for OpenAI-compatible chat completion APIs.
// Works with OpenAI and Groq.
type Provider struct {
	name       string
	baseURL    string
	httpClient *http.Client
	models     []string
}

var _ rewritegate.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithModels sets the list of supported models.
func WithModels(models ...string) Option {
	return func(p *Provider) { p.models = models }
}

// New creates a new OpenAI-compatible provider.
func New(name, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewOpenAI creates a provider for OpenAI serving the OpenAI models of the
// registry.
func NewOpenAI(opts ...Option) *Provider {
	base := []Option{WithModels(modelStrings(rewritegate.ProviderOpenAI)...)}
	return New(string(rewritegate.ProviderOpenAI), "https://api.openai.com/v1", append(base, opts...)...)
}

// NewGroq creates a provider for Groq serving the Groq models of the
// registry.
func NewGroq(opts ...Option) *Provider {
	base := []Option{WithModels(modelStrings(rewritegate.ProviderGroq)...)}
	return New(string(rewritegate.ProviderGroq), "https://api.groq.com/openai/v1", append(base, opts...)...)
}

func modelStrings(provider rewritegate.ProviderName) []string {
	return lo.Map(rewritegate.ModelsFor(provider), func(m rewritegate.ModelName, _ int) string {
		return string(m)
	})
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) SupportsModel(model string) bool {
	if len(p.models) == 0 {
		return true
	}
	return lo.Contains(p.models, model)
}

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	Temperature *float64     `json:"temperature,omitempty"`
	MaxTokens   *int         `json:"max_tokens,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type apiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int        `json:"index"`
		Message      apiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Usage *apiUsage `json:"usage"`
}

func (p *Provider) ChatCompletion(ctx context.Context, req rewritegate.ProviderRequest) (rewritegate.ProviderResponse, error) {
	body := apiRequest{
		Model: req.Model,
		Messages: lo.Map(req.Messages, func(m rewritegate.Message, _ int) apiMessage {
			return apiMessage{Role: m.Role, Content: m.Content}
		}),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	httpResp, err := p.doRequest(ctx, req.Auth, body)
	if err != nil {
		return rewritegate.ProviderResponse{}, err
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return rewritegate.ProviderResponse{}, err
	}

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return rewritegate.ProviderResponse{}, fmt.Errorf("%w: decode response: %v", rewritegate.ErrProviderUnavailable, err)
	}

	if len(resp.Choices) == 0 {
		return rewritegate.ProviderResponse{}, fmt.Errorf("%w: empty choices in response", rewritegate.ErrProviderUnavailable)
	}

	out := rewritegate.ProviderResponse{
		ID:           resp.ID,
		Content:      resp.Choices[0].Message.Content,
		FinishReason: resp.Choices[0].FinishReason,
		Model:        resp.Model,
	}
	if resp.Usage != nil {
		out.Usage = &rewritegate.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

func (p *Provider) doRequest(ctx context.Context, auth rewritegate.Auth, body apiRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("rewritegate: marshal request: %w", err)
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("rewritegate: create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+auth.APIKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rewritegate.ErrProviderUnavailable, err)
	}

	return resp, nil
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return rewritegate.ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return rewritegate.ErrAuthFailed
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", rewritegate.ErrInvalidRequest, string(body))
	default:
		return fmt.Errorf("%w: status %d", rewritegate.ErrProviderUnavailable, resp.StatusCode)
	}
}
