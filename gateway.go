package rewritegate

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

const systemInstruction = "You are a professional editor. Your task is to rewrite texts.\n" +
	"I will provide you texts and your task is to rewrite them in standard, casual American English, " +
	"and fix any style, spelling, grammar, or punctuation errors. It has to be clear and concise, " +
	"and must preserve the original meaning.\n" +
	"Provide transitional phrases when needed. Provide me with rewritten text without any prefix " +
	"or suffix. The text to rewrite is in quotation marks."

// ModelGateway is a remote model handle bound to one provider, model and
// temperature. It is safe for concurrent use.
type ModelGateway struct {
	adapter     Provider
	auth        Auth
	provider    ProviderName
	model       ModelName
	temperature float64
}

func newModelGateway(adapter Provider, auth Auth, provider ProviderName, model ModelName, temperature float64) *ModelGateway {
	return &ModelGateway{
		adapter:     adapter,
		auth:        auth,
		provider:    provider,
		model:       model,
		temperature: temperature,
	}
}

// Provider returns the provider the gateway calls.
func (g *ModelGateway) Provider() ProviderName { return g.provider }

// Model returns the model the gateway calls.
func (g *ModelGateway) Model() ModelName { return g.model }

// Messages returns the chat messages sent for text.
func Messages(text string) []Message {
	return []Message{
		{Role: "system", Content: systemInstruction},
		{Role: "user", Content: `"` + text + `"`},
	}
}

// Rewrite sends text to the model and returns the rewritten text and the
// total tokens the provider reported. A response without usage metadata
// yields a token count of zero. An empty completion fails with an
// UpstreamError that still carries the reported count.
func (g *ModelGateway) Rewrite(ctx context.Context, text string) (string, int64, error) {
	resp, err := g.adapter.ChatCompletion(ctx, ProviderRequest{
		Auth:        g.auth,
		Model:       string(g.model),
		Messages:    Messages(text),
		Temperature: Float64Ptr(g.temperature),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = errors.Join(err, ctxErr)
		}
		return "", 0, &UpstreamError{Provider: g.provider, Model: g.model, Err: err}
	}

	var tokens int64
	if resp.Usage != nil {
		tokens = resp.Usage.Total()
	}

	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return "", tokens, &UpstreamError{Provider: g.provider, Model: g.model, Tokens: tokens, Err: errors.New("empty completion")}
	}
	return out, tokens, nil
}

// EstimateTokens approximates the prompt size of a rewrite request for text
// at four runes per token plus a small per-message overhead.
func EstimateTokens(text string) int64 {
	var total int64
	for _, m := range Messages(text) {
		total += int64(utf8.RuneCountInString(m.Content))/4 + 4
	}
	return total + 3
}
