package gemini_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ineyio/rewritegate"
	"github.com/ineyio/rewritegate/provider/gemini"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wireRequest struct {
	SystemInstruction *struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"systemInstruction"`
	Contents []struct {
		Role  string `json:"role"`
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
	GenerationConfig *struct {
		Temperature *float64 `json:"temperature"`
	} `json:"generationConfig"`
}

func TestChatCompletion_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.URL.Query().Get("key"))

		var body wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.NotNil(t, body.SystemInstruction)
		assert.Contains(t, body.SystemInstruction.Parts[0].Text, "professional editor")
		require.Len(t, body.Contents, 2)
		assert.Equal(t, "user", body.Contents[0].Role)
		assert.Equal(t, `"fix me"`, body.Contents[0].Parts[0].Text)
		assert.Equal(t, "model", body.Contents[1].Role)
		require.NotNil(t, body.GenerationConfig)
		require.NotNil(t, body.GenerationConfig.Temperature)
		assert.InDelta(t, 0.5, *body.GenerationConfig.Temperature, 1e-9)

		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "Fixed"}, {"text": " text."}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 30, "candidatesTokenCount": 12, "totalTokenCount": 42}
		}`))
	}))
	defer srv.Close()

	msgs := append(rewritegate.Messages("fix me"), rewritegate.Message{Role: "assistant", Content: "earlier answer"})
	p := gemini.New(gemini.WithBaseURL(srv.URL))
	resp, err := p.ChatCompletion(context.Background(), rewritegate.ProviderRequest{
		Auth:        rewritegate.Auth{APIKey: "g-key"},
		Model:       "gemini-1.5-flash",
		Messages:    msgs,
		Temperature: rewritegate.Float64Ptr(0.5),
	})
	require.NoError(t, err)

	assert.Equal(t, "Fixed text.", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, "gemini-1.5-flash", resp.Model)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, int64(42), resp.Usage.Total())
}

func TestChatCompletion_NoUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	defer srv.Close()

	resp, err := gemini.New(gemini.WithBaseURL(srv.URL)).ChatCompletion(context.Background(), rewritegate.ProviderRequest{
		Model:    "gemini-1.5-pro",
		Messages: rewritegate.Messages("hi"),
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Nil(t, resp.Usage)
}

func TestChatCompletion_ErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, rewritegate.ErrRateLimited},
		{http.StatusForbidden, rewritegate.ErrAuthFailed},
		{http.StatusBadRequest, rewritegate.ErrInvalidRequest},
		{http.StatusBadGateway, rewritegate.ErrProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := gemini.New(gemini.WithBaseURL(srv.URL)).ChatCompletion(context.Background(), rewritegate.ProviderRequest{
				Model:    "gemini-1.5-pro",
				Messages: rewritegate.Messages("hi"),
			})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestChatCompletion_NoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	_, err := gemini.New(gemini.WithBaseURL(srv.URL)).ChatCompletion(context.Background(), rewritegate.ProviderRequest{
		Model:    "gemini-1.5-pro",
		Messages: rewritegate.Messages("hi"),
	})
	assert.ErrorIs(t, err, rewritegate.ErrProviderUnavailable)
}

func TestSupportsModel(t *testing.T) {
	p := gemini.New()
	assert.Equal(t, "gemini", p.Name())
	assert.True(t, p.SupportsModel("gemini-1.5-flash"))
	assert.True(t, p.SupportsModel("gemini-1.5-pro"))
	assert.False(t, p.SupportsModel("gpt-3.5-turbo"))
}
