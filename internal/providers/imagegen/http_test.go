package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProviderGenerate(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\nfake")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		var body generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "stencil-v1", body.Model)
		assert.Equal(t, "a fox in linocut style", body.Prompt)

		_ = json.NewEncoder(w).Encode(generateResponse{
			Image:       base64.StdEncoding.EncodeToString(png),
			ContentType: "image/png",
		})
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPConfig{Endpoint: srv.URL, APIKey: "key-1", Model: "stencil-v1"}, srv.Client())
	img, err := p.Generate(context.Background(), GenerateRequest{Prompt: "  a fox in linocut style "})
	require.NoError(t, err)
	assert.Equal(t, png, img.Data)
	assert.Equal(t, "image/png", img.ContentType)
}

func TestHTTPProviderUpstreamFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPConfig{Endpoint: srv.URL}, srv.Client())
	_, err := p.Generate(context.Background(), GenerateRequest{Prompt: "owl"})
	assert.ErrorIs(t, err, ErrUpstreamFailed)
	assert.Equal(t, 1, calls)
}

func TestGenerateValidatesPrompt(t *testing.T) {
	p := NewHTTPProvider(HTTPConfig{Endpoint: "http://127.0.0.1:0"}, nil)
	_, err := p.Generate(context.Background(), GenerateRequest{Prompt: " "})
	assert.ErrorIs(t, err, ErrInvalidPrompt)

	_, err = NoOpProvider{}.Generate(context.Background(), GenerateRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}
