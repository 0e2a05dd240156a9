package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/stencilflow/stencilflow/pkg/telemetry/correlation"
)

const maxResponseBytes = 20 << 20

type HTTPConfig struct {
	Endpoint string
	APIKey   string
	Model    string
}

// HTTPProvider calls a JSON image generation endpoint. Failed calls are not retried.
type HTTPProvider struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTPProvider(cfg HTTPConfig, client *http.Client) *HTTPProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProvider{cfg: cfg, client: client}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type generateResponse struct {
	Image       string `json:"image"`
	ContentType string `json:"content_type"`
}

func (p *HTTPProvider) Generate(ctx context.Context, req GenerateRequest) (*Image, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" || len(prompt) > MaxPromptLength {
		return nil, ErrInvalidPrompt
	}

	body, err := json.Marshal(generateRequest{
		Model:  p.cfg.Model,
		Prompt: prompt,
		Width:  req.Width,
		Height: req.Height,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	for key, value := range correlation.Headers(ctx) {
		httpReq.Header.Set(key, value)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrUpstreamFailed, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamFailed, resp.StatusCode)
	}

	var decoded generateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrUpstreamFailed, err)
	}
	data, err := base64.StdEncoding.DecodeString(decoded.Image)
	if err != nil || len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrUpstreamFailed)
	}

	contentType := decoded.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return &Image{Data: data, ContentType: contentType}, nil
}
