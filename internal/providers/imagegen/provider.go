// Package imagegen delegates stencil artwork generation to a hosted generative-image service.
package imagegen

import (
	"context"
	"errors"
)

var (
	ErrNotConfigured  = errors.New("imagegen_not_configured")
	ErrInvalidPrompt  = errors.New("invalid_prompt")
	ErrUpstreamFailed = errors.New("imagegen_upstream_failure")
)

const MaxPromptLength = 1000

type GenerateRequest struct {
	Prompt string
	Width  int
	Height int
}

type Image struct {
	Data        []byte
	ContentType string
}

type Provider interface {
	Generate(ctx context.Context, req GenerateRequest) (*Image, error)
}

type NoOpProvider struct{}

func (NoOpProvider) Generate(context.Context, GenerateRequest) (*Image, error) {
	return nil, ErrNotConfigured
}
