package imagegen

import (
	"net/http"
	"strings"

	"github.com/stencilflow/stencilflow/internal/config"
	"github.com/stencilflow/stencilflow/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.imagegen",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	if strings.TrimSpace(cfg.ImageGen.Endpoint) == "" {
		log.Info("IMAGEGEN_ENDPOINT not set, image generation is disabled")
		return NoOpProvider{}
	}
	client := tracing.WrapHTTPClient(&http.Client{Timeout: cfg.ImageGen.Timeout})
	return NewHTTPProvider(HTTPConfig{
		Endpoint: cfg.ImageGen.Endpoint,
		APIKey:   cfg.ImageGen.APIKey,
		Model:    cfg.ImageGen.Model,
	}, client)
}
