package billing

import (
	"github.com/stencilflow/stencilflow/internal/billing/repository"
	"github.com/stencilflow/stencilflow/internal/billing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
