package audit

import (
	"github.com/stencilflow/stencilflow/internal/audit/repository"
	"github.com/stencilflow/stencilflow/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
