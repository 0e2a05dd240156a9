package organization

import (
	"github.com/stencilflow/stencilflow/internal/organization/repository"
	"github.com/stencilflow/stencilflow/internal/organization/service"
	"go.uber.org/fx"
)

var Module = fx.Module("organization.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
