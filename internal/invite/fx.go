package invite

import (
	"github.com/stencilflow/stencilflow/internal/invite/repository"
	"github.com/stencilflow/stencilflow/internal/invite/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invite.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
