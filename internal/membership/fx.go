package membership

import (
	"github.com/stencilflow/stencilflow/internal/identity"
	"github.com/stencilflow/stencilflow/internal/membership/domain"
	"github.com/stencilflow/stencilflow/internal/membership/repository"
	"github.com/stencilflow/stencilflow/internal/membership/service"
	"go.uber.org/fx"
)

var Module = fx.Module("membership.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
	fx.Provide(func(svc domain.Service) identity.MembershipReader { return svc }),
)
