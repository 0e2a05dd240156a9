package authorization

import (
	membershipdomain "github.com/stencilflow/stencilflow/internal/membership/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("authorization.service",
	fx.Provide(NewEnforcer),
	fx.Provide(func(svc membershipdomain.Service) RoleReader { return svc }),
	fx.Provide(NewService),
)
