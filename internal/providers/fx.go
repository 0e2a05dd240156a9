package providers

import (
	"github.com/stencilflow/stencilflow/internal/providers/email"
	"github.com/stencilflow/stencilflow/internal/providers/imagegen"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	imagegen.Module,
)
