package health

import (
	"go.uber.org/fx"

	"github.com/storacha/deal-ingester/pkg/config/app"
	echofx "github.com/storacha/deal-ingester/pkg/fx/echo"
)

// NewHandlerFromConfig creates a handler for the configured output file.
func NewHandlerFromConfig(checker *Checker, cfg app.AppConfig) *Handler {
	return NewHandler(checker, cfg.Output)
}

// Module provides the liveness routes. The Checker is supplied by the caller
// so the command running the pipeline can mark it done.
var Module = fx.Module("health",
	fx.Provide(
		fx.Annotate(
			NewHandlerFromConfig,
			fx.As(new(echofx.RouteRegistrar)),
			fx.ResultTags(`group:"route_registrar"`),
		),
	),
)
