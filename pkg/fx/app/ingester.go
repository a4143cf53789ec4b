package app

import (
	"go.uber.org/fx"

	"github.com/storacha/deal-ingester/pkg/config/app"
	"github.com/storacha/deal-ingester/pkg/fx/echo"
	"github.com/storacha/deal-ingester/pkg/fx/ingester"
	"github.com/storacha/deal-ingester/pkg/fx/store"
	"github.com/storacha/deal-ingester/pkg/health"
)

// IngesterModules composes everything needed for a task building run. The
// liveness server is added when enabled in cfg; it reports through checker.
func IngesterModules(cfg app.AppConfig, checker *health.Checker) fx.Option {
	var modules = []fx.Option{
		// Supply top level config, and it's sub-configs
		// this allows dependencies to be taken on, for example, app.CacheConfig
		// instead of needing to depend on the top level app.AppConfig
		fx.Supply(cfg),
		fx.Supply(cfg.Cache),
		fx.Supply(cfg.Indexer),
		fx.Supply(cfg.Pipeline),
		fx.Supply(cfg.Server),

		store.Module,    // Provides the lookup cache
		ingester.Module, // Provides the indexer client, processor and pipeline
	}

	if cfg.Server.Enabled {
		modules = append(modules,
			fx.Supply(checker),
			echo.Module,   // Provides Echo server with route registration
			health.Module, // Provides the status and output routes
		)
	}

	return fx.Module("ingester-app", modules...)
}
