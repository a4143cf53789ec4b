package ingester

import (
	"net/http"

	"go.uber.org/fx"

	"github.com/storacha/deal-ingester/pkg/config/app"
	"github.com/storacha/deal-ingester/pkg/indexer"
	"github.com/storacha/deal-ingester/pkg/pipeline"
	"github.com/storacha/deal-ingester/pkg/processor"
	"github.com/storacha/deal-ingester/pkg/stats"
	"github.com/storacha/deal-ingester/pkg/store/lookupcache"
)

var Module = fx.Module("ingester",
	fx.Provide(
		stats.New,
		fx.Annotate(
			NewIndexerClient,
			fx.As(new(processor.ProviderFinder)),
		),
		fx.Annotate(
			processor.New,
			fx.As(new(pipeline.DealProcessor)),
		),
		NewPipeline,
	),
)

// NewIndexerClient creates the IPNI client reading through the lookup cache.
func NewIndexerClient(cfg app.IndexerConfig, cache lookupcache.Store) *indexer.Client {
	return indexer.New(cfg.URL, cache,
		indexer.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		indexer.WithRateLimit(cfg.RateLimit, cfg.Burst),
		indexer.WithRetries(cfg.Retries),
	)
}

// NewPipeline creates the deal pipeline with the configured scheduling.
func NewPipeline(cfg app.PipelineConfig, p pipeline.DealProcessor, st *stats.Stats) *pipeline.Pipeline {
	return pipeline.New(p, st,
		pipeline.WithConcurrency(cfg.Concurrency),
		pipeline.WithProgressEvery(cfg.ProgressEvery),
	)
}
