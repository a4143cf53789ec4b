package config

import (
	"github.com/spf13/viper"

	"github.com/storacha/deal-ingester/pkg/config/app"
)

// Key is a configuration key path used with Viper.
type Key string

const (
	Input    Key = "input"
	Output   Key = "output"
	Progress Key = "progress"
)

const (
	CacheDir      Key = "cache.dir"
	CacheBackend  Key = "cache.backend"
	CacheMemoSize Key = "cache.memo_size"
)

const (
	IndexerURL       Key = "indexer.url"
	IndexerTimeout   Key = "indexer.timeout"
	IndexerRateLimit Key = "indexer.rate_limit"
	IndexerBurst     Key = "indexer.burst"
	IndexerRetries   Key = "indexer.retries"
)

const (
	PipelineConcurrency   Key = "pipeline.concurrency"
	PipelineProgressEvery Key = "pipeline.progress_every"
)

const (
	ServerEnabled Key = "server.enabled"
	ServerHost    Key = "server.host"
	ServerPort    Key = "server.port"
)

var defaultValues = map[Key]any{
	Input:    "deals.ndjson",
	Output:   "retrieval-tasks.ndjson",
	Progress: false,

	CacheDir:      "cache",
	CacheBackend:  string(app.CacheBackendFS),
	CacheMemoSize: 0,

	IndexerURL:       "http://cid.contact",
	IndexerTimeout:   "1m",
	IndexerRateLimit: 0.0,
	IndexerBurst:     1,
	IndexerRetries:   2,

	PipelineConcurrency:   5,
	PipelineProgressEvery: 1000,

	ServerEnabled: false,
	ServerHost:    "127.0.0.1",
	ServerPort:    8080,
}

// SetDefaults sets all viper defaults for configuration.
// Called before viper.Unmarshal() to ensure defaults are available.
func SetDefaults() {
	SetDefaultsOn(viper.GetViper())
}

// SetDefaultsOn sets the defaults on v.
func SetDefaultsOn(v *viper.Viper) {
	for k, val := range defaultValues {
		v.SetDefault(string(k), val)
	}
}
