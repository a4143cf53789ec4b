package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/storacha/deal-ingester/pkg/config/app"
)

// IngesterConfig is the configuration of a task building run.
type IngesterConfig struct {
	Input    string         `mapstructure:"input" validate:"required" flag:"input" toml:"input"`
	Output   string         `mapstructure:"output" validate:"required" flag:"output" toml:"output"`
	Progress bool           `mapstructure:"progress" flag:"progress" toml:"progress,omitempty"`
	Cache    CacheConfig    `mapstructure:"cache" toml:"cache"`
	Indexer  IndexerConfig  `mapstructure:"indexer" toml:"indexer"`
	Pipeline PipelineConfig `mapstructure:"pipeline" toml:"pipeline"`
	Server   ServerConfig   `mapstructure:"server" toml:"server"`
}

func (c IngesterConfig) Validate() error {
	return validateConfig(c)
}

func (c IngesterConfig) ToAppConfig() (app.AppConfig, error) {
	cache, err := c.Cache.ToAppConfig()
	if err != nil {
		return app.AppConfig{}, err
	}
	indexer, err := c.Indexer.ToAppConfig()
	if err != nil {
		return app.AppConfig{}, err
	}
	server, err := c.Server.ToAppConfig()
	if err != nil {
		return app.AppConfig{}, err
	}
	return app.AppConfig{
		Input:    c.Input,
		Output:   c.Output,
		Progress: c.Progress,
		Cache:    cache,
		Indexer:  indexer,
		Pipeline: c.Pipeline.ToAppConfig(),
		Server:   server,
	}, nil
}

// CacheConfig configures where lookups are cached.
type CacheConfig struct {
	Dir      string `mapstructure:"dir" validate:"required" flag:"cache-dir" toml:"dir"`
	Backend  string `mapstructure:"backend" validate:"omitempty,oneof=fs leveldb" flag:"cache-backend" toml:"backend,omitempty"`
	MemoSize int    `mapstructure:"memo_size" validate:"min=0" toml:"memo_size,omitempty"`
}

func (c CacheConfig) ToAppConfig() (app.CacheConfig, error) {
	backend := app.CacheBackend(c.Backend)
	if backend == "" {
		backend = app.CacheBackendFS
	}
	return app.CacheConfig{
		Dir:      c.Dir,
		Backend:  backend,
		MemoSize: c.MemoSize,
	}, nil
}

// IndexerConfig configures the connection to the IPNI find endpoint.
type IndexerConfig struct {
	URL string `mapstructure:"url" validate:"required,url" flag:"indexer-url" toml:"url"`
	// Timeout is a duration string, e.g. "30s".
	Timeout   string  `mapstructure:"timeout" flag:"indexer-timeout" toml:"timeout,omitempty"`
	RateLimit float64 `mapstructure:"rate_limit" validate:"min=0" flag:"rate-limit" toml:"rate_limit,omitempty"`
	Burst     int     `mapstructure:"burst" validate:"min=0" toml:"burst,omitempty"`
	Retries   uint    `mapstructure:"retries" validate:"max=10" toml:"retries,omitempty"`
}

func (c IndexerConfig) Validate() error {
	return validateConfig(c)
}

func (c IndexerConfig) ToAppConfig() (app.IndexerConfig, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return app.IndexerConfig{}, fmt.Errorf("parsing indexer URL: %w", err)
	}
	var timeout time.Duration
	if c.Timeout != "" {
		timeout, err = time.ParseDuration(c.Timeout)
		if err != nil {
			return app.IndexerConfig{}, fmt.Errorf("parsing indexer timeout: %w", err)
		}
		if timeout < 0 {
			return app.IndexerConfig{}, fmt.Errorf("indexer timeout must not be negative: %s", c.Timeout)
		}
	}
	return app.IndexerConfig{
		URL:       u,
		Timeout:   timeout,
		RateLimit: c.RateLimit,
		Burst:     c.Burst,
		Retries:   c.Retries,
	}, nil
}

// PipelineConfig configures how deals are scheduled.
type PipelineConfig struct {
	Concurrency   int    `mapstructure:"concurrency" validate:"min=1,max=5" flag:"concurrency" toml:"concurrency"`
	ProgressEvery uint64 `mapstructure:"progress_every" toml:"progress_every,omitempty"`
}

func (c PipelineConfig) ToAppConfig() app.PipelineConfig {
	return app.PipelineConfig{
		Concurrency:   c.Concurrency,
		ProgressEvery: c.ProgressEvery,
	}
}

// CacheInspectConfig is the configuration of commands that only read the
// lookup cache.
type CacheInspectConfig struct {
	Cache CacheConfig `mapstructure:"cache" toml:"cache"`
}

func (c CacheInspectConfig) Validate() error {
	return validateConfig(c)
}
