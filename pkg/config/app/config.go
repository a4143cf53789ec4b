package app

import (
	"net/url"
	"time"
)

// AppConfig is the root configuration for the entire application
type AppConfig struct {
	// Input is the path of the NDJSON deals file, optionally zstd compressed.
	Input string
	// Output is the path the NDJSON retrieval tasks are written to.
	Output string
	// Progress renders a progress bar over the input on stderr.
	Progress bool

	Cache    CacheConfig
	Indexer  IndexerConfig
	Pipeline PipelineConfig
	Server   ServerConfig
}

// CacheBackend selects the lookup cache implementation.
type CacheBackend string

const (
	// CacheBackendFS keeps one file per content identifier.
	CacheBackendFS CacheBackend = "fs"
	// CacheBackendLevelDB keeps entries in a leveldb database.
	CacheBackendLevelDB CacheBackend = "leveldb"
)

// CacheConfig contains lookup cache settings
type CacheConfig struct {
	Dir     string
	Backend CacheBackend
	// MemoSize is the number of entries kept in memory in front of the
	// backend. Zero disables it.
	MemoSize int
}

// IndexerConfig contains IPNI client settings
type IndexerConfig struct {
	URL *url.URL
	// Timeout bounds a single request. Zero means no timeout.
	Timeout time.Duration
	// RateLimit is the maximum number of requests per second. Zero means
	// unlimited.
	RateLimit float64
	Burst     int
	Retries   uint
}

// PipelineConfig contains deal scheduling settings
type PipelineConfig struct {
	Concurrency   int
	ProgressEvery uint64
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Enabled bool
	Host    string
	Port    uint
}
