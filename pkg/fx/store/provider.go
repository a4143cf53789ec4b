package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/fx"

	"github.com/storacha/deal-ingester/pkg/config/app"
	"github.com/storacha/deal-ingester/pkg/store/lookupcache"
)

var log = logging.Logger("fx/store")

// LevelDBDir is the directory below the cache root holding the leveldb
// backend.
const LevelDBDir = "leveldb"

var Module = fx.Module("lookup-cache-store",
	fx.Provide(
		NewLookupCache,
	),
)

// NewLookupCache opens the configured lookup cache and closes it when the
// application stops.
func NewLookupCache(cfg app.CacheConfig, lc fx.Lifecycle) (lookupcache.Store, error) {
	s, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	if c, ok := s.(io.Closer); ok {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return c.Close()
			},
		})
	}
	return s, nil
}

// Open opens the lookup cache described by cfg. Callers close the returned
// store if it implements io.Closer.
func Open(cfg app.CacheConfig) (lookupcache.Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("no cache dir provided for lookup cache")
	}

	var (
		s   lookupcache.Store
		err error
	)
	switch cfg.Backend {
	case app.CacheBackendFS, "":
		s, err = lookupcache.NewFSStore(cfg.Dir)
	case app.CacheBackendLevelDB:
		var dir string
		dir, err = mkdirp(cfg.Dir, LevelDBDir)
		if err != nil {
			return nil, err
		}
		s, err = lookupcache.NewLevelDBStore(dir)
	default:
		return nil, fmt.Errorf("unknown cache backend: %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("creating lookup cache: %w", err)
	}
	log.Debugw("opened lookup cache", "dir", cfg.Dir, "backend", cfg.Backend)

	if cfg.MemoSize > 0 {
		return lookupcache.NewMemoStore(s, cfg.MemoSize)
	}
	return s, nil
}

func mkdirp(dirpath ...string) (string, error) {
	dir := filepath.Join(dirpath...)
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return "", fmt.Errorf("creating directory: %s: %w", dir, err)
	}
	return dir, nil
}
