package lookupcache

import (
	"context"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoStore keeps the most recently used entries of another store in memory.
// Entries never change once written, so the memory copy never goes stale.
type MemoStore struct {
	backend Store
	recent  *lru.Cache[string, Entry]
}

var _ Store = (*MemoStore)(nil)

// NewMemoStore wraps backend with an LRU of the given size.
func NewMemoStore(backend Store, size int) (*MemoStore, error) {
	recent, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, fmt.Errorf("creating lru: %w", err)
	}
	return &MemoStore{backend: backend, recent: recent}, nil
}

func (m *MemoStore) Get(ctx context.Context, key string) (Entry, error) {
	if e, ok := m.recent.Get(key); ok {
		return e, nil
	}
	e, err := m.backend.Get(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	m.recent.Add(key, e)
	return e, nil
}

func (m *MemoStore) PutFound(ctx context.Context, key string, data []byte) error {
	if err := m.backend.PutFound(ctx, key, data); err != nil {
		return err
	}
	m.recent.Add(key, Entry{Found: true, Data: data})
	return nil
}

func (m *MemoStore) PutNotFound(ctx context.Context, key string) error {
	if err := m.backend.PutNotFound(ctx, key); err != nil {
		return err
	}
	m.recent.Add(key, Entry{Found: false})
	return nil
}

// Close closes the backend if it supports closing.
func (m *MemoStore) Close() error {
	if c, ok := m.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
