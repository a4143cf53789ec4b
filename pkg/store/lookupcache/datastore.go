package lookupcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ipfs/go-datastore"
	leveldb "github.com/ipfs/go-ds-leveldb"
)

// DsStore keeps entries in an IPFS datastore under /providers/<key>. A
// not-found entry is stored as an empty value.
type DsStore struct {
	data datastore.Datastore
}

var _ Store = (*DsStore)(nil)

// NewDsStore creates a [Store] backed by an IPFS datastore.
func NewDsStore(ds datastore.Datastore) *DsStore {
	return &DsStore{data: ds}
}

// NewLevelDBStore opens (or creates) a leveldb datastore at path.
func NewLevelDBStore(path string) (*DsStore, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("creating directory: %s: %w", path, err)
	}
	ds, err := leveldb.NewDatastore(path, nil)
	if err != nil {
		return nil, fmt.Errorf("opening leveldb at %s: %w", path, err)
	}
	return NewDsStore(ds), nil
}

func dsKey(key string) (datastore.Key, error) {
	name, err := entryName(key)
	if err != nil {
		return datastore.Key{}, err
	}
	return datastore.NewKey(ProvidersDir).ChildString(name), nil
}

func (d *DsStore) Get(ctx context.Context, key string) (Entry, error) {
	k, err := dsKey(key)
	if err != nil {
		return Entry{}, ErrNotExist
	}
	value, err := d.data.Get(ctx, k)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return Entry{}, ErrNotExist
		}
		return Entry{}, fmt.Errorf("getting from datastore: %w", err)
	}
	if len(value) == 0 {
		return Entry{Found: false}, nil
	}
	return Entry{Found: true, Data: value}, nil
}

func (d *DsStore) PutFound(ctx context.Context, key string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("when putting %q: %w", key, ErrEmptyValue)
	}
	return d.put(ctx, key, data)
}

func (d *DsStore) PutNotFound(ctx context.Context, key string) error {
	return d.put(ctx, key, []byte{})
}

func (d *DsStore) put(ctx context.Context, key string, data []byte) error {
	k, err := dsKey(key)
	if err != nil {
		return fmt.Errorf("when putting %q: %w", key, err)
	}
	if err := d.data.Put(ctx, k, data); err != nil {
		return fmt.Errorf("writing to datastore: %w", err)
	}
	return nil
}

// Close closes the underlying datastore if it supports closing.
func (d *DsStore) Close() error {
	if c, ok := d.data.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
