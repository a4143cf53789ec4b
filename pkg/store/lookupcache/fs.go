package lookupcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// ProvidersDir is the subdirectory of the cache root holding one file per
// content identifier.
const ProvidersDir = "providers"

var (
	// RetryDelay is a timeout for a backoff on retrying operations
	// that fail due to transient errors like too many file descriptors open.
	RetryDelay = time.Millisecond * 200
	// RetryAttempts is the maximum number of retries that will be attempted
	// before giving up.
	RetryAttempts = 6
)

// FSStore keeps each entry in its own file named by the key, directly under
// <root>/providers. Keys that are not safe file names are escaped. A
// not-found entry is an empty file.
//
// Writes go to a temporary file in the same directory which is then renamed
// into place, so an interrupted write never leaves an empty file that could
// be mistaken for a not-found entry.
type FSStore struct {
	dir string
	// sync fsyncs files and the directory after each write.
	sync bool
}

var _ Store = (*FSStore)(nil)

type FSOption func(*FSStore)

// WithSync enables fsync after every write.
func WithSync(sync bool) FSOption {
	return func(s *FSStore) {
		s.sync = sync
	}
}

// NewFSStore creates the providers directory under root if needed.
func NewFSStore(root string, opts ...FSOption) (*FSStore, error) {
	dir := filepath.Join(root, ProvidersDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory %s: %w", dir, err)
	}
	s := &FSStore{dir: dir}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the file backing key.
func (s *FSStore) Path(key string) (string, error) {
	name, err := entryName(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name), nil
}

func (s *FSStore) Get(ctx context.Context, key string) (Entry, error) {
	path, err := s.Path(key)
	if err != nil {
		return Entry{}, ErrNotExist
	}
	data, err := readFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Entry{}, ErrNotExist
		}
		return Entry{}, fmt.Errorf("reading cache entry %s: %w", key, err)
	}
	if len(data) == 0 {
		return Entry{Found: false}, nil
	}
	return Entry{Found: true, Data: data}, nil
}

func (s *FSStore) PutFound(ctx context.Context, key string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("when putting %q: %w", key, ErrEmptyValue)
	}
	return s.put(key, data)
}

func (s *FSStore) PutNotFound(ctx context.Context, key string) error {
	return s.put(key, nil)
}

func (s *FSStore) put(key string, data []byte) error {
	path, err := s.Path(key)
	if err != nil {
		return fmt.Errorf("when putting %q: %w", key, err)
	}

	tmp, err := tempFile(s.dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	closed := false
	removed := false
	defer func() {
		if !closed {
			_ = tmp.Close()
		}
		if !removed {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	if s.sync {
		if err := tmp.Sync(); err != nil {
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	closed = true

	if err := rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming cache entry %s: %w", key, err)
	}
	removed = true

	if s.sync {
		if err := syncDir(s.dir); err != nil {
			return err
		}
	}
	log.Debugw("cached lookup result", "key", key, "found", len(data) > 0)
	return nil
}

func isTooManyFDError(err error) bool {
	var perr *os.PathError
	if errors.As(err, &perr) && perr.Err == syscall.EMFILE {
		return true
	}
	return false
}

func readFile(name string) (data []byte, err error) {
	for i := 0; i < RetryAttempts; i++ {
		data, err = os.ReadFile(name)
		if err == nil || !isTooManyFDError(err) {
			break
		}
		time.Sleep(time.Duration(i+1) * RetryDelay)
	}
	return data, err
}

func tempFile(dir, pattern string) (fi *os.File, err error) {
	for i := 0; i < RetryAttempts; i++ {
		fi, err = os.CreateTemp(dir, pattern)
		if err == nil || !isTooManyFDError(err) {
			break
		}
		time.Sleep(time.Duration(i+1) * RetryDelay)
	}
	return fi, err
}

func rename(tmpPath, path string) error {
	var err error
	for i := 0; i < RetryAttempts; i++ {
		err = os.Rename(tmpPath, path)
		// if there's no error, or the source file doesn't exist, abort.
		if err == nil || os.IsNotExist(err) {
			break
		}
		time.Sleep(time.Duration(i+1) * RetryDelay)
	}
	return err
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
