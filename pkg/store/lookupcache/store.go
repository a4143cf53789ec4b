// Package lookupcache persists the outcome of provider lookups so that a
// content identifier is only ever queried once against the index service.
//
// An entry is either the serialized provider results for an identifier or
// an empty sentinel recording that the indexer had nothing for it. Both are
// permanent: entries are never updated or expired.
package lookupcache

import (
	"context"
	"errors"

	logging "github.com/ipfs/go-log/v2"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
)

var log = logging.Logger("lookupcache")

var (
	// ErrNotExist is returned by Get when nothing has been cached for a key.
	ErrNotExist = errors.New("cache entry does not exist")
	// ErrInvalidKey is returned for the empty key.
	ErrInvalidKey = errors.New("key not supported by lookup cache")
	// ErrEmptyValue is returned by PutFound for a zero length value, which
	// would be indistinguishable from the not-found sentinel.
	ErrEmptyValue = errors.New("empty value for found entry")
)

// Entry is a cached lookup outcome.
type Entry struct {
	// Found is false when the indexer returned no providers.
	Found bool
	// Data is the serialized provider results. Empty when Found is false.
	Data []byte
}

// Store is a key to blob store for lookup results.
type Store interface {
	// Get returns the cached entry for key or ErrNotExist.
	Get(ctx context.Context, key string) (Entry, error)
	// PutFound records the serialized provider results for key.
	PutFound(ctx context.Context, key string, data []byte) error
	// PutNotFound records that the indexer has no providers for key.
	PutNotFound(ctx context.Context, key string) error
}

// maxNameLen is the longest file name most filesystems accept.
const maxNameLen = 255

// escapePrefix starts every escaped entry name. It is never the first
// character of a key stored verbatim, so escaped and verbatim names cannot
// collide.
const escapePrefix = "="

// entryName maps key to the name it is stored under. Keys made only of
// characters that are safe in a file name are used as is, which covers CIDs
// in any multibase alphabet. Anything else is stored as the base32 multibase
// encoding of the key, or of its sha2-256 multihash (base36) when that would
// be too long for a file name.
func entryName(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	if keyIsSafe(key) {
		return key, nil
	}
	enc, err := multibase.Encode(multibase.Base32, []byte(key))
	if err != nil {
		return "", err
	}
	if len(escapePrefix)+len(enc) <= maxNameLen {
		return escapePrefix + enc, nil
	}
	mh, err := multihash.Sum([]byte(key), multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	enc, err = multibase.Encode(multibase.Base36, mh)
	if err != nil {
		return "", err
	}
	return escapePrefix + enc, nil
}

// keyIsSafe reports whether key can be used as a file name without
// escaping the cache directory or clashing with an escaped name.
func keyIsSafe(key string) bool {
	if len(key) > maxNameLen || key[0] == escapePrefix[0] {
		return false
	}
	for _, b := range key {
		if '0' <= b && b <= '9' {
			continue
		}
		if 'a' <= b && b <= 'z' {
			continue
		}
		if 'A' <= b && b <= 'Z' {
			continue
		}
		switch b {
		case '+', '-', '_', '=':
			continue
		}
		return false
	}
	return true
}
