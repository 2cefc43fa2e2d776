// Package store provides the key-value persistence collaborator used for
// sentience state and conversation history. The backing technology is
// deliberately opaque to callers: a SQLite file here, but the KV
// interface is all the rest of the system sees.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = errors.New("store: key not found")

// ErrVersionConflict is returned by Put when the caller's version no
// longer matches the stored row. Callers doing read-modify-write must
// re-read and retry.
var ErrVersionConflict = errors.New("store: version conflict")

// KV is the narrow persistence interface. Get returns the value and its
// current version. Put with version -1 writes unconditionally; any other
// version must match the stored one (optimistic locking for the
// single-writer-per-account guarantee).
type KV interface {
	Get(ctx context.Context, key string) ([]byte, int64, error)
	Put(ctx context.Context, key string, value []byte, version int64) error
	Close() error
}
