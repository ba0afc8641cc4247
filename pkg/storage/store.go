// Package storage persists small JSON blobs under fixed keys, such as the
// rewrite statistics. Durability is best effort: callers treat read failures
// as empty state.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no blob is stored under a key.
var ErrNotFound = errors.New("blob not found")

// Store reads and writes blobs by key.
type Store interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, value []byte) error
	Close() error
}
