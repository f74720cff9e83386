// Package kvstore defines the durable key-value storage contract shared by
// the session, lockout and audit components. The original deployment kept
// these records in browser local storage; any synchronous KV backend works.
package kvstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no record exists for the key.
var ErrNotFound = errors.New("kvstore: not found")

// Store is a fallible synchronous key-value store. Implementations must be
// safe for concurrent use; callers own key namespacing.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
