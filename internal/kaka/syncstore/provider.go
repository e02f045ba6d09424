// Package syncstore exchanges engine snapshots between nodes through a shared
// key-value store.
//
// Each node publishes its encoded snapshot under <prefix>:node:<id> and
// periodically pulls every other node's snapshot and OR-merges it into its own
// engine. Because merge is commutative, associative and idempotent, nodes
// converge on the union of everything inserted anywhere without coordination.
package syncstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by GetBytes for a missing key.
var ErrNotFound = errors.New("syncstore: key not found")

var (
	_ KVProvider = (*RedisProvider)(nil)
	_ KVProvider = (*MemoryProvider)(nil)
)

// KVProvider is the subset of a key-value store the syncer needs. It lets
// tests run against memory instead of redis.
type KVProvider interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	// Del deletes keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)
	// Scan returns every key matching a glob of the form "prefix*".
	Scan(ctx context.Context, match string) ([]string, error)
	Close() error
}
