// Package correlation binds provider task ids to users and steps in an
// expiring key-value cache.
package correlation

import (
	"context"
	"time"
)

// Cache is an expiring key-value store. Get returns sentinel.ErrNotFound for
// absent or expired keys. Concurrent writes to one key are last-write-wins.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// Entry is one write in a SetMany batch.
type Entry struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// BatchCache is implemented by caches that can write several keys in one
// round trip.
type BatchCache interface {
	SetMany(ctx context.Context, entries []Entry) error
}
