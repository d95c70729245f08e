// Package memory is an in-process layer backed by ttlstore.
package memory

import (
	"context"
	"time"

	"github.com/unkn0wn-root/layercache"
	"github.com/unkn0wn-root/layercache/ttlstore"
)

type Config[K comparable] struct {
	// TTL applied to every backfilled entry. The zero value (and any negative
	// TTL) means entries never expire; unlike ttlstore.SetTTL, a TTL of 0 does
	// not expire entries immediately.
	TTL time.Duration
	// KeyFunc maps a key to the key it is stored under, e.g. to normalize
	// case. nil => keys are stored as-is.
	KeyFunc func(K) K
}

// Layer keeps values in process memory. Safe for concurrent use.
type Layer[K comparable, V any] struct {
	store *ttlstore.Store[K, V]
	ttl   time.Duration
	keyFn func(K) K
}

var _ layercache.Layer[string, int] = (*Layer[string, int])(nil)

func New[K comparable, V any](cfg Config[K]) *Layer[K, V] {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = ttlstore.NoExpiration
	}
	keyFn := cfg.KeyFunc
	if keyFn == nil {
		keyFn = func(k K) K { return k }
	}
	return &Layer[K, V]{store: ttlstore.New[K, V](), ttl: ttl, keyFn: keyFn}
}

func (l *Layer[K, V]) Name() string { return "memory" }

// Store exposes the backing store, e.g. for seeding or explicit deletes.
// It is keyed by storage keys (see Config.KeyFunc).
func (l *Layer[K, V]) Store() *ttlstore.Store[K, V] { return l.store }

func (l *Layer[K, V]) BatchGet(_ context.Context, keys []K) ([]layercache.Result[V], error) {
	out := make([]layercache.Result[V], len(keys))
	for i, k := range keys {
		if v, ok := l.store.Get(l.keyFn(k)); ok {
			out[i] = layercache.Hit(v)
		} else {
			out[i] = layercache.Miss[V]()
		}
	}
	return out, nil
}

func (l *Layer[K, V]) BatchSet(_ context.Context, items map[K]V) error {
	for k, v := range items {
		l.store.SetTTL(l.keyFn(k), v, l.ttl)
	}
	return nil
}
