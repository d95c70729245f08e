// Package gocache is an in-process layer on patrickmn/go-cache. go-cache
// checks expiry on every read, so an expired entry is never returned even
// before the janitor sweeps it.
package gocache

import (
	"context"
	"fmt"
	"time"

	gc "github.com/patrickmn/go-cache"

	"github.com/unkn0wn-root/layercache"
)

type Config[K comparable] struct {
	TTL             time.Duration  // <= 0 => no expiry
	CleanupInterval time.Duration  // janitor period; 0 => 10m
	KeyFunc         func(K) string // nil => fmt.Sprint
}

type Layer[K comparable, V any] struct {
	c     *gc.Cache
	ttl   time.Duration
	keyFn func(K) string
}

var _ layercache.Layer[string, int] = (*Layer[string, int])(nil)

func New[K comparable, V any](cfg Config[K]) *Layer[K, V] {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = gc.NoExpiration
	}
	cleanup := cfg.CleanupInterval
	if cleanup <= 0 {
		cleanup = 10 * time.Minute
	}
	l := &Layer[K, V]{c: gc.New(ttl, cleanup), ttl: ttl, keyFn: cfg.KeyFunc}
	if l.keyFn == nil {
		l.keyFn = func(k K) string { return fmt.Sprint(k) }
	}
	return l
}

func (l *Layer[K, V]) Name() string { return "gocache" }

func (l *Layer[K, V]) BatchGet(_ context.Context, keys []K) ([]layercache.Result[V], error) {
	out := make([]layercache.Result[V], len(keys))
	for i, k := range keys {
		raw, found := l.c.Get(l.keyFn(k))
		v, ok := raw.(V)
		if !found || !ok {
			out[i] = layercache.Miss[V]()
			continue
		}
		out[i] = layercache.Hit(v)
	}
	return out, nil
}

func (l *Layer[K, V]) BatchSet(_ context.Context, items map[K]V) error {
	for k, v := range items {
		l.c.Set(l.keyFn(k), v, l.ttl)
	}
	return nil
}

// ItemCount includes expired entries not yet swept.
func (l *Layer[K, V]) ItemCount() int { return l.c.ItemCount() }

// Flush drops every entry.
func (l *Layer[K, V]) Flush() { l.c.Flush() }
