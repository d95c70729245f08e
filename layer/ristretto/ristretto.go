// Package ristretto is an in-process layer on dgraph-io/ristretto.
// Values are stored as-is; ristretto may refuse or evict them under pressure,
// which the chain simply sees as misses.
package ristretto

import (
	"context"
	"errors"
	"fmt"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/layercache"
)

type Config[K comparable, V any] struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool

	TTL     time.Duration  // <= 0 => no expiry
	KeyFunc func(K) string // nil => fmt.Sprint
	Cost    func(V) int64  // nil => 1 per entry
}

type Layer[K comparable, V any] struct {
	c     *rc.Cache
	ttl   time.Duration
	keyFn func(K) string
	cost  func(V) int64
}

var _ layercache.Layer[string, int] = (*Layer[string, int])(nil)

func New[K comparable, V any](cfg Config[K, V]) (*Layer[K, V], error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto layer: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	l := &Layer[K, V]{c: c, ttl: cfg.TTL, keyFn: cfg.KeyFunc, cost: cfg.Cost}
	if l.ttl < 0 {
		l.ttl = 0
	}
	if l.keyFn == nil {
		l.keyFn = func(k K) string { return fmt.Sprint(k) }
	}
	if l.cost == nil {
		l.cost = func(V) int64 { return 1 }
	}
	return l, nil
}

func (l *Layer[K, V]) Name() string { return "ristretto" }

func (l *Layer[K, V]) BatchGet(_ context.Context, keys []K) ([]layercache.Result[V], error) {
	out := make([]layercache.Result[V], len(keys))
	for i, k := range keys {
		raw, ok := l.c.Get(l.keyFn(k))
		if !ok {
			out[i] = layercache.Miss[V]()
			continue
		}
		v, ok := raw.(V)
		if !ok {
			// foreign entry shape; drop it
			l.c.Del(l.keyFn(k))
			out[i] = layercache.Miss[V]()
			continue
		}
		out[i] = layercache.Hit(v)
	}
	return out, nil
}

// BatchSet waits for ristretto's write buffer so that backfilled values are
// visible to the next read. Rejected admissions are not errors.
func (l *Layer[K, V]) BatchSet(_ context.Context, items map[K]V) error {
	for k, v := range items {
		l.c.SetWithTTL(l.keyFn(k), v, l.cost(v), l.ttl)
	}
	l.c.Wait()
	return nil
}

func (l *Layer[K, V]) Close() {
	l.c.Close()
}

// Metrics exposes ristretto's counters when Config.Metrics is set.
func (l *Layer[K, V]) Metrics() *rc.Metrics { return l.c.Metrics }
