package layercache

import (
	"context"
	"time"
)

// Result is the per-key outcome of a batched read.
// Err == nil is a hit, whatever Value holds (zero values included).
// For a layer, Err != nil marks a miss; for a FetchFunc it fails that key.
type Result[V any] struct {
	Value V
	Err   error
}

// Hit wraps v as a successful result.
func Hit[V any](v V) Result[V] { return Result[V]{Value: v} }

// Miss returns the canonical miss result (ErrMiss).
func Miss[V any]() Result[V] { return Result[V]{Err: ErrMiss} }

// Fail returns a result carrying err.
func Fail[V any](err error) Result[V] { return Result[V]{Err: err} }

// OK reports whether r is a hit.
func (r Result[V]) OK() bool { return r.Err == nil }

// Layer is one cache tier.
//
// BatchGet must return exactly one Result per key, in the order of keys.
// A non-nil error (or a result slice of the wrong length) means the whole
// batch failed; the chain then treats every key as a miss.
//
// BatchSet is called fire-and-forget from its own goroutine. The returned
// error is only reported through Logger and Hooks.
type Layer[K comparable, V any] interface {
	BatchGet(ctx context.Context, keys []K) ([]Result[V], error)
	BatchSet(ctx context.Context, items map[K]V) error
}

// Named is optionally implemented by layers to control their name in logs,
// hooks and metrics. Without it the Go type name is used.
type Named interface {
	Name() string
}

// FetchFunc is the terminal data source consulted when every layer misses.
// It returns one Result per key in the order of keys; a returned error fails
// every key of the batch.
type FetchFunc[K comparable, V any] func(ctx context.Context, keys []K) ([]Result[V], error)

// Options tune a Chain. The zero value is ready to use.
type Options struct {
	Logger Logger // nil => NopLogger
	Hooks  Hooks  // nil => NopHooks

	// Window is how long a batch stays open for more keys after the first
	// Load joins it. 0 => 1ms.
	Window time.Duration
	// MaxBatch dispatches a batch as soon as it holds this many distinct keys.
	// 0 => unbounded.
	MaxBatch int
	// FallthroughLimit bounds concurrent fallthrough loads per dispatched
	// batch. 0 => unbounded.
	FallthroughLimit int
	// WriteBackTimeout bounds each backfill BatchSet. 0 => 5s.
	WriteBackTimeout time.Duration
}
