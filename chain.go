package layercache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

type entry[K comparable, V any] struct {
	name    string
	layer   Layer[K, V]
	batcher *batcher[K, V]
}

// Chain is an ordered list of layers, fastest first, ending in a replaceable
// final fetcher. Layers can only be appended. Safe for concurrent use.
type Chain[K comparable, V any] struct {
	cfg *settings

	mu      sync.RWMutex
	entries []*entry[K, V] // entries[i] falls through to entries[i+1], the last one to final

	final atomic.Pointer[batcher[K, V]] // nil => no final fetcher installed
}

// New returns a chain holding only the built-in empty layer. Every Load on it
// falls through to the final fetcher until layers are added with Use.
func New[K comparable, V any](opts Options) *Chain[K, V] {
	c := &Chain[K, V]{cfg: newSettings(opts)}
	c.Use(emptyLayer[K, V]{})
	return c
}

// Use appends layer behind the current slowest layer and returns the chain.
func (c *Chain[K, V]) Use(layer Layer[K, V]) *Chain[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := len(c.entries)
	name := fmt.Sprintf("%s_%d", layerName(layer), idx)
	e := &entry[K, V]{name: name, layer: layer}
	e.batcher = newLayerBatcher(name, c.cfg, layer, func(ctx context.Context, key K) (V, error) {
		return c.forward(ctx, idx, key)
	})
	c.entries = append(c.entries, e)
	c.cfg.log.Debug("layer added", Fields{"layer": name})
	return c
}

// Final installs fn as the terminal fetcher, replacing any previous one.
// Batches already dispatched to the previous fetcher still complete against it.
// Final(nil) uninstalls the fetcher.
func (c *Chain[K, V]) Final(fn FetchFunc[K, V]) *Chain[K, V] {
	if fn == nil {
		c.final.Store(nil)
		return c
	}
	c.final.Store(newFinalBatcher(c.cfg, fn))
	return c
}

// Load resolves key through the chain. Errors are scoped to key: a
// *ConfigError when nothing resolved it and no final fetcher is set, a
// *FetchError when the final fetcher rejected it.
func (c *Chain[K, V]) Load(ctx context.Context, key K) (V, error) {
	c.mu.RLock()
	head := c.entries[0].batcher
	c.mu.RUnlock()
	return head.load(ctx, key)
}

// LoadMany loads every key concurrently, so they share the same windows, and
// returns one Result per key in the order of keys.
func (c *Chain[K, V]) LoadMany(ctx context.Context, keys []K) []Result[V] {
	out := make([]Result[V], len(keys))
	var wg sync.WaitGroup
	wg.Add(len(keys))
	for i, k := range keys {
		go func(i int, k K) {
			defer wg.Done()
			v, err := c.Load(ctx, k)
			out[i] = Result[V]{Value: v, Err: err}
		}(i, k)
	}
	wg.Wait()
	return out
}

// Layers returns the names of the installed layers, fastest first.
func (c *Chain[K, V]) Layers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.name
	}
	return names
}

// forward sends a miss at entries[idx] to the next layer, or to the
// final fetcher when idx is the last layer.
func (c *Chain[K, V]) forward(ctx context.Context, idx int, key K) (V, error) {
	c.mu.RLock()
	var next *batcher[K, V]
	if idx+1 < len(c.entries) {
		next = c.entries[idx+1].batcher
	}
	c.mu.RUnlock()
	if next != nil {
		return next.load(ctx, key)
	}

	final := c.final.Load()
	if final == nil {
		var zero V
		c.cfg.hooks.FinalMissing(1)
		return zero, &ConfigError{Key: key}
	}
	return final.load(ctx, key)
}

func layerName(l any) string {
	if n, ok := l.(Named); ok && n.Name() != "" {
		return n.Name()
	}
	name := fmt.Sprintf("%T", l)
	// *memory.Layer[string,int] -> Layer
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimPrefix(name, "*")
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return name
}
