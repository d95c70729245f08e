package layercache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// settings are Options with defaults applied, shared by every batcher of a chain.
type settings struct {
	log              Logger
	hooks            Hooks
	window           time.Duration
	maxBatch         int
	fallthroughLimit int
	writeBackTimeout time.Duration
}

func newSettings(opts Options) *settings {
	return &settings{
		log:              coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:            coalesce[Hooks](opts.Hooks, NopHooks{}),
		window:           coalesce(opts.Window, defaultWindow),
		maxBatch:         opts.MaxBatch,
		fallthroughLimit: opts.FallthroughLimit,
		writeBackTimeout: coalesce(opts.WriteBackTimeout, defaultWriteBackTimeout),
	}
}

// batch is one window's worth of keys. It is owned by the batcher until
// claimed, after which only the dispatching goroutine touches it.
type batch[K comparable, V any] struct {
	ctx     context.Context
	keys    []K
	slots   map[K]int
	timer   *time.Timer
	claimed bool

	results []Result[V]
	done    chan struct{}
}

func (bt *batch[K, V]) settle(results []Result[V]) {
	bt.results = results
	close(bt.done)
}

// batcher merges the keys requested within one window into a single read.
//
// A batch is detached from the batcher before it is read, so a load arriving
// while a batch is in flight opens a new batch even for the same key. The
// batcher coalesces; it never caches.
type batcher[K comparable, V any] struct {
	name     string
	cfg      *settings
	terminal bool // final fetcher: misses fail instead of falling through

	get  func(context.Context, []K) ([]Result[V], error)
	set  func(context.Context, map[K]V) error
	miss func(context.Context, K) (V, error)

	mu      sync.Mutex
	pending *batch[K, V]
}

func newLayerBatcher[K comparable, V any](name string, cfg *settings, l Layer[K, V], miss func(context.Context, K) (V, error)) *batcher[K, V] {
	return &batcher[K, V]{
		name: name,
		cfg:  cfg,
		get:  l.BatchGet,
		set:  l.BatchSet,
		miss: miss,
	}
}

func newFinalBatcher[K comparable, V any](cfg *settings, fn FetchFunc[K, V]) *batcher[K, V] {
	return &batcher[K, V]{
		name:     "final",
		cfg:      cfg,
		terminal: true,
		get:      fn,
	}
}

// load waits until key's batch settles. There is no cancellation: ctx only
// carries values and deadlines into the layer call.
func (b *batcher[K, V]) load(ctx context.Context, key K) (V, error) {
	bt, slot, full := b.enqueue(ctx, key)
	if full {
		go b.run(bt)
	}
	<-bt.done
	r := bt.results[slot]
	return r.Value, r.Err
}

func (b *batcher[K, V]) enqueue(ctx context.Context, key K) (*batch[K, V], int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bt := b.pending
	if bt == nil {
		// the first caller's values travel with the batch, its cancellation does not
		bt = &batch[K, V]{
			ctx:   context.WithoutCancel(ctx),
			slots: make(map[K]int),
			done:  make(chan struct{}),
		}
		b.pending = bt
		bt.timer = time.AfterFunc(b.cfg.window, func() { b.dispatch(bt) })
	}

	slot, ok := bt.slots[key]
	if !ok {
		slot = len(bt.keys)
		bt.keys = append(bt.keys, key)
		bt.slots[key] = slot
	}

	if b.cfg.maxBatch > 0 && len(bt.keys) >= b.cfg.maxBatch {
		b.claimLocked(bt)
		return bt, slot, true
	}
	return bt, slot, false
}

// dispatch is the window timer's entry point.
func (b *batcher[K, V]) dispatch(bt *batch[K, V]) {
	b.mu.Lock()
	if bt.claimed {
		b.mu.Unlock()
		return
	}
	b.claimLocked(bt)
	b.mu.Unlock()
	b.run(bt)
}

// claimLocked detaches bt so that later loads start a new batch.
// Must hold b.mu.
func (b *batcher[K, V]) claimLocked(bt *batch[K, V]) {
	bt.claimed = true
	bt.timer.Stop()
	if b.pending == bt {
		b.pending = nil
	}
}

func (b *batcher[K, V]) run(bt *batch[K, V]) {
	ctx, keys := bt.ctx, bt.keys
	b.cfg.hooks.BatchDispatched(b.name, len(keys))
	b.cfg.log.Debug("batch dispatched", Fields{"layer": b.name, "keys": len(keys)})

	res, err := b.safeGet(ctx, keys)
	if err == nil && len(res) != len(keys) {
		err = errBadLength{want: len(keys), got: len(res)}
	}

	if b.terminal {
		bt.settle(b.finalResults(keys, res, err))
		return
	}

	if err != nil {
		b.cfg.log.Warn("layer batch failed; treating keys as misses", Fields{"layer": b.name, "keys": len(keys), "err": err})
		b.cfg.hooks.LayerFailed(b.name, len(keys), err)
		res = make([]Result[V], len(keys))
		for i := range res {
			res[i] = Miss[V]()
		}
	}

	out := make([]Result[V], len(keys))
	var (
		g         errgroup.Group
		mu        sync.Mutex
		recovered map[K]V
		missed    int
	)
	if b.cfg.fallthroughLimit > 0 {
		g.SetLimit(b.cfg.fallthroughLimit)
	}
	for i, r := range res {
		if r.Err == nil {
			out[i] = r
			continue
		}
		missed++
		i, key := i, keys[i]
		g.Go(func() error {
			v, err := b.miss(ctx, key)
			if err != nil {
				out[i] = Fail[V](err)
				return nil
			}
			out[i] = Hit(v)
			mu.Lock()
			if recovered == nil {
				recovered = make(map[K]V)
			}
			recovered[key] = v
			mu.Unlock()
			return nil
		})
	}
	if missed > 0 {
		b.cfg.hooks.FellThrough(b.name, missed)
	}
	_ = g.Wait() // per-key errors live in out

	if len(recovered) > 0 {
		go b.writeBack(ctx, recovered)
	}
	bt.settle(out)
}

// safeGet turns a panicking layer or fetcher into a wholesale failure, so
// every waiter on the batch still settles.
func (b *batcher[K, V]) safeGet(ctx context.Context, keys []K) (res []Result[V], err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return b.get(ctx, keys)
}

func (b *batcher[K, V]) finalResults(keys []K, res []Result[V], err error) []Result[V] {
	out := make([]Result[V], len(keys))
	if err != nil {
		b.cfg.log.Warn("final fetcher failed batch", Fields{"keys": len(keys), "err": err})
		b.cfg.hooks.FinalFailed(len(keys), err)
		for i, k := range keys {
			out[i] = Fail[V](&FetchError{Key: k, Err: err})
		}
		return out
	}
	for i, r := range res {
		if r.Err != nil {
			out[i] = Fail[V](&FetchError{Key: keys[i], Err: r.Err})
			continue
		}
		out[i] = r
	}
	return out
}

// writeBack backfills this layer with values recovered downstream.
// Failures stop here.
func (b *batcher[K, V]) writeBack(ctx context.Context, items map[K]V) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.writeBackTimeout)
	defer cancel()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = b.set(ctx, items)
	}()
	if err != nil {
		werr := &WriteBackError{Layer: b.name, Keys: len(items), Err: err}
		b.cfg.log.Warn("backfill failed", Fields{"layer": b.name, "keys": len(items), "err": err})
		b.cfg.hooks.WriteBackFailed(werr)
		return
	}
	b.cfg.log.Debug("backfilled layer", Fields{"layer": b.name, "keys": len(items)})
}
