// Package asynchook moves Hooks calls off the dispatch path: events are queued
// and run by a small worker pool. When the queue is full, events are dropped.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{DispatchEvery: 100})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	chain := layercache.New[string, User](layercache.Options{Hooks: hooks})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/layercache"
)

type Hooks struct {
	inner   layercache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Uint64
}

var _ layercache.Hooks = (*Hooks)(nil)

func New(inner layercache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events sent afterwards are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.closed.Store(true)
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped counts events lost to a full queue or a closed pool.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	if h.closed.Load() {
		h.dropped.Add(1)
		return
	}
	defer func() {
		// lost the race with Close
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) BatchDispatched(l string, n int) { h.try(func() { h.inner.BatchDispatched(l, n) }) }
func (h *Hooks) FellThrough(l string, n int)     { h.try(func() { h.inner.FellThrough(l, n) }) }
func (h *Hooks) FinalMissing(n int)              { h.try(func() { h.inner.FinalMissing(n) }) }
func (h *Hooks) LayerFailed(l string, n int, err error) {
	h.try(func() { h.inner.LayerFailed(l, n, err) })
}
func (h *Hooks) WriteBackFailed(err *layercache.WriteBackError) {
	h.try(func() { h.inner.WriteBackFailed(err) })
}
func (h *Hooks) FinalFailed(n int, err error) {
	h.try(func() { h.inner.FinalFailed(n, err) })
}
