// Package sloghooks implements layercache.Hooks on log/slog, with optional
// sampling for the high-volume events.
package sloghooks

import (
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/layercache"
	"github.com/unkn0wn-root/layercache/internal/util"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	DispatchEvery    uint64
	FallthroughEvery uint64
	// Redact transforms layer names before logging. nil => logged as-is.
	// See RedactHash.
	Redact func(string) string
}

// RedactHash replaces a value with a short SHA-256 prefix.
func RedactHash(s string) string { return util.Redact(s) }

type Hooks struct {
	l    *slog.Logger
	opts Options

	dispatchCtr    atomic.Uint64
	fallthroughCtr atomic.Uint64
}

var _ layercache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) name(layer string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(layer)
	}
	return layer
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) BatchDispatched(layer string, keys int) {
	if h.l == nil || !sample(h.opts.DispatchEvery, &h.dispatchCtr) {
		return
	}
	h.l.Debug("layercache.batch_dispatched",
		"layer", h.name(layer),
		"keys", keys)
}

func (h *Hooks) LayerFailed(layer string, keys int, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("layercache.layer_failed",
		"layer", h.name(layer),
		"keys", keys,
		"err", err)
}

func (h *Hooks) FellThrough(layer string, keys int) {
	if h.l == nil || !sample(h.opts.FallthroughEvery, &h.fallthroughCtr) {
		return
	}
	h.l.Debug("layercache.fell_through",
		"layer", h.name(layer),
		"keys", keys)
}

func (h *Hooks) WriteBackFailed(err *layercache.WriteBackError) {
	if h.l == nil {
		return
	}
	h.l.Warn("layercache.write_back_failed",
		"layer", h.name(err.Layer),
		"keys", err.Keys,
		"err", err.Err)
}

func (h *Hooks) FinalFailed(keys int, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("layercache.final_failed",
		"keys", keys,
		"err", err)
}

func (h *Hooks) FinalMissing(keys int) {
	if h.l == nil {
		return
	}
	h.l.Error("layercache.final_missing",
		"keys", keys,
		"msg", "no final fetcher installed; keys missed every layer")
}
