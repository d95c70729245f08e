// Package bigcache is an in-process byte layer on allegro/bigcache.
// BigCache has no per-entry TTL: every entry lives for Config.LifeWindow.
package bigcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/layercache"
	"github.com/unkn0wn-root/layercache/codec"
)

var ErrNilCodec = errors.New("bigcache layer: nil codec")

type Config[K comparable, V any] struct {
	Codec   codec.Codec[V]
	KeyFunc func(K) string // nil => fmt.Sprint

	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

type Layer[K comparable, V any] struct {
	c     *bc.BigCache
	codec codec.Codec[V]
	keyFn func(K) string
}

var _ layercache.Layer[string, int] = (*Layer[string, int])(nil)

func New[K comparable, V any](cfg Config[K, V]) (*Layer[K, V], error) {
	if cfg.Codec == nil {
		return nil, ErrNilCodec
	}
	conf := bc.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	l := &Layer[K, V]{c: c, codec: cfg.Codec, keyFn: cfg.KeyFunc}
	if l.keyFn == nil {
		l.keyFn = func(k K) string { return fmt.Sprint(k) }
	}
	return l, nil
}

func (l *Layer[K, V]) Name() string { return "bigcache" }

func (l *Layer[K, V]) BatchGet(_ context.Context, keys []K) ([]layercache.Result[V], error) {
	out := make([]layercache.Result[V], len(keys))
	for i, k := range keys {
		b, err := l.c.Get(l.keyFn(k))
		if errors.Is(err, bc.ErrEntryNotFound) {
			out[i] = layercache.Miss[V]()
			continue
		}
		if err != nil {
			out[i] = layercache.Fail[V](err)
			continue
		}
		v, err := l.codec.Decode(b)
		if err != nil {
			_ = l.c.Delete(l.keyFn(k)) // self-heal
			out[i] = layercache.Fail[V](err)
			continue
		}
		out[i] = layercache.Hit(v)
	}
	return out, nil
}

func (l *Layer[K, V]) BatchSet(_ context.Context, items map[K]V) error {
	var errs error
	for k, v := range items {
		b, err := l.codec.Encode(v)
		if err == nil {
			err = l.c.Set(l.keyFn(k), b)
		}
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("set %v: %w", k, err))
		}
	}
	return errs
}

func (l *Layer[K, V]) Close() error {
	return l.c.Close()
}
