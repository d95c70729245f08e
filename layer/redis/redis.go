// Package redis is a remote layer on Redis: MGET for reads, MSET or
// pipelined SET PX for backfills.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/layercache"
	"github.com/unkn0wn-root/layercache/codec"
)

const (
	defaultPrefix  = "cacheloader"
	defaultTimeout = 600 * time.Millisecond
)

var (
	ErrNilClient = errors.New("redis layer: nil client")
	ErrNilCodec  = errors.New("redis layer: nil codec")
)

type Config[K comparable, V any] struct {
	Client goredis.UniversalClient
	Codec  codec.Codec[V]

	KeyPrefix   string         // "" => "cacheloader"; stored as <prefix>.<key>
	KeyFunc     func(K) string // nil => fmt.Sprint
	TTL         time.Duration  // <= 0 => no expiry (MSET)
	Timeout     time.Duration  // per command; 0 => 600ms
	CloseClient bool           // set true only if this layer exclusively owns the client
}

type Layer[K comparable, V any] struct {
	rdb         goredis.UniversalClient
	codec       codec.Codec[V]
	prefix      string
	keyFn       func(K) string
	ttl         time.Duration
	timeout     time.Duration
	closeClient bool
}

var _ layercache.Layer[string, int] = (*Layer[string, int])(nil)

func New[K comparable, V any](cfg Config[K, V]) (*Layer[K, V], error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if cfg.Codec == nil {
		return nil, ErrNilCodec
	}
	l := &Layer[K, V]{
		rdb:         cfg.Client,
		codec:       cfg.Codec,
		prefix:      cfg.KeyPrefix,
		keyFn:       cfg.KeyFunc,
		ttl:         cfg.TTL,
		timeout:     cfg.Timeout,
		closeClient: cfg.CloseClient,
	}
	if l.prefix == "" {
		l.prefix = defaultPrefix
	}
	if l.keyFn == nil {
		l.keyFn = func(k K) string { return fmt.Sprint(k) }
	}
	if l.timeout <= 0 {
		l.timeout = defaultTimeout
	}
	if l.ttl < 0 {
		l.ttl = 0
	}
	return l, nil
}

func (l *Layer[K, V]) Name() string { return "redis" }

// StorageKey returns the Redis key used for k.
func (l *Layer[K, V]) StorageKey(k K) string {
	return l.prefix + "." + l.keyFn(k)
}

// BatchGet issues one MGET. Absent keys and values the codec rejects are misses.
func (l *Layer[K, V]) BatchGet(ctx context.Context, keys []K) ([]layercache.Result[V], error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	skeys := make([]string, len(keys))
	for i, k := range keys {
		skeys[i] = l.StorageKey(k)
	}
	vals, err := l.rdb.MGet(ctx, skeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	out := make([]layercache.Result[V], len(keys))
	for i, raw := range vals {
		out[i] = l.decode(raw)
	}
	return out, nil
}

func (l *Layer[K, V]) decode(raw any) layercache.Result[V] {
	var b []byte
	switch v := raw.(type) {
	case nil:
		return layercache.Miss[V]()
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return layercache.Fail[V](fmt.Errorf("redis: unexpected reply type %T", raw))
	}
	v, err := l.codec.Decode(b)
	if err != nil {
		return layercache.Fail[V](err)
	}
	return layercache.Hit(v)
}

// BatchSet writes all items in one round trip: MSET without TTL, otherwise a
// pipeline of SET PX.
func (l *Layer[K, V]) BatchSet(ctx context.Context, items map[K]V) error {
	if len(items) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	pairs := make(map[string]any, len(items))
	var encErr error
	for k, v := range items {
		b, err := l.codec.Encode(v)
		if err != nil {
			// skip the value, keep the rest of the batch
			encErr = errors.Join(encErr, fmt.Errorf("encode %v: %w", k, err))
			continue
		}
		pairs[l.StorageKey(k)] = b
	}
	if len(pairs) == 0 {
		return encErr
	}

	if l.ttl == 0 {
		if err := l.rdb.MSet(ctx, pairs).Err(); err != nil {
			return errors.Join(encErr, fmt.Errorf("redis mset: %w", err))
		}
		return encErr
	}

	_, err := l.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for k, b := range pairs {
			p.Set(ctx, k, b, l.ttl)
		}
		return nil
	})
	if err != nil {
		return errors.Join(encErr, fmt.Errorf("redis pipelined set: %w", err))
	}
	return encErr
}

// Close releases the client only when this layer owns it.
// Safe to call multiple times.
func (l *Layer[K, V]) Close() error {
	if l.closeClient {
		if err := l.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
