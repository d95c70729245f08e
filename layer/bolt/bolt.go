// Package bolt is a persistent local layer on go.etcd.io/bbolt.
//
// Each value is stored as expiresAt (8 bytes, big endian, unix millis; 0 =
// never) followed by the codec payload. Expired values read as misses and are
// removed lazily.
package bolt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/unkn0wn-root/layercache"
	"github.com/unkn0wn-root/layercache/codec"
)

const headerLen = 8

var (
	ErrNilCodec = errors.New("bolt layer: nil codec")
	errCorrupt  = errors.New("bolt layer: corrupt entry")
)

type Config[K comparable, V any] struct {
	Path    string
	Bucket  string // "" => "layercache"
	Codec   codec.Codec[V]
	KeyFunc func(K) string // nil => fmt.Sprint
	TTL     time.Duration  // <= 0 => no expiry
}

type Layer[K comparable, V any] struct {
	db     *bolt.DB
	bucket []byte
	codec  codec.Codec[V]
	keyFn  func(K) string
	ttl    time.Duration
	now    func() time.Time
}

var _ layercache.Layer[string, int] = (*Layer[string, int])(nil)

// Open opens (or creates) the database file at cfg.Path.
func Open[K comparable, V any](cfg Config[K, V]) (*Layer[K, V], error) {
	if cfg.Codec == nil {
		return nil, ErrNilCodec
	}
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", cfg.Path, err)
	}
	bucket := []byte("layercache")
	if cfg.Bucket != "" {
		bucket = []byte(cfg.Bucket)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	l := &Layer[K, V]{
		db:     db,
		bucket: bucket,
		codec:  cfg.Codec,
		keyFn:  cfg.KeyFunc,
		ttl:    cfg.TTL,
		now:    time.Now,
	}
	if l.keyFn == nil {
		l.keyFn = func(k K) string { return fmt.Sprint(k) }
	}
	return l, nil
}

func (l *Layer[K, V]) Name() string { return "bolt" }

func (l *Layer[K, V]) BatchGet(_ context.Context, keys []K) ([]layercache.Result[V], error) {
	out := make([]layercache.Result[V], len(keys))
	var stale [][]byte
	now := l.now().UnixMilli()

	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(l.bucket)
		for i, k := range keys {
			sk := []byte(l.keyFn(k))
			raw := b.Get(sk)
			if raw == nil {
				out[i] = layercache.Miss[V]()
				continue
			}
			if len(raw) < headerLen {
				stale = append(stale, sk)
				out[i] = layercache.Fail[V](errCorrupt)
				continue
			}
			exp := int64(binary.BigEndian.Uint64(raw[:headerLen]))
			if exp != 0 && now >= exp {
				stale = append(stale, sk)
				out[i] = layercache.Miss[V]()
				continue
			}
			// raw is only valid inside the transaction; codecs may keep the slice
			payload := append([]byte(nil), raw[headerLen:]...)
			v, err := l.codec.Decode(payload)
			if err != nil {
				stale = append(stale, sk)
				out[i] = layercache.Fail[V](err)
				continue
			}
			out[i] = layercache.Hit(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(stale) > 0 {
		l.purge(stale, now)
	}
	return out, nil
}

// purge removes entries found expired or corrupt, re-checking under the write
// transaction so a value written in between survives.
func (l *Layer[K, V]) purge(keys [][]byte, now int64) {
	_ = l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(l.bucket)
		for _, k := range keys {
			raw := b.Get(k)
			if raw == nil {
				continue
			}
			if len(raw) >= headerLen {
				exp := int64(binary.BigEndian.Uint64(raw[:headerLen]))
				if exp == 0 || now < exp {
					if _, err := l.codec.Decode(append([]byte(nil), raw[headerLen:]...)); err == nil {
						continue
					}
				}
			}
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// BatchSet writes every item in a single transaction.
func (l *Layer[K, V]) BatchSet(_ context.Context, items map[K]V) error {
	var exp int64
	if l.ttl > 0 {
		exp = l.now().Add(l.ttl).UnixMilli()
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(l.bucket)
		for k, v := range items {
			payload, err := l.codec.Encode(v)
			if err != nil {
				return fmt.Errorf("encode %v: %w", k, err)
			}
			buf := make([]byte, headerLen+len(payload))
			binary.BigEndian.PutUint64(buf[:headerLen], uint64(exp))
			copy(buf[headerLen:], payload)
			if err := b.Put([]byte(l.keyFn(k)), buf); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Layer[K, V]) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
