// Package ttlstore is an in-process map with per-key expiry.
//
// Expiry is enforced twice: a timer removes the entry at its deadline, and
// every read checks the deadline itself, so an entry is never returned at or
// after its deadline even if the timer has not run yet.
package ttlstore

import (
	"sync"
	"time"
)

// NoExpiration keeps an entry until it is deleted. Any negative TTL means the same.
const NoExpiration time.Duration = -1

type item[V any] struct {
	value    V
	deadline time.Time   // zero => no expiry
	timer    *time.Timer // nil iff deadline is zero
}

func (it *item[V]) expired(now time.Time) bool {
	return !it.deadline.IsZero() && !now.Before(it.deadline)
}

// Store maps K to V with optional per-key TTLs. Safe for concurrent use.
// A key with a finite TTL owns exactly one pending timer; setting the key
// again stops that timer and arms a new one.
type Store[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]*item[V]
	now   func() time.Time
}

func New[K comparable, V any]() *Store[K, V] {
	return &Store[K, V]{
		items: make(map[K]*item[V]),
		now:   time.Now,
	}
}

// Set stores value without expiry.
func (s *Store[K, V]) Set(key K, value V) {
	s.SetTTL(key, value, NoExpiration)
}

// SetTTL stores value and schedules its removal after ttl (ttl 0 expires it
// immediately). A negative ttl means NoExpiration.
func (s *Store[K, V]) SetTTL(key K, value V, ttl time.Duration) {
	it := &item[V]{value: value}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.items[key]; ok {
		old.stop()
	}
	if ttl >= 0 {
		it.deadline = s.now().Add(ttl)
		it.timer = time.AfterFunc(ttl, func() { s.expire(key, it) })
	}
	s.items[key] = it
}

// Get returns the value for key unless it is missing or past its deadline.
func (s *Store[K, V]) Get(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if it.expired(s.now()) {
		it.stop()
		delete(s.items, key)
		var zero V
		return zero, false
	}
	return it.value, true
}

// Delete removes key and cancels its timer. It reports whether a live entry was removed.
func (s *Store[K, V]) Delete(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[key]
	if !ok {
		return false
	}
	it.stop()
	delete(s.items, key)
	return !it.expired(s.now())
}

// Clear removes every entry after cancelling all timers.
func (s *Store[K, V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range s.items {
		it.stop()
	}
	s.items = make(map[K]*item[V])
}

// Len counts live entries.
func (s *Store[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, it := range s.items {
		if !it.expired(now) {
			n++
		}
	}
	return n
}

// expire runs from the item's timer. The identity check keeps a late timer from
// removing a newer value stored under the same key.
func (s *Store[K, V]) expire(key K, it *item[V]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.items[key]; ok && cur == it {
		delete(s.items, key)
	}
}

func (it *item[V]) stop() {
	if it.timer != nil {
		it.timer.Stop()
	}
}
