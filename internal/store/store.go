// Package store holds uploaded objects in memory behind a fixed capacity.
//
// Entries are ordered by recency of use: both Insert and Get count as a use.
// When an insert would push the store past its capacity the least recently
// used entry is dropped. An optional maximum age is enforced lazily, on the
// Get that finds the stale entry or on an explicit PurgeExpired sweep.
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// ErrInvalidCapacity is returned by New when max is not a positive integer.
var ErrInvalidCapacity = errors.New("store: capacity must be a positive integer")

// Reason tells an eviction hook why an entry left the store.
type Reason string

const (
	ReasonCapacity Reason = "capacity"
	ReasonExpired  Reason = "expired"
)

// Object is one stored upload. Data must not be modified once inserted.
type Object struct {
	Key         string
	Data        []byte
	ContentType string
	InsertedAt  time.Time
}

// Size returns the payload length in bytes.
func (o *Object) Size() int64 {
	return int64(len(o.Data))
}

// EvictHook is called after an entry has been removed by the store itself.
type EvictHook func(obj *Object, reason Reason)

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithEvictHook registers a callback for capacity and age evictions.
func WithEvictHook(h EvictHook) Option {
	return func(s *Store) { s.onEvict = h }
}

// Store is a bounded, recency-ordered object cache. It is safe for
// concurrent use.
type Store struct {
	mu      sync.Mutex
	lru     *simplelru.LRU[string, *Object]
	max     int
	maxAge  time.Duration
	bytes   int64
	now     func() time.Time
	onEvict EvictHook
}

type eviction struct {
	obj    *Object
	reason Reason
}

// New creates a store holding at most max objects. A zero maxAge disables
// age based eviction.
func New(max int, maxAge time.Duration, opts ...Option) (*Store, error) {
	if max < 1 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidCapacity, max)
	}
	if maxAge < 0 {
		return nil, fmt.Errorf("store: max age must not be negative (got %s)", maxAge)
	}

	l, err := simplelru.NewLRU[string, *Object](max, nil)
	if err != nil {
		return nil, fmt.Errorf("store: create lru: %w", err)
	}

	s := &Store{
		lru:    l,
		max:    max,
		maxAge: maxAge,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Insert adds obj under obj.Key, replacing any previous entry with the same
// key. If the store is full the least recently used entry is evicted first.
func (s *Store) Insert(obj *Object) {
	var evicted []eviction

	s.mu.Lock()
	obj.InsertedAt = s.now()

	if prev, ok := s.lru.Peek(obj.Key); ok {
		// Key collision: overwrite in place.
		s.bytes -= prev.Size()
	} else if s.lru.Len() >= s.max {
		if _, old, ok := s.lru.RemoveOldest(); ok {
			s.bytes -= old.Size()
			evicted = append(evicted, eviction{obj: old, reason: ReasonCapacity})
		}
	}

	s.lru.Add(obj.Key, obj)
	s.bytes += obj.Size()
	s.mu.Unlock()

	s.notify(evicted)
}

// Get returns the object stored under key and marks it as recently used.
// An entry older than the configured max age is removed and reported absent.
func (s *Store) Get(key string) (*Object, bool) {
	s.mu.Lock()
	obj, ok := s.lru.Peek(key)
	if !ok {
		s.mu.Unlock()
		return nil, false
	}

	if s.expired(obj, s.now()) {
		s.lru.Remove(key)
		s.bytes -= obj.Size()
		s.mu.Unlock()
		s.notify([]eviction{{obj: obj, reason: ReasonExpired}})
		return nil, false
	}

	s.lru.Get(key)
	s.mu.Unlock()
	return obj, true
}

// PurgeExpired removes every entry older than the max age and returns how
// many were removed. It is a no-op when no max age is configured.
func (s *Store) PurgeExpired() int {
	if s.maxAge == 0 {
		return 0
	}

	var evicted []eviction

	s.mu.Lock()
	now := s.now()
	for _, key := range s.lru.Keys() {
		obj, ok := s.lru.Peek(key)
		if !ok || !s.expired(obj, now) {
			continue
		}
		s.lru.Remove(key)
		s.bytes -= obj.Size()
		evicted = append(evicted, eviction{obj: obj, reason: ReasonExpired})
	}
	s.mu.Unlock()

	s.notify(evicted)
	return len(evicted)
}

// Len returns the number of entries currently held, including entries that
// have aged out but not yet been checked.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Cap returns the configured capacity.
func (s *Store) Cap() int {
	return s.max
}

// MaxAge returns the configured max age, zero when disabled.
func (s *Store) MaxAge() time.Duration {
	return s.maxAge
}

// Bytes returns the total payload size of all held entries.
func (s *Store) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

func (s *Store) expired(obj *Object, now time.Time) bool {
	return s.maxAge > 0 && now.Sub(obj.InsertedAt) > s.maxAge
}

func (s *Store) notify(evicted []eviction) {
	if s.onEvict == nil {
		return
	}
	for _, e := range evicted {
		s.onEvict(e.obj, e.reason)
	}
}
