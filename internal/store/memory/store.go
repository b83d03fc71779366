// Package memory provides an in-process Store for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/JakeFAU/crawl-pipeline/internal/clock/system"
	"github.com/JakeFAU/crawl-pipeline/internal/store"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type counter struct {
	value   int64
	expires time.Time
}

// Store keeps lists, hashes, and window counters behind a single mutex.
// Lists, hashes, and counters live in separate namespaces.
type Store struct {
	mu       sync.Mutex
	lists    map[string][]string
	hashes   map[string]map[string]string
	counters map[string]*counter
	clock    Clock
	closed   bool
}

var _ store.Store = (*Store)(nil)

// New creates an empty store. A nil clock falls back to wall time.
func New(clock Clock) *Store {
	if clock == nil {
		clock = system.Clock{}
	}
	return &Store{
		lists:    make(map[string][]string),
		hashes:   make(map[string]map[string]string),
		counters: make(map[string]*counter),
		clock:    clock,
	}
}

// LPush prepends values so the last one becomes the head.
func (s *Store) LPush(_ context.Context, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	s.lpush(key, values)
	return nil
}

func (s *Store) lpush(key string, values []string) {
	list := s.lists[key]
	head := make([]string, 0, len(values)+len(list))
	for i := len(values) - 1; i >= 0; i-- {
		head = append(head, values[i])
	}
	s.lists[key] = append(head, list...)
}

// LPushCapped prepends value while the list is below capacity.
func (s *Store) LPushCapped(_ context.Context, key string, capacity int64, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, store.ErrClosed
	}
	if int64(len(s.lists[key])) >= capacity {
		return false, nil
	}
	s.lpush(key, []string{value})
	return true, nil
}

// RPop removes the tail of the list.
func (s *Store) RPop(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, store.ErrClosed
	}
	list := s.lists[key]
	if len(list) == 0 {
		return "", false, nil
	}
	value := list[len(list)-1]
	if len(list) == 1 {
		delete(s.lists, key)
	} else {
		s.lists[key] = list[:len(list)-1]
	}
	return value, true, nil
}

// LLen returns the list length.
func (s *Store) LLen(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, store.ErrClosed
	}
	return int64(len(s.lists[key])), nil
}

// LRange mirrors Redis LRANGE index handling.
func (s *Store) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	list := s.lists[key]
	lo, hi, ok := bounds(int64(len(list)), start, stop)
	if !ok {
		return []string{}, nil
	}
	out := make([]string, hi-lo+1)
	copy(out, list[lo:hi+1])
	return out, nil
}

// LTrim keeps only the elements between start and stop.
func (s *Store) LTrim(_ context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	list := s.lists[key]
	lo, hi, ok := bounds(int64(len(list)), start, stop)
	if !ok {
		delete(s.lists, key)
		return nil
	}
	s.lists[key] = append([]string(nil), list[lo:hi+1]...)
	return nil
}

func bounds(n, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return 0, 0, false
	}
	return start, stop, true
}

// HSet sets one hash field.
func (s *Store) HSet(_ context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	s.hset(key, field, value)
	return nil
}

func (s *Store) hset(key, field, value string) {
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	h[field] = value
}

// HExists reports whether field is present in the hash.
func (s *Store) HExists(_ context.Context, key, field string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, store.ErrClosed
	}
	_, ok := s.hashes[key][field]
	return ok, nil
}

// HLen returns the number of fields in the hash.
func (s *Store) HLen(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, store.ErrClosed
	}
	return int64(len(s.hashes[key])), nil
}

// HGetAll returns a copy of the hash.
func (s *Store) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	out := make(map[string]string, len(s.hashes[key]))
	for k, v := range s.hashes[key] {
		out[k] = v
	}
	return out, nil
}

// HDel removes fields from the hash.
func (s *Store) HDel(_ context.Context, key string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	s.hdel(key, fields)
	return nil
}

func (s *Store) hdel(key string, fields []string) {
	h, ok := s.hashes[key]
	if !ok {
		return
	}
	for _, f := range fields {
		delete(h, f)
	}
	if len(h) == 0 {
		delete(s.hashes, key)
	}
}

// HSetIfRoom sets a new field unless the hash is full or already holds it.
func (s *Store) HSetIfRoom(_ context.Context, key string, capacity int64, field, value string) (store.CapResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, store.ErrClosed
	}
	h := s.hashes[key]
	if int64(len(h)) >= capacity {
		return store.CapFull, nil
	}
	if _, ok := h[field]; ok {
		return store.CapExists, nil
	}
	s.hset(key, field, value)
	return store.CapAdded, nil
}

// HIncrBy adds n to an integer hash field.
func (s *Store) HIncrBy(_ context.Context, key, field string, n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, store.ErrClosed
	}
	if err := s.checkInt(key, field); err != nil {
		return 0, err
	}
	return s.hincr(key, field, n), nil
}

func (s *Store) checkInt(key, field string) error {
	raw, ok := s.hashes[key][field]
	if !ok {
		return nil
	}
	if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
		return fmt.Errorf("hash %s field %s is not an integer", key, field)
	}
	return nil
}

func (s *Store) hincr(key, field string, n int64) int64 {
	cur, _ := strconv.ParseInt(s.hashes[key][field], 10, 64)
	cur += n
	s.hset(key, field, strconv.FormatInt(cur, 10))
	return cur
}

// IncrWindow increments a counter that expires ttl after its first increment.
func (s *Store) IncrWindow(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, store.ErrClosed
	}
	now := s.clock.Now()
	c, ok := s.counters[key]
	if !ok || !now.Before(c.expires) {
		c = &counter{expires: now.Add(ttl)}
		s.counters[key] = c
	}
	c.value++
	s.sweepCounters(now)
	return c.value, nil
}

func (s *Store) sweepCounters(now time.Time) {
	for k, c := range s.counters {
		if !now.Before(c.expires) {
			delete(s.counters, k)
		}
	}
}

// Ping fails once the store is closed.
func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

// Close marks the store closed. Closing twice is safe.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// NewBatch starts a batch applied under a single lock on Commit.
func (s *Store) NewBatch() store.Batch {
	return &batch{s: s}
}

type opKind int

const (
	opLPush opKind = iota
	opHSet
	opHDel
	opHIncrBy
)

type op struct {
	kind   opKind
	key    string
	field  string
	values []string
	n      int64
}

type batch struct {
	s   *Store
	ops []op
}

func (b *batch) LPush(key string, values ...string) {
	b.ops = append(b.ops, op{kind: opLPush, key: key, values: append([]string(nil), values...)})
}

func (b *batch) HSet(key, field, value string) {
	b.ops = append(b.ops, op{kind: opHSet, key: key, field: field, values: []string{value}})
}

func (b *batch) HDel(key string, fields ...string) {
	b.ops = append(b.ops, op{kind: opHDel, key: key, values: append([]string(nil), fields...)})
}

func (b *batch) HIncrBy(key, field string, n int64) {
	b.ops = append(b.ops, op{kind: opHIncrBy, key: key, field: field, n: n})
}

func (b *batch) Len() int { return len(b.ops) }

// Commit validates every queued op before applying any of them.
func (b *batch) Commit(_ context.Context) error {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	for _, o := range b.ops {
		if o.kind == opHIncrBy {
			if err := s.checkInt(o.key, o.field); err != nil {
				return fmt.Errorf("commit batch: %w", err)
			}
		}
	}
	for _, o := range b.ops {
		switch o.kind {
		case opLPush:
			s.lpush(o.key, o.values)
		case opHSet:
			s.hset(o.key, o.field, o.values[0])
		case opHDel:
			s.hdel(o.key, o.values)
		case opHIncrBy:
			s.hincr(o.key, o.field, o.n)
		}
	}
	b.ops = nil
	return nil
}
