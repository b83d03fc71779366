// Package store defines the shared key-value/list/hash store consumed by the pools and stats.
//
// Every component in the pipeline treats the store as append, atomic-pop, or atomic-batch
// only. Mutations that must be observed together are queued on a Batch and committed once.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrClosed is returned by every operation after the store has been closed.
var ErrClosed = errors.New("store closed")

// Store is the networked store shared by all workers.
type Store interface {
	// LPush prepends values to the list at key; the last value ends up at the head.
	LPush(ctx context.Context, key string, values ...string) error
	// RPop removes and returns the tail of the list. ok is false when the list is empty.
	RPop(ctx context.Context, key string) (value string, ok bool, err error)
	LLen(ctx context.Context, key string) (int64, error)
	// LRange returns list elements between start and stop inclusive; negative indexes count from the tail.
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	// LPushCapped prepends value only while the list holds fewer than capacity
	// entries. The length check and the push are one atomic step.
	LPushCapped(ctx context.Context, key string, capacity int64, value string) (bool, error)

	HSet(ctx context.Context, key, field, value string) error
	HExists(ctx context.Context, key, field string) (bool, error)
	HLen(ctx context.Context, key string) (int64, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error
	HIncrBy(ctx context.Context, key, field string, n int64) (int64, error)
	// HSetIfRoom sets a new field while the hash holds fewer than capacity fields.
	// A full hash wins over an existing field. Checks and write are one atomic step.
	HSetIfRoom(ctx context.Context, key string, capacity int64, field, value string) (CapResult, error)

	// IncrWindow increments a counter that expires ttl after its first increment.
	IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// NewBatch starts an all-or-nothing batch of mutations.
	NewBatch() Batch
	Ping(ctx context.Context) error
	Close() error
}

// CapResult is the outcome of a capacity-bounded insert.
type CapResult int

// Capped insert outcomes.
const (
	CapAdded CapResult = iota
	CapExists
	CapFull
)

// Batch buffers mutations client-side until Commit.
// A failed Commit leaves none of the queued mutations visible.
type Batch interface {
	LPush(key string, values ...string)
	HSet(key, field, value string)
	HDel(key string, fields ...string)
	HIncrBy(key, field string, n int64)
	Len() int
	Commit(ctx context.Context) error
}

// Keyspace builds namespaced keys.
type Keyspace struct {
	Prefix string
}

// Key joins the prefix and parts with ':'.
func (k Keyspace) Key(parts ...string) string {
	if k.Prefix == "" {
		return strings.Join(parts, ":")
	}
	return k.Prefix + ":" + strings.Join(parts, ":")
}
