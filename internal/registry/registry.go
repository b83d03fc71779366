// Package registry reports which logical instances are currently running.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/JakeFAU/crawl-pipeline/internal/store"
)

// Registry enumerates running instance ids. Workers poll it once per sweep.
type Registry interface {
	RunningIDs(ctx context.Context) ([]string, error)
}

// Static is a fixed set of instance ids.
type Static []string

// RunningIDs returns a copy of the configured ids.
func (s Static) RunningIDs(context.Context) ([]string, error) {
	return append([]string(nil), s...), nil
}

const runningKey = "instances:running"

// Store keeps running instances in a hash of instance id to start time.
type Store struct {
	store store.Store
	keys  store.Keyspace
}

// NewStore creates a store-backed registry.
func NewStore(s store.Store, keys store.Keyspace) *Store {
	return &Store{store: s, keys: keys}
}

// RunningIDs returns the running ids in sorted order.
func (r *Store) RunningIDs(ctx context.Context) ([]string, error) {
	all, err := r.store.HGetAll(ctx, r.keys.Key(runningKey))
	if err != nil {
		return nil, fmt.Errorf("running instances: %w", err)
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Start marks instanceID running.
func (r *Store) Start(ctx context.Context, instanceID string, at time.Time) error {
	if err := r.store.HSet(ctx, r.keys.Key(runningKey), instanceID, strconv.FormatInt(at.Unix(), 10)); err != nil {
		return fmt.Errorf("start instance %s: %w", instanceID, err)
	}
	return nil
}

// Stop removes instanceID from the running set.
func (r *Store) Stop(ctx context.Context, instanceID string) error {
	if err := r.store.HDel(ctx, r.keys.Key(runningKey), instanceID); err != nil {
		return fmt.Errorf("stop instance %s: %w", instanceID, err)
	}
	return nil
}
