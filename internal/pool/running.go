package pool

import (
	"context"
	"fmt"
	"sort"

	"github.com/JakeFAU/crawl-pipeline/internal/store"
	"github.com/JakeFAU/crawl-pipeline/internal/task"
)

// Running tracks in-flight tasks per instance, keyed by task id.
type Running struct {
	store store.Store
	keys  store.Keyspace
}

// NewRunning creates the running pool.
func NewRunning(s store.Store, keys store.Keyspace) *Running {
	return &Running{store: s, keys: keys}
}

// Add marks t as in flight.
func (r *Running) Add(ctx context.Context, t *task.Task) error {
	raw, err := encode(t)
	if err != nil {
		return err
	}
	if err := r.store.HSet(ctx, keyFor(r.keys, runningKey, t.InstanceID), t.ID, raw); err != nil {
		return fmt.Errorf("mark running %s: %w", t.ID, err)
	}
	return nil
}

// Remove queues the removal of t on b so it commits with the caller's bookkeeping.
func (r *Running) Remove(b store.Batch, t *task.Task) {
	b.HDel(keyFor(r.keys, runningKey, t.InstanceID), t.ID)
}

// Contains reports whether t is still marked in flight.
func (r *Running) Contains(ctx context.Context, t *task.Task) (bool, error) {
	ok, err := r.store.HExists(ctx, keyFor(r.keys, runningKey, t.InstanceID), t.ID)
	if err != nil {
		return false, fmt.Errorf("running contains %s: %w", t.ID, err)
	}
	return ok, nil
}

// Len returns the number of in-flight tasks for instanceID.
func (r *Running) Len(ctx context.Context, instanceID string) (int64, error) {
	n, err := r.store.HLen(ctx, keyFor(r.keys, runningKey, instanceID))
	if err != nil {
		return 0, fmt.Errorf("running len %s: %w", instanceID, err)
	}
	return n, nil
}

// Tasks lists in-flight tasks for instanceID ordered by task id.
func (r *Running) Tasks(ctx context.Context, instanceID string) ([]*task.Task, error) {
	all, err := r.store.HGetAll(ctx, keyFor(r.keys, runningKey, instanceID))
	if err != nil {
		return nil, fmt.Errorf("running tasks %s: %w", instanceID, err)
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	raws := make([]string, 0, len(ids))
	for _, id := range ids {
		raws = append(raws, all[id])
	}
	return decodeAll(raws)
}
