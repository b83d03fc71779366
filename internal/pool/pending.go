package pool

import (
	"context"
	"fmt"

	"github.com/JakeFAU/crawl-pipeline/internal/store"
	"github.com/JakeFAU/crawl-pipeline/internal/task"
)

// Pending queues tasks per instance.
type Pending struct {
	store   store.Store
	keys    store.Keyspace
	running *Running
}

// NewPending creates the pending pool. Fetched tasks are marked in running.
func NewPending(s store.Store, keys store.Keyspace, running *Running) *Pending {
	return &Pending{store: s, keys: keys, running: running}
}

// Push queues t behind every task already pending for its instance.
func (p *Pending) Push(ctx context.Context, t *task.Task) error {
	raw, err := encode(t)
	if err != nil {
		return err
	}
	if err := p.store.LPush(ctx, keyFor(p.keys, pendingKey, t.InstanceID), raw); err != nil {
		return fmt.Errorf("push pending: %w", err)
	}
	return nil
}

// PushBatch queues t as part of b.
func (p *Pending) PushBatch(b store.Batch, t *task.Task) error {
	raw, err := encode(t)
	if err != nil {
		return err
	}
	b.LPush(keyFor(p.keys, pendingKey, t.InstanceID), raw)
	return nil
}

// Fetch pops the oldest pending task for instanceID and marks it running.
// It returns nil, nil when nothing is queued. Exactly-once delivery relies on the
// store's atomic pop.
func (p *Pending) Fetch(ctx context.Context, instanceID string) (*task.Task, error) {
	raw, ok, err := p.store.RPop(ctx, keyFor(p.keys, pendingKey, instanceID))
	if err != nil {
		return nil, fmt.Errorf("fetch pending %s: %w", instanceID, err)
	}
	if !ok {
		return nil, nil
	}
	t, err := task.FromJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("fetch pending %s: %w", instanceID, err)
	}
	if p.running != nil {
		if err := p.running.Add(ctx, t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Len returns the number of queued tasks for instanceID.
func (p *Pending) Len(ctx context.Context, instanceID string) (int64, error) {
	n, err := p.store.LLen(ctx, keyFor(p.keys, pendingKey, instanceID))
	if err != nil {
		return 0, fmt.Errorf("pending len %s: %w", instanceID, err)
	}
	return n, nil
}
