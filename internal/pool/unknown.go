package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-pipeline/internal/store"
)

// DefaultUnknownErrorCapacity is the number of fault records kept in the store.
const DefaultUnknownErrorCapacity = 1000

// Fault is one unclassified failure that escaped a worker sweep.
type Fault struct {
	Thread string    `json:"thread"`
	Host   string    `json:"host"`
	At     time.Time `json:"at"`
	Trace  string    `json:"trace"`
}

// Notifier forwards faults to an external channel.
type Notifier interface {
	NotifyFault(ctx context.Context, f Fault) error
}

// UnknownErrors is the global sink for faults.
type UnknownErrors struct {
	store    store.Store
	keys     store.Keyspace
	capacity int64
	notifier Notifier
	logger   *zap.Logger
}

// NewUnknownErrors creates the sink. notifier may be nil.
func NewUnknownErrors(s store.Store, keys store.Keyspace, notifier Notifier, logger *zap.Logger) *UnknownErrors {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UnknownErrors{
		store:    s,
		keys:     keys,
		capacity: DefaultUnknownErrorCapacity,
		notifier: notifier,
		logger:   logger,
	}
}

// Add records f, trims the sink to its capacity, and notifies.
// Notifier failures are logged and never returned.
func (u *UnknownErrors) Add(ctx context.Context, f Fault) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode fault: %w", err)
	}
	key := u.keys.Key(unknownErrorKey)
	if err := u.store.LPush(ctx, key, string(data)); err != nil {
		return fmt.Errorf("record fault: %w", err)
	}
	if err := u.store.LTrim(ctx, key, 0, u.capacity-1); err != nil {
		return fmt.Errorf("trim faults: %w", err)
	}
	if u.notifier != nil {
		if err := u.notifier.NotifyFault(ctx, f); err != nil {
			u.logger.Warn("fault notification failed", zap.Error(err))
		}
	}
	return nil
}

// Recent returns up to limit faults, newest first.
func (u *UnknownErrors) Recent(ctx context.Context, limit int64) ([]Fault, error) {
	if limit <= 0 {
		limit = u.capacity
	}
	raws, err := u.store.LRange(ctx, u.keys.Key(unknownErrorKey), 0, limit-1)
	if err != nil {
		return nil, fmt.Errorf("recent faults: %w", err)
	}
	out := make([]Fault, 0, len(raws))
	for _, raw := range raws {
		var f Fault
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			return nil, fmt.Errorf("decode fault: %w", err)
		}
		out = append(out, f)
	}
	return out, nil
}
