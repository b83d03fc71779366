package pool

import (
	"context"
	"fmt"

	"github.com/JakeFAU/crawl-pipeline/internal/store"
	"github.com/JakeFAU/crawl-pipeline/internal/task"
)

// ErrorLog is an unbounded per-instance list of failed tasks kept for offline inspection.
// CrawlErrors and ProcessErrors are the two instances used by the worker.
type ErrorLog struct {
	store store.Store
	keys  store.Keyspace
	kind  string
}

// NewCrawlErrors creates the crawl-failure log.
func NewCrawlErrors(s store.Store, keys store.Keyspace) *ErrorLog {
	return &ErrorLog{store: s, keys: keys, kind: crawlErrorKey}
}

// NewProcessErrors creates the process-failure log.
func NewProcessErrors(s store.Store, keys store.Keyspace) *ErrorLog {
	return &ErrorLog{store: s, keys: keys, kind: processErrorKey}
}

// Add appends t to the log as part of b. No dedup and no cap.
func (l *ErrorLog) Add(b store.Batch, t *task.Task) error {
	raw, err := encode(t)
	if err != nil {
		return err
	}
	b.LPush(keyFor(l.keys, l.kind, t.InstanceID), raw)
	return nil
}

// Len returns the number of logged failures for instanceID.
func (l *ErrorLog) Len(ctx context.Context, instanceID string) (int64, error) {
	n, err := l.store.LLen(ctx, keyFor(l.keys, l.kind, instanceID))
	if err != nil {
		return 0, fmt.Errorf("%s len %s: %w", l.kind, instanceID, err)
	}
	return n, nil
}

// Tasks returns up to limit logged failures, newest first. limit <= 0 returns all.
func (l *ErrorLog) Tasks(ctx context.Context, instanceID string, limit int64) ([]*task.Task, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = limit - 1
	}
	raws, err := l.store.LRange(ctx, keyFor(l.keys, l.kind, instanceID), 0, stop)
	if err != nil {
		return nil, fmt.Errorf("%s tasks %s: %w", l.kind, instanceID, err)
	}
	return decodeAll(raws)
}
