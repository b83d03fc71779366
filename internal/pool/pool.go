// Package pool implements the store-backed task pools.
//
// Every pool serializes tasks with task.ToJSON. List pools keep the newest entry at the
// head; the pending pool pops from the tail so each instance is served FIFO.
package pool

import (
	"fmt"

	"github.com/JakeFAU/crawl-pipeline/internal/store"
	"github.com/JakeFAU/crawl-pipeline/internal/task"
)

const (
	pendingKey      = "pending"
	runningKey      = "running"
	crawlErrorKey   = "error:crawl"
	processErrorKey = "error:process"
	warningListKey  = "warning:list"
	warningHashKey  = "warning:hash"
	unknownErrorKey = "error:unknown"
)

func encode(t *task.Task) (string, error) {
	raw, err := t.ToJSON()
	if err != nil {
		return "", fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	return raw, nil
}

func decodeAll(raws []string) ([]*task.Task, error) {
	out := make([]*task.Task, 0, len(raws))
	for _, raw := range raws {
		t, err := task.FromJSON(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func keyFor(ks store.Keyspace, kind, instanceID string) string {
	return ks.Key(kind, instanceID)
}
