package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/JakeFAU/crawl-pipeline/internal/store"
	"github.com/JakeFAU/crawl-pipeline/internal/task"
)

// TimeCost is the recorded duration of both phases of one task.
type TimeCost struct {
	CrawlSeconds   float64 `json:"crawl_seconds"`
	ProcessSeconds float64 `json:"process_seconds"`
}

// Instance holds counters and gauges keyed by instance id.
type Instance struct {
	store store.Store
	keys  store.Keyspace
	clock Clock
}

// NewInstance creates the per-instance stats registry.
func NewInstance(s store.Store, keys store.Keyspace, clock Clock) *Instance {
	return &Instance{store: s, keys: keys, clock: clock}
}

// Incr queues an increment of counter for instanceID on b.
func (i *Instance) Incr(b store.Batch, instanceID string, counter Counter) {
	b.HIncrBy(i.keys.Key(instanceKey, instanceID), string(counter), 1)
}

// SetTaskActive records that a task began executing for instanceID.
func (i *Instance) SetTaskActive(ctx context.Context, instanceID string) error {
	now := strconv.FormatInt(i.clock.Now().UnixMilli(), 10)
	if err := i.store.HSet(ctx, i.keys.Key(activeKey), instanceID, now); err != nil {
		return fmt.Errorf("set task active %s: %w", instanceID, err)
	}
	return nil
}

// CheckRateLimit reports whether instanceID already started at least ratePerSecond
// tasks in the current one-second window. Every call counts as a start attempt.
// A non-positive rate disables the limit.
func (i *Instance) CheckRateLimit(ctx context.Context, instanceID string, ratePerSecond int) (bool, error) {
	if ratePerSecond <= 0 {
		return false, nil
	}
	window := strconv.FormatInt(i.clock.Now().Unix(), 10)
	n, err := i.store.IncrWindow(ctx, i.keys.Key(rateLimitKey, instanceID, window), rateWindowTTL)
	if err != nil {
		return false, fmt.Errorf("check rate limit %s: %w", instanceID, err)
	}
	return n > int64(ratePerSecond), nil
}

// AddTaskForTimeCost queues the phase durations of t on b.
func (i *Instance) AddTaskForTimeCost(b store.Batch, t *task.Task) error {
	data, err := json.Marshal(TimeCost{CrawlSeconds: t.CrawlSeconds, ProcessSeconds: t.ProcessSeconds})
	if err != nil {
		return fmt.Errorf("encode time cost: %w", err)
	}
	b.HSet(i.keys.Key(timeCostKey, t.InstanceID), t.ID, string(data))
	return nil
}

// Counters returns every counter recorded for instanceID.
func (i *Instance) Counters(ctx context.Context, instanceID string) (map[Counter]int64, error) {
	return readCounters(ctx, i.store, i.keys.Key(instanceKey, instanceID))
}

// TimeCosts returns recorded durations keyed by task id.
func (i *Instance) TimeCosts(ctx context.Context, instanceID string) (map[string]TimeCost, error) {
	raw, err := i.store.HGetAll(ctx, i.keys.Key(timeCostKey, instanceID))
	if err != nil {
		return nil, fmt.Errorf("time costs %s: %w", instanceID, err)
	}
	out := make(map[string]TimeCost, len(raw))
	for id, v := range raw {
		var tc TimeCost
		if err := json.Unmarshal([]byte(v), &tc); err != nil {
			return nil, fmt.Errorf("decode time cost %s: %w", id, err)
		}
		out[id] = tc
	}
	return out, nil
}

// LastActive returns the unix-millisecond heartbeat of every instance.
func (i *Instance) LastActive(ctx context.Context) (map[string]int64, error) {
	return readInts(ctx, i.store, i.keys.Key(activeKey))
}

func readCounters(ctx context.Context, s store.Store, key string) (map[Counter]int64, error) {
	ints, err := readInts(ctx, s, key)
	if err != nil {
		return nil, err
	}
	out := make(map[Counter]int64, len(ints))
	for k, v := range ints {
		out[Counter(k)] = v
	}
	return out, nil
}

func readInts(ctx context.Context, s store.Store, key string) (map[string]int64, error) {
	raw, err := s.HGetAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s field %s: %w", key, k, err)
		}
		out[k] = n
	}
	return out, nil
}
