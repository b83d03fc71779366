package stats

import (
	"context"
	"fmt"
	"strconv"

	"github.com/JakeFAU/crawl-pipeline/internal/store"
)

// Cluster mirrors the instance counters globally and tracks the worker fleet.
type Cluster struct {
	store store.Store
	keys  store.Keyspace
	clock Clock
}

// NewCluster creates the cluster stats registry.
func NewCluster(s store.Store, keys store.Keyspace, clock Clock) *Cluster {
	return &Cluster{store: s, keys: keys, clock: clock}
}

// Incr queues a global increment of counter on b.
func (c *Cluster) Incr(b store.Batch, counter Counter) {
	b.HIncrBy(c.keys.Key(clusterKey), string(counter), 1)
}

// AddThread upserts the last-seen time of a worker thread.
func (c *Cluster) AddThread(ctx context.Context, name string) error {
	if err := c.touch(ctx, threadsKey, name); err != nil {
		return fmt.Errorf("add thread %s: %w", name, err)
	}
	return nil
}

// AddServer upserts the last-seen time of a worker host.
func (c *Cluster) AddServer(ctx context.Context, ip string) error {
	if err := c.touch(ctx, serversKey, ip); err != nil {
		return fmt.Errorf("add server %s: %w", ip, err)
	}
	return nil
}

func (c *Cluster) touch(ctx context.Context, kind, member string) error {
	now := strconv.FormatInt(c.clock.Now().Unix(), 10)
	return c.store.HSet(ctx, c.keys.Key(kind), member, now)
}

// Counters returns the global counters.
func (c *Cluster) Counters(ctx context.Context) (map[Counter]int64, error) {
	return readCounters(ctx, c.store, c.keys.Key(clusterKey))
}

// Threads returns each known thread's last-seen unix time.
func (c *Cluster) Threads(ctx context.Context) (map[string]int64, error) {
	return readInts(ctx, c.store, c.keys.Key(threadsKey))
}

// Servers returns each known host's last-seen unix time.
func (c *Cluster) Servers(ctx context.Context) (map[string]int64, error) {
	return readInts(ctx, c.store, c.keys.Key(serversKey))
}
