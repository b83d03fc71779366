// Package stats keeps per-instance and cluster-wide counters in the shared store.
//
// Counters only ever grow here; resets are an administrative operation outside the
// worker. Increments that belong to a task's terminal bookkeeping are queued on the
// caller's batch.
package stats

import (
	"time"
)

// Counter names a monotonically increasing counter.
type Counter string

// Counters maintained by the worker.
const (
	CrawlError   Counter = "crawl_error"
	ProcessError Counter = "process_error"
	Success      Counter = "success"
	RateLimited  Counter = "rate_limited"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

const (
	instanceKey   = "stats:instance"
	clusterKey    = "stats:cluster"
	timeCostKey   = "stats:time_cost"
	activeKey     = "stats:active"
	rateLimitKey  = "ratelimit"
	threadsKey    = "fleet:threads"
	serversKey    = "fleet:servers"
	rateWindowTTL = 2 * time.Second
)
