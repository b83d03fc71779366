// Package dispatcher manages worker fan-out over the pending pools.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/crawl-pipeline/internal/task"
	"github.com/JakeFAU/crawl-pipeline/internal/worker"
)

// Runner is a long-lived loop that stops when its context finishes.
type Runner interface {
	Run(ctx context.Context)
}

// Queue accepts new tasks.
type Queue interface {
	Push(ctx context.Context, t *task.Task) error
}

// Dispatcher starts a fleet of workers. Workers race each other for tasks; nothing
// assigns instances to workers.
type Dispatcher struct {
	queue   Queue
	workers []Runner
}

// New creates a Dispatcher.
func New(queue Queue, workers []Runner) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Spawn builds threads workers sharing env, named "<prefix>-<n>".
func Spawn(env worker.Env, cfg worker.Config, threads int, prefix string) []Runner {
	runners := make([]Runner, 0, threads)
	for i := 0; i < threads; i++ {
		c := cfg
		c.ThreadName = fmt.Sprintf("%s-%d", prefix, i)
		runners = append(runners, worker.New(env, c))
	}
	return runners
}

// Run starts all workers and blocks until the context finishes and every worker returns.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk Runner) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, t *task.Task) error {
	if err := d.queue.Push(ctx, t); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
