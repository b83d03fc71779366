package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Handler implements the business logic bound to one func_name.
//
// Crawl returns the fetched payload; an empty payload means there is nothing to do.
// Task-scoped failures must be returned as *CrawlError or *ProcessError; any other
// error is treated as an unclassified fault by the worker.
type Handler interface {
	Crawl(ctx context.Context, t *Task) ([]byte, error)
	Process(ctx context.Context, t *Task, payload []byte) error
}

// Registry dispatches to handlers by func_name.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

var _ Handler = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds name to h, replacing any previous binding.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Names lists registered func names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Crawl runs the crawl phase of the handler bound to t.FuncName.
func (r *Registry) Crawl(ctx context.Context, t *Task) ([]byte, error) {
	h, ok := r.lookup(t.FuncName)
	if !ok {
		return nil, NewCrawlError(fmt.Errorf("%w: %q", ErrUnknownFunc, t.FuncName))
	}
	return h.Crawl(ctx, t)
}

// Process runs the process phase of the handler bound to t.FuncName.
func (r *Registry) Process(ctx context.Context, t *Task, payload []byte) error {
	h, ok := r.lookup(t.FuncName)
	if !ok {
		return NewProcessError(fmt.Errorf("%w: %q", ErrUnknownFunc, t.FuncName))
	}
	return h.Process(ctx, t, payload)
}
