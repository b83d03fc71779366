package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/JakeFAU/crawl-pipeline/internal/store"
	"github.com/JakeFAU/crawl-pipeline/internal/task"
)

// DefaultWarningCapacity bounds each half of the warning pool per instance.
const DefaultWarningCapacity = 50

// ErrMissingTraceback is returned when a task without any failure trace is offered to
// the warning pool. It signals a caller bug.
var ErrMissingTraceback = errors.New("warning pool: task has no failure traceback")

// Hasher computes content digests used as dedup signatures.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Admission describes what the warning pool did with a task.
type Admission int

// Admission results.
const (
	AdmittedList Admission = iota
	AdmittedHash
	DroppedDuplicate
	DroppedFull
)

func (a Admission) String() string {
	switch a {
	case AdmittedList:
		return "list"
	case AdmittedHash:
		return "hash"
	case DroppedDuplicate:
		return "duplicate"
	case DroppedFull:
		return "full"
	default:
		return "unknown"
	}
}

// Warnings keeps recent distinct failures per instance.
//
// The list half accepts every failure until it holds ListCapacity entries. After that,
// failures go to the hash half keyed by a digest of the process traceback. Once the hash
// half holds HashCapacity signatures, further failures are dropped until the pool is
// compacted externally; existing signatures are never evicted.
type Warnings struct {
	store        store.Store
	keys         store.Keyspace
	hasher       Hasher
	ListCapacity int64
	HashCapacity int64
}

// NewWarnings creates the warning pool with the default capacities.
func NewWarnings(s store.Store, keys store.Keyspace, hasher Hasher) *Warnings {
	return &Warnings{
		store:        s,
		keys:         keys,
		hasher:       hasher,
		ListCapacity: DefaultWarningCapacity,
		HashCapacity: DefaultWarningCapacity,
	}
}

// Add offers a failed task to the pool.
//
// The hash-half signature is computed from ProcessErrorTraceback even for crawl failures,
// so once the list is full all crawl-only failures of an instance share one signature.
// Each half is filled by a single capped store call, so concurrent workers never push
// either half past its capacity.
func (w *Warnings) Add(ctx context.Context, t *task.Task) (Admission, error) {
	if t.CrawlErrorTraceback == "" && t.ProcessErrorTraceback == "" {
		return 0, ErrMissingTraceback
	}
	raw, err := encode(t)
	if err != nil {
		return 0, err
	}

	listKey := keyFor(w.keys, warningListKey, t.InstanceID)
	pushed, err := w.store.LPushCapped(ctx, listKey, w.ListCapacity, raw)
	if err != nil {
		return 0, fmt.Errorf("warning list push: %w", err)
	}
	if pushed {
		return AdmittedList, nil
	}

	sig, err := w.hasher.Hash([]byte(t.ProcessErrorTraceback))
	if err != nil {
		return 0, fmt.Errorf("warning signature: %w", err)
	}
	res, err := w.store.HSetIfRoom(ctx, keyFor(w.keys, warningHashKey, t.InstanceID), w.HashCapacity, sig, raw)
	if err != nil {
		return 0, fmt.Errorf("warning hash set: %w", err)
	}
	switch res {
	case store.CapFull:
		return DroppedFull, nil
	case store.CapExists:
		return DroppedDuplicate, nil
	default:
		return AdmittedHash, nil
	}
}

// GetTasks returns the list half in list order followed by the hash half ordered by
// signature. The halves do not overlap because admission is mutually exclusive.
func (w *Warnings) GetTasks(ctx context.Context, instanceID string) ([]*task.Task, error) {
	raws, err := w.store.LRange(ctx, keyFor(w.keys, warningListKey, instanceID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("warning list range: %w", err)
	}
	hashed, err := w.store.HGetAll(ctx, keyFor(w.keys, warningHashKey, instanceID))
	if err != nil {
		return nil, fmt.Errorf("warning hash get all: %w", err)
	}
	sigs := make([]string, 0, len(hashed))
	for sig := range hashed {
		sigs = append(sigs, sig)
	}
	sort.Strings(sigs)
	for _, sig := range sigs {
		raws = append(raws, hashed[sig])
	}
	return decodeAll(raws)
}

// Sizes returns the current list and hash half sizes for instanceID.
func (w *Warnings) Sizes(ctx context.Context, instanceID string) (list, hash int64, err error) {
	list, err = w.store.LLen(ctx, keyFor(w.keys, warningListKey, instanceID))
	if err != nil {
		return 0, 0, fmt.Errorf("warning list len: %w", err)
	}
	hash, err = w.store.HLen(ctx, keyFor(w.keys, warningHashKey, instanceID))
	if err != nil {
		return 0, 0, fmt.Errorf("warning hash len: %w", err)
	}
	return list, hash, nil
}
