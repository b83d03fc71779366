package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-pipeline/internal/hash/sha256"
	"github.com/JakeFAU/crawl-pipeline/internal/store"
	"github.com/JakeFAU/crawl-pipeline/internal/store/memory"
	"github.com/JakeFAU/crawl-pipeline/internal/task"
)

var testKeys = store.Keyspace{Prefix: "test"}

func newTask(instanceID string, n int) *task.Task {
	return &task.Task{
		ID:         fmt.Sprintf("task-%04d", n),
		InstanceID: instanceID,
		FuncName:   "fetch_page",
		URL:        fmt.Sprintf("https://example.com/%d", n),
	}
}

func TestPendingFetchFIFOAndMarksRunning(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New(nil)
	running := NewRunning(s, testKeys)
	pending := NewPending(s, testKeys, running)

	for i := 0; i < 3; i++ {
		require.NoError(t, pending.Push(ctx, newTask("a", i)))
	}
	require.NoError(t, pending.Push(ctx, newTask("b", 9)))

	n, err := pending.Len(ctx, "a")
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	for i := 0; i < 3; i++ {
		got, err := pending.Fetch(ctx, "a")
		require.NoError(t, err)
		require.Equal(t, newTask("a", i).ID, got.ID)
		ok, err := running.Contains(ctx, got)
		require.NoError(t, err)
		require.True(t, ok)
	}

	got, err := pending.Fetch(ctx, "a")
	require.NoError(t, err)
	require.Nil(t, got)

	other, err := pending.Fetch(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, "task-0009", other.ID)

	inFlight, err := running.Len(ctx, "a")
	require.NoError(t, err)
	require.EqualValues(t, 3, inFlight)
}

func TestPendingConcurrentFetchIsExactlyOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New(nil)
	pending := NewPending(s, testKeys, NewRunning(s, testKeys))
	const total = 300
	for i := 0; i < total; i++ {
		require.NoError(t, pending.Push(ctx, newTask("a", i)))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for g := 0; g < 6; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				got, err := pending.Fetch(ctx, "a")
				if err != nil || got == nil {
					return
				}
				mu.Lock()
				seen[got.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, total)
	for id, n := range seen {
		require.Equal(t, 1, n, "task %s fetched %d times", id, n)
	}
}

func TestRunningRemoveCommitsWithBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New(nil)
	running := NewRunning(s, testKeys)
	tk := newTask("a", 1)
	require.NoError(t, running.Add(ctx, tk))

	b := s.NewBatch()
	running.Remove(b, tk)
	ok, err := running.Contains(ctx, tk)
	require.NoError(t, err)
	require.True(t, ok, "removal must wait for commit")

	require.NoError(t, b.Commit(ctx))
	ok, err = running.Contains(ctx, tk)
	require.NoError(t, err)
	require.False(t, ok)

	tasks, err := running.Tasks(ctx, "a")
	require.NoError(t, err)
	require.Empty(t, tasks)
}

func TestErrorLogsAreUnboundedAndSeparate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New(nil)
	crawlErrs := NewCrawlErrors(s, testKeys)
	processErrs := NewProcessErrors(s, testKeys)

	b := s.NewBatch()
	for i := 0; i < 120; i++ {
		require.NoError(t, crawlErrs.Add(b, newTask("a", i)))
	}
	require.NoError(t, b.Commit(ctx))

	n, err := crawlErrs.Len(ctx, "a")
	require.NoError(t, err)
	require.EqualValues(t, 120, n)
	n, err = processErrs.Len(ctx, "a")
	require.NoError(t, err)
	require.Zero(t, n)

	latest, err := crawlErrs.Tasks(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	require.Equal(t, "task-0119", latest[0].ID)

	all, err := crawlErrs.Tasks(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, all, 120)
}

func failedTask(instanceID string, n int, processTrace string) *task.Task {
	tk := newTask(instanceID, n)
	tk.CrawlErrorTraceback = "crawl: failure"
	tk.ProcessErrorTraceback = processTrace
	return tk
}

func fillWarningList(t *testing.T, w *Warnings, instanceID string) {
	t.Helper()
	for i := 0; i < DefaultWarningCapacity; i++ {
		adm, err := w.Add(context.Background(), failedTask(instanceID, i, fmt.Sprintf("list-%d", i)))
		require.NoError(t, err)
		require.Equal(t, AdmittedList, adm)
	}
}

func TestWarningsListHalfIsBounded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New(nil)
	w := NewWarnings(s, testKeys, sha256.New())
	fillWarningList(t, w, "a")

	adm, err := w.Add(ctx, failedTask("a", 999, "overflow"))
	require.NoError(t, err)
	require.Equal(t, AdmittedHash, adm)

	list, hash, err := w.Sizes(ctx, "a")
	require.NoError(t, err)
	require.EqualValues(t, DefaultWarningCapacity, list)
	require.EqualValues(t, 1, hash)
}

func TestWarningsDeduplicateIdenticalTraces(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New(nil)
	w := NewWarnings(s, testKeys, sha256.New())
	fillWarningList(t, w, "a")

	admissions := make(map[Admission]int)
	for i := 0; i < 60; i++ {
		adm, err := w.Add(ctx, failedTask("a", 100+i, "process: same failure"))
		require.NoError(t, err)
		admissions[adm]++
	}
	require.Equal(t, 1, admissions[AdmittedHash])
	require.Equal(t, 59, admissions[DroppedDuplicate])

	_, hash, err := w.Sizes(ctx, "a")
	require.NoError(t, err)
	require.EqualValues(t, 1, hash)
}

func TestWarningsHashHalfFailsOpenAtCapacity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New(nil)
	w := NewWarnings(s, testKeys, sha256.New())
	fillWarningList(t, w, "a")

	for i := 0; i < 60; i++ {
		adm, err := w.Add(ctx, failedTask("a", 100+i, fmt.Sprintf("process: distinct %d", i)))
		require.NoError(t, err)
		if i < DefaultWarningCapacity {
			require.Equal(t, AdmittedHash, adm)
		} else {
			require.Equal(t, DroppedFull, adm)
		}
	}

	list, hash, err := w.Sizes(ctx, "a")
	require.NoError(t, err)
	require.EqualValues(t, DefaultWarningCapacity, list)
	require.EqualValues(t, DefaultWarningCapacity, hash)

	tasks, err := w.GetTasks(ctx, "a")
	require.NoError(t, err)
	require.Len(t, tasks, 2*DefaultWarningCapacity)
	require.Equal(t, "task-0049", tasks[0].ID, "list half comes first, newest at the head")
	for _, tk := range tasks[DefaultWarningCapacity:] {
		require.NotContains(t, []string{"process: distinct 50", "process: distinct 59"}, tk.ProcessErrorTraceback)
	}

	_, otherHash, err := w.Sizes(ctx, "b")
	require.NoError(t, err)
	require.Zero(t, otherHash, "instances do not share warning capacity")
}

// slowReadStore stretches size reads to a network round trip.
type slowReadStore struct {
	*memory.Store
}

func (s slowReadStore) LLen(ctx context.Context, key string) (int64, error) {
	time.Sleep(time.Millisecond)
	return s.Store.LLen(ctx, key)
}

func (s slowReadStore) HLen(ctx context.Context, key string) (int64, error) {
	time.Sleep(time.Millisecond)
	return s.Store.HLen(ctx, key)
}

func TestWarningsConcurrentAddsRespectBothCapacities(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := NewWarnings(slowReadStore{memory.New(nil)}, testKeys, sha256.New())

	const workers = 128
	var (
		mu         sync.Mutex
		admissions = make(map[Admission]int)
		wg         sync.WaitGroup
	)
	for g := 0; g < workers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			adm, err := w.Add(ctx, failedTask("a", g, fmt.Sprintf("process: distinct %d", g)))
			if err != nil {
				t.Errorf("add %d: %v", g, err)
				return
			}
			mu.Lock()
			admissions[adm]++
			mu.Unlock()
		}(g)
	}
	wg.Wait()

	list, hash, err := w.Sizes(ctx, "a")
	require.NoError(t, err)
	require.EqualValues(t, DefaultWarningCapacity, list)
	require.EqualValues(t, DefaultWarningCapacity, hash)
	require.Equal(t, DefaultWarningCapacity, admissions[AdmittedList])
	require.Equal(t, DefaultWarningCapacity, admissions[AdmittedHash])
	require.Equal(t, workers-2*DefaultWarningCapacity, admissions[DroppedFull])
}

func TestWarningsCrawlOnlyFailuresShareOneSignature(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New(nil)
	w := NewWarnings(s, testKeys, sha256.New())
	fillWarningList(t, w, "a")

	for i := 0; i < 5; i++ {
		tk := newTask("a", 200+i)
		tk.CrawlErrorTraceback = fmt.Sprintf("crawl: distinct %d", i)
		_, err := w.Add(ctx, tk)
		require.NoError(t, err)
	}
	_, hash, err := w.Sizes(ctx, "a")
	require.NoError(t, err)
	require.EqualValues(t, 1, hash)
}

func TestWarningsRejectTaskWithoutTrace(t *testing.T) {
	t.Parallel()

	w := NewWarnings(memory.New(nil), testKeys, sha256.New())
	_, err := w.Add(context.Background(), newTask("a", 1))
	require.ErrorIs(t, err, ErrMissingTraceback)
}

type failingHasher struct{}

func (failingHasher) Hash([]byte) (string, error) { return "", errors.New("hash down") }

func TestWarningsPropagateHasherErrors(t *testing.T) {
	t.Parallel()

	w := NewWarnings(memory.New(nil), testKeys, failingHasher{})
	w.ListCapacity = 0
	_, err := w.Add(context.Background(), failedTask("a", 1, "x"))
	require.Error(t, err)
}

type recordingNotifier struct {
	mu     sync.Mutex
	faults []Fault
	err    error
}

func (n *recordingNotifier) NotifyFault(_ context.Context, f Fault) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.faults = append(n.faults, f)
	return n.err
}

func TestUnknownErrorsRecordTrimAndNotify(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New(nil)
	notifier := &recordingNotifier{err: errors.New("topic missing")}
	sink := NewUnknownErrors(s, testKeys, notifier, nil)
	sink.capacity = 3

	for i := 0; i < 5; i++ {
		require.NoError(t, sink.Add(ctx, Fault{
			Thread: "w-0",
			Host:   "10.0.0.1",
			At:     time.Unix(int64(i), 0).UTC(),
			Trace:  fmt.Sprintf("panic %d", i),
		}))
	}

	recent, err := sink.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	require.Equal(t, "panic 4", recent[0].Trace)
	require.Len(t, notifier.faults, 5)
}

func TestUnknownErrorsSurfaceStoreFailure(t *testing.T) {
	t.Parallel()

	s := memory.New(nil)
	require.NoError(t, s.Close())
	sink := NewUnknownErrors(s, testKeys, nil, nil)
	require.ErrorIs(t, sink.Add(context.Background(), Fault{Trace: "x"}), store.ErrClosed)
}
