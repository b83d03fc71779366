// Package worker implements the crawl pipeline execution loop.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-pipeline/internal/clock/system"
	"github.com/JakeFAU/crawl-pipeline/internal/logging"
	"github.com/JakeFAU/crawl-pipeline/internal/metrics"
	"github.com/JakeFAU/crawl-pipeline/internal/pool"
	"github.com/JakeFAU/crawl-pipeline/internal/registry"
	"github.com/JakeFAU/crawl-pipeline/internal/stats"
	"github.com/JakeFAU/crawl-pipeline/internal/store"
	"github.com/JakeFAU/crawl-pipeline/internal/task"
)

const (
	// DefaultIdleSleep is the pause after a sweep that found no work.
	DefaultIdleSleep = time.Second
	// DefaultFaultBackoff is the pause after a sweep that faulted.
	DefaultFaultBackoff = time.Minute

	tracerName = "github.com/JakeFAU/crawl-pipeline/internal/worker"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Env carries everything a Worker touches. It is built once at startup and shared by
// every worker in the process.
type Env struct {
	Store         store.Store
	Pending       *pool.Pending
	Running       *pool.Running
	CrawlErrors   *pool.ErrorLog
	ProcessErrors *pool.ErrorLog
	Warnings      *pool.Warnings
	Unknown       *pool.UnknownErrors
	Instances     *stats.Instance
	Cluster       *stats.Cluster
	Registry      registry.Registry
	Handler       task.Handler
	Clock         Clock
	HostIP        string
	Logger        *zap.Logger
	// Tracer defaults to the global provider, which is a no-op unless telemetry is enabled.
	Tracer trace.Tracer
}

// Config controls Worker behavior.
type Config struct {
	ThreadName   string
	IdleSleep    time.Duration
	FaultBackoff time.Duration
}

// Worker sweeps every running instance, executing at most one task per instance per sweep.
type Worker struct {
	env    Env
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(env Env, cfg Config) *Worker {
	metrics.Init()
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = DefaultIdleSleep
	}
	if cfg.FaultBackoff <= 0 {
		cfg.FaultBackoff = DefaultFaultBackoff
	}
	if env.Clock == nil {
		env.Clock = system.New()
	}
	if env.Tracer == nil {
		env.Tracer = otel.Tracer(tracerName)
	}
	logger := env.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		env:    env,
		cfg:    cfg,
		logger: logging.ForThread(logger.Named("worker"), cfg.ThreadName, env.HostIP),
	}
}

// Name returns the thread name the worker registers under.
func (w *Worker) Name() string {
	return w.cfg.ThreadName
}

// Run blocks, sweeping until the context finishes. Faults never end the loop.
func (w *Worker) Run(ctx context.Context) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	w.logger.Info("worker started")
	for ctx.Err() == nil {
		worked, err := w.safeSweep(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				break
			}
			metrics.ObserveSweep("faulted")
			w.fault(ctx, err)
			sleep(ctx, w.cfg.FaultBackoff)
		case !worked:
			metrics.ObserveSweep("idle")
			w.logger.Debug("sweep idle")
			sleep(ctx, w.cfg.IdleSleep)
		default:
			metrics.ObserveSweep("worked")
		}
	}
	w.logger.Info("worker stopped")
}

// panicError is a recovered panic with the stack of the panicking goroutine.
type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

func (w *Worker) safeSweep(ctx context.Context) (worked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return w.sweep(ctx)
}

func (w *Worker) sweep(ctx context.Context) (bool, error) {
	if err := w.env.Cluster.AddThread(ctx, w.cfg.ThreadName); err != nil {
		return false, err
	}
	if err := w.env.Cluster.AddServer(ctx, w.env.HostIP); err != nil {
		return false, err
	}
	ids, err := w.env.Registry.RunningIDs(ctx)
	if err != nil {
		return false, fmt.Errorf("list running instances: %w", err)
	}

	worked := false
	for _, id := range ids {
		if ctx.Err() != nil {
			return worked, nil
		}
		t, err := w.env.Pending.Fetch(ctx, id)
		if err != nil {
			return worked, err
		}
		if t == nil {
			continue
		}
		limited, err := w.env.Instances.CheckRateLimit(ctx, id, t.SecondRateLimit)
		if err != nil {
			return worked, err
		}
		if limited {
			if err := w.deferTask(ctx, t); err != nil {
				return worked, err
			}
			continue
		}
		if _, err := w.finish(ctx, t); err != nil {
			return worked, err
		}
		worked = true
	}
	return worked, nil
}

// deferTask hands a rate limited task back to its pending pool without running it.
func (w *Worker) deferTask(ctx context.Context, t *task.Task) error {
	t.AddReason(task.ReasonRateLimit)

	b := w.env.Store.NewBatch()
	w.env.Running.Remove(b, t)
	if err := w.env.Pending.PushBatch(b, t); err != nil {
		return err
	}
	w.env.Instances.Incr(b, t.InstanceID, stats.RateLimited)
	if err := b.Commit(ctx); err != nil {
		return fmt.Errorf("commit rate limit deferral %s: %w", t.ID, err)
	}

	metrics.ObserveTask(t.InstanceID, string(stats.RateLimited))
	w.logger.Debug("task deferred by rate limit",
		zap.String("instance_id", t.InstanceID),
		zap.String("task_id", t.ID),
		zap.Int("second_rate_limit", t.SecondRateLimit),
	)
	return nil
}

// finish runs the crawl and process phases of t and records the outcome. The returned
// error is non-nil only for unclassified faults, which leave t in the running pool.
func (w *Worker) finish(ctx context.Context, t *task.Task) (task.Outcome, error) {
	ctx, span := w.env.Tracer.Start(ctx, "task.finish", trace.WithAttributes(
		attribute.String("instance_id", t.InstanceID),
		attribute.String("task_id", t.ID),
		attribute.String("func_name", t.FuncName),
	))
	defer span.End()

	outcome, err := w.execute(ctx, t)
	span.SetAttributes(attribute.String("outcome", outcome.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return outcome, err
}

func (w *Worker) execute(ctx context.Context, t *task.Task) (task.Outcome, error) {
	if err := w.env.Instances.SetTaskActive(ctx, t.InstanceID); err != nil {
		return task.OutcomeEmpty, err
	}
	logger := w.logger.With(
		zap.String("instance_id", t.InstanceID),
		zap.String("task_id", t.ID),
		zap.String("func_name", t.FuncName),
		zap.String("url", t.URL),
	)

	start := w.env.Clock.Now()
	crawlCtx, crawlSpan := w.env.Tracer.Start(ctx, "task.crawl")
	payload, err := w.env.Handler.Crawl(crawlCtx, t)
	crawlSpan.End()
	crawlSeconds := w.env.Clock.Now().Sub(start).Seconds()
	metrics.ObservePhase("crawl", crawlSeconds)
	if err != nil {
		var crawlErr *task.CrawlError
		if !errors.As(err, &crawlErr) {
			return task.OutcomeEmpty, fmt.Errorf("crawl task %s: %w", t.ID, err)
		}
		t.CrawlErrorTraceback = crawlErr.Traceback
		if err := w.fail(ctx, t, w.env.CrawlErrors, stats.CrawlError); err != nil {
			return task.OutcomeCrawlError, err
		}
		logger.Warn("crawl failed", zap.String("outcome", task.OutcomeCrawlError.String()), zap.Error(err))
		return task.OutcomeCrawlError, nil
	}
	if len(payload) == 0 {
		metrics.ObserveTask(t.InstanceID, task.OutcomeEmpty.String())
		logger.Debug("crawl returned nothing", zap.String("outcome", task.OutcomeEmpty.String()))
		return task.OutcomeEmpty, nil
	}

	start = w.env.Clock.Now()
	processCtx, processSpan := w.env.Tracer.Start(ctx, "task.process")
	err = w.env.Handler.Process(processCtx, t, payload)
	processSpan.End()
	processSeconds := w.env.Clock.Now().Sub(start).Seconds()
	metrics.ObservePhase("process", processSeconds)
	if err != nil {
		var processErr *task.ProcessError
		if !errors.As(err, &processErr) {
			return task.OutcomeEmpty, fmt.Errorf("process task %s: %w", t.ID, err)
		}
		t.PageRaw = bytes.Clone(payload)
		t.ProcessErrorTraceback = processErr.Traceback
		if err := w.fail(ctx, t, w.env.ProcessErrors, stats.ProcessError); err != nil {
			return task.OutcomeProcessError, err
		}
		logger.Warn("process failed", zap.String("outcome", task.OutcomeProcessError.String()), zap.Error(err))
		return task.OutcomeProcessError, nil
	}

	t.CrawlSeconds = crawlSeconds
	t.ProcessSeconds = processSeconds
	b := w.env.Store.NewBatch()
	w.env.Instances.Incr(b, t.InstanceID, stats.Success)
	w.env.Cluster.Incr(b, stats.Success)
	if err := w.env.Instances.AddTaskForTimeCost(b, t); err != nil {
		return task.OutcomeSuccess, err
	}
	w.env.Running.Remove(b, t)
	if err := b.Commit(ctx); err != nil {
		return task.OutcomeSuccess, fmt.Errorf("commit success %s: %w", t.ID, err)
	}

	metrics.ObserveTask(t.InstanceID, task.OutcomeSuccess.String())
	logger.Info("task finished",
		zap.String("outcome", task.OutcomeSuccess.String()),
		zap.Float64("crawl_seconds", crawlSeconds),
		zap.Float64("process_seconds", processSeconds),
	)
	return task.OutcomeSuccess, nil
}

// fail routes a task-scoped failure: warning pool first, then error log, running removal
// and counters in one batch.
func (w *Worker) fail(ctx context.Context, t *task.Task, log *pool.ErrorLog, counter stats.Counter) error {
	admission, err := w.env.Warnings.Add(ctx, t)
	if err != nil {
		return fmt.Errorf("add warning %s: %w", t.ID, err)
	}
	metrics.ObserveWarningAdmission(admission.String())

	b := w.env.Store.NewBatch()
	if err := log.Add(b, t); err != nil {
		return err
	}
	w.env.Running.Remove(b, t)
	w.env.Instances.Incr(b, t.InstanceID, counter)
	w.env.Cluster.Incr(b, counter)
	if err := b.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s %s: %w", counter, t.ID, err)
	}
	metrics.ObserveTask(t.InstanceID, string(counter))
	return nil
}

func (w *Worker) fault(ctx context.Context, err error) {
	detail := err.Error()
	var p *panicError
	if errors.As(err, &p) {
		detail = fmt.Sprintf("%s\n%s", p.Error(), p.stack)
	}
	metrics.ObserveFault()
	w.logger.Error("sweep faulted",
		zap.Error(err),
		zap.String("trace", detail),
		zap.Duration("backoff", w.cfg.FaultBackoff),
	)
	if w.env.Unknown == nil {
		return
	}
	f := pool.Fault{
		Thread: w.cfg.ThreadName,
		Host:   w.env.HostIP,
		At:     w.env.Clock.Now(),
		Trace:  detail,
	}
	if err := w.env.Unknown.Add(ctx, f); err != nil {
		w.logger.Error("record fault failed", zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
