package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/ahmethakanbesel/pricewatch/internal/apperror"
	"github.com/ahmethakanbesel/pricewatch/internal/catalog"
	"github.com/ahmethakanbesel/pricewatch/internal/catalogsync"
	"github.com/ahmethakanbesel/pricewatch/internal/metrics"
	"github.com/ahmethakanbesel/pricewatch/internal/refresh"
	"github.com/ahmethakanbesel/pricewatch/internal/scraper"
)

type SyncRunner interface {
	Run(ctx context.Context, m scraper.Merchant, mode catalogsync.Mode) (*catalogsync.Result, error)
}

type RefreshRunner interface {
	Run(ctx context.Context) (*refresh.Stats, error)
}

// EventSink receives job lifecycle events. Implementations must not block.
type EventSink interface {
	Dispatch(event string, j Job)
}

// Executor turns requests into pending jobs and, as the worker pool's
// Processor, runs claimed jobs to a terminal state.
type Executor struct {
	manager  *Manager
	registry *scraper.Registry
	sync     SyncRunner
	refresh  RefreshRunner
	events   EventSink
	metrics  *metrics.Metrics
	notify   func() // optional: wake worker pool
}

func NewExecutor(manager *Manager, registry *scraper.Registry, sync SyncRunner, refresh RefreshRunner, opts ...ExecutorOption) *Executor {
	e := &Executor{
		manager:  manager,
		registry: registry,
		sync:     sync,
		refresh:  refresh,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

type ExecutorOption func(*Executor)

func WithEvents(s EventSink) ExecutorOption {
	return func(e *Executor) { e.events = s }
}

func WithMetrics(m *metrics.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// SetNotify sets a callback invoked when a new pending job is created.
func (e *Executor) SetNotify(fn func()) { e.notify = fn }

func (e *Executor) wake() {
	if e.notify != nil {
		e.notify()
	}
}

func (e *Executor) Submit(_ context.Context, req SubmitRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	m, err := e.registry.Get(req.SourceKey)
	if err != nil {
		return nil, apperror.New(apperror.NotFound, fmt.Sprintf("unknown source %q", req.SourceKey))
	}
	mode, _ := catalogsync.ParseMode(req.Mode)

	j, err := e.manager.CreateIfIdle(m.Key, m.Name, KindSync, string(mode))
	if err != nil {
		return nil, err
	}
	slog.Info("job queued", "job", j.ID, "source", j.SourceKey, "mode", j.Mode)
	e.wake()
	return j, nil
}

// SubmitAll queues one sync job per merchant. Follower jobs are held until
// the master job of the batch has finished, so followers see the catalog the
// master just wrote. If any merchant is busy nothing is queued and the
// Conflict lists the busy sources.
func (e *Executor) SubmitAll(_ context.Context, req SubmitAllRequest) ([]Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	mode, _ := catalogsync.ParseMode(req.Mode)

	merchants := e.registry.Merchants()
	specs := make([]NewJob, len(merchants))
	for i, m := range merchants {
		specs[i] = NewJob{
			SourceKey:  m.Key,
			SourceName: m.Name,
			Kind:       KindSync,
			Mode:       string(mode),
			First:      m.Role == catalog.RoleMaster,
		}
	}

	jobs, err := e.manager.CreateBatch(specs)
	if err != nil {
		return nil, err
	}
	slog.Info("jobs queued", "count", len(jobs), "mode", mode)
	e.wake()
	return jobs, nil
}

func (e *Executor) SubmitRefresh(_ context.Context) (*Job, error) {
	j, err := e.manager.CreateIfIdle(RefreshSource, "Price refresh", KindRefresh, "")
	if err != nil {
		return nil, err
	}
	slog.Info("job queued", "job", j.ID, "source", j.SourceKey)
	e.wake()
	return j, nil
}

// Process implements Processor. The job has already been claimed, so it is
// running. Failures are recorded on the job; the returned error is only
// for the worker's log.
func (e *Executor) Process(ctx context.Context, j *Job) error {
	e.dispatch(EventStarted, *j)

	result, runErr := e.run(ctx, j)

	var (
		done *Job
		err  error
	)
	if runErr != nil {
		done, err = e.manager.Fail(j.ID, runErr.Error())
	} else {
		done, err = e.manager.Complete(j.ID, result)
	}
	if err != nil {
		slog.Error("job bookkeeping", "job", j.ID, "error", err)
		return errors.Join(runErr, err)
	}

	e.metrics.JobFinished(string(done.Kind), done.SourceKey, string(done.Status), done.Duration())
	slog.Info("job finished", "job", done.ID, "source", done.SourceKey,
		"status", done.Status, "duration", done.Duration().String())

	e.dispatch(EventCompleted, *done)
	return runErr
}

func (e *Executor) run(ctx context.Context, j *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job panicked", "job", j.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch j.Kind {
	case KindSync:
		m, err := e.registry.Get(j.SourceKey)
		if err != nil {
			return nil, err
		}
		mode, err := catalogsync.ParseMode(j.Mode)
		if err != nil {
			return nil, err
		}
		return e.sync.Run(ctx, m, mode)
	case KindRefresh:
		return e.refresh.Run(ctx)
	default:
		return nil, fmt.Errorf("unknown job kind %q", j.Kind)
	}
}

func (e *Executor) dispatch(event string, j Job) {
	if e.events != nil {
		e.events.Dispatch(event, j)
	}
}
