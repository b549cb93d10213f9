package job

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahmethakanbesel/pricewatch/internal/apperror"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Manager is the in-memory job table. Every method copies jobs in and out,
// so callers never share state with the table.
type Manager struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	seq  uint64

	now   func() time.Time
	newID func() string

	stopCleanup context.CancelFunc
	cleanupDone chan struct{}
}

func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		jobs:  make(map[string]*Job),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

type ManagerOption func(*Manager)

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func WithIDGenerator(fn func() string) ManagerOption {
	return func(m *Manager) { m.newID = fn }
}

func notFound(id string) error {
	return apperror.New(apperror.NotFound, fmt.Sprintf("job %s not found", id))
}

func (m *Manager) create(sourceKey, sourceName string, kind Kind, mode string) *Job {
	m.seq++
	j := &Job{
		ID:         m.newID(),
		SourceKey:  sourceKey,
		SourceName: sourceName,
		Kind:       kind,
		Mode:       mode,
		Status:     StatusPending,
		CreatedAt:  m.now(),
		seq:        m.seq,
	}
	m.jobs[j.ID] = j
	return j
}

// Create registers a pending job.
func (m *Manager) Create(sourceKey, sourceName string, kind Kind, mode string) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.create(sourceKey, sourceName, kind, mode)
	return &cp
}

// CreateIfIdle registers a pending job unless the source already has a
// pending or running job, in which case it returns a Conflict error.
func (m *Manager) CreateIfIdle(sourceKey, sourceName string, kind Kind, mode string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isActiveLocked(sourceKey) {
		return nil, apperror.New(apperror.Conflict, fmt.Sprintf("a job for %s is already queued or running", sourceKey))
	}
	cp := *m.create(sourceKey, sourceName, kind, mode)
	return &cp, nil
}

// NewJob describes one job of a batch. Jobs marked First must finish before
// any other job of the same batch is claimed.
type NewJob struct {
	SourceKey  string
	SourceName string
	Kind       Kind
	Mode       string
	First      bool
}

// CreateBatch registers all jobs or none. If any source already has a
// pending or running job it returns a Conflict whose details list the busy
// source keys in request order.
func (m *Manager) CreateBatch(specs []NewJob) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var busy []string
	for _, s := range specs {
		if m.isActiveLocked(s.SourceKey) && !slices.Contains(busy, s.SourceKey) {
			busy = append(busy, s.SourceKey)
		}
	}
	if len(busy) > 0 {
		return nil, apperror.New(apperror.Conflict, "some sources are already queued or running").WithDetails(busy)
	}

	var gates []string
	created := make([]*Job, len(specs))
	for i, s := range specs {
		created[i] = m.create(s.SourceKey, s.SourceName, s.Kind, s.Mode)
		if s.First {
			gates = append(gates, created[i].ID)
		}
	}

	out := make([]Job, len(created))
	for i, j := range created {
		if !specs[i].First && len(gates) > 0 {
			j.After = slices.Clone(gates)
		}
		out[i] = *j
	}
	return out, nil
}

func (m *Manager) Get(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, notFound(id)
	}
	cp := *j
	return &cp, nil
}

// MarkRunning moves a pending job to running. A job that is not pending,
// or whose source already has a running job, is rejected with Conflict.
func (m *Manager) MarkRunning(id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, notFound(id)
	}
	if j.Status != StatusPending {
		return nil, apperror.New(apperror.Conflict, fmt.Sprintf("job %s is %s", id, j.Status))
	}
	if m.isRunningLocked(j.SourceKey) {
		return nil, apperror.New(apperror.Conflict, fmt.Sprintf("a job for %s is already running", j.SourceKey))
	}
	m.start(j)
	cp := *j
	return &cp, nil
}

func (m *Manager) start(j *Job) {
	now := m.now()
	j.Status = StatusRunning
	j.StartTime = &now
}

func (m *Manager) finish(id string, status Status, result any, msg string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, notFound(id)
	}
	if j.Status.Terminal() {
		return nil, apperror.New(apperror.Conflict, fmt.Sprintf("job %s is already %s", id, j.Status))
	}

	end := m.now()
	if j.StartTime == nil {
		j.StartTime = &end
	} else if end.Before(*j.StartTime) {
		end = *j.StartTime
	}
	j.Status = status
	j.EndTime = &end
	j.Result = result
	j.Error = msg

	cp := *j
	return &cp, nil
}

func (m *Manager) Complete(id string, result any) (*Job, error) {
	return m.finish(id, StatusCompleted, result, "")
}

func (m *Manager) Fail(id, msg string) (*Job, error) {
	return m.finish(id, StatusFailed, nil, msg)
}

// ClaimPending moves the oldest pending job whose source is idle, and whose
// After jobs have all finished, to running. It returns nil when nothing can
// run.
func (m *Manager) ClaimPending() *Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	running := make(map[string]bool)
	for _, j := range m.jobs {
		if j.Status == StatusRunning {
			running[j.SourceKey] = true
		}
	}

	var next *Job
	for _, j := range m.jobs {
		if j.Status != StatusPending || running[j.SourceKey] || m.waitingLocked(j) {
			continue
		}
		if next == nil || j.seq < next.seq {
			next = j
		}
	}
	if next == nil {
		return nil
	}
	m.start(next)
	cp := *next
	return &cp
}

func (m *Manager) isRunningLocked(sourceKey string) bool {
	for _, j := range m.jobs {
		if j.SourceKey == sourceKey && j.Status == StatusRunning {
			return true
		}
	}
	return false
}

// isActiveLocked reports whether the source has a pending or running job.
func (m *Manager) isActiveLocked(sourceKey string) bool {
	for _, j := range m.jobs {
		if j.SourceKey == sourceKey && !j.Status.Terminal() {
			return true
		}
	}
	return false
}

// waitingLocked reports whether any job j must run after is unfinished.
// Removed jobs count as finished since only terminal jobs are cleaned up.
func (m *Manager) waitingLocked(j *Job) bool {
	for _, id := range j.After {
		if dep, ok := m.jobs[id]; ok && !dep.Status.Terminal() {
			return true
		}
	}
	return false
}

// IsActive reports whether the source has a pending or running job.
func (m *Manager) IsActive(sourceKey string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isActiveLocked(sourceKey)
}

func (m *Manager) IsRunning(sourceKey string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isRunningLocked(sourceKey)
}

// RunningSources returns the sorted source keys that have a running job.
func (m *Manager) RunningSources() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, j := range m.jobs {
		if j.Status == StatusRunning && !slices.Contains(out, j.SourceKey) {
			out = append(out, j.SourceKey)
		}
	}
	slices.Sort(out)
	return out
}

// List returns matching jobs newest first.
func (m *Manager) List(f ListFilter) Page {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	offset := max(f.Offset, 0)

	m.mu.RLock()
	matched := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.SourceKey != "" && j.SourceKey != f.SourceKey {
			continue
		}
		matched = append(matched, *j)
	}
	m.mu.RUnlock()

	slices.SortFunc(matched, func(a, b Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.seq > b.seq:
			return -1
		case a.seq < b.seq:
			return 1
		}
		return 0
	})

	page := Page{Jobs: []Job{}, Total: len(matched), Offset: offset, Limit: limit}
	if offset < len(matched) {
		page.Jobs = matched[offset:min(offset+limit, len(matched))]
	}
	return page
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{Total: len(m.jobs)}
	for _, j := range m.jobs {
		switch j.Status {
		case StatusPending:
			s.Pending++
		case StatusRunning:
			s.Running++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// Cleanup removes finished jobs created more than maxAge ago and returns
// how many were removed. Pending and running jobs are never removed.
func (m *Manager) Cleanup(maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, j := range m.jobs {
		if j.Status.Terminal() && j.CreatedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup every interval until ctx is done or Close is
// called. Calling it again replaces the previous loop.
func (m *Manager) StartCleanup(ctx context.Context, interval, maxAge time.Duration) {
	m.Close()
	if interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.mu.Lock()
	m.stopCleanup, m.cleanupDone = cancel, done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.Cleanup(maxAge); n > 0 {
					slog.Info("job cleanup", "removed", n, "maxAge", maxAge.String())
				}
			}
		}
	}()
}

// Close stops the cleanup loop and waits for it to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	cancel, done := m.stopCleanup, m.cleanupDone
	m.stopCleanup, m.cleanupDone = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
