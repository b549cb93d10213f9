package job

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmethakanbesel/pricewatch/internal/apperror"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestManager_Lifecycle(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(WithClock(clock.Now))

	j := m.Create("disco", "Disco", KindSync, "categories")
	assert.Equal(t, StatusPending, j.Status)
	assert.Nil(t, j.StartTime)
	assert.Nil(t, j.EndTime)
	assert.Equal(t, clock.Now(), j.CreatedAt)

	clock.Advance(time.Second)
	running, err := m.MarkRunning(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, running.Status)
	require.NotNil(t, running.StartTime)

	_, err = m.MarkRunning(j.ID)
	assert.True(t, apperror.Is(err, apperror.Conflict), "second start must be rejected")

	clock.Advance(5 * time.Second)
	done, err := m.Complete(j.ID, map[string]int{"saved": 3})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.EndTime)
	assert.False(t, done.EndTime.Before(*done.StartTime))
	assert.Equal(t, 5*time.Second, done.Duration())
	assert.Equal(t, map[string]int{"saved": 3}, done.Result)

	_, err = m.Fail(j.ID, "late")
	assert.True(t, apperror.Is(err, apperror.Conflict))
}

func TestManager_Fail(t *testing.T) {
	m := NewManager()
	j := m.Create("vea", "Vea", KindSync, "codes")
	_, err := m.MarkRunning(j.ID)
	require.NoError(t, err)

	failed, err := m.Fail(j.ID, "resolve merchant Vea: database is locked")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "resolve merchant Vea: database is locked", failed.Error)
	assert.Nil(t, failed.Result)
	assert.NotNil(t, failed.EndTime)
}

func TestManager_OneRunningPerSource(t *testing.T) {
	m := NewManager()
	a := m.Create("disco", "Disco", KindSync, "categories")
	b := m.Create("disco", "Disco", KindSync, "categories")

	_, err := m.MarkRunning(a.ID)
	require.NoError(t, err)
	assert.True(t, m.IsRunning("disco"))
	assert.False(t, m.IsRunning("jumbo"))

	_, err = m.MarkRunning(b.ID)
	assert.True(t, apperror.Is(err, apperror.Conflict))

	_, err = m.CreateIfIdle("disco", "Disco", KindSync, "categories")
	assert.True(t, apperror.Is(err, apperror.Conflict))

	_, err = m.CreateIfIdle("jumbo", "Jumbo", KindSync, "categories")
	assert.NoError(t, err)
	assert.Equal(t, []string{"disco"}, m.RunningSources())
}

func TestManager_CreateIfIdle_RejectsPending(t *testing.T) {
	m := NewManager()

	_, err := m.CreateIfIdle("vea", "Vea", KindSync, "categories")
	require.NoError(t, err)
	assert.True(t, m.IsActive("vea"))
	assert.False(t, m.IsRunning("vea"))

	_, err = m.CreateIfIdle("vea", "Vea", KindSync, "categories")
	assert.True(t, apperror.Is(err, apperror.Conflict))
	assert.Equal(t, 1, m.Stats().Total)
}

func TestManager_CreateBatch(t *testing.T) {
	m := NewManager()
	specs := []NewJob{
		{SourceKey: "disco", SourceName: "Disco", Kind: KindSync, First: true},
		{SourceKey: "jumbo", SourceName: "Jumbo", Kind: KindSync},
		{SourceKey: "vea", SourceName: "Vea", Kind: KindSync},
	}

	jobs, err := m.CreateBatch(specs)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Nil(t, jobs[0].After)
	assert.Equal(t, []string{jobs[0].ID}, jobs[2].After)

	master := m.ClaimPending()
	require.NotNil(t, master)
	assert.Equal(t, jobs[0].ID, master.ID)
	assert.Nil(t, m.ClaimPending())

	_, err = m.Complete(master.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, jobs[1].ID, m.ClaimPending().ID)
	assert.Equal(t, jobs[2].ID, m.ClaimPending().ID)
}

func TestManager_CreateBatch_AllOrNothing(t *testing.T) {
	m := NewManager()
	m.Create("vea", "Vea", KindSync, "categories")

	_, err := m.CreateBatch([]NewJob{
		{SourceKey: "disco", Kind: KindSync, First: true},
		{SourceKey: "vea", Kind: KindSync},
	})
	require.True(t, apperror.Is(err, apperror.Conflict))
	ae, _ := apperror.As(err)
	assert.Equal(t, []string{"vea"}, ae.Details())
	assert.Equal(t, 1, m.Stats().Total)
}

func TestManager_CreateBatch_CleanedUpGateDoesNotBlock(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(WithClock(clock.Now))

	jobs, err := m.CreateBatch([]NewJob{
		{SourceKey: "disco", Kind: KindSync, First: true},
		{SourceKey: "dia", Kind: KindSync},
	})
	require.NoError(t, err)
	master := m.ClaimPending()
	_, err = m.Complete(master.ID, nil)
	require.NoError(t, err)

	clock.Advance(48 * time.Hour)
	// Only terminal jobs are removed; the follower is still pending.
	require.Equal(t, 1, m.Cleanup(24*time.Hour))
	c := m.ClaimPending()
	require.NotNil(t, c)
	assert.Equal(t, jobs[1].ID, c.ID)
}

func TestManager_GetUnknown(t *testing.T) {
	_, err := NewManager().Get("3f1c1f7e-8a55-4d2f-9a4e-0d5b8a1f2c3d")
	assert.True(t, apperror.Is(err, apperror.NotFound))
}

func TestManager_ReturnsCopies(t *testing.T) {
	m := NewManager()
	j := m.Create("disco", "Disco", KindSync, "categories")
	j.Status = StatusFailed

	got, err := m.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestManager_ClaimPending(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(WithClock(clock.Now))

	first := m.Create("disco", "Disco", KindSync, "categories")
	clock.Advance(time.Second)
	second := m.Create("disco", "Disco", KindSync, "categories")
	clock.Advance(time.Second)
	other := m.Create("jumbo", "Jumbo", KindSync, "categories")

	c1 := m.ClaimPending()
	require.NotNil(t, c1)
	assert.Equal(t, first.ID, c1.ID)
	assert.Equal(t, StatusRunning, c1.Status)

	c2 := m.ClaimPending()
	require.NotNil(t, c2)
	assert.Equal(t, other.ID, c2.ID, "busy source is skipped")

	assert.Nil(t, m.ClaimPending())

	_, err := m.Complete(first.ID, nil)
	require.NoError(t, err)
	c3 := m.ClaimPending()
	require.NotNil(t, c3)
	assert.Equal(t, second.ID, c3.ID)
}

func TestManager_List(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(WithClock(clock.Now))

	var ids []string
	for i := range 5 {
		src := "disco"
		if i%2 == 1 {
			src = "jumbo"
		}
		ids = append(ids, m.Create(src, src, KindSync, "categories").ID)
		clock.Advance(time.Minute)
	}
	_, err := m.MarkRunning(ids[0])
	require.NoError(t, err)

	page := m.List(ListFilter{})
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, DefaultListLimit, page.Limit)
	require.Len(t, page.Jobs, 5)
	assert.Equal(t, ids[4], page.Jobs[0].ID, "newest first")
	assert.Equal(t, ids[0], page.Jobs[4].ID)

	page = m.List(ListFilter{SourceKey: "jumbo"})
	assert.Equal(t, 2, page.Total)

	page = m.List(ListFilter{Status: StatusRunning})
	require.Len(t, page.Jobs, 1)
	assert.Equal(t, ids[0], page.Jobs[0].ID)

	page = m.List(ListFilter{Limit: 2, Offset: 2})
	require.Len(t, page.Jobs, 2)
	assert.Equal(t, ids[2], page.Jobs[0].ID)

	page = m.List(ListFilter{Offset: 10})
	assert.Empty(t, page.Jobs)
	assert.NotNil(t, page.Jobs)

	page = m.List(ListFilter{Limit: 1000})
	assert.Equal(t, MaxListLimit, page.Limit)
}

func TestManager_Stats(t *testing.T) {
	m := NewManager()
	a := m.Create("disco", "Disco", KindSync, "")
	b := m.Create("jumbo", "Jumbo", KindSync, "")
	c := m.Create("vea", "Vea", KindSync, "")
	m.Create("dia", "Dia", KindSync, "")

	for _, id := range []string{a.ID, b.ID, c.ID} {
		_, err := m.MarkRunning(id)
		require.NoError(t, err)
	}
	_, _ = m.Complete(a.ID, nil)
	_, _ = m.Fail(b.ID, "boom")

	assert.Equal(t, Stats{Total: 4, Pending: 1, Running: 1, Completed: 1, Failed: 1}, m.Stats())
}

func TestManager_Cleanup(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(WithClock(clock.Now))

	for i := range 5 {
		j := m.Create(fmt.Sprintf("old-%d", i), "old", KindSync, "")
		_, err := m.MarkRunning(j.ID)
		require.NoError(t, err)
		if i%2 == 0 {
			_, err = m.Complete(j.ID, nil)
		} else {
			_, err = m.Fail(j.ID, "x")
		}
		require.NoError(t, err)
	}
	for i := range 2 {
		j := m.Create(fmt.Sprintf("busy-%d", i), "busy", KindSync, "")
		_, err := m.MarkRunning(j.ID)
		require.NoError(t, err)
	}

	clock.Advance(25 * time.Hour)
	recent := m.Create("fresh", "fresh", KindSync, "")
	_, _ = m.MarkRunning(recent.ID)
	_, _ = m.Complete(recent.ID, nil)

	removed := m.Cleanup(24 * time.Hour)
	assert.Equal(t, 5, removed)

	s := m.Stats()
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Running)
	assert.Equal(t, 1, s.Completed)
}

func TestManager_StartCleanup(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(WithClock(clock.Now))
	j := m.Create("disco", "Disco", KindSync, "")
	_, _ = m.MarkRunning(j.ID)
	_, _ = m.Complete(j.ID, nil)
	clock.Advance(2 * time.Hour)

	m.StartCleanup(context.Background(), 10*time.Millisecond, time.Hour)
	t.Cleanup(m.Close)

	assert.Eventually(t, func() bool { return m.Stats().Total == 0 }, 2*time.Second, 10*time.Millisecond)

	m.Close()
	m.Close()
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j := m.Create(fmt.Sprintf("src-%d", i%5), "s", KindSync, "")
			if c := m.ClaimPending(); c != nil {
				_, _ = m.Complete(c.ID, nil)
			}
			_, _ = m.Get(j.ID)
			_ = m.List(ListFilter{})
			_ = m.Stats()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, m.Stats().Total)
	assert.Empty(t, m.RunningSources())
}
