package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/events"
)

type fakeIndex struct {
	refreshes atomic.Int32
	err       error
}

func (f *fakeIndex) Refresh(ctx context.Context) error {
	f.refreshes.Add(1)
	return f.err
}

func (f *fakeIndex) Len() int { return 4 }

type fakeBudget struct {
	resumed []string
	err     error
}

func (f *fakeBudget) ResetAtDayBoundary(ctx context.Context) ([]string, error) {
	return f.resumed, f.err
}

type fakeSweeper struct {
	runs    atomic.Int32
	summary events.ReconcileSummary
	err     error
}

func (f *fakeSweeper) Run(ctx context.Context) (events.ReconcileSummary, error) {
	f.runs.Add(1)
	return f.summary, f.err
}

type fakePurger struct {
	at time.Time
}

func (f *fakePurger) PurgeExpired(ctx context.Context, now time.Time) error {
	f.at = now
	return nil
}

type fakeRecorder struct {
	ok, failed int
	size       int
}

func (f *fakeRecorder) RecordIndexRefresh(ok bool) {
	if ok {
		f.ok++
		return
	}
	f.failed++
}

func (f *fakeRecorder) SetIndexSize(bids int) { f.size = bids }

func TestRefreshIndex(t *testing.T) {
	ix := &fakeIndex{}
	rec := &fakeRecorder{}
	s := New(Config{Index: ix, Recorder: rec, Logger: log.NewNopLogger()})

	require.NoError(t, s.RefreshIndex(context.Background()))
	assert.Equal(t, 1, rec.ok)
	assert.Equal(t, 4, rec.size)

	ix.err = errors.New("db down")
	assert.Error(t, s.RefreshIndex(context.Background()))
	assert.Equal(t, 1, rec.failed)
}

func TestResetDay(t *testing.T) {
	ix := &fakeIndex{}
	purger := &fakePurger{}
	fixed := time.Date(2026, 3, 10, 0, 0, 5, 0, time.UTC)
	s := New(Config{
		Index:  ix,
		Budget: &fakeBudget{resumed: []string{"trailco"}},
		Purger: purger,
	})
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.ResetDay(context.Background()))
	assert.Equal(t, int32(1), ix.refreshes.Load())
	assert.Equal(t, fixed, purger.at)
}

func TestResetDay_FailureSkipsRefresh(t *testing.T) {
	ix := &fakeIndex{}
	s := New(Config{Index: ix, Budget: &fakeBudget{err: errors.New("store down")}})

	assert.Error(t, s.ResetDay(context.Background()))
	assert.Equal(t, int32(0), ix.refreshes.Load())
}

func TestReconcile(t *testing.T) {
	sweeper := &fakeSweeper{summary: events.ReconcileSummary{Confirmed: 2, Pending: 1}}
	s := New(Config{Sweeper: sweeper})

	require.NoError(t, s.Reconcile(context.Background()))

	sweeper.err = errors.New("list failed")
	assert.Error(t, s.Reconcile(context.Background()))
}

func TestStart_RegistersConfiguredJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ix := &fakeIndex{}
	s := New(Config{
		RefreshInterval: 50 * time.Millisecond,
		DayResetCron:    "0 0 * * *",
		ReconcileCron:   "*/5 * * * *",
		Index:           ix,
		Budget:          &fakeBudget{},
		Sweeper:         &fakeSweeper{},
	})
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	assert.Equal(t, 3, s.Jobs())
	assert.Eventually(t, func() bool { return ix.refreshes.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestStart_SkipsDisabledJobs(t *testing.T) {
	s := New(Config{ReconcileCron: "*/5 * * * *"})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Equal(t, 0, s.Jobs())
}

func TestStart_InvalidCron(t *testing.T) {
	s := New(Config{DayResetCron: "every midnight", Budget: &fakeBudget{}})

	err := s.Start(context.Background())

	assert.Error(t, err)
}
