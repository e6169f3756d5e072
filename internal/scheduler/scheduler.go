// Package scheduler runs the engine's background jobs: index refresh,
// the daily budget reset and the reconciliation sweep
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/events"
)

// Refresher rebuilds the bid index
type Refresher interface {
	Refresh(ctx context.Context) error
	Len() int
}

// DayResetter resumes budget-paused campaigns at the day boundary
type DayResetter interface {
	ResetAtDayBoundary(ctx context.Context) ([]string, error)
}

// Sweeper settles unconfirmed clicks
type Sweeper interface {
	Run(ctx context.Context) (events.ReconcileSummary, error)
}

// Purger drops ledger rows for closed days. Only durable ledgers need it.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) error
}

// Recorder receives index metrics
type Recorder interface {
	RecordIndexRefresh(ok bool)
	SetIndexSize(bids int)
}

type nopRecorder struct{}

func (nopRecorder) RecordIndexRefresh(bool) {}
func (nopRecorder) SetIndexSize(int)        {}

// Config holds job schedules and collaborators. A zero RefreshInterval or an
// empty cron expression disables that job.
type Config struct {
	RefreshInterval time.Duration
	DayResetCron    string
	ReconcileCron   string
	// Location is the platform timezone the cron expressions run in
	Location *time.Location
	// JobTimeout bounds one run of any job
	JobTimeout time.Duration

	Index    Refresher
	Budget   DayResetter
	Sweeper  Sweeper
	Purger   Purger
	Recorder Recorder
	Logger   log.Logger
}

// Scheduler owns the gocron scheduler and the job bodies
type Scheduler struct {
	cfg       Config
	scheduler *gocron.Scheduler
	logger    log.Logger
	stopOnce  sync.Once
	now       func() time.Time
}

// New creates a scheduler. Jobs are registered by Start.
func New(cfg Config) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Minute
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	s := gocron.NewScheduler(cfg.Location)
	// a slow run is never overlapped by the next tick
	s.SingletonModeAll()

	return &Scheduler{
		cfg:       cfg,
		scheduler: s,
		logger:    log.With(logger, "component", "scheduler"),
		now:       time.Now,
	}
}

// Start registers the configured jobs and runs them in the background
// until ctx is cancelled or Stop is called
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.RefreshInterval > 0 && s.cfg.Index != nil {
		if _, err := s.scheduler.Every(s.cfg.RefreshInterval).Do(s.job(ctx, s.RefreshIndex)); err != nil {
			return fmt.Errorf("failed to schedule index refresh: %w", err)
		}
	}
	if s.cfg.DayResetCron != "" && s.cfg.Budget != nil {
		if _, err := s.scheduler.Cron(s.cfg.DayResetCron).Do(s.job(ctx, s.ResetDay)); err != nil {
			return fmt.Errorf("failed to schedule day reset %q: %w", s.cfg.DayResetCron, err)
		}
	}
	if s.cfg.ReconcileCron != "" && s.cfg.Sweeper != nil {
		if _, err := s.scheduler.Cron(s.cfg.ReconcileCron).Do(s.job(ctx, s.Reconcile)); err != nil {
			return fmt.Errorf("failed to schedule reconciliation %q: %w", s.cfg.ReconcileCron, err)
		}
	}

	level.Info(s.logger).Log("msg", "scheduler started", "jobs", s.scheduler.Len(), "refresh_interval", s.cfg.RefreshInterval, "day_reset", s.cfg.DayResetCron, "reconcile", s.cfg.ReconcileCron, "location", s.cfg.Location.String())
	s.scheduler.StartAsync()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the scheduler. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.scheduler.Stop()
		level.Info(s.logger).Log("msg", "scheduler stopped")
	})
}

// Jobs reports how many jobs are registered
func (s *Scheduler) Jobs() int {
	return s.scheduler.Len()
}

func (s *Scheduler) job(parent context.Context, run func(ctx context.Context) error) func() {
	return func() {
		if parent.Err() != nil {
			return
		}
		ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
		defer cancel()
		_ = run(ctx)
	}
}

// RefreshIndex rebuilds the bid index. A failed rebuild keeps serving the
// previous snapshot.
func (s *Scheduler) RefreshIndex(ctx context.Context) error {
	err := s.cfg.Index.Refresh(ctx)
	s.cfg.Recorder.RecordIndexRefresh(err == nil)
	if err != nil {
		level.Error(s.logger).Log("msg", "index refresh failed", "err", err)
		return err
	}
	s.cfg.Recorder.SetIndexSize(s.cfg.Index.Len())
	return nil
}

// ResetDay runs at the platform-timezone midnight: campaigns paused for
// budget exhaustion come back, the index picks them up, and a durable
// ledger drops closed days
func (s *Scheduler) ResetDay(ctx context.Context) error {
	resumed, err := s.cfg.Budget.ResetAtDayBoundary(ctx)
	if err != nil {
		level.Error(s.logger).Log("msg", "day reset failed", "err", err)
		return err
	}
	level.Info(s.logger).Log("msg", "budget day reset", "resumed", len(resumed))

	if s.cfg.Index != nil {
		if err := s.RefreshIndex(ctx); err != nil {
			return err
		}
	}

	if s.cfg.Purger != nil {
		if err := s.cfg.Purger.PurgeExpired(ctx, s.now()); err != nil {
			level.Warn(s.logger).Log("msg", "ledger purge failed", "err", err)
		}
	}
	return nil
}

// Reconcile runs one reconciliation sweep
func (s *Scheduler) Reconcile(ctx context.Context) error {
	summary, err := s.cfg.Sweeper.Run(ctx)
	if err != nil {
		level.Error(s.logger).Log("msg", "reconciliation failed", "err", err)
		return err
	}
	if summary.Pending > 0 {
		level.Warn(s.logger).Log("msg", "clicks left unconfirmed", "pending", summary.Pending)
	}
	return nil
}
