package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"engagement-tracker-go/internal/config"
	"engagement-tracker-go/internal/syncer"
)

// Syncer runs one polling sync
type Syncer interface {
	Sync(ctx context.Context, since *time.Time) (*syncer.Outcome, error)
}

// Scheduler triggers the polling sync periodically
type Scheduler struct {
	cron      *cron.Cron
	entryID   cron.EntryID
	config    *config.SchedulerConfig
	syncer    Syncer
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	lastRun   time.Time
	mu        sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg *config.SchedulerConfig, s Syncer) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		config: cfg,
		syncer: s,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}
	if s.config.IntervalMinutes <= 0 {
		return fmt.Errorf("invalid scheduler interval: %d minutes", s.config.IntervalMinutes)
	}

	if s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}

	schedule := fmt.Sprintf("0 */%d * * * *", s.config.IntervalMinutes)

	entryID, err := s.cron.AddFunc(schedule, s.runSync)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started with interval: %d minutes", s.config.IntervalMinutes)
	return nil
}

// Stop stops the scheduler and waits for a running sync to finish
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.cancel()

	ctx := s.cron.Stop()
	s.cron.Remove(s.entryID)

	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *Scheduler) runSync() {
	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		logrus.Info("Scheduler not running, skipping sync")
		return
	}
	ctx := s.ctx
	s.mu.RUnlock()

	if _, err := s.sync(ctx); err != nil && !errors.Is(err, syncer.ErrSyncInProgress) {
		logrus.WithError(err).Error("Scheduled sync failed")
	}
}

func (s *Scheduler) sync(ctx context.Context) (*syncer.Outcome, error) {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.Lock()
	s.lastRun = time.Now()
	s.mu.Unlock()

	logrus.Info("Starting scheduled sync")
	outcome, err := s.syncer.Sync(ctx, nil)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"events_created": outcome.EventsCreated,
		"events_skipped": outcome.EventsSkipped,
	}).Info("Scheduled sync completed")
	return outcome, nil
}

// RunOnce runs a sync immediately, outside the schedule
func (s *Scheduler) RunOnce(ctx context.Context) (*syncer.Outcome, error) {
	logrus.Info("Running sync once")
	return s.sync(ctx)
}

// GetNextRun returns the time of the next scheduled run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// GetLastRun returns when a sync was last started by the scheduler
func (s *Scheduler) GetLastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun
}

// Wait waits for in-flight syncs to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
