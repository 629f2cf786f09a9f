// Package scheduler fires the periodic sync and cleanup jobs
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/coordinator"
	"github.com/brandon/mailsync/internal/janitor"
)

// Syncer runs a sync cycle over every active account
type Syncer interface {
	SyncAll(ctx context.Context, cycle coordinator.Cycle, limit int) (*coordinator.Summary, error)
}

// Cleaner runs one cache sweep
type Cleaner interface {
	Run(ctx context.Context) (*janitor.Report, error)
}

// Config holds job cadences and limits
type Config struct {
	QuickInterval   time.Duration
	QuickLimit      int
	DeepInterval    time.Duration
	DeepLimit       int
	CleanupSchedule string
	OnStart         bool
}

// Scheduler owns the cron timers. Each job is skipped while its previous
// run is still going.
type Scheduler struct {
	cron    *cron.Cron
	syncer  Syncer
	cleaner Cleaner
	cfg     Config
	logger  *logrus.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New registers the jobs. Nothing runs until Start.
func New(syncer Syncer, cleaner Cleaner, cfg Config, logger *logrus.Logger) (*Scheduler, error) {
	cronLogger := cron.PrintfLogger(logger)
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		syncer:  syncer,
		cleaner: cleaner,
		cfg:     cfg,
		logger:  logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	jobs := []struct {
		name string
		spec string
		run  func()
	}{
		{"quick sync", every(cfg.QuickInterval), s.quick},
		{"deep sync", every(cfg.DeepInterval), s.deep},
		{"cleanup", cfg.CleanupSchedule, s.cleanup},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(j.spec, j.run); err != nil {
			return nil, fmt.Errorf("failed to schedule %s (%q): %w", j.name, j.spec, err)
		}
		logger.WithFields(logrus.Fields{"job": j.name, "schedule": j.spec}).Debug("Job registered")
	}
	return s, nil
}

func every(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return "@every " + d.String()
}

// Start begins firing jobs, plus one immediate quick sync when configured
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.logger.WithField("jobs", len(s.cron.Entries())).Info("Scheduler started")

	if s.cfg.OnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.quick()
		}()
	}
}

// Stop cancels running jobs and waits for them, or for ctx
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) quick() {
	s.runSync(coordinator.CycleQuick, s.cfg.QuickLimit)
}

func (s *Scheduler) deep() {
	s.runSync(coordinator.CycleDeep, s.cfg.DeepLimit)
}

func (s *Scheduler) runSync(cycle coordinator.Cycle, limit int) {
	if s.ctx.Err() != nil {
		return
	}
	if _, err := s.syncer.SyncAll(s.ctx, cycle, limit); err != nil {
		s.logger.WithError(err).WithField("cycle", cycle).Error("Sync cycle failed")
	}
}

func (s *Scheduler) cleanup() {
	if s.ctx.Err() != nil || s.cleaner == nil {
		return
	}
	if _, err := s.cleaner.Run(s.ctx); err != nil {
		s.logger.WithError(err).Error("Cache cleanup failed")
	}
}
