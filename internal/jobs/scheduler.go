package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/revaspay/commissions/internal/config"
	"github.com/revaspay/commissions/internal/services/ledger"
	"github.com/revaspay/commissions/internal/services/payout"
)

// Passes are the ledger and payout operations the scheduler runs
type Passes interface {
	ExpireStale(ctx context.Context) (ledger.PassResult, error)
	Recalculate(ctx context.Context) (ledger.PassResult, error)
}

// Batcher runs payout batches
type Batcher interface {
	RunBatch(ctx context.Context) (payout.BatchResult, error)
	StartDue(ctx context.Context) (int, error)
}

// Scheduler runs the periodic commission passes. Every job runs in singleton
// mode so a slow pass is never overlapped by the next tick.
type Scheduler struct {
	cron    *gocron.Scheduler
	ledger  Passes
	payouts Batcher
	cfg     config.SchedulerConfig
	logger  *slog.Logger
}

// NewScheduler creates a scheduler in loc
func NewScheduler(cfg config.SchedulerConfig, ledger Passes, payouts Batcher, loc *time.Location, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron:    gocron.NewScheduler(loc),
		ledger:  ledger,
		payouts: payouts,
		cfg:     cfg,
		logger:  logger,
	}
}

// Register adds every job with a positive interval
func (s *Scheduler) Register() error {
	jobs := []struct {
		name     string
		interval time.Duration
		run      func(ctx context.Context) error
	}{
		{"commission_expiry", s.cfg.ExpiryInterval, s.runExpiry},
		{"commission_recalculate", s.cfg.RecalculateInterval, s.runRecalculate},
		{"payout_batch", s.cfg.PayoutBatchInterval, s.runPayoutBatch},
		{"payout_start", s.cfg.PayoutStartInterval, s.runPayoutStart},
	}

	for _, job := range jobs {
		if job.interval <= 0 {
			s.logger.Info("scheduled job disabled", "job", job.name)
			continue
		}
		job := job
		_, err := s.cron.Every(job.interval).Tag(job.name).SingletonMode().WaitForSchedule().Do(func() {
			s.run(job.name, job.run)
		})
		if err != nil {
			return fmt.Errorf("error scheduling %s: %w", job.name, err)
		}
		s.logger.Info("scheduled job registered", "job", job.name, "interval", job.interval)
	}
	return nil
}

// Start starts the scheduler in the background
func (s *Scheduler) Start() {
	s.cron.StartAsync()
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// RunNow runs a named job synchronously
func (s *Scheduler) RunNow(name string) error {
	return s.cron.RunByTag(name)
}

func (s *Scheduler) run(name string, fn func(ctx context.Context) error) {
	ctx := context.Background()
	if s.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.BatchTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := fn(ctx); err != nil {
		s.logger.Error("scheduled job failed", "job", name, "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Debug("scheduled job finished", "job", name, "duration", time.Since(start))
}

func (s *Scheduler) runExpiry(ctx context.Context) error {
	_, err := s.ledger.ExpireStale(ctx)
	return err
}

func (s *Scheduler) runRecalculate(ctx context.Context) error {
	_, err := s.ledger.Recalculate(ctx)
	return err
}

func (s *Scheduler) runPayoutBatch(ctx context.Context) error {
	_, err := s.payouts.RunBatch(ctx)
	return err
}

func (s *Scheduler) runPayoutStart(ctx context.Context) error {
	started, err := s.payouts.StartDue(ctx)
	if started > 0 {
		s.logger.Info("payouts started", "count", started)
	}
	return err
}
