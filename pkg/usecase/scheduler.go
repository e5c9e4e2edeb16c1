package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/secmon-lab/cyberscope/pkg/domain/model"
	"github.com/secmon-lab/cyberscope/pkg/utils/apperr"
)

// Scheduler drives Collector cycles on a fixed interval and accepts
// on-demand triggers. Cycles never overlap: the collector's own
// single-flight guard is the source of truth, the scheduler just never
// issues two concurrently.
type Scheduler struct {
	collector *Collector
	interval  time.Duration
	trigger   chan struct{}
}

// NewScheduler creates a new Scheduler
func NewScheduler(collector *Collector, interval time.Duration) *Scheduler {
	return &Scheduler{
		collector: collector,
		interval:  interval,
		trigger:   make(chan struct{}, 1),
	}
}

// Trigger requests an on-demand cycle. It never blocks; a trigger
// while one is already queued is coalesced.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run executes the scheduling loop until the context is cancelled.
// After a failed cycle the collector's backoff delay replaces the
// regular interval, so retries back off exponentially up to the cap.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := ctxlog.From(ctx)
	logger.Info("Scheduler started", "interval", s.interval)

	// First cycle runs immediately on startup
	s.runOnce(ctx)

	for {
		delay := s.interval
		if backoff := s.collector.NextDelay(); backoff > 0 && backoff < delay {
			delay = backoff
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("Scheduler stopped")
			return ctx.Err()
		case <-s.trigger:
			timer.Stop()
		case <-timer.C:
		}

		s.runOnce(ctx)
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if _, err := s.collector.RunCycle(ctx); err != nil {
		if errors.Is(err, model.ErrCycleInProgress) || errors.Is(err, context.Canceled) {
			return
		}
		apperr.Handle(ctx, err)
	}
}
