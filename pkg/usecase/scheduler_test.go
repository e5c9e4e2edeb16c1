package usecase_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/cyberscope/pkg/domain/model"
	"github.com/secmon-lab/cyberscope/pkg/repository"
	"github.com/secmon-lab/cyberscope/pkg/service/risk"
	"github.com/secmon-lab/cyberscope/pkg/usecase"
)

func TestScheduler_RunsImmediatelyAndOnTrigger(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cycles atomic.Int64
	feed := feedFunc(func(ctx context.Context, since time.Time, pageToken string) (*model.FeedPage, error) {
		cycles.Add(1)
		return &model.FeedPage{}, nil
	})

	collector := usecase.NewCollector(repository.NewMemory(), feed, risk.NewEngine(model.DefaultRiskPolicy()), staticEnricher())
	scheduler := usecase.NewScheduler(collector, time.Hour)

	done := make(chan struct{})
	go func() {
		_ = scheduler.Run(ctx)
		close(done)
	}()

	// The first cycle fires on startup without waiting for the interval
	waitForCycles(t, &cycles, 1)

	scheduler.Trigger()
	waitForCycles(t, &cycles, 2)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on cancellation")
	}
}

func TestScheduler_TriggerNeverBlocks(t *testing.T) {
	collector := usecase.NewCollector(repository.NewMemory(), singlePageFeed(), risk.NewEngine(model.DefaultRiskPolicy()), staticEnricher())
	scheduler := usecase.NewScheduler(collector, time.Hour)

	// Without a running loop repeated triggers coalesce instead of
	// blocking the caller
	for i := 0; i < 10; i++ {
		scheduler.Trigger()
	}
}

func waitForCycles(t *testing.T, cycles *atomic.Int64, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cycles.Load() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	gt.Equal(t, cycles.Load(), want)
}
