package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/cyberscope/pkg/domain/interfaces"
	"github.com/secmon-lab/cyberscope/pkg/domain/model"
	"github.com/secmon-lab/cyberscope/pkg/domain/types"
	"github.com/secmon-lab/cyberscope/pkg/repository"
	"github.com/secmon-lab/cyberscope/pkg/service/risk"
	"github.com/secmon-lab/cyberscope/pkg/usecase"
)

type feedFunc func(ctx context.Context, since time.Time, pageToken string) (*model.FeedPage, error)

func (f feedFunc) Fetch(ctx context.Context, since time.Time, pageToken string) (*model.FeedPage, error) {
	return f(ctx, since, pageToken)
}

type enrichFunc func(ctx context.Context, threat *model.Threat) *model.Enrichment

func (f enrichFunc) Enrich(ctx context.Context, threat *model.Threat) *model.Enrichment {
	return f(ctx, threat)
}

type notifyFunc func(ctx context.Context, title, detail string) error

func (f notifyFunc) NotifyAlert(ctx context.Context, title, detail string) error {
	return f(ctx, title, detail)
}

// countingRepo counts threat upserts so tests can assert idempotence
type countingRepo struct {
	interfaces.Repository
	puts atomic.Int64
}

func (r *countingRepo) PutThreatWithRisk(ctx context.Context, threat *model.Threat, risk *model.RiskScore) error {
	r.puts.Add(1)
	return r.Repository.PutThreatWithRisk(ctx, threat, risk)
}

func staticEnricher() interfaces.Enricher {
	return enrichFunc(func(ctx context.Context, threat *model.Threat) *model.Enrichment {
		return &model.Enrichment{
			ThreatID:        threat.ID,
			Summary:         "analysis of " + string(threat.ID),
			Mitigation:      "patch",
			Provider:        types.ProviderLLM,
			Status:          types.EnrichmentComplete,
			DescriptionHash: model.HashDescription(threat.Description),
			GeneratedAt:     time.Now(),
		}
	})
}

func singlePageFeed(records ...model.RawRecord) interfaces.FeedClient {
	return feedFunc(func(ctx context.Context, since time.Time, pageToken string) (*model.FeedPage, error) {
		return &model.FeedPage{Records: records}, nil
	})
}

func rawRecord(id string, severity, published string) model.RawRecord {
	return model.RawRecord{
		ID:          id,
		Title:       "Vulnerability " + id,
		Description: "Description of " + id,
		SeverityRaw: severity,
		Published:   published,
		Source:      "NVD",
	}
}

func waitForEnrichment(t *testing.T, ctx context.Context, repo interfaces.Repository, id types.ThreatID) *model.Enrichment {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		enrichment, err := repo.GetEnrichment(ctx, id)
		if err == nil && enrichment.Status.IsTerminal() {
			return enrichment
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("enrichment never reached a terminal state")
	return nil
}

func TestCollector_RunCycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := repository.NewMemory()
	engine := risk.NewEngine(model.DefaultRiskPolicy())

	feed := singlePageFeed(
		rawRecord("CVE-2024-0001", "9.8", "2024-05-30T10:00:00Z"),
		rawRecord("CVE-2024-0002", "5.0", "2024-04-01T10:00:00Z"),
	)

	collector := usecase.NewCollector(repo, feed, engine, staticEnricher(),
		usecase.WithClock(func() time.Time { return now }),
	)

	report, err := collector.RunCycle(ctx)
	gt.NoError(t, err)
	gt.Equal(t, report.Fetched, 2)
	gt.Equal(t, report.Normalized, 2)
	gt.Equal(t, report.NewOrUpdated, 2)
	gt.Equal(t, report.EnrichmentsQueued, 2)
	gt.B(t, report.CheckpointAdvanced).True()

	// Checkpoint advanced to the cycle start
	checkpoint, err := repo.GetCheckpoint(ctx)
	gt.NoError(t, err)
	gt.Equal(t, checkpoint, now)

	// The fresh critical threat got the trending boost
	threat, err := repo.GetThreat(ctx, "CVE-2024-0001")
	gt.NoError(t, err)
	gt.Equal(t, threat.SeverityTier, types.SeverityCritical)

	score, err := repo.GetRiskScore(ctx, "CVE-2024-0001")
	gt.NoError(t, err)
	gt.B(t, score.Trending).True()
	gt.Equal(t, score.Score, 100.0)
	gt.Equal(t, score.Category, types.RiskCritical)

	// The two-month-old medium threat decayed without a boost
	oldScore, err := repo.GetRiskScore(ctx, "CVE-2024-0002")
	gt.NoError(t, err)
	gt.B(t, oldScore.Trending).False()
	gt.B(t, oldScore.Score < 50.0).True()

	// Background enrichment lands eventually
	enrichment := waitForEnrichment(t, ctx, repo, "CVE-2024-0001")
	gt.Equal(t, enrichment.Status, types.EnrichmentComplete)
	gt.Equal(t, enrichment.Summary, "analysis of CVE-2024-0001")
}

func TestCollector_RunCycle_Idempotent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := &countingRepo{Repository: repository.NewMemory()}
	engine := risk.NewEngine(model.DefaultRiskPolicy())

	feed := singlePageFeed(rawRecord("CVE-2024-0001", "7.5", "2024-05-30T10:00:00Z"))

	collector := usecase.NewCollector(repo, feed, engine, staticEnricher(),
		usecase.WithClock(func() time.Time { return now }),
	)

	_, err := collector.RunCycle(ctx)
	gt.NoError(t, err)
	gt.Equal(t, repo.puts.Load(), int64(1))
	waitForEnrichment(t, ctx, repo, "CVE-2024-0001")

	// Re-fetching the same window writes nothing
	report, err := collector.RunCycle(ctx)
	gt.NoError(t, err)
	gt.Equal(t, report.NewOrUpdated, 0)
	gt.Equal(t, report.EnrichmentsQueued, 0)
	gt.Equal(t, repo.puts.Load(), int64(1))
}

func TestCollector_RunCycle_OlderRevisionIgnored(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := &countingRepo{Repository: repository.NewMemory()}
	engine := risk.NewEngine(model.DefaultRiskPolicy())

	newer := rawRecord("CVE-2024-0001", "7.5", "2024-05-20T10:00:00Z")
	newer.Modified = "2024-05-30T10:00:00Z"
	older := rawRecord("CVE-2024-0001", "7.5", "2024-05-20T10:00:00Z")
	older.Modified = "2024-05-25T10:00:00Z"

	pages := [][]model.RawRecord{{newer}, {older}}
	var call atomic.Int64
	feed := feedFunc(func(ctx context.Context, since time.Time, pageToken string) (*model.FeedPage, error) {
		idx := call.Add(1) - 1
		return &model.FeedPage{Records: pages[idx]}, nil
	})

	collector := usecase.NewCollector(repo, feed, engine, staticEnricher(),
		usecase.WithClock(func() time.Time { return now }),
	)

	_, err := collector.RunCycle(ctx)
	gt.NoError(t, err)
	waitForEnrichment(t, ctx, repo, "CVE-2024-0001")

	report, err := collector.RunCycle(ctx)
	gt.NoError(t, err)
	gt.Equal(t, report.NewOrUpdated, 0)
	gt.Equal(t, repo.puts.Load(), int64(1))

	// The stored revision keeps the newer timestamp
	threat, err := repo.GetThreat(ctx, "CVE-2024-0001")
	gt.NoError(t, err)
	gt.Equal(t, threat.ModifiedAt, time.Date(2024, 5, 30, 10, 0, 0, 0, time.UTC))
}

func TestCollector_RunCycle_RequeuesStuckPendingEnrichment(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := &countingRepo{Repository: repository.NewMemory()}
	engine := risk.NewEngine(model.DefaultRiskPolicy())

	// A previous cycle stored the threat and the PENDING marker, then
	// died before the background provider call landed. The checkpoint
	// never advanced, so the same record comes back on the next cycle.
	published := time.Date(2024, 5, 30, 10, 0, 0, 0, time.UTC)
	threat, err := model.NewThreat("CVE-2024-0001", "Vulnerability CVE-2024-0001",
		"Description of CVE-2024-0001", 9.8, published, published, "NVD", now.Add(-time.Hour))
	gt.NoError(t, err)
	score := engine.Score(threat, threat.AgeInDays(now), engine.IsTrending(threat, now), now)
	gt.NoError(t, repo.PutThreatWithRisk(ctx, threat, score))
	gt.NoError(t, repo.PutEnrichment(ctx, model.NewPendingEnrichment(threat.ID, threat.Description, now.Add(-time.Hour))))

	feed := singlePageFeed(rawRecord("CVE-2024-0001", "9.8", "2024-05-30T10:00:00Z"))
	collector := usecase.NewCollector(repo, feed, engine, staticEnricher(),
		usecase.WithClock(func() time.Time { return now }),
	)

	// The revision is unchanged so the threat is not rewritten, but the
	// stuck PENDING enrichment is queued again
	report, err := collector.RunCycle(ctx)
	gt.NoError(t, err)
	gt.Equal(t, report.NewOrUpdated, 0)
	gt.Equal(t, report.EnrichmentsQueued, 1)
	gt.Equal(t, repo.puts.Load(), int64(1))

	enrichment := waitForEnrichment(t, ctx, repo, threat.ID)
	gt.Equal(t, enrichment.Status, types.EnrichmentComplete)
	gt.Equal(t, enrichment.Summary, "analysis of CVE-2024-0001")
}

func TestCollector_RunCycle_CancellationKeepsBackoffState(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := repository.NewMemory()
	engine := risk.NewEngine(model.DefaultRiskPolicy())

	feed := feedFunc(func(ctx context.Context, since time.Time, pageToken string) (*model.FeedPage, error) {
		return nil, goerr.New("down", goerr.T(model.ErrTagFeedUnavailable))
	})

	var alerts atomic.Int64
	notifier := notifyFunc(func(ctx context.Context, title, detail string) error {
		alerts.Add(1)
		return nil
	})

	collector := usecase.NewCollector(repo, feed, engine, staticEnricher(),
		usecase.WithClock(func() time.Time { return now }),
		usecase.WithBackoff(time.Second, time.Minute),
		usecase.WithNotifier(notifier),
	)

	for i := 0; i < 2; i++ {
		_, err := collector.RunCycle(context.Background())
		gt.Error(t, err)
	}
	gt.Equal(t, collector.NextDelay(), 2*time.Second)

	// A shutdown mid-cycle is not a third failure: backoff stays where
	// it was and no alert fires
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := collector.RunCycle(ctx)
	gt.Error(t, err)
	gt.B(t, errors.Is(err, context.Canceled)).True()
	gt.Equal(t, collector.NextDelay(), 2*time.Second)
	gt.Equal(t, alerts.Load(), int64(0))
}

func TestCollector_RunCycle_RejectsMalformed(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := repository.NewMemory()
	engine := risk.NewEngine(model.DefaultRiskPolicy())

	feed := singlePageFeed(
		rawRecord("CVE-2024-0001", "7.5", "2024-05-30T10:00:00Z"),
		rawRecord("CVE-2024-0002", "not-a-number", "2024-05-30T10:00:00Z"),
		rawRecord("", "5.0", "2024-05-30T10:00:00Z"),
	)

	collector := usecase.NewCollector(repo, feed, engine, staticEnricher(),
		usecase.WithClock(func() time.Time { return now }),
	)

	// Malformed records are skipped, the cycle still commits
	report, err := collector.RunCycle(ctx)
	gt.NoError(t, err)
	gt.Equal(t, report.Rejected, 2)
	gt.Equal(t, report.NewOrUpdated, 1)
	gt.B(t, report.CheckpointAdvanced).True()
}

func TestCollector_RunCycle_FeedFailure(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := repository.NewMemory()
	engine := risk.NewEngine(model.DefaultRiskPolicy())

	feed := feedFunc(func(ctx context.Context, since time.Time, pageToken string) (*model.FeedPage, error) {
		return nil, goerr.New("connection refused", goerr.T(model.ErrTagFeedUnavailable))
	})

	collector := usecase.NewCollector(repo, feed, engine, staticEnricher(),
		usecase.WithClock(func() time.Time { return now }),
		usecase.WithBackoff(time.Second, time.Minute),
	)

	_, err := collector.RunCycle(ctx)
	gt.Error(t, err)

	// Checkpoint did not move
	checkpoint, err := repo.GetCheckpoint(ctx)
	gt.NoError(t, err)
	gt.B(t, checkpoint.IsZero()).True()

	// Backoff doubles per consecutive failure
	gt.Equal(t, collector.NextDelay(), time.Second)

	_, err = collector.RunCycle(ctx)
	gt.Error(t, err)
	gt.Equal(t, collector.NextDelay(), 2*time.Second)

	_, err = collector.RunCycle(ctx)
	gt.Error(t, err)
	gt.Equal(t, collector.NextDelay(), 4*time.Second)
}

func TestCollector_RunCycle_BackoffCapAndReset(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := repository.NewMemory()
	engine := risk.NewEngine(model.DefaultRiskPolicy())

	var fail atomic.Bool
	fail.Store(true)
	feed := feedFunc(func(ctx context.Context, since time.Time, pageToken string) (*model.FeedPage, error) {
		if fail.Load() {
			return nil, goerr.New("down", goerr.T(model.ErrTagFeedUnavailable))
		}
		return &model.FeedPage{}, nil
	})

	collector := usecase.NewCollector(repo, feed, engine, staticEnricher(),
		usecase.WithClock(func() time.Time { return now }),
		usecase.WithBackoff(time.Second, 3*time.Second),
	)

	for i := 0; i < 5; i++ {
		_, err := collector.RunCycle(ctx)
		gt.Error(t, err)
	}
	gt.Equal(t, collector.NextDelay(), 3*time.Second)

	fail.Store(false)
	_, err := collector.RunCycle(ctx)
	gt.NoError(t, err)
	gt.Equal(t, collector.NextDelay(), time.Duration(0))
}

func TestCollector_RunCycle_AlertAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := repository.NewMemory()
	engine := risk.NewEngine(model.DefaultRiskPolicy())

	feed := feedFunc(func(ctx context.Context, since time.Time, pageToken string) (*model.FeedPage, error) {
		return nil, goerr.New("down", goerr.T(model.ErrTagFeedUnavailable))
	})

	var alerts atomic.Int64
	notifier := notifyFunc(func(ctx context.Context, title, detail string) error {
		alerts.Add(1)
		return nil
	})

	collector := usecase.NewCollector(repo, feed, engine, staticEnricher(),
		usecase.WithClock(func() time.Time { return now }),
		usecase.WithBackoff(time.Second, time.Minute),
		usecase.WithNotifier(notifier),
	)

	for i := 0; i < 2; i++ {
		_, err := collector.RunCycle(ctx)
		gt.Error(t, err)
	}
	gt.Equal(t, alerts.Load(), int64(0))

	_, err := collector.RunCycle(ctx)
	gt.Error(t, err)
	gt.Equal(t, alerts.Load(), int64(1))
}

func TestCollector_RunCycle_SingleFlight(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := repository.NewMemory()
	engine := risk.NewEngine(model.DefaultRiskPolicy())

	started := make(chan struct{})
	release := make(chan struct{})
	feed := feedFunc(func(ctx context.Context, since time.Time, pageToken string) (*model.FeedPage, error) {
		close(started)
		<-release
		return &model.FeedPage{}, nil
	})

	collector := usecase.NewCollector(repo, feed, engine, staticEnricher(),
		usecase.WithClock(func() time.Time { return now }),
	)

	done := make(chan error, 1)
	go func() {
		_, err := collector.RunCycle(ctx)
		done <- err
	}()

	<-started
	_, err := collector.RunCycle(ctx)
	gt.Error(t, err)
	gt.B(t, errors.Is(err, model.ErrCycleInProgress)).True()

	close(release)
	gt.NoError(t, <-done)
}

func TestCollector_RunCycle_RecordCap(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := repository.NewMemory()
	engine := risk.NewEngine(model.DefaultRiskPolicy())

	var call atomic.Int64
	feed := feedFunc(func(ctx context.Context, since time.Time, pageToken string) (*model.FeedPage, error) {
		page := int(call.Add(1))
		return &model.FeedPage{
			Records: []model.RawRecord{
				rawRecord(fmt.Sprintf("CVE-2024-%04d", page*10), "5.0", "2024-05-30T10:00:00Z"),
				rawRecord(fmt.Sprintf("CVE-2024-%04d", page*10+1), "5.0", "2024-05-30T10:00:00Z"),
			},
			NextPageToken: strconv.Itoa(page * 2),
		}, nil
	})

	collector := usecase.NewCollector(repo, feed, engine, staticEnricher(),
		usecase.WithClock(func() time.Time { return now }),
		usecase.WithMaxRecords(4),
	)

	report, err := collector.RunCycle(ctx)
	gt.NoError(t, err)
	gt.Equal(t, report.Fetched, 4)
	gt.Equal(t, call.Load(), int64(2))
}
