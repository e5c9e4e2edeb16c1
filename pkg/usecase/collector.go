package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/cyberscope/pkg/domain/interfaces"
	"github.com/secmon-lab/cyberscope/pkg/domain/model"
	"github.com/secmon-lab/cyberscope/pkg/domain/types"
	"github.com/secmon-lab/cyberscope/pkg/service/feed"
	"github.com/secmon-lab/cyberscope/pkg/service/risk"
	"github.com/secmon-lab/cyberscope/pkg/utils/async"
	"github.com/secmon-lab/cyberscope/pkg/utils/metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	defaultLookback      = 30 * 24 * time.Hour
	defaultMaxRecords    = 2000
	defaultIngestWorkers = 4
	defaultEnrichWorkers = 2
	defaultBaseBackoff   = time.Minute
	defaultMaxBackoff    = time.Hour

	// Consecutive cycle failures before escalating an alert
	alertFailureThreshold = 3

	// Rate-limit waits tolerated within one cycle before giving up
	maxRateLimitWaits = 3
)

// Collector orchestrates one ingestion cycle: fetch, normalize, dedup
// against the store, risk-score, persist, enqueue for enrichment. A
// new cycle never starts while one is in progress, and the checkpoint
// advances only after a cycle fully commits.
type Collector struct {
	repo     interfaces.Repository
	feed     interfaces.FeedClient
	engine   *risk.Engine
	enricher interfaces.Enricher
	notifier interfaces.Notifier
	now      func() time.Time

	maxRecords    int
	ingestWorkers int
	enrichSem     *semaphore.Weighted

	running atomic.Bool

	mu                  sync.Mutex
	consecutiveFailures int
	nextDelay           time.Duration
	baseBackoff         time.Duration
	maxBackoff          time.Duration
}

// CollectorOption configures a Collector
type CollectorOption func(*Collector)

// WithClock overrides the clock (for tests)
func WithClock(now func() time.Time) CollectorOption {
	return func(c *Collector) {
		c.now = now
	}
}

// WithMaxRecords sets the per-cycle record cap
func WithMaxRecords(n int) CollectorOption {
	return func(c *Collector) {
		if n > 0 {
			c.maxRecords = n
		}
	}
}

// WithIngestWorkers bounds batch processing concurrency
func WithIngestWorkers(n int) CollectorOption {
	return func(c *Collector) {
		if n > 0 {
			c.ingestWorkers = n
		}
	}
}

// WithEnrichWorkers bounds concurrent enrichment dispatches
func WithEnrichWorkers(n int) CollectorOption {
	return func(c *Collector) {
		if n > 0 {
			c.enrichSem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithNotifier sets the alert notifier for failure escalation
func WithNotifier(n interfaces.Notifier) CollectorOption {
	return func(c *Collector) {
		c.notifier = n
	}
}

// WithBackoff overrides the retry backoff bounds
func WithBackoff(base, max time.Duration) CollectorOption {
	return func(c *Collector) {
		c.baseBackoff = base
		c.maxBackoff = max
	}
}

// NewCollector creates a new Collector
func NewCollector(repo interfaces.Repository, feed interfaces.FeedClient, engine *risk.Engine, enricher interfaces.Enricher, opts ...CollectorOption) *Collector {
	c := &Collector{
		repo:          repo,
		feed:          feed,
		engine:        engine,
		enricher:      enricher,
		now:           time.Now,
		maxRecords:    defaultMaxRecords,
		ingestWorkers: defaultIngestWorkers,
		enrichSem:     semaphore.NewWeighted(defaultEnrichWorkers),
		baseBackoff:   defaultBaseBackoff,
		maxBackoff:    defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunCycle executes a single ingestion cycle. It is single-flight: a
// call while another cycle runs returns ErrCycleInProgress without
// touching any state.
func (c *Collector) RunCycle(ctx context.Context) (*model.CycleReport, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, model.ErrCycleInProgress
	}
	defer c.running.Store(false)

	logger := ctxlog.From(ctx)
	report := &model.CycleReport{
		CycleID:   types.NewCycleID(),
		StartedAt: c.now(),
	}
	logger.Info("Starting ingestion cycle", "cycleID", report.CycleID)

	since, err := c.repo.GetCheckpoint(ctx)
	if err != nil {
		return c.finish(ctx, report, goerr.Wrap(err, "failed to read checkpoint"))
	}
	if since.IsZero() {
		since = report.StartedAt.Add(-defaultLookback)
	}

	pageToken := ""
	rateLimitWaits := 0
	for {
		if err := ctx.Err(); err != nil {
			return c.finish(ctx, report, goerr.Wrap(err, "cycle cancelled"))
		}

		page, err := c.feed.Fetch(ctx, since, pageToken)
		if err != nil {
			return c.finish(ctx, report, goerr.Wrap(err, "feed fetch failed"))
		}

		if len(page.Records) == 0 && page.RetryAfter > 0 {
			rateLimitWaits++
			if rateLimitWaits > maxRateLimitWaits {
				return c.finish(ctx, report, goerr.New("feed rate limit persisted",
					goerr.T(model.ErrTagFeedUnavailable),
					goerr.V("waits", rateLimitWaits)))
			}
			logger.Info("Feed rate limited, waiting",
				"retryAfter", page.RetryAfter,
				"waits", rateLimitWaits,
			)
			if err := sleepCtx(ctx, page.RetryAfter); err != nil {
				return c.finish(ctx, report, goerr.Wrap(err, "cycle cancelled during rate limit wait"))
			}
			pageToken = page.NextPageToken
			continue
		}

		report.Fetched += len(page.Records)
		metrics.RecordsFetchedTotal.Add(float64(len(page.Records)))

		if err := c.processBatch(ctx, page.Records, report); err != nil {
			return c.finish(ctx, report, err)
		}

		pageToken = page.NextPageToken
		if pageToken == "" || report.Fetched >= c.maxRecords {
			break
		}
	}

	if err := c.repo.PutCheckpoint(ctx, report.StartedAt); err != nil {
		return c.finish(ctx, report, goerr.Wrap(err, "failed to advance checkpoint",
			goerr.T(model.ErrTagStoreWriteFailed)))
	}
	report.CheckpointAdvanced = true

	return c.finish(ctx, report, nil)
}

// processBatch normalizes, scores and persists one page of records.
// Records are deduplicated by ID first so no two workers ever write
// the same threat concurrently.
func (c *Collector) processBatch(ctx context.Context, records []model.RawRecord, report *model.CycleReport) error {
	unique := make([]model.RawRecord, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, raw := range records {
		if raw.ID != "" && seen[raw.ID] {
			continue
		}
		seen[raw.ID] = true
		unique = append(unique, raw)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.ingestWorkers)

	for _, raw := range unique {
		g.Go(func() error {
			outcome, err := c.processRecord(gctx, raw)
			if err != nil {
				if goerr.HasTag(err, model.ErrTagRecordRejected) {
					ctxlog.From(gctx).Warn("Rejected malformed record",
						"id", raw.ID,
						"error", err,
					)
					metrics.RecordsRejectedTotal.Inc()
					mu.Lock()
					report.Rejected++
					mu.Unlock()
					return nil
				}
				// Store write failures abort the batch
				return err
			}

			mu.Lock()
			report.Normalized++
			if outcome.upserted {
				report.NewOrUpdated++
			}
			if outcome.enrichmentQueued {
				report.EnrichmentsQueued++
			}
			mu.Unlock()
			return nil
		})
	}

	return g.Wait()
}

type recordOutcome struct {
	upserted         bool
	enrichmentQueued bool
}

func (c *Collector) processRecord(ctx context.Context, raw model.RawRecord) (*recordOutcome, error) {
	now := c.now()

	threat, err := feed.Normalize(raw, now)
	if err != nil {
		return nil, err
	}

	existing, err := c.repo.GetThreat(ctx, threat.ID)
	if err != nil {
		if !isNotFound(err) {
			return nil, goerr.Wrap(err, "failed to look up existing threat",
				goerr.V("id", threat.ID))
		}
		existing = nil
	}

	// Idempotent re-fetch: an equal or older revision is a no-op for
	// the threat itself. The enrichment may still need recovery: a
	// cycle that died after recording PENDING never got its background
	// write, and the checkpoint was not advanced, so the record comes
	// around again here.
	if existing != nil && !existing.SupersededBy(threat) {
		queued, err := c.recoverEnrichment(ctx, threat, now)
		if err != nil {
			return nil, err
		}
		return &recordOutcome{enrichmentQueued: queued}, nil
	}

	score := c.engine.Score(threat, threat.AgeInDays(now), c.engine.IsTrending(threat, now), now)
	if err := c.repo.PutThreatWithRisk(ctx, threat, score); err != nil {
		return nil, err
	}

	queued, err := c.queueEnrichment(ctx, threat, now)
	if err != nil {
		return nil, err
	}

	return &recordOutcome{upserted: true, enrichmentQueued: queued}, nil
}

// queueEnrichment records a PENDING enrichment and dispatches the
// provider call in the background. A COMPLETE enrichment that still
// covers the current description is left untouched; FAILED and stuck
// PENDING ones are regenerated.
func (c *Collector) queueEnrichment(ctx context.Context, threat *model.Threat, now time.Time) (bool, error) {
	current, err := c.repo.GetEnrichment(ctx, threat.ID)
	if err == nil && current.Covers(threat.Description) && current.Status == types.EnrichmentComplete {
		return false, nil
	}
	if err != nil && !isNotFound(err) {
		return false, goerr.Wrap(err, "failed to look up enrichment", goerr.V("id", threat.ID))
	}

	pending := model.NewPendingEnrichment(threat.ID, threat.Description, now)
	if err := c.repo.PutEnrichment(ctx, pending); err != nil {
		return false, err
	}

	threatCopy := *threat
	async.Dispatch(ctx, func(ctx context.Context) error {
		if err := c.enrichSem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer c.enrichSem.Release(1)

		enrichment := c.enricher.Enrich(ctx, &threatCopy)
		metrics.EnrichmentsTotal.WithLabelValues(enrichment.Provider.String()).Inc()
		metrics.EnrichmentTokensTotal.Add(float64(enrichment.TokenCost))
		return c.repo.PutEnrichment(ctx, enrichment)
	})

	return true, nil
}

// recoverEnrichment re-queues an enrichment that a previous cycle
// left PENDING, typically after a crash between the PENDING write and
// the background provider call. Terminal enrichments stay as they are.
func (c *Collector) recoverEnrichment(ctx context.Context, threat *model.Threat, now time.Time) (bool, error) {
	current, err := c.repo.GetEnrichment(ctx, threat.ID)
	if err != nil {
		if isNotFound(err) {
			return c.queueEnrichment(ctx, threat, now)
		}
		return false, goerr.Wrap(err, "failed to look up enrichment", goerr.V("id", threat.ID))
	}
	if current.Status.IsTerminal() {
		return false, nil
	}
	return c.queueEnrichment(ctx, threat, now)
}

// finish closes out a cycle: updates backoff state, metrics and logs,
// and escalates repeated failures to the notifier.
func (c *Collector) finish(ctx context.Context, report *model.CycleReport, err error) (*model.CycleReport, error) {
	report.FinishedAt = c.now()
	logger := ctxlog.From(ctx)

	// Shutdown is not a feed failure: leave the backoff state alone and
	// do not count the aborted cycle toward alert escalation
	if err != nil && errors.Is(err, context.Canceled) {
		metrics.CyclesTotal.WithLabelValues("cancelled").Inc()
		logger.Info("Ingestion cycle cancelled", "report", report)
		return report, err
	}

	c.mu.Lock()
	if err != nil {
		c.consecutiveFailures++
		delay := c.baseBackoff << (c.consecutiveFailures - 1)
		if delay > c.maxBackoff || delay <= 0 {
			delay = c.maxBackoff
		}
		c.nextDelay = delay
	} else {
		c.consecutiveFailures = 0
		c.nextDelay = 0
	}
	failures := c.consecutiveFailures
	c.mu.Unlock()

	if err != nil {
		metrics.CyclesTotal.WithLabelValues("failed").Inc()
		logger.Error("Ingestion cycle failed",
			"report", report,
			"consecutiveFailures", failures,
			"error", err,
		)
		if failures >= alertFailureThreshold && c.notifier != nil {
			if notifyErr := c.notifier.NotifyAlert(ctx,
				"Threat ingestion failing",
				goerr.Wrap(err, "consecutive cycle failures",
					goerr.V("count", failures)).Error(),
			); notifyErr != nil {
				logger.Warn("Failed to send alert notification", "error", notifyErr)
			}
		}
		return report, err
	}

	metrics.CyclesTotal.WithLabelValues("committed").Inc()
	logger.Info("Ingestion cycle committed", "report", report)
	return report, nil
}

// NextDelay returns the backoff delay the scheduler should apply
// before the next cycle, zero if the last cycle committed
func (c *Collector) NextDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextDelay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrThreatNotFound) ||
		errors.Is(err, model.ErrRiskScoreNotFound) ||
		errors.Is(err, model.ErrEnrichmentNotFound)
}
