package usecase

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/cyberscope/pkg/domain/interfaces"
	"github.com/secmon-lab/cyberscope/pkg/domain/model"
	"github.com/secmon-lab/cyberscope/pkg/domain/types"
	"github.com/secmon-lab/cyberscope/pkg/service/risk"
	"github.com/secmon-lab/cyberscope/pkg/utils/metrics"
	"golang.org/x/sync/singleflight"
)

const defaultStaleness = 5 * time.Minute

// cachedView holds one materialized dashboard view
type cachedView struct {
	value      any
	computedAt time.Time
	expiresAt  time.Time
}

// Dashboard is the read-side aggregation cache. Each view is memoized
// until its staleness deadline; recomputation is single-flight per
// view key, and readers holding a previous value never block on an
// in-flight refresh.
type Dashboard struct {
	repo      interfaces.Repository
	engine    *risk.Engine
	staleness time.Duration
	now       func() time.Time

	group    singleflight.Group
	mu       sync.Mutex
	views    map[types.ViewKey]*cachedView
	inFlight map[types.ViewKey]bool
}

// DashboardOption configures a Dashboard
type DashboardOption func(*Dashboard)

// WithStaleness sets the cache staleness window
func WithStaleness(d time.Duration) DashboardOption {
	return func(db *Dashboard) {
		if d > 0 {
			db.staleness = d
		}
	}
}

// WithDashboardClock overrides the clock (for tests)
func WithDashboardClock(now func() time.Time) DashboardOption {
	return func(db *Dashboard) {
		db.now = now
	}
}

// NewDashboard creates a new Dashboard
func NewDashboard(repo interfaces.Repository, engine *risk.Engine, opts ...DashboardOption) *Dashboard {
	db := &Dashboard{
		repo:      repo,
		engine:    engine,
		staleness: defaultStaleness,
		now:       time.Now,
		views:     make(map[types.ViewKey]*cachedView),
		inFlight:  make(map[types.ViewKey]bool),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// GetSummary returns the dashboard summary counts
func (db *Dashboard) GetSummary(ctx context.Context) (*model.SummaryMetrics, error) {
	value, stale, err := db.getView(ctx, types.ViewSummary, db.computeSummary)
	if err != nil {
		return nil, err
	}
	summary := value.(model.SummaryMetrics)
	summary.Stale = stale
	return &summary, nil
}

// GetTrend returns the disclosure trend for a period like "7d", "4w"
// or "1m"
func (db *Dashboard) GetTrend(ctx context.Context, period string) (*model.TrendSeries, error) {
	window, err := parsePeriod(period)
	if err != nil {
		return nil, err
	}

	key := types.ViewKey(types.ViewTrend.String() + ":" + period)
	value, stale, err := db.getView(ctx, key, func(ctx context.Context) (any, error) {
		return db.computeTrend(ctx, period, window)
	})
	if err != nil {
		return nil, err
	}
	trend := value.(model.TrendSeries)
	trend.Stale = stale
	return &trend, nil
}

// GetCategoryDistribution returns threat counts per topic category
func (db *Dashboard) GetCategoryDistribution(ctx context.Context) (*model.CategoryCounts, error) {
	value, stale, err := db.getView(ctx, types.ViewCategoryDist, db.computeCategoryDistribution)
	if err != nil {
		return nil, err
	}
	counts := value.(model.CategoryCounts)
	counts.Stale = stale
	return &counts, nil
}

// ListThreats returns threats matching the filter plus the total
// matching count. The list read bypasses the view cache: it is already
// shaped for display and pagination makes memoization pointless.
func (db *Dashboard) ListThreats(ctx context.Context, filter model.ThreatFilter) ([]*model.Threat, int, error) {
	threats, err := db.repo.ListThreats(ctx, filter)
	if err != nil {
		return nil, 0, goerr.Wrap(err, "failed to list threats")
	}
	total, err := db.repo.CountThreats(ctx, filter)
	if err != nil {
		return nil, 0, goerr.Wrap(err, "failed to count threats")
	}
	return threats, total, nil
}

// GetThreatDetail returns the full view of one threat. A missing risk
// score is recomputed on the fly; a missing enrichment is left nil.
func (db *Dashboard) GetThreatDetail(ctx context.Context, id types.ThreatID) (*model.ThreatDetail, error) {
	threat, err := db.repo.GetThreat(ctx, id)
	if err != nil {
		return nil, err
	}

	now := db.now()
	riskScore, err := db.repo.GetRiskScore(ctx, id)
	if err != nil {
		if !isNotFound(err) {
			return nil, err
		}
		riskScore = db.engine.Score(threat, threat.AgeInDays(now), db.engine.IsTrending(threat, now), now)
	}

	enrichment, err := db.repo.GetEnrichment(ctx, id)
	if err != nil {
		if !isNotFound(err) {
			return nil, err
		}
		enrichment = nil
	}

	return &model.ThreatDetail{
		Threat:     threat,
		Risk:       riskScore,
		Enrichment: enrichment,
	}, nil
}

// getView serves a cached view value. Freshness rules:
//   - fresh value: returned as is
//   - expired value with a refresh in flight: previous value returned
//     immediately, no waiting
//   - expired or missing value, no refresh in flight: synchronous
//     single-flight recomputation
//   - recomputation failure with a previous value: previous value
//     returned with the stale flag set, never an error to the caller
func (db *Dashboard) getView(ctx context.Context, key types.ViewKey, compute func(ctx context.Context) (any, error)) (any, bool, error) {
	now := db.now()

	db.mu.Lock()
	view := db.views[key]
	if view != nil && now.Before(view.expiresAt) {
		db.mu.Unlock()
		return view.value, false, nil
	}
	if view != nil && db.inFlight[key] {
		db.mu.Unlock()
		return view.value, false, nil
	}
	db.inFlight[key] = true
	db.mu.Unlock()

	value, err, _ := db.group.Do(key.String(), func() (any, error) {
		metrics.CacheRefreshTotal.WithLabelValues(key.String()).Inc()
		return compute(ctx)
	})

	db.mu.Lock()
	delete(db.inFlight, key)
	if err == nil {
		db.views[key] = &cachedView{
			value:      value,
			computedAt: db.now(),
			expiresAt:  db.now().Add(db.staleness),
		}
	}
	db.mu.Unlock()

	if err != nil {
		if view != nil {
			ctxlog.From(ctx).Warn("View recomputation failed, serving stale value",
				"view", key,
				"error", err,
			)
			return view.value, true, nil
		}
		return nil, false, goerr.Wrap(err, "failed to compute view", goerr.V("view", key))
	}

	return value, false, nil
}

func (db *Dashboard) computeSummary(ctx context.Context) (any, error) {
	threats, err := db.repo.ListThreats(ctx, model.ThreatFilter{})
	if err != nil {
		return nil, err
	}

	summary := model.SummaryMetrics{
		Total:      len(threats),
		ComputedAt: db.now(),
	}
	for _, t := range threats {
		switch t.SeverityTier {
		case types.SeverityCritical:
			summary.Critical++
		case types.SeverityHigh:
			summary.High++
		case types.SeverityMedium:
			summary.Medium++
		case types.SeverityLow:
			summary.Low++
		}
		if t.ModifiedAt.After(summary.LastUpdate) {
			summary.LastUpdate = t.ModifiedAt
		}
	}
	summary.Trending = len(db.engine.IdentifyTrending(threats, db.now()))

	return summary, nil
}

func (db *Dashboard) computeTrend(ctx context.Context, period string, window time.Duration) (any, error) {
	since := db.now().Add(-window)
	threats, err := db.repo.ListThreats(ctx, model.ThreatFilter{Since: since})
	if err != nil {
		return nil, err
	}

	buckets := make(map[time.Time]int)
	for _, t := range threats {
		day := t.PublishedAt.UTC().Truncate(24 * time.Hour)
		buckets[day]++
	}

	points := make([]model.TrendPoint, 0, len(buckets))
	for day, count := range buckets {
		points = append(points, model.TrendPoint{Date: day, Count: count})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Date.Before(points[j].Date)
	})

	return model.TrendSeries{
		Period:     period,
		Points:     points,
		ComputedAt: db.now(),
	}, nil
}

func (db *Dashboard) computeCategoryDistribution(ctx context.Context) (any, error) {
	threats, err := db.repo.ListThreats(ctx, model.ThreatFilter{})
	if err != nil {
		return nil, err
	}

	return model.CategoryCounts{
		Counts:     db.engine.Distribution(threats),
		ComputedAt: db.now(),
	}, nil
}

// parsePeriod parses period strings like "7d", "4w", "1m"
func parsePeriod(period string) (time.Duration, error) {
	if len(period) < 2 {
		return 0, goerr.New("invalid trend period", goerr.V("period", period))
	}

	amount, err := strconv.Atoi(period[:len(period)-1])
	if err != nil || amount <= 0 {
		return 0, goerr.New("invalid trend period amount", goerr.V("period", period))
	}

	switch strings.ToLower(period[len(period)-1:]) {
	case "d":
		return time.Duration(amount) * 24 * time.Hour, nil
	case "w":
		return time.Duration(amount) * 7 * 24 * time.Hour, nil
	case "m":
		return time.Duration(amount) * 30 * 24 * time.Hour, nil
	default:
		return 0, goerr.New("invalid trend period unit", goerr.V("period", period))
	}
}
