package model

import (
	"time"

	"github.com/secmon-lab/cyberscope/pkg/domain/types"
)

// SummaryMetrics holds the dashboard summary counts by severity tier.
// Stale is set when the value outlived its staleness deadline but a
// fresh recomputation was not available (in-flight or failed).
type SummaryMetrics struct {
	Total      int
	Critical   int
	High       int
	Medium     int
	Low        int
	Trending   int
	LastUpdate time.Time
	ComputedAt time.Time
	Stale      bool
}

// TrendPoint is one day bucket of the trend series
type TrendPoint struct {
	Date  time.Time
	Count int
}

// TrendSeries is the time-bucketed disclosure trend for a period
type TrendSeries struct {
	Period     string
	Points     []TrendPoint
	ComputedAt time.Time
	Stale      bool
}

// CategoryCounts is the distribution of threats over topic categories
type CategoryCounts struct {
	Counts     map[string]int
	ComputedAt time.Time
	Stale      bool
}

// ThreatFilter narrows ListThreats results
type ThreatFilter struct {
	Tier   types.SeverityTier // zero value means all tiers
	Since  time.Time          // only threats published at or after
	Limit  int                // 0 means no limit
	Offset int
}

// ThreatDetail is the full dashboard view of a single threat
type ThreatDetail struct {
	Threat     *Threat
	Risk       *RiskScore
	Enrichment *Enrichment
}
