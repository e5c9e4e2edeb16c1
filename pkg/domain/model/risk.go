package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/cyberscope/pkg/domain/types"
)

// Factor names used in the RiskScore breakdown
const (
	FactorBase          = "base"
	FactorAgeDecay      = "age_decay"
	FactorTrendingBoost = "trending_boost"
)

// RiskScore is the derived operational-risk assessment for a threat on
// a 0-100 scale. It is recomputed whenever the owning threat's severity
// or age changes and is read-only in between.
type RiskScore struct {
	ThreatID   types.ThreatID
	Score      float64            // 0-100
	Category   types.RiskCategory // Derived from the decayed score
	Factors    map[string]float64 // Weighted contribution per factor
	Trending   bool               // Externally supplied trending signal
	ComputedAt time.Time
}

// Validate validates the risk score
func (r *RiskScore) Validate() error {
	if r.ThreatID == "" {
		return goerr.New("risk score threat ID is required")
	}
	if r.Score < 0 || r.Score > 100 {
		return goerr.New("risk score must be between 0 and 100",
			goerr.V("threatID", r.ThreatID),
			goerr.V("score", r.Score))
	}
	return nil
}
