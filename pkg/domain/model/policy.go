package model

import (
	"github.com/m-mizutani/goerr/v2"
)

// RiskPolicy holds the tunable constants of the risk engine. The
// defaults encode recency-weighted severity; deployments can override
// them with a YAML policy file.
type RiskPolicy struct {
	DecayWindowDays int     `yaml:"decay_window_days"` // Days until urgency decays to the floor
	FloorRatio      float64 `yaml:"floor_ratio"`       // Fraction of base score retained indefinitely
	TrendingBoost   float64 `yaml:"trending_boost"`    // Multiplier applied to trending threats
	TrendingWindow  int     `yaml:"trending_window"`   // Days within which a disclosure counts as trending
	CriticalCutoff  float64 `yaml:"critical_cutoff"`   // Decayed score >= cutoff -> CRITICAL
	HighCutoff      float64 `yaml:"high_cutoff"`       // Decayed score >= cutoff -> HIGH
	MediumCutoff    float64 `yaml:"medium_cutoff"`     // Decayed score >= cutoff -> MEDIUM
}

// DefaultRiskPolicy returns the built-in policy constants
func DefaultRiskPolicy() RiskPolicy {
	return RiskPolicy{
		DecayWindowDays: 90,
		FloorRatio:      0.05,
		TrendingBoost:   1.25,
		TrendingWindow:  7,
		CriticalCutoff:  90,
		HighCutoff:      70,
		MediumCutoff:    40,
	}
}

// Validate validates the risk policy
func (p *RiskPolicy) Validate() error {
	if p.DecayWindowDays <= 0 {
		return goerr.New("decay window must be positive",
			goerr.V("days", p.DecayWindowDays))
	}
	if p.FloorRatio < 0 || p.FloorRatio > 1 {
		return goerr.New("floor ratio must be between 0 and 1",
			goerr.V("ratio", p.FloorRatio))
	}
	if p.TrendingBoost < 1 {
		return goerr.New("trending boost must be >= 1",
			goerr.V("boost", p.TrendingBoost))
	}
	if p.TrendingWindow <= 0 {
		return goerr.New("trending window must be positive",
			goerr.V("days", p.TrendingWindow))
	}
	if !(p.CriticalCutoff > p.HighCutoff && p.HighCutoff > p.MediumCutoff && p.MediumCutoff > 0) {
		return goerr.New("category cutoffs must be strictly decreasing and positive",
			goerr.V("critical", p.CriticalCutoff),
			goerr.V("high", p.HighCutoff),
			goerr.V("medium", p.MediumCutoff))
	}
	return nil
}
