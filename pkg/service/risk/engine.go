package risk

import (
	"strings"
	"time"

	"github.com/secmon-lab/cyberscope/pkg/domain/model"
	"github.com/secmon-lab/cyberscope/pkg/domain/types"
)

// Engine derives operational risk scores from threat attributes. It is
// a pure function of its inputs: no I/O, no clock reads, no hidden
// state. That keeps it independently testable and reusable on the read
// path for on-the-fly re-scoring.
type Engine struct {
	policy model.RiskPolicy
}

// NewEngine creates a new Engine with the given policy
func NewEngine(policy model.RiskPolicy) *Engine {
	return &Engine{policy: policy}
}

// Score computes the 0-100 risk score for a threat at the given age.
// base = severity x 10; urgency decays linearly to zero over the decay
// window but never below the retained floor; a trending signal boosts
// the result by a fixed multiplier, capped at 100.
func (e *Engine) Score(threat *model.Threat, ageInDays int, trending bool, computedAt time.Time) *model.RiskScore {
	base := threat.SeverityScore * 10

	decay := 1.0 - float64(ageInDays)/float64(e.policy.DecayWindowDays)
	if decay < 0 {
		decay = 0
	}
	urgency := base * decay

	floor := base * e.policy.FloorRatio
	score := urgency
	if score < floor {
		score = floor
	}

	boost := 0.0
	if trending {
		boosted := score * e.policy.TrendingBoost
		boost = boosted - score
		score = boosted
	}
	if score > 100 {
		score = 100
	}

	return &model.RiskScore{
		ThreatID: threat.ID,
		Score:    score,
		Category: e.categoryFor(score),
		Factors: map[string]float64{
			model.FactorBase:          base,
			model.FactorAgeDecay:      urgency - base,
			model.FactorTrendingBoost: boost,
		},
		Trending:   trending,
		ComputedAt: computedAt,
	}
}

func (e *Engine) categoryFor(score float64) types.RiskCategory {
	switch {
	case score >= e.policy.CriticalCutoff:
		return types.RiskCritical
	case score >= e.policy.HighCutoff:
		return types.RiskHigh
	case score >= e.policy.MediumCutoff:
		return types.RiskMedium
	default:
		return types.RiskLow
	}
}

// IsTrending returns true if the threat was published within the
// policy's trending window
func (e *Engine) IsTrending(threat *model.Threat, now time.Time) bool {
	if threat.PublishedAt.IsZero() {
		return false
	}
	cutoff := now.AddDate(0, 0, -e.policy.TrendingWindow)
	return !threat.PublishedAt.Before(cutoff)
}

// IdentifyTrending returns the IDs of threats published within the
// policy's trending window
func (e *Engine) IdentifyTrending(threats []*model.Threat, now time.Time) []types.ThreatID {
	cutoff := now.AddDate(0, 0, -e.policy.TrendingWindow)
	var trending []types.ThreatID
	for _, t := range threats {
		if !t.PublishedAt.IsZero() && !t.PublishedAt.Before(cutoff) {
			trending = append(trending, t.ID)
		}
	}
	return trending
}

// topicRule maps description keywords to a topic category
type topicRule struct {
	category string
	keywords []string
}

var topicRules = []topicRule{
	{"Web", []string{"web", "http", "browser"}},
	{"Cloud", []string{"cloud", "kubernetes", "aws", "azure"}},
	{"Mobile", []string{"mobile", "android", "ios", "iphone"}},
	{"Network", []string{"router", "network", "switch"}},
	{"IoT", []string{"firmware", "iot"}},
}

// Categorize assigns a topic category to a threat based on keyword
// matching over the description and title. First matching rule wins.
func (e *Engine) Categorize(threat *model.Threat) string {
	description := strings.ToLower(threat.Description)
	for _, rule := range topicRules {
		for _, kw := range rule.keywords {
			if strings.Contains(description, kw) {
				return rule.category
			}
		}
	}

	title := strings.ToLower(threat.Title)
	if strings.Contains(title, "windows") || strings.Contains(title, "linux") {
		return "Endpoint"
	}
	return "Other"
}

// Distribution counts threats per topic category
func (e *Engine) Distribution(threats []*model.Threat) map[string]int {
	counts := make(map[string]int)
	for _, t := range threats {
		counts[e.Categorize(t)]++
	}
	return counts
}
