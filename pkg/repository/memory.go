package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/cyberscope/pkg/domain/interfaces"
	"github.com/secmon-lab/cyberscope/pkg/domain/model"
	"github.com/secmon-lab/cyberscope/pkg/domain/types"
)

// Memory implements Repository interface with in-memory storage
type Memory struct {
	mu          sync.RWMutex
	threats     map[types.ThreatID]*model.Threat
	riskScores  map[types.ThreatID]*model.RiskScore
	enrichments map[types.ThreatID]*model.Enrichment
	checkpoint  time.Time
}

// NewMemory creates a new memory repository
func NewMemory() interfaces.Repository {
	return &Memory{
		threats:     make(map[types.ThreatID]*model.Threat),
		riskScores:  make(map[types.ThreatID]*model.RiskScore),
		enrichments: make(map[types.ThreatID]*model.Enrichment),
	}
}

// GetThreat retrieves a threat by external ID
func (m *Memory) GetThreat(ctx context.Context, id types.ThreatID) (*model.Threat, error) {
	if id == "" {
		return nil, goerr.New("threat ID is empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	threat, exists := m.threats[id]
	if !exists {
		return nil, goerr.Wrap(model.ErrThreatNotFound, "", goerr.V("id", id))
	}

	// Return a copy to prevent external modification
	threatCopy := *threat
	return &threatCopy, nil
}

// ListThreats lists threats matching the filter, newest first
func (m *Memory) ListThreats(ctx context.Context, filter model.ThreatFilter) ([]*model.Threat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var threats []*model.Threat
	for _, threat := range m.threats {
		if !matchFilter(threat, filter) {
			continue
		}
		threatCopy := *threat
		threats = append(threats, &threatCopy)
	}

	sort.Slice(threats, func(i, j int) bool {
		return threats[i].PublishedAt.After(threats[j].PublishedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(threats) {
			return nil, nil
		}
		threats = threats[filter.Offset:]
	}
	if filter.Limit > 0 && len(threats) > filter.Limit {
		threats = threats[:filter.Limit]
	}

	return threats, nil
}

// CountThreats counts threats matching the filter
func (m *Memory) CountThreats(ctx context.Context, filter model.ThreatFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, threat := range m.threats {
		if matchFilter(threat, filter) {
			count++
		}
	}
	return count, nil
}

// PutThreatWithRisk persists a threat and its risk score atomically
func (m *Memory) PutThreatWithRisk(ctx context.Context, threat *model.Threat, risk *model.RiskScore) error {
	if threat == nil {
		return goerr.New("threat is nil")
	}
	if risk == nil {
		return goerr.New("risk score is nil")
	}
	if err := threat.Validate(); err != nil {
		return goerr.Wrap(err, "invalid threat", goerr.T(model.ErrTagStoreWriteFailed))
	}
	if err := risk.Validate(); err != nil {
		return goerr.Wrap(err, "invalid risk score", goerr.T(model.ErrTagStoreWriteFailed))
	}
	if threat.ID != risk.ThreatID {
		return goerr.New("risk score does not belong to threat",
			goerr.T(model.ErrTagStoreWriteFailed),
			goerr.V("threatID", threat.ID),
			goerr.V("riskThreatID", risk.ThreatID))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	threatCopy := *threat
	riskCopy := *risk
	riskCopy.Factors = make(map[string]float64, len(risk.Factors))
	for k, v := range risk.Factors {
		riskCopy.Factors[k] = v
	}

	m.threats[threat.ID] = &threatCopy
	m.riskScores[threat.ID] = &riskCopy
	return nil
}

// GetRiskScore retrieves the risk score for a threat
func (m *Memory) GetRiskScore(ctx context.Context, id types.ThreatID) (*model.RiskScore, error) {
	if id == "" {
		return nil, goerr.New("threat ID is empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	risk, exists := m.riskScores[id]
	if !exists {
		return nil, goerr.Wrap(model.ErrRiskScoreNotFound, "", goerr.V("id", id))
	}

	riskCopy := *risk
	return &riskCopy, nil
}

// PutEnrichment saves an enrichment
func (m *Memory) PutEnrichment(ctx context.Context, enrichment *model.Enrichment) error {
	if enrichment == nil {
		return goerr.New("enrichment is nil")
	}
	if err := enrichment.Validate(); err != nil {
		return goerr.Wrap(err, "invalid enrichment", goerr.T(model.ErrTagStoreWriteFailed))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	enrichmentCopy := *enrichment
	m.enrichments[enrichment.ThreatID] = &enrichmentCopy
	return nil
}

// GetEnrichment retrieves the enrichment for a threat
func (m *Memory) GetEnrichment(ctx context.Context, id types.ThreatID) (*model.Enrichment, error) {
	if id == "" {
		return nil, goerr.New("threat ID is empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	enrichment, exists := m.enrichments[id]
	if !exists {
		return nil, goerr.Wrap(model.ErrEnrichmentNotFound, "", goerr.V("id", id))
	}

	enrichmentCopy := *enrichment
	return &enrichmentCopy, nil
}

// GetCheckpoint returns the last committed ingestion checkpoint. A
// zero time means no cycle has committed yet.
func (m *Memory) GetCheckpoint(ctx context.Context) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkpoint, nil
}

// PutCheckpoint writes the ingestion checkpoint
func (m *Memory) PutCheckpoint(ctx context.Context, ts time.Time) error {
	if ts.IsZero() {
		return goerr.New("checkpoint timestamp is zero")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoint = ts
	return nil
}

// Close closes the repository (no-op for memory)
func (m *Memory) Close() error {
	return nil
}

func matchFilter(threat *model.Threat, filter model.ThreatFilter) bool {
	if filter.Tier != "" && threat.SeverityTier != filter.Tier {
		return false
	}
	if !filter.Since.IsZero() && threat.PublishedAt.Before(filter.Since) {
		return false
	}
	return true
}
