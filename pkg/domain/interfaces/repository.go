package interfaces

import (
	"context"
	"time"

	"github.com/secmon-lab/cyberscope/pkg/domain/model"
	"github.com/secmon-lab/cyberscope/pkg/domain/types"
)

// Repository defines the interface for data persistence
type Repository interface {
	// Threat operations
	GetThreat(ctx context.Context, id types.ThreatID) (*model.Threat, error)
	ListThreats(ctx context.Context, filter model.ThreatFilter) ([]*model.Threat, error)
	CountThreats(ctx context.Context, filter model.ThreatFilter) (int, error)

	// PutThreatWithRisk persists a threat and its risk score
	// atomically: either both are written or neither is
	PutThreatWithRisk(ctx context.Context, threat *model.Threat, risk *model.RiskScore) error

	// Risk score operations
	GetRiskScore(ctx context.Context, id types.ThreatID) (*model.RiskScore, error)

	// Enrichment operations
	PutEnrichment(ctx context.Context, enrichment *model.Enrichment) error
	GetEnrichment(ctx context.Context, id types.ThreatID) (*model.Enrichment, error)

	// Ingestion checkpoint operations
	GetCheckpoint(ctx context.Context) (time.Time, error)
	PutCheckpoint(ctx context.Context, ts time.Time) error

	// Close closes the repository connection
	Close() error
}
