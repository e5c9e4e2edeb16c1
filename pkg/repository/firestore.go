package repository

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/cyberscope/pkg/domain/interfaces"
	"github.com/secmon-lab/cyberscope/pkg/domain/model"
	"github.com/secmon-lab/cyberscope/pkg/domain/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// Collection names
	threatsCollection     = "threats"
	riskScoresCollection  = "risk_scores"
	enrichmentsCollection = "enrichments"
	checkpointsCollection = "checkpoints"

	// Document IDs
	ingestionCheckpointDocID = "ingestion"
)

// checkpointDoc is the stored shape of the ingestion checkpoint
type checkpointDoc struct {
	Timestamp time.Time
}

// Firestore implements Repository interface with Firestore
type Firestore struct {
	client *firestore.Client
}

// NewFirestore creates a new Firestore repository
func NewFirestore(ctx context.Context, projectID, databaseID string) (interfaces.Repository, error) {
	logger := ctxlog.From(ctx)

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client")
	}

	// Fail fast on credential problems; an empty collection is fine
	_, err = client.Collection(threatsCollection).Limit(1).Documents(ctx).Next()
	if err != nil && err != iterator.Done {
		if status.Code(err) == codes.PermissionDenied || status.Code(err) == codes.Unauthenticated {
			_ = client.Close()
			return nil, goerr.Wrap(err, "failed to connect to firestore project",
				goerr.V("firestore error code", status.Code(err).String()),
			)
		}
		logger.Debug("Firestore connection test returned error (may be empty collection)",
			"error", err,
			"errorCode", status.Code(err).String(),
		)
	}

	logger.Info("Firestore repository initialized successfully",
		"projectID", projectID,
		"databaseID", databaseID,
	)

	return &Firestore{client: client}, nil
}

// GetThreat retrieves a threat by external ID
func (f *Firestore) GetThreat(ctx context.Context, id types.ThreatID) (*model.Threat, error) {
	if id == "" {
		return nil, goerr.New("threat ID is empty")
	}

	doc, err := f.client.Collection(threatsCollection).Doc(id.String()).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrThreatNotFound, "", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get threat from firestore")
	}

	var threat model.Threat
	if err := doc.DataTo(&threat); err != nil {
		return nil, goerr.Wrap(err, "failed to decode threat")
	}

	return &threat, nil
}

// ListThreats lists threats matching the filter, newest first.
// Filtering happens in memory to avoid composite index requirements;
// the dataset is bounded by the per-cycle record cap.
func (f *Firestore) ListThreats(ctx context.Context, filter model.ThreatFilter) ([]*model.Threat, error) {
	threats, err := f.fetchThreats(ctx, filter)
	if err != nil {
		return nil, err
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
func (f *Firestore) CountThreats(ctx context.Context, filter model.ThreatFilter) (int, error) {
	threats, err := f.fetchThreats(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(threats), nil
}

func (f *Firestore) fetchThreats(ctx context.Context, filter model.ThreatFilter) ([]*model.Threat, error) {
	iter := f.client.Collection(threatsCollection).Documents(ctx)
	defer iter.Stop()

	var threats []*model.Threat
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate threats")
		}

		var threat model.Threat
		if err := doc.DataTo(&threat); err != nil {
			return nil, goerr.Wrap(err, "failed to decode threat")
		}
		if matchFilter(&threat, filter) {
			threats = append(threats, &threat)
		}
	}

	return threats, nil
}

// PutThreatWithRisk persists a threat and its risk score in a single
// Firestore transaction so a risk score is never observed without its
// threat
func (f *Firestore) PutThreatWithRisk(ctx context.Context, threat *model.Threat, risk *model.RiskScore) error {
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

	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		threatRef := f.client.Collection(threatsCollection).Doc(threat.ID.String())
		riskRef := f.client.Collection(riskScoresCollection).Doc(threat.ID.String())

		if err := tx.Set(threatRef, threat); err != nil {
			return err
		}
		return tx.Set(riskRef, risk)
	})
	if err != nil {
		return goerr.Wrap(err, "failed to save threat with risk score",
			goerr.T(model.ErrTagStoreWriteFailed),
			goerr.V("id", threat.ID))
	}

	return nil
}

// GetRiskScore retrieves the risk score for a threat
func (f *Firestore) GetRiskScore(ctx context.Context, id types.ThreatID) (*model.RiskScore, error) {
	if id == "" {
		return nil, goerr.New("threat ID is empty")
	}

	doc, err := f.client.Collection(riskScoresCollection).Doc(id.String()).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrRiskScoreNotFound, "", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get risk score from firestore")
	}

	var risk model.RiskScore
	if err := doc.DataTo(&risk); err != nil {
		return nil, goerr.Wrap(err, "failed to decode risk score")
	}

	return &risk, nil
}

// PutEnrichment saves an enrichment
func (f *Firestore) PutEnrichment(ctx context.Context, enrichment *model.Enrichment) error {
	if enrichment == nil {
		return goerr.New("enrichment is nil")
	}
	if err := enrichment.Validate(); err != nil {
		return goerr.Wrap(err, "invalid enrichment", goerr.T(model.ErrTagStoreWriteFailed))
	}

	_, err := f.client.Collection(enrichmentsCollection).Doc(enrichment.ThreatID.String()).Set(ctx, enrichment)
	if err != nil {
		return goerr.Wrap(err, "failed to save enrichment to firestore",
			goerr.T(model.ErrTagStoreWriteFailed),
			goerr.V("id", enrichment.ThreatID))
	}

	return nil
}

// GetEnrichment retrieves the enrichment for a threat
func (f *Firestore) GetEnrichment(ctx context.Context, id types.ThreatID) (*model.Enrichment, error) {
	if id == "" {
		return nil, goerr.New("threat ID is empty")
	}

	doc, err := f.client.Collection(enrichmentsCollection).Doc(id.String()).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrEnrichmentNotFound, "", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get enrichment from firestore")
	}

	var enrichment model.Enrichment
	if err := doc.DataTo(&enrichment); err != nil {
		return nil, goerr.Wrap(err, "failed to decode enrichment")
	}

	return &enrichment, nil
}

// GetCheckpoint returns the last committed ingestion checkpoint
func (f *Firestore) GetCheckpoint(ctx context.Context) (time.Time, error) {
	doc, err := f.client.Collection(checkpointsCollection).Doc(ingestionCheckpointDocID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return time.Time{}, nil
		}
		return time.Time{}, goerr.Wrap(err, "failed to get checkpoint from firestore")
	}

	var cp checkpointDoc
	if err := doc.DataTo(&cp); err != nil {
		return time.Time{}, goerr.Wrap(err, "failed to decode checkpoint")
	}

	return cp.Timestamp, nil
}

// PutCheckpoint writes the ingestion checkpoint
func (f *Firestore) PutCheckpoint(ctx context.Context, ts time.Time) error {
	if ts.IsZero() {
		return goerr.New("checkpoint timestamp is zero")
	}

	_, err := f.client.Collection(checkpointsCollection).Doc(ingestionCheckpointDocID).Set(ctx, checkpointDoc{Timestamp: ts})
	if err != nil {
		return goerr.Wrap(err, "failed to save checkpoint to firestore",
			goerr.T(model.ErrTagStoreWriteFailed))
	}

	return nil
}

// Close closes the Firestore client
func (f *Firestore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}
