package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/cyberscope/pkg/domain/types"
)

// Enrichment is the narrative assessment attached to a threat, either
// model-generated or produced by the deterministic fallback. At most
// one active enrichment exists per threat; it is regenerated when the
// threat's description hash changes.
type Enrichment struct {
	ThreatID        types.ThreatID
	Summary         string
	Mitigation      string
	Narrative       string
	Provider        types.EnrichmentProvider
	Status          types.EnrichmentStatus
	TokenCost       int
	DescriptionHash string // SHA-256 of the threat description at generation time
	GeneratedAt     time.Time
}

// NewPendingEnrichment creates the initial PENDING enrichment recorded
// at ingestion time, before the provider has run
func NewPendingEnrichment(threatID types.ThreatID, description string, now time.Time) *Enrichment {
	return &Enrichment{
		ThreatID:        threatID,
		Status:          types.EnrichmentPending,
		DescriptionHash: HashDescription(description),
		GeneratedAt:     now,
	}
}

// Validate validates the enrichment
func (e *Enrichment) Validate() error {
	if e.ThreatID == "" {
		return goerr.New("enrichment threat ID is required")
	}
	if e.Status.IsTerminal() && e.Summary == "" {
		return goerr.New("terminal enrichment must carry a summary",
			goerr.V("threatID", e.ThreatID),
			goerr.V("status", e.Status))
	}
	return nil
}

// Covers returns true if this enrichment was generated for the given
// description, i.e. no regeneration is needed
func (e *Enrichment) Covers(description string) bool {
	return e.DescriptionHash == HashDescription(description)
}

// HashDescription returns the content hash used to detect material
// description changes
func HashDescription(description string) string {
	sum := sha256.Sum256([]byte(description))
	return hex.EncodeToString(sum[:])
}
