package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/cyberscope/pkg/domain/types"
)

// Threat represents a single vulnerability disclosure.
// Threats are append/update-only: a stored threat is overwritten only
// when the upstream record's last-modified timestamp strictly advances,
// and is never deleted.
type Threat struct {
	ID            types.ThreatID     // External identifier (e.g. CVE ID)
	Title         string             // Short title from the feed
	Description   string             // Full description text
	SeverityScore float64            // Upstream severity score (0.0-10.0)
	SeverityTier  types.SeverityTier // Derived from SeverityScore
	PublishedAt   time.Time          // Upstream publication timestamp
	ModifiedAt    time.Time          // Upstream last-modified timestamp
	Source        string             // Feed source identifier (e.g. "NVD")
	IngestedAt    time.Time          // When this revision was stored
}

// NewThreat creates a new Threat instance with the tier derived from
// the severity score
func NewThreat(id types.ThreatID, title, description string, severityScore float64, publishedAt, modifiedAt time.Time, source string, now time.Time) (*Threat, error) {
	t := &Threat{
		ID:            id,
		Title:         title,
		Description:   description,
		SeverityScore: severityScore,
		SeverityTier:  types.TierForScore(severityScore),
		PublishedAt:   publishedAt,
		ModifiedAt:    modifiedAt,
		Source:        source,
		IngestedAt:    now,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate validates the threat
func (t *Threat) Validate() error {
	if t.ID == "" {
		return goerr.New("threat ID is required")
	}
	if t.Title == "" {
		return goerr.New("threat title is required", goerr.V("id", t.ID))
	}
	if t.SeverityScore < 0 || t.SeverityScore > 10 {
		return goerr.New("severity score must be between 0.0 and 10.0",
			goerr.V("id", t.ID),
			goerr.V("score", t.SeverityScore))
	}
	if t.PublishedAt.IsZero() {
		return goerr.New("published timestamp is required", goerr.V("id", t.ID))
	}
	if t.SeverityTier != types.TierForScore(t.SeverityScore) {
		return goerr.New("severity tier does not match severity score",
			goerr.V("id", t.ID),
			goerr.V("tier", t.SeverityTier),
			goerr.V("score", t.SeverityScore))
	}
	return nil
}

// SupersededBy returns true if the other revision is strictly newer
// and should replace this one. Equal or older timestamps are no-ops so
// that re-fetching the same feed window stays idempotent.
func (t *Threat) SupersededBy(other *Threat) bool {
	if other == nil {
		return false
	}
	return other.ModifiedAt.After(t.ModifiedAt)
}

// AgeInDays returns the whole days elapsed since publication
func (t *Threat) AgeInDays(now time.Time) int {
	if t.PublishedAt.IsZero() || now.Before(t.PublishedAt) {
		return 0
	}
	return int(now.Sub(t.PublishedAt).Hours() / 24)
}
