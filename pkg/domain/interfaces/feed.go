package interfaces

import (
	"context"
	"time"

	"github.com/secmon-lab/cyberscope/pkg/domain/model"
)

// FeedClient fetches raw disclosure records from an upstream source.
// Implementations are stateless between calls except for the
// caller-supplied pagination token, and never retry internally: a
// rate-limit response surfaces as a RetryAfter hint on the page so the
// collector owns the retry policy.
type FeedClient interface {
	Fetch(ctx context.Context, since time.Time, pageToken string) (*model.FeedPage, error)
}

// Enricher produces the narrative assessment for a threat. It never
// returns an error: provider failures resolve to a FALLBACK enrichment.
type Enricher interface {
	Enrich(ctx context.Context, threat *model.Threat) *model.Enrichment
}

// Notifier reports alert conditions (e.g. repeated cycle failures) to
// an external channel
type Notifier interface {
	NotifyAlert(ctx context.Context, title, detail string) error
}
