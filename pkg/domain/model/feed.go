package model

import "time"

// RawRecord is a single record as returned by the upstream disclosure
// feed, before normalization. Timestamp and score fields stay as raw
// strings here; the normalizer owns parsing and rejection.
type RawRecord struct {
	ID          string
	Title       string
	Description string
	SeverityRaw string // e.g. "9.8"
	Published   string // RFC3339-ish upstream timestamp
	Modified    string
	Source      string
}

// FeedPage is one page of the upstream feed. RetryAfter carries the
// upstream rate-limit hint; the retry policy itself lives in the
// collector, not in the feed client.
type FeedPage struct {
	Records       []RawRecord
	NextPageToken string
	RetryAfter    time.Duration
}
