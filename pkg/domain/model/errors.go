package model

import "github.com/m-mizutani/goerr/v2"

// Sentinel errors for domain operations
var (
	ErrThreatNotFound     = goerr.New("threat not found")
	ErrRiskScoreNotFound  = goerr.New("risk score not found")
	ErrEnrichmentNotFound = goerr.New("enrichment not found")
	ErrCycleInProgress    = goerr.New("ingestion cycle already in progress")
)

// Error tags for the failure taxonomy. Only feed_unavailable and
// store_write_failed abort a cycle; everything else degrades in place.
var (
	ErrTagFeedUnavailable  = goerr.NewTag("feed_unavailable")
	ErrTagRecordRejected   = goerr.NewTag("record_rejected")
	ErrTagStoreWriteFailed = goerr.NewTag("store_write_failed")
	ErrTagEnrichmentFailed = goerr.NewTag("enrichment_failed")
)
