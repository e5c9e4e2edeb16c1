package types

import (
	"github.com/google/uuid"
)

// ThreatID is the stable external identifier of a vulnerability
// disclosure (e.g. "CVE-2024-0001"). It is assigned by the upstream
// source and never changes once a threat is stored.
type ThreatID string

// String returns the string representation
func (id ThreatID) String() string {
	return string(id)
}

// CycleID identifies a single ingestion cycle
type CycleID string

// String returns the string representation
func (id CycleID) String() string {
	return string(id)
}

// NewCycleID creates a new CycleID
func NewCycleID() CycleID {
	return CycleID(uuid.New().String())
}

// ViewKey identifies a cached dashboard view
type ViewKey string

// String returns the string representation
func (k ViewKey) String() string {
	return string(k)
}

const (
	ViewSummary      ViewKey = "summary"
	ViewTrend        ViewKey = "trend"
	ViewCategoryDist ViewKey = "categories"
)
