package types

// EnrichmentStatus represents the lifecycle state of an enrichment
type EnrichmentStatus string

const (
	EnrichmentPending  EnrichmentStatus = "PENDING"
	EnrichmentComplete EnrichmentStatus = "COMPLETE"
	EnrichmentFailed   EnrichmentStatus = "FAILED"
)

// String returns the string representation
func (s EnrichmentStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the enrichment will not transition further
func (s EnrichmentStatus) IsTerminal() bool {
	return s == EnrichmentComplete || s == EnrichmentFailed
}

// EnrichmentProvider identifies which path produced the enrichment text
type EnrichmentProvider string

const (
	ProviderLLM      EnrichmentProvider = "LLM"
	ProviderFallback EnrichmentProvider = "FALLBACK"
)

// String returns the string representation
func (p EnrichmentProvider) String() string {
	return string(p)
}
