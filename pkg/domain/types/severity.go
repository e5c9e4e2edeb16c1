package types

// SeverityTier is the display tier derived from the upstream severity
// score (CVSS, 0.0-10.0).
type SeverityTier string

const (
	SeverityCritical SeverityTier = "CRITICAL"
	SeverityHigh     SeverityTier = "HIGH"
	SeverityMedium   SeverityTier = "MEDIUM"
	SeverityLow      SeverityTier = "LOW"
)

// String returns the string representation
func (t SeverityTier) String() string {
	return string(t)
}

// IsValid checks if the severity tier is a known value
func (t SeverityTier) IsValid() bool {
	switch t {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// TierForScore maps a severity score to its tier. The thresholds are
// fixed: >=9.0 CRITICAL, >=7.0 HIGH, >=4.0 MEDIUM, otherwise LOW.
func TierForScore(score float64) SeverityTier {
	switch {
	case score >= 9.0:
		return SeverityCritical
	case score >= 7.0:
		return SeverityHigh
	case score >= 4.0:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// RiskCategory is the operational risk category derived from the
// decayed 0-100 risk score. It mirrors the severity tier labels but is
// computed independently, so a fresh low-severity threat can outrank a
// stale high-severity one.
type RiskCategory string

const (
	RiskCritical RiskCategory = "CRITICAL"
	RiskHigh     RiskCategory = "HIGH"
	RiskMedium   RiskCategory = "MEDIUM"
	RiskLow      RiskCategory = "LOW"
)

// String returns the string representation
func (c RiskCategory) String() string {
	return string(c)
}
