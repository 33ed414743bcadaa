package domain

import "github.com/shopspring/decimal"

// RiskLevel buckets a health factor.
type RiskLevel string

const (
	RiskUnknown RiskLevel = "unknown"
	RiskHealthy RiskLevel = "healthy"
	RiskWarning RiskLevel = "warning"
	RiskDanger  RiskLevel = "danger"
)

// RiskThresholds are inclusive upper bounds for the danger and warning
// levels.
type RiskThresholds struct {
	Danger  decimal.Decimal
	Warning decimal.Decimal
}

// DefaultRiskThresholds returns danger at 1.1 and warning at 1.5.
func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{
		Danger:  decimal.RequireFromString("1.1"),
		Warning: decimal.RequireFromString("1.5"),
	}
}

// Classify maps a health factor string to a risk level. "N/A" and
// unparseable values are RiskUnknown.
func (t RiskThresholds) Classify(healthFactor string) RiskLevel {
	if healthFactor == "" || healthFactor == HealthFactorUnavailable {
		return RiskUnknown
	}
	hf, err := decimal.NewFromString(healthFactor)
	if err != nil {
		return RiskUnknown
	}
	switch {
	case hf.LessThanOrEqual(t.Danger):
		return RiskDanger
	case hf.LessThanOrEqual(t.Warning):
		return RiskWarning
	default:
		return RiskHealthy
	}
}
