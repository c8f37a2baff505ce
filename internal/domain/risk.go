package domain

import "strings"

// RiskLevel is the fraud classification attached to a charge.
type RiskLevel string

const (
	RiskNormal   RiskLevel = "normal"
	RiskElevated RiskLevel = "elevated"
	RiskHighest  RiskLevel = "highest"
	RiskUnknown  RiskLevel = "unknown"
)

// ParseRiskLevel accepts the provider's qualitative levels. Anything else,
// including "not_assessed", reports false.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(s))) {
	case RiskNormal:
		return RiskNormal, true
	case RiskElevated:
		return RiskElevated, true
	case RiskHighest:
		return RiskHighest, true
	default:
		return "", false
	}
}

// Severity orders levels; unknown sorts below normal.
func (l RiskLevel) Severity() int {
	switch l {
	case RiskNormal:
		return 1
	case RiskElevated:
		return 2
	case RiskHighest:
		return 3
	default:
		return 0
	}
}

// RiskSignal is what the payments provider reports for a charge.
// Either field may be missing.
type RiskSignal struct {
	Level RiskLevel `json:"level,omitempty"`
	Score *int      `json:"score,omitempty"`
}

// RiskAssessment is derived per charge and never stored.
// ShouldBlock implies Level == RiskHighest.
type RiskAssessment struct {
	Level          RiskLevel `json:"risk_level"`
	Score          *int      `json:"risk_score"`
	MatchedPattern string    `json:"matched_pattern,omitempty"`
	ShouldBlock    bool      `json:"should_block"`
	ShouldAlert    bool      `json:"should_alert"`
	Message        string    `json:"message"`
}
