package service

import (
	"fmt"
	"strings"

	"github.com/alma-care/alma-bfa-go/internal/domain"
)

// suspiciousPatterns are scam indicators checked in order; the first match
// wins, so longer phrases come before their substrings.
var suspiciousPatterns = []string{
	"gift card",
	"itunes",
	"google play",
	"steam card",
	"western union",
	"moneygram",
	"wire transfer",
	"cryptocurrency",
	"crypto",
	"bitcoin",
	"urgent",
	"immediately",
	"act now",
	"deadline",
	"final notice",
	"you have won",
	"prize",
	"lottery",
	"inheritance",
	"verify your account",
	"account suspended",
	"confirm your details",
	"security check",
}

// MatchSuspiciousPattern returns the first scam phrase found in description,
// or "".
func MatchSuspiciousPattern(description string) string {
	d := strings.ToLower(description)
	if d == "" {
		return ""
	}
	for _, p := range suspiciousPatterns {
		if strings.Contains(d, p) {
			return p
		}
	}
	return ""
}

// RiskThresholds are inclusive lower bounds on a 0-100 score.
type RiskThresholds struct {
	Elevated int
	Highest  int
}

// DefaultRiskThresholds matches the provider's own banding.
var DefaultRiskThresholds = RiskThresholds{Elevated: 50, Highest: 75}

// forcedScores are the scores injected alongside a forced level.
var forcedScores = map[domain.RiskLevel]int{
	domain.RiskNormal:   10,
	domain.RiskElevated: 65,
	domain.RiskHighest:  90,
}

// RiskEvaluator classifies a charge's fraud risk. It does no I/O.
type RiskEvaluator struct {
	thresholds RiskThresholds
	forced     *domain.RiskSignal
}

// NewRiskEvaluator builds an evaluator. forceLevel, when it names a valid
// level, replaces whatever signal the provider reports.
func NewRiskEvaluator(t RiskThresholds, forceLevel string) *RiskEvaluator {
	e := &RiskEvaluator{thresholds: t}
	if lvl, ok := domain.ParseRiskLevel(forceLevel); ok {
		score := forcedScores[lvl]
		e.forced = &domain.RiskSignal{Level: lvl, Score: &score}
	}
	return e
}

// Forced reports whether a forced override is configured.
func (e *RiskEvaluator) Forced() bool {
	return e.forced != nil
}

// Assess computes the assessment for a charge. signal may be nil when the
// provider could not be asked.
func (e *RiskEvaluator) Assess(signal *domain.RiskSignal, description string) *domain.RiskAssessment {
	if e.forced != nil {
		signal = e.forced
	}

	a := &domain.RiskAssessment{
		Level:          e.baseLevel(signal),
		MatchedPattern: MatchSuspiciousPattern(description),
	}
	if signal != nil && signal.Score != nil {
		score := *signal.Score
		a.Score = &score
	}

	if a.MatchedPattern != "" && a.Level.Severity() < domain.RiskElevated.Severity() {
		a.Level = domain.RiskElevated
	}

	switch a.Level {
	case domain.RiskHighest:
		a.ShouldBlock = true
		a.ShouldAlert = true
		a.Message = blockMessage(a.MatchedPattern)
	case domain.RiskElevated:
		a.ShouldAlert = true
		a.Message = cautionMessage(a.MatchedPattern)
	case domain.RiskNormal:
		a.Message = "This payment looks fine."
	default:
		a.Level = domain.RiskUnknown
		a.Message = "I couldn't check this payment for fraud right now, so please take care."
	}
	return a
}

// baseLevel is the more severe of the qualitative level and the level the
// score falls into.
func (e *RiskEvaluator) baseLevel(signal *domain.RiskSignal) domain.RiskLevel {
	if signal == nil {
		return domain.RiskUnknown
	}

	level := domain.RiskUnknown
	if lvl, ok := domain.ParseRiskLevel(string(signal.Level)); ok {
		level = lvl
	}
	if signal.Score != nil {
		if fromScore := e.levelForScore(*signal.Score); fromScore.Severity() > level.Severity() {
			level = fromScore
		}
	}
	return level
}

func (e *RiskEvaluator) levelForScore(score int) domain.RiskLevel {
	switch {
	case score >= e.thresholds.Highest:
		return domain.RiskHighest
	case score >= e.thresholds.Elevated:
		return domain.RiskElevated
	default:
		return domain.RiskNormal
	}
}

func blockMessage(pattern string) string {
	if pattern != "" {
		return fmt.Sprintf("I've stopped this payment because it mentions %q, which is a common sign of a scam.", pattern)
	}
	return "I've stopped this payment because it looks very risky."
}

func cautionMessage(pattern string) string {
	const tail = " Please double-check who you are paying. You can still go ahead if you're sure."
	if pattern != "" {
		return fmt.Sprintf("This payment looks suspicious because it mentions %q.", pattern) + tail
	}
	return "This payment looks a little unusual." + tail
}
