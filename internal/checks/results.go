package checks

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Summarizable renders a check-specific outcome into the uniform result
// shape. Each check defines its own typed outcome struct so intermediate
// values stay inspectable in tests instead of living in loose maps.
type Summarizable interface {
	ScenarioAnalysis() []domain.ScenarioOutcome
	OverallAssessment() domain.OverallAssessment
	Metrics() map[string]any
}

// Finalize renders a Summarizable into the success-path CheckResult. The
// fault boundary in Run fills in identity fields.
func Finalize(s Summarizable) *domain.CheckResult {
	overall := s.OverallAssessment()
	return &domain.CheckResult{
		Scenarios: s.ScenarioAnalysis(),
		Overall:   &overall,
		Metrics:   s.Metrics(),
	}
}

// verdictForRisk maps a risk grade onto the verdict vocabulary used by
// scenario checks, so flat risk-graded checks aggregate uniformly.
func verdictForRisk(level domain.RiskLevel) string {
	switch level {
	case domain.RiskHigh:
		return domain.VerdictProbableFraudHigh
	case domain.RiskMedium:
		return domain.VerdictProbableFraud
	default:
		return domain.VerdictNotFraud
	}
}

// riskAssessment is the shared rendering for flat risk-graded outcomes.
func riskAssessment(level domain.RiskLevel, factors []string) domain.OverallAssessment {
	return domain.OverallAssessment{
		Result:    verdictForRisk(level),
		Rationale: factors,
	}
}

// riskFromFactorCount applies the consistency-family grading: two or more
// adverse factors are HIGH, one is MEDIUM, none is LOW.
func riskFromFactorCount(factors []string) domain.RiskLevel {
	switch {
	case len(factors) >= 2:
		return domain.RiskHigh
	case len(factors) == 1:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}
