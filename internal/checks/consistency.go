package checks

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ConsistencyOutcome is the shared typed result of the payment-consistency
// family (card present, contactless, token NFC, PIN, mag stripe, CNP). Each
// check fills Fields with its own metric keys; grading follows the family
// rule of two adverse factors for HIGH.
type ConsistencyOutcome struct {
	Fields  map[string]any
	Level   domain.RiskLevel
	Factors []string
}

// ScenarioAnalysis implements Summarizable.
func (o *ConsistencyOutcome) ScenarioAnalysis() []domain.ScenarioOutcome { return nil }

// OverallAssessment implements Summarizable.
func (o *ConsistencyOutcome) OverallAssessment() domain.OverallAssessment {
	return riskAssessment(o.Level, o.Factors)
}

// Metrics implements Summarizable.
func (o *ConsistencyOutcome) Metrics() map[string]any {
	m := make(map[string]any, len(o.Fields)+1)
	for k, v := range o.Fields {
		m[k] = v
	}
	m["risk_level"] = string(o.Level)
	return m
}

// notApplicable is the uniform outcome for alerts outside a family check's
// payment method.
func notApplicable(note string) *ConsistencyOutcome {
	return &ConsistencyOutcome{
		Fields:  map[string]any{"applicable": false},
		Level:   domain.RiskLow,
		Factors: []string{note},
	}
}

// graded finishes a consistency outcome from its adverse factors.
func graded(fields map[string]any, factors []string) *ConsistencyOutcome {
	return &ConsistencyOutcome{
		Fields:  fields,
		Level:   riskFromFactorCount(factors),
		Factors: factors,
	}
}
