package checks

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
)

// FirstTimeAlertCheck inspects the customer's alerting record. A customer who
// has been flagged before is held to a tighter standard than one who has not.
type FirstTimeAlertCheck struct {
	base
}

// NewFirstTimeAlertCheck creates the alert-history check.
func NewFirstTimeAlertCheck(provider *history.Provider, cfg domain.ChecksConfig, logger *slog.Logger) *FirstTimeAlertCheck {
	return &FirstTimeAlertCheck{base: newBase(CheckInfo{
		Name:        "first_time_alert",
		Description: "Whether the customer has been flagged by prior alerts",
		Category:    domain.CategoryBehavioral,
	}, provider, cfg, logger)}
}

// AlertRecordOutcome is the typed result of the first-time-alert check.
type AlertRecordOutcome struct {
	HasPrevious   bool
	PreviousCount int
	Level         domain.RiskLevel
}

// ScenarioAnalysis implements Summarizable.
func (o *AlertRecordOutcome) ScenarioAnalysis() []domain.ScenarioOutcome { return nil }

// OverallAssessment implements Summarizable.
func (o *AlertRecordOutcome) OverallAssessment() domain.OverallAssessment {
	if o.HasPrevious {
		return domain.OverallAssessment{
			Result:    verdictForRisk(o.Level),
			Rationale: []string{"Previous alert history indicates pattern"},
		}
	}
	return domain.OverallAssessment{
		Result:    verdictForRisk(o.Level),
		Rationale: []string{"First time alerts have lower suspicion threshold"},
	}
}

// Metrics implements Summarizable.
func (o *AlertRecordOutcome) Metrics() map[string]any {
	return map[string]any{
		"has_previous_alerts":  o.HasPrevious,
		"previous_alert_count": o.PreviousCount,
		"risk_level":           string(o.Level),
	}
}

// Schema implements Check.
func (c *FirstTimeAlertCheck) Schema() Schema {
	return Schema{
		Params: []ParamSpec{
			{Name: "customer_id", Type: TypeString, Required: true},
			{Name: "alert_history", Type: TypeBoolean, Required: true},
			{Name: "previous_alerts", Type: TypeNumber, Required: false},
		},
		ReturnKeys: []string{"has_previous_alerts", "previous_alert_count", "risk_level"},
	}
}

// Validate implements Check.
func (c *FirstTimeAlertCheck) Validate(params domain.Params) error {
	return ValidateParams(params, c.Schema())
}

// Execute implements Check.
func (c *FirstTimeAlertCheck) Execute(ctx context.Context, params domain.Params) *domain.CheckResult {
	return Run(c.info, func() (*domain.CheckResult, error) {
		prev, _ := params.Float("previous_alerts")
		o := &AlertRecordOutcome{
			PreviousCount: int(prev),
		}
		o.HasPrevious = params.Bool("alert_history") || o.PreviousCount > 0

		if o.HasPrevious {
			o.Level = domain.RiskHigh
		} else {
			o.Level = domain.RiskLow
		}

		return Finalize(o), nil
	})
}
