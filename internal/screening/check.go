package screening

import (
	"context"
	"log/slog"
	"math"

	"github.com/opensource-finance/kestrel/internal/checks"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Check surfaces the screening engine as one member of the analysis battery.
// Each loaded rule becomes a scenario; fired rules carry their configured
// reason and weight.
type Check struct {
	engine *Engine
	logger *slog.Logger
}

var _ checks.Check = (*Check)(nil)

// NewCheck wraps a screening engine as a registrable check.
func NewCheck(engine *Engine, logger *slog.Logger) *Check {
	if logger == nil {
		logger = slog.Default()
	}
	return &Check{engine: engine, logger: logger}
}

// Info implements checks.Check.
func (c *Check) Info() checks.CheckInfo {
	return checks.CheckInfo{
		Name:         "screening_rules",
		Description:  "Operator-defined CEL screening rules over alert parameters",
		Category:     domain.CategoryScreening,
		Dependencies: []string{"screening_rules"},
	}
}

// Schema implements checks.Check. Screening reads whatever parameters the
// loaded expressions reference, so everything beyond identity is optional.
func (c *Check) Schema() checks.Schema {
	return checks.Schema{
		Params: []checks.ParamSpec{
			{Name: "customer_id", Type: checks.TypeString, Required: true},
			{Name: "transaction_timestamp", Type: checks.TypeTimestamp, Required: true},
			{Name: "amount", Type: checks.TypeNumber, Required: false},
			{Name: "currency", Type: checks.TypeString, Required: false},
			{Name: "country", Type: checks.TypeString, Required: false},
			{Name: "location", Type: checks.TypeString, Required: false},
			{Name: "merchant_id", Type: checks.TypeString, Required: false},
			{Name: "merchant_category", Type: checks.TypeString, Required: false},
			{Name: "mcc", Type: checks.TypeString, Required: false},
			{Name: "payment_method", Type: checks.TypeString, Required: false},
			{Name: "payment_sub_type", Type: checks.TypeString, Required: false},
			{Name: "pin_verified", Type: checks.TypeBoolean, Required: false},
			{Name: "device_id", Type: checks.TypeString, Required: false},
			{Name: "ip_address", Type: checks.TypeString, Required: false},
		},
		ReturnKeys: []string{
			"rules_loaded", "rules_fired", "total_weight", "max_weight", "risk_level",
		},
	}
}

// Validate implements checks.Check.
func (c *Check) Validate(params domain.Params) error {
	return checks.ValidateParams(params, c.Schema())
}

// Execute implements checks.Check.
func (c *Check) Execute(ctx context.Context, params domain.Params) *domain.CheckResult {
	return checks.Run(c.Info(), func() (*domain.CheckResult, error) {
		outcomes := c.engine.Evaluate(ctx, params)
		for _, out := range outcomes {
			if out.Err != "" {
				c.logger.Warn("screening rule evaluation failed",
					"rule_id", out.Rule.ID,
					"error", out.Err)
			}
		}
		return checks.Finalize(&screenOutcome{outcomes: outcomes}), nil
	})
}

// screenOutcome renders rule outcomes into the uniform result shape.
type screenOutcome struct {
	outcomes []Outcome
}

// ScenarioAnalysis implements checks.Summarizable.
func (o *screenOutcome) ScenarioAnalysis() []domain.ScenarioOutcome {
	scenarios := make([]domain.ScenarioOutcome, 0, len(o.outcomes))
	for _, out := range o.outcomes {
		rationale := "Rule did not match"
		result := domain.VerdictNotFraud
		switch {
		case out.Err != "":
			rationale = out.Err
		case out.Fired:
			rationale = out.Rule.Reason
			result = weightVerdict(out.Rule.Weight)
		}
		scenarios = append(scenarios, domain.ScenarioOutcome{
			ScenarioID:          out.Rule.ID,
			ScenarioDescription: out.Rule.Name,
			ScenarioResult:      result,
			Rationale:           rationale,
		})
	}
	return scenarios
}

// OverallAssessment implements checks.Summarizable. The worst fired rule
// decides the verdict.
func (o *screenOutcome) OverallAssessment() domain.OverallAssessment {
	var (
		reasons   []string
		maxWeight float64
		fired     int
	)
	for _, out := range o.outcomes {
		if !out.Fired {
			continue
		}
		fired++
		reasons = append(reasons, out.Rule.Reason)
		if out.Rule.Weight > maxWeight {
			maxWeight = out.Rule.Weight
		}
	}
	if fired == 0 {
		return domain.OverallAssessment{
			Result:    domain.VerdictNotFraud,
			Rationale: []string{"No screening rules matched"},
		}
	}
	return domain.OverallAssessment{
		Result:    weightVerdict(maxWeight),
		Rationale: reasons,
	}
}

// Metrics implements checks.Summarizable.
func (o *screenOutcome) Metrics() map[string]any {
	var (
		total     float64
		maxWeight float64
		fired     int
	)
	for _, out := range o.outcomes {
		if !out.Fired {
			continue
		}
		fired++
		total += out.Rule.Weight
		if out.Rule.Weight > maxWeight {
			maxWeight = out.Rule.Weight
		}
	}

	level := domain.RiskNone
	switch {
	case maxWeight >= 0.7:
		level = domain.RiskHigh
	case maxWeight >= 0.4:
		level = domain.RiskMedium
	case fired > 0:
		level = domain.RiskLow
	}

	return map[string]any{
		"rules_loaded": len(o.outcomes),
		"rules_fired":  fired,
		"total_weight": math.Round(total*100) / 100,
		"max_weight":   math.Round(maxWeight*100) / 100,
		"risk_level":   string(level),
	}
}

// weightVerdict maps a rule weight onto the scenario verdict vocabulary.
func weightVerdict(weight float64) string {
	switch {
	case weight >= 0.7:
		return domain.VerdictProbableFraudHigh
	case weight >= 0.4:
		return domain.VerdictProbableFraud
	default:
		return domain.VerdictProbableFraudLess
	}
}
