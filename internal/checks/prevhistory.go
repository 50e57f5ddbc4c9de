package checks

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
)

// Relationship grades between a customer and a merchant.
const (
	relationshipEstablished = "ESTABLISHED"
	relationshipMinimal     = "MINIMAL"
	relationshipFirstTime   = "FIRST_TIME"
)

// PreviousHistoryCheck measures how familiar the customer-merchant pair is:
// how often, over how long, and how recently they have transacted.
type PreviousHistoryCheck struct {
	base
}

// NewPreviousHistoryCheck creates the customer-merchant relationship check.
func NewPreviousHistoryCheck(provider *history.Provider, cfg domain.ChecksConfig, logger *slog.Logger) *PreviousHistoryCheck {
	return &PreviousHistoryCheck{base: newBase(CheckInfo{
		Name:         "previous_history_check",
		Description:  "Depth and recency of the customer's relationship with this merchant",
		Category:     domain.CategoryRelationship,
		Dependencies: []string{"transaction_history"},
	}, provider, cfg, logger)}
}

// RelationshipOutcome is the typed result of the previous-history check.
type RelationshipOutcome struct {
	Status        string
	Count         int
	SpanDays      int
	FrequencyRate float64
	RecencyDays   int
	HasRecency    bool
	Familiarity   float64
	RiskScore     float64
	Level         domain.RiskLevel
}

// ScenarioAnalysis implements Summarizable.
func (o *RelationshipOutcome) ScenarioAnalysis() []domain.ScenarioOutcome { return nil }

// OverallAssessment implements Summarizable.
func (o *RelationshipOutcome) OverallAssessment() domain.OverallAssessment {
	var rationale []string
	switch o.Status {
	case relationshipFirstTime:
		rationale = []string{"First interaction between customer and merchant"}
	case relationshipMinimal:
		rationale = []string{fmt.Sprintf("Thin relationship: %d transactions over %d days", o.Count, o.SpanDays)}
	default:
		rationale = []string{fmt.Sprintf("Established relationship: %d transactions over %d days", o.Count, o.SpanDays)}
	}
	return domain.OverallAssessment{
		Result:    verdictForRisk(o.Level),
		Rationale: rationale,
	}
}

// Metrics implements Summarizable.
func (o *RelationshipOutcome) Metrics() map[string]any {
	var recency any
	if o.HasRecency {
		recency = o.RecencyDays
	}
	return map[string]any{
		"relationship_status":   o.Status,
		"transaction_count":     o.Count,
		"interaction_span_days": o.SpanDays,
		"frequency_rate":        round2(o.FrequencyRate),
		"recency_days":          recency,
		"familiarity_score":     round3(o.Familiarity),
		"risk_score":            round3(o.RiskScore),
		"risk_level":            string(o.Level),
	}
}

// Schema implements Check.
func (c *PreviousHistoryCheck) Schema() Schema {
	return Schema{
		Params: []ParamSpec{
			{Name: "customer_id", Type: TypeString, Required: true},
			{Name: "merchant_id", Type: TypeString, Required: true},
			{Name: "transaction_timestamp", Type: TypeTimestamp, Required: true},
		},
		ReturnKeys: []string{
			"relationship_status", "transaction_count", "interaction_span_days",
			"frequency_rate", "recency_days", "familiarity_score",
			"risk_score", "risk_level",
		},
	}
}

// Validate implements Check.
func (c *PreviousHistoryCheck) Validate(params domain.Params) error {
	return ValidateParams(params, c.Schema())
}

// Execute implements Check.
func (c *PreviousHistoryCheck) Execute(ctx context.Context, params domain.Params) *domain.CheckResult {
	return Run(c.info, func() (*domain.CheckResult, error) {
		ref, err := c.refTime(params)
		if err != nil {
			return nil, err
		}
		merchantID := params.String("merchant_id")
		if merchantID == "" {
			return nil, errMissing("merchant_id")
		}

		view, err := c.prepare(ctx, params, history.Window{Merchant: merchantID})
		if err != nil {
			return nil, err
		}

		return Finalize(c.analyze(view, ref)), nil
	})
}

func (c *PreviousHistoryCheck) analyze(view *history.View, ref time.Time) *RelationshipOutcome {
	o := &RelationshipOutcome{Status: relationshipFirstTime}
	o.Count = view.Len()

	if o.Count > 0 {
		oldest := view.Oldest().Timestamp
		newest := view.Newest().Timestamp
		if o.Count == 1 {
			o.SpanDays = 1
		} else {
			o.SpanDays = int(newest.Sub(oldest).Hours()/24) + 1
		}
		o.RecencyDays = int(ref.Sub(newest).Hours() / 24)
		o.HasRecency = true

		span := o.SpanDays
		if span < 1 {
			span = 1
		}
		o.FrequencyRate = float64(o.Count) / float64(span) * 30

		switch {
		case o.Count >= 10 && o.SpanDays >= 90:
			o.Status = relationshipEstablished
		case o.Count >= 2:
			o.Status = relationshipMinimal
		}

		o.Familiarity = 0.4*math.Min(float64(o.Count)/10, 1) +
			0.3*math.Min(float64(o.SpanDays)/365, 1) +
			0.3*math.Max(0, 1-float64(o.RecencyDays)/365)
	}

	o.RiskScore = round3(1 - o.Familiarity)
	switch {
	case o.RiskScore >= 0.7:
		o.Level = domain.RiskHigh
	case o.RiskScore >= 0.4:
		o.Level = domain.RiskMedium
	default:
		o.Level = domain.RiskLow
	}

	// A first interaction is never graded below HIGH.
	if o.Status == relationshipFirstTime {
		o.Level = domain.RiskHigh
		if o.RiskScore < 0.8 {
			o.RiskScore = 0.8
		}
	}

	return o
}
