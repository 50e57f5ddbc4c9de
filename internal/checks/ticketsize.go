package checks

import (
	"context"
	"log/slog"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
)

// TicketSizeCheck compares the alert amount against the customer's average
// ticket for the same merchant and category, weighing how significant and
// how consistent the departure is across the two views.
type TicketSizeCheck struct {
	base
}

// NewTicketSizeCheck creates the average-ticket-size check.
func NewTicketSizeCheck(provider *history.Provider, cfg domain.ChecksConfig, logger *slog.Logger) *TicketSizeCheck {
	return &TicketSizeCheck{base: newBase(CheckInfo{
		Name:         "average_ticket_size",
		Description:  "Compares the transaction against the customer's typical ticket size per merchant and category",
		Category:     domain.CategoryStatistical,
		Dependencies: []string{"transaction_history"},
	}, provider, cfg, logger)}
}

// Ticket significance grades.
const (
	ticketStrong   = "STRONG"
	ticketModerate = "MODERATE"
	ticketWeak     = "WEAK"
	ticketNormal   = "NORMAL"
)

// TicketSizeOutcome is the typed result of the ticket-size check.
type TicketSizeOutcome struct {
	Current float64

	Merchant amountStats
	Category amountStats

	SignificanceScore float64
	SignificanceLevel string
	ConsistencyScore  float64

	RiskScore   float64
	RiskLevel   domain.RiskLevel
	RiskFactors []string
}

// ScenarioAnalysis implements Summarizable.
func (o *TicketSizeOutcome) ScenarioAnalysis() []domain.ScenarioOutcome { return nil }

// OverallAssessment implements Summarizable.
func (o *TicketSizeOutcome) OverallAssessment() domain.OverallAssessment {
	return riskAssessment(o.RiskLevel, o.RiskFactors)
}

// Metrics implements Summarizable.
func (o *TicketSizeOutcome) Metrics() map[string]any {
	return map[string]any{
		"current_amount":             o.Current,
		"merchant_transaction_count": o.Merchant.Count,
		"merchant_avg_ticket":        round2(o.Merchant.Mean),
		"merchant_z_score":           round3(o.Merchant.Z),
		"merchant_deviation_percent": round2(o.Merchant.DeviationPct),
		"category_transaction_count": o.Category.Count,
		"category_avg_ticket":        round2(o.Category.Mean),
		"category_z_score":           round3(o.Category.Z),
		"category_percentile_rank":   round2(o.Category.PercentileRank),
		"significance_score":         round3(o.SignificanceScore),
		"significance_level":         o.SignificanceLevel,
		"consistency_score":          round3(o.ConsistencyScore),
		"risk_score":                 round3(o.RiskScore),
		"risk_level":                 string(o.RiskLevel),
	}
}

// Schema implements Check.
func (c *TicketSizeCheck) Schema() Schema {
	return Schema{
		Params: []ParamSpec{
			{Name: "customer_id", Type: TypeString, Required: true},
			{Name: "amount", Type: TypeNumber, Required: true},
			{Name: "transaction_timestamp", Type: TypeTimestamp, Required: true},
			{Name: "merchant_id", Type: TypeString, Required: false},
			{Name: "merchant_category", Type: TypeString, Required: false},
		},
		ReturnKeys: []string{
			"current_amount",
			"merchant_transaction_count", "merchant_avg_ticket",
			"merchant_z_score", "merchant_deviation_percent",
			"category_transaction_count", "category_avg_ticket",
			"category_z_score", "category_percentile_rank",
			"significance_score", "significance_level", "consistency_score",
			"risk_score", "risk_level",
		},
	}
}

// Validate implements Check.
func (c *TicketSizeCheck) Validate(params domain.Params) error {
	return ValidateParams(params, c.Schema())
}

// Execute implements Check.
func (c *TicketSizeCheck) Execute(ctx context.Context, params domain.Params) *domain.CheckResult {
	return Run(c.info, func() (*domain.CheckResult, error) {
		ref, err := c.refTime(params)
		if err != nil {
			return nil, err
		}
		amount, ok := params.Float("amount")
		if !ok {
			return nil, errMissing("amount")
		}

		view, err := c.prepare(ctx, params, c.lookbackWindow(ref))
		if err != nil {
			return nil, err
		}

		o := &TicketSizeOutcome{Current: amount}
		if mid := params.String("merchant_id"); mid != "" {
			o.Merchant = describeAmounts(view.Merchant(mid).Amounts(), amount)
		}
		if cat := params.String("merchant_category"); cat != "" {
			o.Category = describeAmounts(view.Category(cat).Amounts(), amount)
		}

		c.scoreSignificance(o)
		c.gradeRisk(o)
		return Finalize(o), nil
	})
}

// scoreSignificance weighs how far the ticket departs from each view.
func (c *TicketSizeCheck) scoreSignificance(o *TicketSizeOutcome) {
	score := 0.0
	var factors []string
	add := func(points float64, factor string) {
		score += points
		factors = append(factors, factor)
	}

	if o.Merchant.Count > 0 {
		switch {
		case math.Abs(o.Merchant.Z) > 2.5:
			add(0.8, "Ticket far outside merchant norm (Z-score > 2.5)")
		case math.Abs(o.Merchant.Z) > 1.96:
			add(0.5, "Ticket outside merchant norm (Z-score > 1.96)")
		case math.Abs(o.Merchant.Z) > 1.0:
			add(0.3, "Ticket above usual merchant variation")
		}
		if math.Abs(o.Merchant.DeviationPct) > 300 {
			add(0.6, "Ticket deviates more than 300% from merchant average")
		}
	}

	if o.Category.Count > 0 {
		switch {
		case math.Abs(o.Category.Z) > 2.5:
			add(0.6, "Ticket far outside category norm (Z-score > 2.5)")
		case math.Abs(o.Category.Z) > 1.96:
			add(0.4, "Ticket outside category norm (Z-score > 1.96)")
		case math.Abs(o.Category.Z) > 1.0:
			add(0.2, "Ticket above usual category variation")
		}
		switch {
		case o.Category.PercentileRank > 95:
			add(0.4, "Ticket in top 5% for this category")
		case o.Category.PercentileRank < 5:
			add(0.3, "Ticket in bottom 5% for this category")
		}
	}

	o.SignificanceScore = score
	o.RiskFactors = factors
	switch {
	case score >= 0.8:
		o.SignificanceLevel = ticketStrong
	case score >= 0.5:
		o.SignificanceLevel = ticketModerate
	case score >= 0.3:
		o.SignificanceLevel = ticketWeak
	default:
		o.SignificanceLevel = ticketNormal
	}
}

// gradeRisk blends significance with cross-view consistency. Two views that
// agree on the direction of the departure corroborate each other.
func (c *TicketSizeCheck) gradeRisk(o *TicketSizeOutcome) {
	hasMerchant := o.Merchant.Count > 0
	hasCategory := o.Category.Count > 0

	switch {
	case hasMerchant && hasCategory:
		if (o.Merchant.Z >= 0) == (o.Category.Z >= 0) {
			o.ConsistencyScore = 0.3
		} else {
			o.ConsistencyScore = 0.1
		}
	case hasMerchant || hasCategory:
		o.ConsistencyScore = 0.2
	}

	significance := o.SignificanceScore
	if significance > 1.0 {
		significance = 1.0
	}
	score := significance*0.7 + o.ConsistencyScore*0.3

	if !hasMerchant {
		score += 0.2
		o.RiskFactors = append(o.RiskFactors, "No prior ticket history with this merchant")
	}
	if !hasCategory {
		score += 0.1
		o.RiskFactors = append(o.RiskFactors, "No prior ticket history in this category")
	}
	if score > 1.0 {
		score = 1.0
	}

	level := domain.RiskLow
	switch {
	case score >= 0.7:
		level = domain.RiskHigh
	case score >= 0.4:
		level = domain.RiskMedium
	}

	if o.SignificanceLevel == ticketStrong {
		level = domain.RiskHigh
		if score < 0.8 {
			score = 0.8
		}
	}

	o.RiskScore = score
	o.RiskLevel = level
}
