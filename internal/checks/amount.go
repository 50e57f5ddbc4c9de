package checks

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
)

// AmountCheck grades how far the alert amount sits from the customer's
// spending distribution, overall and within the same merchant and category.
type AmountCheck struct {
	base
}

// NewAmountCheck creates the statistical amount check.
func NewAmountCheck(provider *history.Provider, cfg domain.ChecksConfig, logger *slog.Logger) *AmountCheck {
	return &AmountCheck{base: newBase(CheckInfo{
		Name:         "amount_analysis",
		Description:  "Statistical outlier analysis of the transaction amount against customer, merchant and category history",
		Category:     domain.CategoryStatistical,
		Dependencies: []string{"transaction_history"},
	}, provider, cfg, logger)}
}

// amountStats summarizes one amount population against the current amount.
type amountStats struct {
	Count          int
	Mean           float64
	Median         float64
	StdDev         float64
	Min            float64
	Max            float64
	P25            float64
	P75            float64
	P90            float64
	P95            float64
	Z              float64
	PercentileRank float64
	DeviationPct   float64
}

func describeAmounts(xs []float64, current float64) amountStats {
	s := amountStats{Count: len(xs)}
	if len(xs) == 0 {
		return s
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)

	s.Mean = mean(xs)
	s.Median = median(xs)
	s.StdDev = sampleStdDev(xs)
	s.Min = sorted[0]
	s.Max = sorted[len(sorted)-1]
	s.P25 = percentile(sorted, 0.25)
	s.P75 = percentile(sorted, 0.75)
	s.P90 = percentile(sorted, 0.90)
	s.P95 = percentile(sorted, 0.95)
	s.Z = zScore(current, s.Mean, s.StdDev)
	s.PercentileRank = percentileRank(xs, current)
	s.DeviationPct = deviationPercent(current, s.Mean)
	return s
}

// Outlier strength grades.
const (
	outlierStrong   = "STRONG"
	outlierModerate = "MODERATE"
	outlierWeak     = "WEAK"
	outlierNone     = "NONE"
)

// AmountOutcome is the typed result of the amount check.
type AmountOutcome struct {
	Current      float64
	CategoryName string

	Overall  amountStats
	Merchant amountStats
	Category amountStats

	OutlierScore   float64
	OutlierLevel   string
	OutlierFactors []string

	RiskScore   float64
	RiskLevel   domain.RiskLevel
	RiskFactors []string
}

// ScenarioAnalysis implements Summarizable. The amount check reports a flat
// grading, not numbered scenarios.
func (o *AmountOutcome) ScenarioAnalysis() []domain.ScenarioOutcome { return nil }

// OverallAssessment implements Summarizable.
func (o *AmountOutcome) OverallAssessment() domain.OverallAssessment {
	rationale := append(append([]string{}, o.OutlierFactors...), o.RiskFactors...)
	return domain.OverallAssessment{
		Result:    verdictForRisk(o.RiskLevel),
		Rationale: rationale,
	}
}

// Metrics implements Summarizable.
func (o *AmountOutcome) Metrics() map[string]any {
	return map[string]any{
		"total_transactions_analyzed": o.Overall.Count,
		"current_amount":              o.Current,
		"overall_mean":                round2(o.Overall.Mean),
		"overall_median":              round2(o.Overall.Median),
		"overall_std_dev":             round2(o.Overall.StdDev),
		"overall_z_score":             round3(o.Overall.Z),
		"overall_percentile_rank":     round2(o.Overall.PercentileRank),
		"overall_deviation_percent":   round2(o.Overall.DeviationPct),
		"merchant_transaction_count":  o.Merchant.Count,
		"merchant_mean":               round2(o.Merchant.Mean),
		"merchant_z_score":            round3(o.Merchant.Z),
		"merchant_deviation_percent":  round2(o.Merchant.DeviationPct),
		"category_transaction_count":  o.Category.Count,
		"category_mean":               round2(o.Category.Mean),
		"category_z_score":            round3(o.Category.Z),
		"outlier_score":               round3(o.OutlierScore),
		"outlier_level":               o.OutlierLevel,
		"risk_score":                  round3(o.RiskScore),
		"risk_level":                  string(o.RiskLevel),
	}
}

// Schema implements Check.
func (c *AmountCheck) Schema() Schema {
	return Schema{
		Params: []ParamSpec{
			{Name: "customer_id", Type: TypeString, Required: true},
			{Name: "amount", Type: TypeNumber, Required: true},
			{Name: "transaction_timestamp", Type: TypeTimestamp, Required: true},
			{Name: "merchant_id", Type: TypeString, Required: false},
			{Name: "merchant_category", Type: TypeString, Required: false},
		},
		ReturnKeys: []string{
			"total_transactions_analyzed", "current_amount",
			"overall_mean", "overall_median", "overall_std_dev",
			"overall_z_score", "overall_percentile_rank", "overall_deviation_percent",
			"merchant_transaction_count", "merchant_mean", "merchant_z_score",
			"merchant_deviation_percent",
			"category_transaction_count", "category_mean", "category_z_score",
			"outlier_score", "outlier_level", "risk_score", "risk_level",
		},
	}
}

// Validate implements Check.
func (c *AmountCheck) Validate(params domain.Params) error {
	return ValidateParams(params, c.Schema())
}

// Execute implements Check.
func (c *AmountCheck) Execute(ctx context.Context, params domain.Params) *domain.CheckResult {
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

		outcome := c.analyze(view, amount, params.String("merchant_id"), params.String("merchant_category"))
		return Finalize(outcome), nil
	})
}

func (c *AmountCheck) analyze(view *history.View, amount float64, merchantID, category string) *AmountOutcome {
	o := &AmountOutcome{
		Current:      amount,
		CategoryName: category,
		Overall:      describeAmounts(view.Amounts(), amount),
	}
	if merchantID != "" {
		o.Merchant = describeAmounts(view.Merchant(merchantID).Amounts(), amount)
	}
	if category != "" {
		o.Category = describeAmounts(view.Category(category).Amounts(), amount)
	}
	c.scoreOutliers(o)
	c.gradeRisk(o)
	return o
}

// scoreOutliers accumulates outlier evidence across the three populations.
func (c *AmountCheck) scoreOutliers(o *AmountOutcome) {
	score := 0.0
	var factors []string
	add := func(points float64, factor string) {
		score += points
		factors = append(factors, factor)
	}

	if o.Overall.Count > 0 {
		switch {
		case math.Abs(o.Overall.Z) > 2.5:
			add(0.8, "Strong statistical outlier (Z-score > 2.5)")
		case math.Abs(o.Overall.Z) > 1.96:
			add(0.5, "Statistical outlier (Z-score > 1.96)")
		}

		switch {
		case o.Overall.PercentileRank > 95:
			add(0.4, "Amount in top 5% of customer spending")
		case o.Overall.PercentileRank < 5:
			add(0.3, "Amount in bottom 5% of customer spending")
		}

		iqr := o.Overall.P75 - o.Overall.P25
		switch {
		case o.Current > o.Overall.P75+1.5*iqr:
			add(0.6, "Amount above the IQR upper fence")
		case o.Current < o.Overall.P25-1.5*iqr:
			add(0.4, "Amount below the IQR lower fence")
		}
	}

	if o.Merchant.Count > 0 {
		if math.Abs(o.Merchant.Z) > 2.0 {
			add(0.6, "Amount unusual for this merchant")
		}
		if math.Abs(o.Merchant.DeviationPct) > 200 {
			add(0.4, "Amount deviates sharply from the merchant average")
		}
	}

	if o.Category.Count > 0 && math.Abs(o.Category.Z) > 2.0 {
		add(0.5, "Amount unusual for this merchant category")
	}

	o.OutlierScore = score
	o.OutlierFactors = factors
	switch {
	case score >= 0.8:
		o.OutlierLevel = outlierStrong
	case score >= 0.4:
		o.OutlierLevel = outlierModerate
	case score >= 0.2:
		o.OutlierLevel = outlierWeak
	default:
		o.OutlierLevel = outlierNone
	}
}

// gradeRisk turns outlier strength and deviation bands into the final grade.
func (c *AmountCheck) gradeRisk(o *AmountOutcome) {
	score := 0.0
	var factors []string
	add := func(points float64, factor string) {
		score += points
		factors = append(factors, factor)
	}

	switch o.OutlierLevel {
	case outlierStrong:
		add(0.6, "Strong amount outlier detected")
	case outlierModerate:
		add(0.4, "Moderate amount outlier detected")
	case outlierWeak:
		add(0.2, "Weak amount outlier detected")
	}

	absDev := math.Abs(o.Overall.DeviationPct)
	switch {
	case absDev > 500:
		add(0.4, "Amount deviates more than 500% from customer average")
	case absDev > 200:
		add(0.3, "Amount deviates more than 200% from customer average")
	case absDev > 100:
		add(0.2, "Amount deviates more than 100% from customer average")
	}

	if o.Merchant.Count > 0 {
		mDev := math.Abs(o.Merchant.DeviationPct)
		switch {
		case mDev > 300:
			add(0.4, "Amount deviates more than 300% from merchant average")
		case mDev > 200:
			add(0.3, "Amount deviates more than 200% from merchant average")
		}
	}

	if o.CategoryName != "" && o.Category.Count == 0 {
		add(0.2, "No spending history in this merchant category")
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

	// A strong outlier is conclusive on its own.
	if o.OutlierLevel == outlierStrong {
		level = domain.RiskHigh
		score = 1.0
	}

	o.RiskScore = score
	o.RiskLevel = level
	o.RiskFactors = factors
}
