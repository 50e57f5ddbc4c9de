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

// RiskyMerchantCheck combines a high-risk merchant list test with an
// amount-grouping test against the customer's history at the same merchant.
// A repeated identical amount at a known merchant reads like a subscription;
// a novel amount at a high-risk merchant reads like fraud.
type RiskyMerchantCheck struct {
	base
}

// NewRiskyMerchantCheck creates the merchant risk check.
func NewRiskyMerchantCheck(provider *history.Provider, cfg domain.ChecksConfig, logger *slog.Logger) *RiskyMerchantCheck {
	return &RiskyMerchantCheck{base: newBase(CheckInfo{
		Name:         "risky_merchant",
		Description:  "High-risk merchant lists and amount grouping against merchant history",
		Category:     domain.CategoryExposure,
		Dependencies: []string{"transaction_history"},
	}, provider, cfg, logger)}
}

// MerchantRiskOutcome is the typed result of the risky-merchant check.
type MerchantRiskOutcome struct {
	MerchantID      string
	MCC             string
	RiskyMCC        bool
	RiskyMerchantID bool
	HistoryCount    int
	SimilarCount    int
	ExactCount      int
	Variability     float64
	LookbackMonths  int
}

func (o *MerchantRiskOutcome) matched() bool {
	return o.SimilarCount > 0 || o.ExactCount > 0
}

// mismatchVerdict grades an amount that has merchant history but no match.
func (o *MerchantRiskOutcome) mismatchVerdict() string {
	if o.RiskyMCC {
		return domain.VerdictProbableFraudHigh
	}
	return domain.VerdictProbableFraudLess
}

// ScenarioAnalysis implements Summarizable.
func (o *MerchantRiskOutcome) ScenarioAnalysis() []domain.ScenarioOutcome {
	risky := o.RiskyMCC || o.RiskyMerchantID
	riskyRationale := fmt.Sprintf("MCC %s and merchant %s are not on the high-risk lists", o.MCC, o.MerchantID)
	if o.RiskyMCC && o.RiskyMerchantID {
		riskyRationale = fmt.Sprintf("MCC %s and merchant %s are both on the high-risk lists", o.MCC, o.MerchantID)
	} else if o.RiskyMCC {
		riskyRationale = fmt.Sprintf("MCC %s is on the high-risk category list", o.MCC)
	} else if o.RiskyMerchantID {
		riskyRationale = fmt.Sprintf("Merchant %s is on the high-risk merchant list", o.MerchantID)
	}

	historyRationale := "No previous transactions with this merchant"
	if o.HistoryCount > 0 {
		historyRationale = fmt.Sprintf("%d previous transactions with this merchant in the last %d months",
			o.HistoryCount, o.LookbackMonths)
	}

	matchRationale := "No previous transactions with a comparable amount at this merchant"
	if o.ExactCount > 0 {
		matchRationale = fmt.Sprintf("%d previous transactions with an identical amount at this merchant", o.ExactCount)
	} else if o.SimilarCount > 0 {
		matchRationale = fmt.Sprintf("%d previous transactions within %.0f%% of the current amount at this merchant",
			o.SimilarCount, o.Variability*100)
	}

	mismatch := o.HistoryCount > 0 && !o.matched()
	mismatchRationale := "Transaction amount is consistent with merchant history"
	if mismatch {
		mismatchRationale = fmt.Sprintf("Amount differs from all %d previous transactions at this merchant",
			o.HistoryCount)
	} else if o.HistoryCount == 0 {
		mismatchRationale = "No merchant history to compare against"
	}

	return []domain.ScenarioOutcome{
		{
			ScenarioID:          "6.1/6.2",
			ScenarioDescription: "Transaction with merchant on high-risk MCC or merchant list",
			ScenarioResult:      scenarioVerdict(risky, domain.VerdictProbableFraud),
			Rationale:           riskyRationale,
		},
		{
			ScenarioID:          "2.5",
			ScenarioDescription: "Customer has previous transactions with this merchant",
			ScenarioResult:      historyScenarioVerdict(o.HistoryCount > 0),
			Rationale:           historyRationale,
		},
		{
			ScenarioID:          "2.6",
			ScenarioDescription: "Transaction amount matches previous amounts at this merchant",
			ScenarioResult:      matchScenarioVerdict(o.matched()),
			Rationale:           matchRationale,
		},
		{
			ScenarioID:          "2.7/2.8",
			ScenarioDescription: "Transaction amount differs from merchant history",
			ScenarioResult:      mismatchScenarioVerdict(mismatch, o.mismatchVerdict()),
			Rationale:           mismatchRationale,
		},
	}
}

// OverallAssessment implements Summarizable. Priority order: high-risk list
// match, then amount match, then no history, then amount mismatch.
func (o *MerchantRiskOutcome) OverallAssessment() domain.OverallAssessment {
	scenarios := o.ScenarioAnalysis()
	switch {
	case o.RiskyMCC || o.RiskyMerchantID:
		return domain.OverallAssessment{
			Result:    domain.VerdictProbableFraud,
			Rationale: []string{scenarios[0].Rationale},
		}
	case o.matched():
		return domain.OverallAssessment{
			Result:    domain.VerdictNoFraud,
			Rationale: []string{scenarios[2].Rationale},
		}
	case o.HistoryCount == 0:
		return domain.OverallAssessment{
			Result:    domain.VerdictNoMatch,
			Rationale: []string{scenarios[1].Rationale},
		}
	default:
		return domain.OverallAssessment{
			Result:    o.mismatchVerdict(),
			Rationale: []string{scenarios[3].Rationale},
		}
	}
}

// Metrics implements Summarizable.
func (o *MerchantRiskOutcome) Metrics() map[string]any {
	return map[string]any{
		"merchant_id":                  o.MerchantID,
		"mcc":                          o.MCC,
		"is_risky_mcc":                 o.RiskyMCC,
		"is_risky_merchant_id":         o.RiskyMerchantID,
		"merchant_transaction_count":   o.HistoryCount,
		"similar_amount_count":         o.SimilarCount,
		"exact_amount_count":           o.ExactCount,
		"amount_variability_threshold": o.Variability,
		"lookback_months":              o.LookbackMonths,
	}
}

func historyScenarioVerdict(triggered bool) string {
	if triggered {
		return domain.VerdictNoFraud
	}
	return domain.VerdictNoMatch
}

func matchScenarioVerdict(triggered bool) string {
	if triggered {
		return domain.VerdictNoFraud
	}
	return domain.VerdictProbableFraudLess
}

func mismatchScenarioVerdict(triggered bool, verdict string) string {
	if triggered {
		return verdict
	}
	return domain.VerdictNoFraud
}

// Schema implements Check.
func (c *RiskyMerchantCheck) Schema() Schema {
	return Schema{
		Params: []ParamSpec{
			{Name: "customer_id", Type: TypeString, Required: true},
			{Name: "merchant_id", Type: TypeString, Required: true},
			{Name: "mcc", Type: TypeString, Required: true},
			{Name: "amount", Type: TypeNumber, Required: true},
			{Name: "transaction_timestamp", Type: TypeTimestamp, Required: true},
			{Name: "high_risk_mccs", Type: TypeStringList, Required: false},
			{Name: "high_risk_merchants", Type: TypeStringList, Required: false},
		},
		ReturnKeys: []string{
			"merchant_id", "mcc", "is_risky_mcc", "is_risky_merchant_id",
			"merchant_transaction_count", "similar_amount_count", "exact_amount_count",
			"amount_variability_threshold", "lookback_months",
		},
	}
}

// Validate implements Check.
func (c *RiskyMerchantCheck) Validate(params domain.Params) error {
	return ValidateParams(params, c.Schema())
}

// Execute implements Check.
func (c *RiskyMerchantCheck) Execute(ctx context.Context, params domain.Params) *domain.CheckResult {
	return Run(c.info, func() (*domain.CheckResult, error) {
		ref, err := c.refTime(params)
		if err != nil {
			return nil, err
		}
		merchantID := params.String("merchant_id")
		if merchantID == "" {
			return nil, errMissing("merchant_id")
		}
		amount, ok := params.Float("amount")
		if !ok {
			return nil, errMissing("amount")
		}

		view, err := c.prepare(ctx, params, history.Window{Merchant: merchantID})
		if err != nil {
			return nil, err
		}

		mccs := c.cfg.RiskyMerchant.MCCs
		if v := params.Strings("high_risk_mccs"); len(v) > 0 {
			mccs = v
		}
		merchants := c.cfg.RiskyMerchant.MerchantIDs
		if v := params.Strings("high_risk_merchants"); len(v) > 0 {
			merchants = v
		}

		o := c.analyze(view, ref, amount, merchantID, params.String("mcc"), mccs, merchants)
		return Finalize(o), nil
	})
}

func (c *RiskyMerchantCheck) analyze(view *history.View, ref time.Time, amount float64, merchantID, mcc string, mccs, merchants []string) *MerchantRiskOutcome {
	cfg := c.cfg.RiskyMerchant
	o := &MerchantRiskOutcome{
		MerchantID:      merchantID,
		MCC:             mcc,
		RiskyMCC:        contains(mccs, mcc),
		RiskyMerchantID: contains(merchants, merchantID),
		Variability:     cfg.AmountVariability,
		LookbackMonths:  cfg.LookbackMonths,
	}

	windowed := view.Since(ref.AddDate(0, -cfg.LookbackMonths, 0))
	o.HistoryCount = windowed.Len()
	for _, tx := range windowed.All() {
		diff := math.Abs(tx.Amount - amount)
		if diff < 0.01 {
			o.ExactCount++
			continue
		}
		if amount > 0 && diff/amount <= cfg.AmountVariability {
			o.SimilarCount++
		}
	}

	return o
}
