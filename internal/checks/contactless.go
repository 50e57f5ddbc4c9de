package checks

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
)

// ContactlessCheck asks whether a contactless tap fits the customer's
// contactless habits: usage share, typical amounts and merchants.
type ContactlessCheck struct {
	base
}

// NewContactlessCheck creates the contactless consistency check.
func NewContactlessCheck(provider *history.Provider, cfg domain.ChecksConfig, logger *slog.Logger) *ContactlessCheck {
	return &ContactlessCheck{base: newBase(CheckInfo{
		Name:         "contactless",
		Description:  "Consistency of a contactless transaction with the customer's tap-to-pay history",
		Category:     domain.CategoryConsistency,
		Dependencies: []string{"transaction_history"},
	}, provider, cfg, logger)}
}

// Schema implements Check.
func (c *ContactlessCheck) Schema() Schema {
	return Schema{
		Params: []ParamSpec{
			{Name: "customer_id", Type: TypeString, Required: true},
			{Name: "payment_method", Type: TypeString, Required: true},
			{Name: "amount", Type: TypeNumber, Required: true},
			{Name: "transaction_timestamp", Type: TypeTimestamp, Required: true},
			{Name: "merchant_id", Type: TypeString, Required: false},
		},
		ReturnKeys: []string{
			"applicable", "contactless_transaction_count", "contactless_rate",
			"average_contactless_amount", "amount_consistent",
			"typical_merchant", "risk_level",
		},
	}
}

// Validate implements Check.
func (c *ContactlessCheck) Validate(params domain.Params) error {
	return ValidateParams(params, c.Schema())
}

// Execute implements Check.
func (c *ContactlessCheck) Execute(ctx context.Context, params domain.Params) *domain.CheckResult {
	return Run(c.info, func() (*domain.CheckResult, error) {
		ref, err := c.refTime(params)
		if err != nil {
			return nil, err
		}
		amount, ok := params.Float("amount")
		if !ok {
			return nil, errMissing("amount")
		}

		if params.String("payment_method") != domain.MethodContactless {
			return Finalize(notApplicable("Not a contactless transaction - check not applicable")), nil
		}

		view, err := c.prepare(ctx, params, c.lookbackWindow(ref))
		if err != nil {
			return nil, err
		}

		ctl := view.Filter(func(tx *domain.Transaction) bool {
			return tx.PaymentMethod == domain.MethodContactless
		})
		count := ctl.Len()
		total := view.Len()

		rate := 0.0
		if total > 0 {
			rate = round3(float64(count) / float64(total))
		}

		if count == 0 {
			return Finalize(&ConsistencyOutcome{
				Fields: map[string]any{
					"contactless_transaction_count": 0,
					"contactless_rate":              0.0,
					"average_contactless_amount":    0.0,
					"amount_consistent":             true,
					"typical_merchant":              false,
				},
				Level:   domain.RiskHigh,
				Factors: []string{"No previous contactless transaction history"},
			}), nil
		}

		avg := mean(ctl.Amounts())
		amountConsistent := amount >= 0.5*avg && amount <= 2*avg

		typicalMerchant := false
		if mid := params.String("merchant_id"); mid != "" {
			typicalMerchant = ctl.Merchant(mid).Len() > 0
		}

		var factors []string
		if !amountConsistent {
			factors = append(factors, "Amount unusual for contactless payments")
		}
		if !typicalMerchant {
			factors = append(factors, "New merchant for contactless payments")
		}
		if rate < 0.1 && count >= 3 {
			factors = append(factors, "Low contactless usage rate")
		}

		return Finalize(graded(map[string]any{
			"contactless_transaction_count": count,
			"contactless_rate":              rate,
			"average_contactless_amount":    round2(avg),
			"amount_consistent":             amountConsistent,
			"typical_merchant":              typicalMerchant,
		}, factors)), nil
	})
}
