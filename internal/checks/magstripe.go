package checks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
)

// MagStripeCheck treats magnetic-stripe swipes with suspicion for customers
// who normally dip or tap: cloned cards fall back to the stripe.
type MagStripeCheck struct {
	base
}

// NewMagStripeCheck creates the mag-stripe consistency check.
func NewMagStripeCheck(provider *history.Provider, cfg domain.ChecksConfig, logger *slog.Logger) *MagStripeCheck {
	return &MagStripeCheck{base: newBase(CheckInfo{
		Name:         "mag_stripe",
		Description:  "Consistency of a magnetic-stripe swipe with the customer's chip and stripe history",
		Category:     domain.CategoryConsistency,
		Dependencies: []string{"transaction_history"},
	}, provider, cfg, logger)}
}

// Schema implements Check.
func (c *MagStripeCheck) Schema() Schema {
	return Schema{
		Params: []ParamSpec{
			{Name: "customer_id", Type: TypeString, Required: true},
			{Name: "payment_sub_type", Type: TypeString, Required: true},
			{Name: "transaction_timestamp", Type: TypeTimestamp, Required: true},
			{Name: "location", Type: TypeString, Required: false},
		},
		ReturnKeys: []string{
			"applicable", "mag_stripe_transaction_count", "emv_transaction_count",
			"mag_stripe_rate", "location_consistent", "risk_level",
		},
	}
}

// Validate implements Check.
func (c *MagStripeCheck) Validate(params domain.Params) error {
	return ValidateParams(params, c.Schema())
}

// Execute implements Check.
func (c *MagStripeCheck) Execute(ctx context.Context, params domain.Params) *domain.CheckResult {
	return Run(c.info, func() (*domain.CheckResult, error) {
		ref, err := c.refTime(params)
		if err != nil {
			return nil, err
		}

		if params.String("payment_sub_type") != domain.SubTypeMagStripe {
			return Finalize(notApplicable("Not a mag stripe transaction - check not applicable")), nil
		}

		view, err := c.prepare(ctx, params, c.lookbackWindow(ref))
		if err != nil {
			return nil, err
		}

		mag := view.Filter(func(tx *domain.Transaction) bool {
			return tx.PaymentSubType == domain.SubTypeMagStripe
		})
		emv := view.Filter(func(tx *domain.Transaction) bool {
			return tx.PaymentSubType == domain.SubTypeEMVChip
		})
		magCount := mag.Len()
		emvCount := emv.Len()

		rate := 0.0
		if magCount+emvCount > 0 {
			rate = round3(float64(magCount) / float64(magCount+emvCount))
		}

		if magCount == 0 {
			return Finalize(&ConsistencyOutcome{
				Fields: map[string]any{
					"mag_stripe_transaction_count": 0,
					"emv_transaction_count":        emvCount,
					"mag_stripe_rate":              0.0,
					"location_consistent":          false,
				},
				Level:   domain.RiskHigh,
				Factors: []string{"No previous mag stripe transaction history"},
			}), nil
		}

		var factors []string
		if rate < 0.1 {
			factors = append(factors, fmt.Sprintf("Low mag stripe usage rate: %.1f%%", rate*100))
		}

		locationConsistent := false
		if loc := params.String("location"); loc != "" {
			for _, tx := range mag.All() {
				if tx.Location == loc {
					locationConsistent = true
					break
				}
			}
		}
		if !locationConsistent {
			factors = append(factors, "Unusual location for mag stripe transaction")
		}

		return Finalize(graded(map[string]any{
			"mag_stripe_transaction_count": magCount,
			"emv_transaction_count":        emvCount,
			"mag_stripe_rate":              rate,
			"location_consistent":          locationConsistent,
		}, factors)), nil
	})
}
