package checks

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
)

// cardPresentMethods covers every physically-present way a card appears on
// network records.
var cardPresentMethods = map[string]bool{
	domain.MethodCardPresent: true,
	domain.MethodContactless: true,
	"Pin Verified":           true,
	"Mag Stripe":             true,
}

// CardPresentCheck asks whether a physically-present transaction fits the
// customer's card-present habits: usage share, location and merchant.
type CardPresentCheck struct {
	base
}

// NewCardPresentCheck creates the card-present consistency check.
func NewCardPresentCheck(provider *history.Provider, cfg domain.ChecksConfig, logger *slog.Logger) *CardPresentCheck {
	return &CardPresentCheck{base: newBase(CheckInfo{
		Name:         "card_present",
		Description:  "Consistency of a card-present transaction with the customer's in-person payment history",
		Category:     domain.CategoryConsistency,
		Dependencies: []string{"transaction_history"},
	}, provider, cfg, logger)}
}

// Schema implements Check.
func (c *CardPresentCheck) Schema() Schema {
	return Schema{
		Params: []ParamSpec{
			{Name: "customer_id", Type: TypeString, Required: true},
			{Name: "payment_method", Type: TypeString, Required: true},
			{Name: "transaction_timestamp", Type: TypeTimestamp, Required: true},
			{Name: "merchant_id", Type: TypeString, Required: false},
			{Name: "location", Type: TypeString, Required: false},
		},
		ReturnKeys: []string{
			"applicable", "card_present_transaction_count", "card_present_rate",
			"location_consistent", "merchant_consistent", "risk_level",
		},
	}
}

// Validate implements Check.
func (c *CardPresentCheck) Validate(params domain.Params) error {
	return ValidateParams(params, c.Schema())
}

// Execute implements Check.
func (c *CardPresentCheck) Execute(ctx context.Context, params domain.Params) *domain.CheckResult {
	return Run(c.info, func() (*domain.CheckResult, error) {
		ref, err := c.refTime(params)
		if err != nil {
			return nil, err
		}

		if !cardPresentMethods[params.String("payment_method")] {
			return Finalize(notApplicable("Card not present transaction - check not applicable")), nil
		}

		view, err := c.prepare(ctx, params, c.lookbackWindow(ref))
		if err != nil {
			return nil, err
		}

		cp := view.Filter(func(tx *domain.Transaction) bool {
			return cardPresentMethods[tx.PaymentMethod]
		})
		total := view.Len()
		cpCount := cp.Len()

		rate := 0.0
		if total > 0 {
			rate = round3(float64(cpCount) / float64(total))
		}

		if cpCount == 0 {
			return Finalize(&ConsistencyOutcome{
				Fields: map[string]any{
					"card_present_transaction_count": 0,
					"card_present_rate":              0.0,
					"location_consistent":            false,
					"merchant_consistent":            false,
				},
				Level:   domain.RiskHigh,
				Factors: []string{"No previous card present transaction history"},
			}), nil
		}

		var factors []string

		// Location is consistent when at least 10% of card-present activity
		// happened there.
		location := params.String("location")
		locationConsistent := false
		if location != "" {
			seen := 0
			for _, tx := range cp.All() {
				if tx.Location == location {
					seen++
				}
			}
			locationConsistent = float64(seen)/float64(cpCount) >= 0.1
		}
		if !locationConsistent {
			factors = append(factors, "Unusual location for card present transaction")
		}

		merchantConsistent := false
		if mid := params.String("merchant_id"); mid != "" {
			merchantConsistent = cp.Merchant(mid).Len() > 0
		}
		if !merchantConsistent {
			factors = append(factors, "New merchant for card present transaction")
		}

		if rate < 0.2 && total-cpCount > 5 {
			factors = append(factors, "Customer rarely pays card-present")
		}

		return Finalize(graded(map[string]any{
			"card_present_transaction_count": cpCount,
			"card_present_rate":              rate,
			"location_consistent":            locationConsistent,
			"merchant_consistent":            merchantConsistent,
		}, factors)), nil
	})
}
