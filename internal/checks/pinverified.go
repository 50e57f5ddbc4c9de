package checks

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
)

// PinVerifiedCheck asks whether a PIN-verified transaction matches where,
// what and with whom the customer usually PIN-verifies.
type PinVerifiedCheck struct {
	base
}

// NewPinVerifiedCheck creates the PIN-verification consistency check.
func NewPinVerifiedCheck(provider *history.Provider, cfg domain.ChecksConfig, logger *slog.Logger) *PinVerifiedCheck {
	return &PinVerifiedCheck{base: newBase(CheckInfo{
		Name:         "pin_verified",
		Description:  "Consistency of a PIN-verified transaction with the customer's PIN usage history",
		Category:     domain.CategoryConsistency,
		Dependencies: []string{"transaction_history"},
	}, provider, cfg, logger)}
}

// Schema implements Check.
func (c *PinVerifiedCheck) Schema() Schema {
	return Schema{
		Params: []ParamSpec{
			{Name: "customer_id", Type: TypeString, Required: true},
			{Name: "pin_verified", Type: TypeBoolean, Required: true},
			{Name: "amount", Type: TypeNumber, Required: true},
			{Name: "transaction_timestamp", Type: TypeTimestamp, Required: true},
			{Name: "merchant_id", Type: TypeString, Required: false},
			{Name: "location", Type: TypeString, Required: false},
		},
		ReturnKeys: []string{
			"applicable", "is_pin_verified", "pin_transaction_count",
			"pin_usage_rate", "location_consistent", "amount_consistent",
			"merchant_consistent", "risk_level",
		},
	}
}

// Validate implements Check.
func (c *PinVerifiedCheck) Validate(params domain.Params) error {
	return ValidateParams(params, c.Schema())
}

// Execute implements Check.
func (c *PinVerifiedCheck) Execute(ctx context.Context, params domain.Params) *domain.CheckResult {
	return Run(c.info, func() (*domain.CheckResult, error) {
		ref, err := c.refTime(params)
		if err != nil {
			return nil, err
		}
		amount, ok := params.Float("amount")
		if !ok {
			return nil, errMissing("amount")
		}

		if !params.Bool("pin_verified") {
			o := notApplicable("Transaction was not PIN verified - check not applicable")
			o.Fields["is_pin_verified"] = false
			return Finalize(o), nil
		}

		view, err := c.prepare(ctx, params, c.lookbackWindow(ref))
		if err != nil {
			return nil, err
		}

		pin := view.Filter(func(tx *domain.Transaction) bool {
			return tx.PinVerified
		})
		count := pin.Len()
		total := view.Len()

		rate := 0.0
		if total > 0 {
			rate = round3(float64(count) / float64(total))
		}

		var factors []string
		if count == 0 {
			factors = append(factors, "No PIN verified transaction history")
		}
		if rate < 0.2 && total > 5 {
			factors = append(factors, "Low PIN usage rate")
		}

		// Consistency flags default to true with no PIN history; the bare
		// no-history factor already covers that case.
		locations := make(map[string]struct{})
		merchants := make(map[string]struct{})
		for _, tx := range pin.All() {
			if tx.Location != "" {
				locations[tx.Location] = struct{}{}
			}
			merchants[tx.MerchantID] = struct{}{}
		}

		locationConsistent := true
		if len(locations) > 0 {
			_, locationConsistent = locations[params.String("location")]
		}
		if !locationConsistent {
			factors = append(factors, "Unusual location for PIN verified transaction")
		}

		amountConsistent := true
		if avg := mean(pin.Amounts()); avg > 0 {
			amountConsistent = amount >= 0.5*avg && amount <= 2*avg
		}
		if !amountConsistent {
			factors = append(factors, "Unusual amount for PIN verified transaction")
		}

		merchantConsistent := true
		if count > 0 {
			_, merchantConsistent = merchants[params.String("merchant_id")]
		}
		if !merchantConsistent {
			factors = append(factors, "Unusual merchant for PIN verified transaction")
		}

		return Finalize(graded(map[string]any{
			"is_pin_verified":       true,
			"pin_transaction_count": count,
			"pin_usage_rate":        rate,
			"location_consistent":   locationConsistent,
			"amount_consistent":     amountConsistent,
			"merchant_consistent":   merchantConsistent,
		}, factors)), nil
	})
}
