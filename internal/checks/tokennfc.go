package checks

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
)

// TokenNFCCheck asks whether a tokenized NFC payment comes from a device
// the customer has tokenized before.
type TokenNFCCheck struct {
	base
}

// NewTokenNFCCheck creates the tokenized-NFC consistency check.
func NewTokenNFCCheck(provider *history.Provider, cfg domain.ChecksConfig, logger *slog.Logger) *TokenNFCCheck {
	return &TokenNFCCheck{base: newBase(CheckInfo{
		Name:         "token_nfc",
		Description:  "Device familiarity for tokenized NFC payments",
		Category:     domain.CategoryConsistency,
		Dependencies: []string{"transaction_history"},
	}, provider, cfg, logger)}
}

// Schema implements Check.
func (c *TokenNFCCheck) Schema() Schema {
	return Schema{
		Params: []ParamSpec{
			{Name: "customer_id", Type: TypeString, Required: true},
			{Name: "payment_sub_type", Type: TypeString, Required: true},
			{Name: "transaction_timestamp", Type: TypeTimestamp, Required: true},
			{Name: "device_id", Type: TypeString, Required: false},
		},
		ReturnKeys: []string{
			"applicable", "token_transaction_count", "token_rate",
			"device_consistent", "known_device_count", "risk_level",
		},
	}
}

// Validate implements Check.
func (c *TokenNFCCheck) Validate(params domain.Params) error {
	return ValidateParams(params, c.Schema())
}

// Execute implements Check.
func (c *TokenNFCCheck) Execute(ctx context.Context, params domain.Params) *domain.CheckResult {
	return Run(c.info, func() (*domain.CheckResult, error) {
		ref, err := c.refTime(params)
		if err != nil {
			return nil, err
		}

		subType := params.String("payment_sub_type")
		if subType != domain.SubTypeTokenNFC && subType != domain.SubTypeTapToPay {
			return Finalize(notApplicable("Not a tokenized NFC transaction - check not applicable")), nil
		}

		view, err := c.prepare(ctx, params, c.lookbackWindow(ref))
		if err != nil {
			return nil, err
		}

		nfc := view.Filter(func(tx *domain.Transaction) bool {
			return tx.PaymentSubType == domain.SubTypeTokenNFC
		})
		count := nfc.Len()
		total := view.Len()

		rate := 0.0
		if total > 0 {
			rate = round3(float64(count) / float64(total))
		}

		if count == 0 {
			return Finalize(&ConsistencyOutcome{
				Fields: map[string]any{
					"token_transaction_count": 0,
					"token_rate":              0.0,
					"device_consistent":       false,
					"known_device_count":      0,
				},
				Level:   domain.RiskHigh,
				Factors: []string{"No previous tokenized NFC transaction history"},
			}), nil
		}

		devices := make(map[string]struct{})
		for _, tx := range nfc.All() {
			if tx.DeviceID != "" {
				devices[tx.DeviceID] = struct{}{}
			}
		}

		deviceID := params.String("device_id")
		_, deviceConsistent := devices[deviceID]

		var factors []string
		if rate < 0.05 && count >= 2 {
			factors = append(factors, "Low tokenized NFC usage rate")
		}
		if !deviceConsistent && len(devices) > 0 {
			factors = append(factors, "Transaction from new/unfamiliar device")
		}
		if len(devices) > 3 {
			factors = append(factors, "Many devices enrolled for tokenized payments")
		}

		return Finalize(graded(map[string]any{
			"token_transaction_count": count,
			"token_rate":              rate,
			"device_consistent":       deviceConsistent,
			"known_device_count":      len(devices),
		}, factors)), nil
	})
}
