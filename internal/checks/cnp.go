package checks

import (
	"context"
	"log/slog"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
)

// CardNotPresentCheck asks whether an online purchase fits the customer's
// CNP habits: usage share, merchant and IP neighbourhood.
type CardNotPresentCheck struct {
	base
}

// NewCardNotPresentCheck creates the card-not-present consistency check.
func NewCardNotPresentCheck(provider *history.Provider, cfg domain.ChecksConfig, logger *slog.Logger) *CardNotPresentCheck {
	return &CardNotPresentCheck{base: newBase(CheckInfo{
		Name:         "card_not_present",
		Description:  "Consistency of an online transaction with the customer's card-not-present history",
		Category:     domain.CategoryConsistency,
		Dependencies: []string{"transaction_history"},
	}, provider, cfg, logger)}
}

// sameSubnet24 reports whether two IPv4 addresses share their first three
// octets.
func sameSubnet24(a, b string) bool {
	pa := strings.Split(a, ".")
	pb := strings.Split(b, ".")
	if len(pa) != 4 || len(pb) != 4 {
		return false
	}
	return pa[0] == pb[0] && pa[1] == pb[1] && pa[2] == pb[2]
}

// Schema implements Check.
func (c *CardNotPresentCheck) Schema() Schema {
	return Schema{
		Params: []ParamSpec{
			{Name: "customer_id", Type: TypeString, Required: true},
			{Name: "payment_method", Type: TypeString, Required: true},
			{Name: "transaction_timestamp", Type: TypeTimestamp, Required: true},
			{Name: "merchant_id", Type: TypeString, Required: false},
			{Name: "ip_address", Type: TypeString, Required: false},
		},
		ReturnKeys: []string{
			"applicable", "cnp_transaction_count", "cnp_rate",
			"merchant_consistent", "ip_pattern_consistent", "risk_level",
		},
	}
}

// Validate implements Check.
func (c *CardNotPresentCheck) Validate(params domain.Params) error {
	return ValidateParams(params, c.Schema())
}

// Execute implements Check.
func (c *CardNotPresentCheck) Execute(ctx context.Context, params domain.Params) *domain.CheckResult {
	return Run(c.info, func() (*domain.CheckResult, error) {
		ref, err := c.refTime(params)
		if err != nil {
			return nil, err
		}

		if params.String("payment_method") != domain.MethodCNP {
			return Finalize(notApplicable("Not a card-not-present transaction - check not applicable")), nil
		}

		view, err := c.prepare(ctx, params, c.lookbackWindow(ref))
		if err != nil {
			return nil, err
		}

		cnp := view.Filter(func(tx *domain.Transaction) bool {
			return tx.PaymentMethod == domain.MethodCNP
		})
		count := cnp.Len()
		total := view.Len()

		rate := 0.0
		if total > 0 {
			rate = round3(float64(count) / float64(total))
		}

		if count == 0 {
			return Finalize(&ConsistencyOutcome{
				Fields: map[string]any{
					"cnp_transaction_count": 0,
					"cnp_rate":              0.0,
					"merchant_consistent":   false,
					"ip_pattern_consistent": false,
				},
				Level:   domain.RiskHigh,
				Factors: []string{"No previous CNP transaction history"},
			}), nil
		}

		merchantConsistent := false
		if mid := params.String("merchant_id"); mid != "" {
			merchantConsistent = cnp.Merchant(mid).Len() > 0
		}

		// The IP neighbourhood test is deliberately loose: any previous CNP
		// transaction from the same /24 counts as familiar.
		ipConsistent := true
		if ip := params.String("ip_address"); ip != "" {
			seen := 0
			matched := false
			for _, tx := range cnp.All() {
				if tx.IPAddress == "" {
					continue
				}
				seen++
				if sameSubnet24(tx.IPAddress, ip) {
					matched = true
					break
				}
			}
			if seen > 0 {
				ipConsistent = matched
			}
		}

		var factors []string
		if !merchantConsistent {
			factors = append(factors, "Unusual merchant for CNP transaction")
		}
		if !ipConsistent {
			factors = append(factors, "Unusual IP address pattern for CNP transaction")
		}

		return Finalize(graded(map[string]any{
			"cnp_transaction_count": count,
			"cnp_rate":              rate,
			"merchant_consistent":   merchantConsistent,
			"ip_pattern_consistent": ipConsistent,
		}, factors)), nil
	})
}
