package domain

// ScreeningRule is an operator-defined CEL expression evaluated against the
// alert's parameter map. Rules extend the fixed check battery without a code
// change; fired rules surface as scenarios of the screening check.
type ScreeningRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression over alert parameters, must yield a boolean
	Expression string `json:"expression"`

	// Weight contributes to the screening check's severity
	Weight float64 `json:"weight"`

	// Reason reported when the rule fires
	Reason string `json:"reason"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// RuleHit records a screening rule that fired for an alert.
type RuleHit struct {
	RuleID    string  `json:"ruleId"`
	Name      string  `json:"name"`
	Reason    string  `json:"reason"`
	Weight    float64 `json:"weight"`
	ProcessMs int64   `json:"processMs"`
}

// DefaultScreeningRules returns the starter rule set shipped with the
// community tier. Deployments replace or extend these over the API.
func DefaultScreeningRules() []ScreeningRule {
	return []ScreeningRule{
		{
			ID:         "screen-high-amount",
			Name:       "HighAmount",
			Expression: `amount > 100000.0`,
			Weight:     0.8,
			Reason:     "Amount exceeds review ceiling",
			Enabled:    true,
			Version:    "1.0",
		},
		{
			ID:         "screen-night-cnp",
			Name:       "NightOnlinePurchase",
			Expression: `payment_method == "CNP" && (hour >= 23 || hour <= 5) && amount > 10000.0`,
			Weight:     0.5,
			Reason:     "High-value online purchase during unusual hours",
			Enabled:    true,
			Version:    "1.0",
		},
		{
			ID:         "screen-no-pin-high-value",
			Name:       "NoPinHighValue",
			Expression: `payment_method == "Card Present" && !pin_verified && amount > 20000.0`,
			Weight:     0.4,
			Reason:     "High-value card-present purchase without PIN",
			Enabled:    true,
			Version:    "1.0",
		},
	}
}
