package checks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
)

// RiskyCountryCheck flags transactions in watchlisted countries or currencies
// and measures how much of the customer's history already touches them.
type RiskyCountryCheck struct {
	base
}

// NewRiskyCountryCheck creates the country and currency exposure check.
func NewRiskyCountryCheck(provider *history.Provider, cfg domain.ChecksConfig, logger *slog.Logger) *RiskyCountryCheck {
	return &RiskyCountryCheck{base: newBase(CheckInfo{
		Name:         "risky_country_currency",
		Description:  "Exposure to watchlisted countries and currencies",
		Category:     domain.CategoryExposure,
		Dependencies: []string{"transaction_history"},
	}, provider, cfg, logger)}
}

// ExposureOutcome is the typed result of the risky-country check.
type ExposureOutcome struct {
	Country       string
	Currency      string
	RiskyCountry  bool
	RiskyCurrency bool
	RiskyTxCount  int
	TotalTxCount  int
	ExposureRate  float64
	Level         domain.RiskLevel
	Factors       []string
}

// ScenarioAnalysis implements Summarizable.
func (o *ExposureOutcome) ScenarioAnalysis() []domain.ScenarioOutcome { return nil }

// OverallAssessment implements Summarizable.
func (o *ExposureOutcome) OverallAssessment() domain.OverallAssessment {
	return riskAssessment(o.Level, o.Factors)
}

// Metrics implements Summarizable.
func (o *ExposureOutcome) Metrics() map[string]any {
	return map[string]any{
		"country":                 o.Country,
		"currency":                o.Currency,
		"is_risky_country":        o.RiskyCountry,
		"is_risky_currency":       o.RiskyCurrency,
		"risky_transaction_count": o.RiskyTxCount,
		"total_transactions":      o.TotalTxCount,
		"exposure_rate":           round3(o.ExposureRate),
		"risk_level":              string(o.Level),
	}
}

// Schema implements Check.
func (c *RiskyCountryCheck) Schema() Schema {
	return Schema{
		Params: []ParamSpec{
			{Name: "customer_id", Type: TypeString, Required: true},
			{Name: "country", Type: TypeString, Required: true},
			{Name: "currency", Type: TypeString, Required: true},
			{Name: "transaction_timestamp", Type: TypeTimestamp, Required: true},
			{Name: "risky_countries", Type: TypeStringList, Required: false},
			{Name: "risky_currencies", Type: TypeStringList, Required: false},
		},
		ReturnKeys: []string{
			"country", "currency", "is_risky_country", "is_risky_currency",
			"risky_transaction_count", "total_transactions", "exposure_rate", "risk_level",
		},
	}
}

// Validate implements Check.
func (c *RiskyCountryCheck) Validate(params domain.Params) error {
	return ValidateParams(params, c.Schema())
}

// Execute implements Check.
func (c *RiskyCountryCheck) Execute(ctx context.Context, params domain.Params) *domain.CheckResult {
	return Run(c.info, func() (*domain.CheckResult, error) {
		ref, err := c.refTime(params)
		if err != nil {
			return nil, err
		}

		view, err := c.prepare(ctx, params, c.lookbackWindow(ref))
		if err != nil {
			return nil, err
		}

		countries := c.cfg.RiskyExposure.Countries
		if v := params.Strings("risky_countries"); len(v) > 0 {
			countries = v
		}
		currencies := c.cfg.RiskyExposure.Currencies
		if v := params.Strings("risky_currencies"); len(v) > 0 {
			currencies = v
		}

		o := &ExposureOutcome{
			Country:  params.String("country"),
			Currency: params.String("currency"),
		}
		o.RiskyCountry = contains(countries, o.Country)
		o.RiskyCurrency = contains(currencies, o.Currency)

		riskySet := make(map[string]struct{}, len(countries))
		for _, country := range countries {
			riskySet[country] = struct{}{}
		}
		o.TotalTxCount = view.Len()
		for _, tx := range view.All() {
			if _, ok := riskySet[tx.Country]; ok {
				o.RiskyTxCount++
			}
		}
		if o.TotalTxCount > 0 {
			o.ExposureRate = float64(o.RiskyTxCount) / float64(o.TotalTxCount)
		}

		switch {
		case o.RiskyCountry || o.RiskyCurrency:
			if o.ExposureRate > c.cfg.RiskyExposure.ExposureThreshold {
				o.Level = domain.RiskHigh
			} else {
				o.Level = domain.RiskMedium
			}
		default:
			o.Level = domain.RiskLow
		}

		if o.RiskyCountry {
			o.Factors = append(o.Factors, fmt.Sprintf("Transaction from high-risk country: %s", o.Country))
		}
		if o.RiskyCurrency {
			o.Factors = append(o.Factors, fmt.Sprintf("Transaction in high-risk currency: %s", o.Currency))
		}
		if o.RiskyTxCount > 0 {
			o.Factors = append(o.Factors, fmt.Sprintf("Customer has %d prior transactions in watchlisted countries", o.RiskyTxCount))
		}

		return Finalize(o), nil
	})
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
