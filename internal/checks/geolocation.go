package checks

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
)

// GeoLocationCheck tests whether the cardholder could physically have
// reached the transaction location from their recent card-present activity.
type GeoLocationCheck struct {
	base
}

// NewGeoLocationCheck creates the travel feasibility check.
func NewGeoLocationCheck(provider *history.Provider, cfg domain.ChecksConfig, logger *slog.Logger) *GeoLocationCheck {
	return &GeoLocationCheck{base: newBase(CheckInfo{
		Name:         "geo_location",
		Description:  "Travel feasibility between the transaction location and recent card-present activity",
		Category:     domain.CategoryGeographic,
		Dependencies: []string{"transaction_history"},
	}, provider, cfg, logger)}
}

// GeoOutcome is the typed result of the geo-location check.
type GeoOutcome struct {
	Checked        int
	Impossible     bool
	MinFeasibility float64
	Level          domain.RiskLevel
	Factors        []string
}

// ScenarioAnalysis implements Summarizable.
func (o *GeoOutcome) ScenarioAnalysis() []domain.ScenarioOutcome { return nil }

// OverallAssessment implements Summarizable.
func (o *GeoOutcome) OverallAssessment() domain.OverallAssessment {
	return riskAssessment(o.Level, o.Factors)
}

// Metrics implements Summarizable.
func (o *GeoOutcome) Metrics() map[string]any {
	return map[string]any{
		"previous_transactions_checked": o.Checked,
		"impossible_travel_detected":    o.Impossible,
		"min_travel_feasibility":        round3(o.MinFeasibility),
		"risk_level":                    string(o.Level),
	}
}

// Schema implements Check.
func (c *GeoLocationCheck) Schema() Schema {
	return Schema{
		Params: []ParamSpec{
			{Name: "customer_id", Type: TypeString, Required: true},
			{Name: "transaction_timestamp", Type: TypeTimestamp, Required: true},
			{Name: "latitude", Type: TypeNumber, Required: false},
			{Name: "longitude", Type: TypeNumber, Required: false},
		},
		ReturnKeys: []string{
			"previous_transactions_checked", "impossible_travel_detected",
			"min_travel_feasibility", "risk_level",
		},
	}
}

// Validate implements Check.
func (c *GeoLocationCheck) Validate(params domain.Params) error {
	return ValidateParams(params, c.Schema())
}

// Execute implements Check.
func (c *GeoLocationCheck) Execute(ctx context.Context, params domain.Params) *domain.CheckResult {
	return Run(c.info, func() (*domain.CheckResult, error) {
		ref, err := c.refTime(params)
		if err != nil {
			return nil, err
		}

		lat, okLat := params.Float("latitude")
		lon, okLon := params.Float("longitude")
		if !okLat || !okLon {
			return Finalize(&GeoOutcome{
				MinFeasibility: 1.0,
				Level:          domain.RiskLow,
				Factors:        []string{"Current transaction carries no location data"},
			}), nil
		}

		view, err := c.prepare(ctx, params, c.lookbackWindow(ref))
		if err != nil {
			return nil, err
		}

		return Finalize(c.analyze(view, lat, lon, ref)), nil
	})
}

func (c *GeoLocationCheck) analyze(view *history.View, lat, lon float64, ref time.Time) *GeoOutcome {
	cfg := c.cfg.Travel

	// Most recent card-present transactions with coordinates, newest first.
	prior := view.Before(ref).Filter(func(tx *domain.Transaction) bool {
		if !tx.HasGeo() {
			return false
		}
		return tx.PaymentMethod == domain.MethodCardPresent || tx.PaymentMethod == domain.MethodContactless
	}).All()

	if len(prior) == 0 {
		return &GeoOutcome{
			MinFeasibility: 1.0,
			Level:          domain.RiskLow,
			Factors:        []string{"No previous card-present transactions with location data"},
		}
	}

	legs := cfg.MaxPriorLegs
	if legs <= 0 {
		legs = 5
	}
	if len(prior) > legs {
		prior = prior[len(prior)-legs:]
	}

	o := &GeoOutcome{Checked: len(prior), MinFeasibility: math.Inf(1)}
	for i := len(prior) - 1; i >= 0; i-- {
		tx := prior[i]
		dist := haversineKm(*tx.Latitude, *tx.Longitude, lat, lon)
		elapsed := ref.Sub(tx.Timestamp).Hours()
		minTravel := dist / cfg.SpeedKmh

		feasible := elapsed >= minTravel
		if !feasible && dist > cfg.MinDistanceKm {
			o.Impossible = true
		}
		if minTravel > 0 {
			ratio := elapsed / minTravel
			if ratio < o.MinFeasibility {
				o.MinFeasibility = ratio
			}
		}
	}
	if math.IsInf(o.MinFeasibility, 1) {
		o.MinFeasibility = 1.0
	}

	switch {
	case o.Impossible:
		o.Level = domain.RiskHigh
		o.Factors = append(o.Factors, "Impossible travel time detected between transaction locations")
	case o.MinFeasibility < 0.5:
		o.Level = domain.RiskHigh
	case o.MinFeasibility < 1.0:
		o.Level = domain.RiskMedium
	default:
		o.Level = domain.RiskLow
	}

	switch {
	case o.MinFeasibility < 0.8:
		o.Factors = append(o.Factors, "Very tight travel timing between transactions")
	case o.MinFeasibility < 1.2:
		o.Factors = append(o.Factors, "Tight travel timing between transactions")
	}

	return o
}
