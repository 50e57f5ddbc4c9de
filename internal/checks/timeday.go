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

// TimeDayCheck asks whether the amount fits what the customer usually spends
// in the same time-of-day slot on the same kind of day. Four scenarios cover
// the slot-history and no-slot-history cases.
type TimeDayCheck struct {
	base
}

// NewTimeDayCheck creates the time-of-day amount check.
func NewTimeDayCheck(provider *history.Provider, cfg domain.ChecksConfig, logger *slog.Logger) *TimeDayCheck {
	return &TimeDayCheck{base: newBase(CheckInfo{
		Name:         "time_day",
		Description:  "Compares the amount against the customer's spending in the same time-of-day and day-type slot",
		Category:     domain.CategoryTemporal,
		Dependencies: []string{"transaction_history"},
	}, provider, cfg, logger)}
}

// timeSlot buckets an hour into the four daily windows.
func timeSlot(hour int) (name, label string) {
	switch {
	case hour < 6:
		return "night", "night (00:00-06:00)"
	case hour < 12:
		return "morning", "morning (06:00-12:00)"
	case hour < 18:
		return "afternoon", "afternoon (12:00-18:00)"
	default:
		return "evening", "evening (18:00-24:00)"
	}
}

func dayType(t time.Time) string {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return "weekend"
	default:
		return "weekday"
	}
}

// TimeDayOutcome is the typed result of the time-of-day check.
type TimeDayOutcome struct {
	TotalAnalyzed int
	WindowLabel   string
	DayType       string
	SlotCount     int
	SlotAvg       float64
	SimilarCount  int
	Variability   float64
	AbsoluteLimit float64

	Outcomes  []domain.ScenarioOutcome
	Result    string
	Rationale []string
}

// ScenarioAnalysis implements Summarizable.
func (o *TimeDayOutcome) ScenarioAnalysis() []domain.ScenarioOutcome { return o.Outcomes }

// OverallAssessment implements Summarizable.
func (o *TimeDayOutcome) OverallAssessment() domain.OverallAssessment {
	return domain.OverallAssessment{Result: o.Result, Rationale: o.Rationale}
}

// Metrics implements Summarizable.
func (o *TimeDayOutcome) Metrics() map[string]any {
	return map[string]any{
		"total_transactions_analyzed":  o.TotalAnalyzed,
		"time_window":                  o.WindowLabel,
		"day_type":                     o.DayType,
		"transactions_in_window":       o.SlotCount,
		"window_avg_amount":            round2(o.SlotAvg),
		"similar_amounts_found":        o.SimilarCount,
		"amount_variability_threshold": o.Variability,
		"absolute_amount_limit":        o.AbsoluteLimit,
	}
}

// Schema implements Check.
func (c *TimeDayCheck) Schema() Schema {
	return Schema{
		Params: []ParamSpec{
			{Name: "customer_id", Type: TypeString, Required: true},
			{Name: "amount", Type: TypeNumber, Required: true},
			{Name: "transaction_timestamp", Type: TypeTimestamp, Required: true},
		},
		ReturnKeys: []string{
			"total_transactions_analyzed", "time_window", "day_type",
			"transactions_in_window", "window_avg_amount",
			"similar_amounts_found", "amount_variability_threshold",
			"absolute_amount_limit",
		},
	}
}

// Validate implements Check.
func (c *TimeDayCheck) Validate(params domain.Params) error {
	return ValidateParams(params, c.Schema())
}

// Execute implements Check.
func (c *TimeDayCheck) Execute(ctx context.Context, params domain.Params) *domain.CheckResult {
	return Run(c.info, func() (*domain.CheckResult, error) {
		ref, err := c.refTime(params)
		if err != nil {
			return nil, err
		}
		amount, ok := params.Float("amount")
		if !ok {
			return nil, errMissing("amount")
		}

		cfg := c.cfg.TimeDay
		since := ref.AddDate(0, 0, -cfg.LookbackDays)
		view, err := c.prepare(ctx, params, history.Window{Since: since})
		if err != nil {
			return nil, err
		}

		return Finalize(c.analyze(view, amount, ref)), nil
	})
}

func (c *TimeDayCheck) analyze(view *history.View, amount float64, ref time.Time) *TimeDayOutcome {
	cfg := c.cfg.TimeDay
	slotName, slotLabel := timeSlot(ref.Hour())
	day := dayType(ref)

	slot := view.Filter(func(tx *domain.Transaction) bool {
		name, _ := timeSlot(tx.Timestamp.Hour())
		return name == slotName && dayType(tx.Timestamp) == day
	})

	slotAmounts := slot.Amounts()
	slotAvg := mean(slotAmounts)

	similar := 0
	if amount > 0 {
		for _, a := range slotAmounts {
			if math.Abs(a-amount)/amount <= cfg.AmountVariability {
				similar++
			}
		}
	}

	o := &TimeDayOutcome{
		TotalAnalyzed: view.Len(),
		WindowLabel:   slotLabel,
		DayType:       day,
		SlotCount:     slot.Len(),
		SlotAvg:       slotAvg,
		SimilarCount:  similar,
		Variability:   cfg.AmountVariability,
		AbsoluteLimit: cfg.AbsoluteAmountLimit,
	}

	lowCutoff := cfg.LowAmountFraction * cfg.AbsoluteAmountLimit
	triggered := make(map[string]bool)

	if slot.Empty() {
		// No comparable history: fall back to absolute bounds.
		high := amount > cfg.AbsoluteAmountLimit
		low := amount < lowCutoff
		triggered["2.9"] = high
		triggered["2.10"] = low

		o.Outcomes = []domain.ScenarioOutcome{
			{
				ScenarioID:          "2.9",
				ScenarioDescription: "No spending history in this time slot and amount exceeds the absolute limit",
				ScenarioResult:      scenarioVerdict(high, domain.VerdictProbableFraudHigh),
				Rationale:           scenario29Rationale(high, amount, cfg.AbsoluteAmountLimit),
			},
			{
				ScenarioID:          "2.10",
				ScenarioDescription: "No spending history in this time slot and amount is unusually small",
				ScenarioResult:      scenarioVerdict(low, domain.VerdictProbableFraudLess),
				Rationale:           scenario210Rationale(low, amount, lowCutoff),
			},
		}
	} else {
		similarFound := similar > 0
		high := amount > slotAvg*(1+cfg.AmountVariability)
		triggered["2.11"] = similarFound
		triggered["2.12"] = !similarFound && high

		result211 := domain.VerdictProbableFraudLess
		rationale211 := "No past transactions with similar amounts in this time slot"
		if similarFound {
			result211 = domain.VerdictNotFraud
			rationale211 = fmt.Sprintf("Found %d past transactions within %.0f%% of the amount in this time slot",
				similar, cfg.AmountVariability*100)
		}

		o.Outcomes = []domain.ScenarioOutcome{
			{
				ScenarioID:          "2.11",
				ScenarioDescription: "Past transactions with similar amounts found in time range",
				ScenarioResult:      result211,
				Rationale:           rationale211,
			},
			{
				ScenarioID:          "2.12",
				ScenarioDescription: "Amount above the slot average with no similar past amounts",
				ScenarioResult:      scenarioVerdict(triggered["2.12"], domain.VerdictProbableFraudHigh),
				Rationale:           scenario212Rationale(triggered["2.12"], amount, slotAvg),
			},
		}
	}

	o.Result, o.Rationale = c.overall(o.Outcomes, triggered)
	return o
}

// overall applies the scenario priority: a similar-amount match clears the
// alert outright, otherwise high-amount scenarios dominate low-amount ones.
func (c *TimeDayCheck) overall(outcomes []domain.ScenarioOutcome, triggered map[string]bool) (string, []string) {
	has211 := false
	var s211 domain.ScenarioOutcome
	for _, s := range outcomes {
		if s.ScenarioID == "2.11" {
			has211 = true
			s211 = s
		}
	}

	var result string
	switch {
	case has211 && triggered["2.11"]:
		result = domain.VerdictNotFraud
	case triggered["2.9"] || triggered["2.12"]:
		result = domain.VerdictProbableFraudHigh
	case triggered["2.10"]:
		result = domain.VerdictProbableFraudLess
	case has211:
		result = domain.VerdictProbableFraudLess
	default:
		result = domain.VerdictNotFraud
	}

	var rationale []string
	if result == domain.VerdictNotFraud {
		if has211 && triggered["2.11"] {
			rationale = []string{s211.Rationale}
		}
		return result, rationale
	}
	for _, s := range outcomes {
		if triggered[s.ScenarioID] {
			rationale = append(rationale, s.Rationale)
		}
	}
	if has211 && !triggered["2.11"] {
		rationale = append(rationale, s211.Rationale)
	}
	return result, rationale
}

func scenarioVerdict(fired bool, verdict string) string {
	if fired {
		return verdict
	}
	return domain.VerdictNotFraud
}

func scenario29Rationale(fired bool, amount, limit float64) string {
	if fired {
		return fmt.Sprintf("Amount %.2f exceeds the absolute limit %.2f in a time slot with no history", amount, limit)
	}
	return fmt.Sprintf("Amount %.2f is within the absolute limit for an unseen time slot", amount)
}

func scenario210Rationale(fired bool, amount, cutoff float64) string {
	if fired {
		return fmt.Sprintf("Amount %.2f falls below %.2f in a time slot with no history", amount, cutoff)
	}
	return "Amount is not unusually small for an unseen time slot"
}

func scenario212Rationale(fired bool, amount, avg float64) string {
	if fired {
		return fmt.Sprintf("Amount %.2f is above the slot average %.2f with no similar past amounts", amount, avg)
	}
	return fmt.Sprintf("Amount %.2f is in line with the slot average %.2f", amount, avg)
}
