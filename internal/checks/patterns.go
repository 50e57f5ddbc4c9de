package checks

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
)

// PatternsCheck measures how predictable the customer is and how well the
// current transaction fits their habits. Normalized Shannon entropy over the
// category, time-of-day and weekday distributions stands in for
// predictability.
type PatternsCheck struct {
	base
}

// NewPatternsCheck creates the spending-patterns check.
func NewPatternsCheck(provider *history.Provider, cfg domain.ChecksConfig, logger *slog.Logger) *PatternsCheck {
	return &PatternsCheck{base: newBase(CheckInfo{
		Name:         "spending_patterns",
		Description:  "Entropy-based fit of the transaction against the customer's spending habits",
		Category:     domain.CategoryBehavioral,
		Dependencies: []string{"transaction_history"},
	}, provider, cfg, logger)}
}

// PatternOutcome is the typed result of the spending-patterns check.
type PatternOutcome struct {
	Total          int
	Strength       float64
	Diversity      float64
	MainCategories int
	Consistency    float64
	CategoryProb   float64
	TimeProb       float64
	DayProb        float64
	Match          float64
	RiskScore      float64
	Season         string
	SeasonProb     float64
	Level          domain.RiskLevel
	Factors        []string
}

// ScenarioAnalysis implements Summarizable.
func (o *PatternOutcome) ScenarioAnalysis() []domain.ScenarioOutcome { return nil }

// OverallAssessment implements Summarizable.
func (o *PatternOutcome) OverallAssessment() domain.OverallAssessment {
	return riskAssessment(o.Level, o.Factors)
}

// Metrics implements Summarizable.
func (o *PatternOutcome) Metrics() map[string]any {
	return map[string]any{
		"total_transactions":   o.Total,
		"pattern_strength":     round3(o.Strength),
		"diversity_factor":     round3(o.Diversity),
		"main_category_count":  o.MainCategories,
		"consistency_score":    round3(o.Consistency),
		"category_probability": round3(o.CategoryProb),
		"time_probability":     round3(o.TimeProb),
		"day_probability":      round3(o.DayProb),
		"pattern_match_score":  round3(o.Match),
		"current_season":       o.Season,
		"season_probability":   round3(o.SeasonProb),
		"risk_score":           round3(o.RiskScore),
		"risk_level":           string(o.Level),
	}
}

// Schema implements Check.
func (c *PatternsCheck) Schema() Schema {
	return Schema{
		Params: []ParamSpec{
			{Name: "customer_id", Type: TypeString, Required: true},
			{Name: "merchant_category", Type: TypeString, Required: true},
			{Name: "transaction_timestamp", Type: TypeTimestamp, Required: true},
		},
		ReturnKeys: []string{
			"total_transactions", "pattern_strength", "diversity_factor",
			"main_category_count", "consistency_score", "category_probability",
			"time_probability", "day_probability", "pattern_match_score",
			"current_season", "season_probability", "risk_score", "risk_level",
		},
	}
}

// Validate implements Check.
func (c *PatternsCheck) Validate(params domain.Params) error {
	return ValidateParams(params, c.Schema())
}

// Execute implements Check.
func (c *PatternsCheck) Execute(ctx context.Context, params domain.Params) *domain.CheckResult {
	return Run(c.info, func() (*domain.CheckResult, error) {
		ref, err := c.refTime(params)
		if err != nil {
			return nil, err
		}

		view, err := c.prepare(ctx, params, c.lookbackWindow(ref))
		if err != nil {
			return nil, err
		}

		return Finalize(c.analyze(view, ref, params.String("merchant_category"))), nil
	})
}

func (c *PatternsCheck) analyze(view *history.View, ref time.Time, category string) *PatternOutcome {
	o := &PatternOutcome{
		Total:  view.Len(),
		Season: seasonOf(ref.Month()),
	}

	if o.Total == 0 {
		o.RiskScore = 1.0
		o.Level = domain.RiskHigh
		o.Factors = []string{"No transaction history to establish patterns"}
		return o
	}

	txs := view.All()
	catDist := distributionOf(txs, func(tx *domain.Transaction) string { return tx.Category })
	timeDist := distributionOf(txs, func(tx *domain.Transaction) string { return patternSlot(tx.Timestamp.Hour()) })
	dayDist := distributionOf(txs, func(tx *domain.Transaction) string { return tx.Timestamp.Weekday().String() })
	seasonDist := distributionOf(txs, func(tx *domain.Transaction) string { return seasonOf(tx.Timestamp.Month()) })

	o.Strength = 1 - (entropyOf(catDist)+entropyOf(timeDist)+entropyOf(dayDist))/3

	for _, p := range catDist {
		if p >= 0.1 {
			o.MainCategories++
		}
	}
	switch {
	case o.MainCategories == 0:
		o.Diversity = 0.0
	case o.MainCategories == 1:
		o.Diversity = 0.7
	case o.MainCategories <= 5:
		o.Diversity = 1.0
	default:
		o.Diversity = 0.8
	}

	o.Consistency = o.Strength * o.Diversity

	o.CategoryProb = catDist[category]
	o.TimeProb = timeDist[patternSlot(ref.Hour())]
	o.DayProb = dayDist[ref.Weekday().String()]
	o.SeasonProb = seasonDist[o.Season]
	o.Match = 0.5*o.CategoryProb + 0.3*o.TimeProb + 0.2*o.DayProb

	o.RiskScore = round3(0.6*(1-o.Consistency) + 0.4*(1-o.Match))
	switch {
	case o.RiskScore >= 0.6:
		o.Level = domain.RiskHigh
	case o.RiskScore >= 0.3:
		o.Level = domain.RiskMedium
	default:
		o.Level = domain.RiskLow
	}

	if o.Consistency < 0.3 {
		o.Factors = append(o.Factors, "Customer spending patterns are weakly established")
	}
	if o.Match < 0.3 {
		o.Factors = append(o.Factors, "Transaction deviates from established spending patterns")
	}
	if o.CategoryProb < 0.1 {
		o.Factors = append(o.Factors, "Unusual merchant category for this customer")
	}
	if o.TimeProb < 0.2 {
		o.Factors = append(o.Factors, "Unusual time of day for this customer")
	}
	if o.DayProb < 0.1 {
		o.Factors = append(o.Factors, "Unusual day of week for this customer")
	}

	return o
}

// patternSlot buckets an hour into quarter-day slots. The temporal check uses
// finer labeled ranges; the pattern distributions only need the bucket.
func patternSlot(hour int) string {
	switch {
	case hour < 6:
		return "night"
	case hour < 12:
		return "morning"
	case hour < 18:
		return "afternoon"
	default:
		return "evening"
	}
}

// seasonOf maps a month to the Indian seasonal buckets the customer base
// shops in.
func seasonOf(m time.Month) string {
	switch {
	case m >= time.March && m <= time.May:
		return "summer"
	case m >= time.June && m <= time.September:
		return "monsoon"
	case m == time.October || m == time.November:
		return "winter"
	default:
		return "spring"
	}
}

func distributionOf(txs []*domain.Transaction, key func(*domain.Transaction) string) map[string]float64 {
	counts := make(map[string]int)
	for _, tx := range txs {
		counts[key(tx)]++
	}
	dist := make(map[string]float64, len(counts))
	for k, n := range counts {
		dist[k] = float64(n) / float64(len(txs))
	}
	return dist
}

// entropyOf walks the distribution in key order so repeated runs sum in the
// same sequence.
func entropyOf(dist map[string]float64) float64 {
	keys := make([]string, 0, len(dist))
	for k := range dist {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	probs := make([]float64, 0, len(keys))
	for _, k := range keys {
		probs = append(probs, dist[k])
	}
	return normalizedEntropy(probs)
}
