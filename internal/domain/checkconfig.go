package domain

// ChecksConfig carries every tunable threshold the checks consume. Checks
// receive this by value at construction and never read files or environment
// themselves.
type ChecksConfig struct {
	// HistoryLookbackDays bounds the snapshot window prepared per alert.
	HistoryLookbackDays int `json:"historyLookbackDays"`

	Velocity      VelocityConfig      `json:"velocity"`
	TimeDay       TimeDayConfig       `json:"timeDay"`
	RiskyMerchant RiskyMerchantConfig `json:"riskyMerchant"`
	RiskyExposure RiskyExposureConfig `json:"riskyExposure"`
	Travel        TravelConfig        `json:"travel"`
}

// VelocityWindow pairs a rolling window with its transaction-count ceiling.
type VelocityWindow struct {
	Minutes   int `json:"minutes"`
	Threshold int `json:"threshold"`
}

// VelocityConfig tunes the transaction-velocity check.
type VelocityConfig struct {
	// Windows in ascending order of minutes.
	Windows []VelocityWindow `json:"windows"`

	// AvgGapMinutes flags customers whose mean inter-transaction gap over
	// the last day falls below this floor.
	AvgGapMinutes float64 `json:"avgGapMinutes"`
}

// TimeDayConfig tunes the time-of-day amount check.
type TimeDayConfig struct {
	LookbackDays        int     `json:"lookbackDays"`
	AmountVariability   float64 `json:"amountVariability"`   // similarity band, fraction of current amount
	AbsoluteAmountLimit float64 `json:"absoluteAmountLimit"` // high-amount line when the slot has no history
	LowAmountFraction   float64 `json:"lowAmountFraction"`   // low-amount line = fraction * absolute limit
}

// RiskyMerchantConfig tunes the risky-merchant check.
type RiskyMerchantConfig struct {
	LookbackMonths    int      `json:"lookbackMonths"`
	AmountVariability float64  `json:"amountVariability"`
	MCCs              []string `json:"mccs"`
	MerchantIDs       []string `json:"merchantIds"`
}

// RiskyExposureConfig tunes the risky country/currency check. Parameters on
// the alert override the configured lists when present.
type RiskyExposureConfig struct {
	Countries  []string `json:"countries"`
	Currencies []string `json:"currencies"`

	// ExposureThreshold is the risky-country share of history above which a
	// risky transaction escalates from MEDIUM to HIGH.
	ExposureThreshold float64 `json:"exposureThreshold"`
}

// TravelConfig tunes geographic feasibility checks.
type TravelConfig struct {
	SpeedKmh      float64 `json:"speedKmh"`      // assumed ground travel speed
	MinDistanceKm float64 `json:"minDistanceKm"` // below this, moves are never impossible
	MaxPriorLegs  int     `json:"maxPriorLegs"`  // prior card-present transactions compared
}

// TriageConfig tunes how check verdicts aggregate into a disposition.
type TriageConfig struct {
	// AlertThreshold is the minimum weighted score to raise an alert when
	// at least one check returned a high-confidence fraud verdict.
	AlertThreshold float64 `json:"alertThreshold"`

	// EscalationThreshold raises an alert on score alone.
	EscalationThreshold float64 `json:"escalationThreshold"`
}

// EngineConfig tunes investigation execution.
type EngineConfig struct {
	// MaxConcurrency bounds checks running in parallel per investigation.
	MaxConcurrency int `json:"maxConcurrency"`
}

// DefaultChecksConfig returns the threshold set the checks ship with.
func DefaultChecksConfig() ChecksConfig {
	return ChecksConfig{
		HistoryLookbackDays: 180,
		Velocity: VelocityConfig{
			Windows: []VelocityWindow{
				{Minutes: 1, Threshold: 2},
				{Minutes: 2, Threshold: 3},
				{Minutes: 3, Threshold: 4},
				{Minutes: 5, Threshold: 5},
				{Minutes: 10, Threshold: 7},
				{Minutes: 15, Threshold: 10},
				{Minutes: 20, Threshold: 12},
				{Minutes: 60, Threshold: 20},
				{Minutes: 360, Threshold: 60},
				{Minutes: 1440, Threshold: 150},
			},
			AvgGapMinutes: 2.0,
		},
		TimeDay: TimeDayConfig{
			LookbackDays:        60,
			AmountVariability:   0.10,
			AbsoluteAmountLimit: 10000.0,
			LowAmountFraction:   0.1,
		},
		RiskyMerchant: RiskyMerchantConfig{
			LookbackMonths:    6,
			AmountVariability: 0.10,
			MCCs:              []string{"7995", "6051", "4829", "5967", "5993"},
		},
		RiskyExposure: RiskyExposureConfig{
			ExposureThreshold: 0.01,
		},
		Travel: TravelConfig{
			SpeedKmh:      60.0,
			MinDistanceKm: 10.0,
			MaxPriorLegs:  5,
		},
	}
}
