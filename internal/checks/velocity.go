package checks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
)

// unusualHours are the local hours in which bursts of activity are treated
// as suspicious on their own.
var unusualHours = map[int]bool{23: true, 0: true, 1: true, 2: true, 3: true, 4: true, 5: true}

// VelocityCheck examines the 24 hours before the alert for raw transaction
// velocity, unusual-hours bursts, and multidimensional anomaly patterns
// (device, location, IP, channel, amount and travel combinations).
type VelocityCheck struct {
	base
}

// NewVelocityCheck creates the transaction velocity check.
func NewVelocityCheck(provider *history.Provider, cfg domain.ChecksConfig, logger *slog.Logger) *VelocityCheck {
	return &VelocityCheck{base: newBase(CheckInfo{
		Name:         "velocity",
		Description:  "Transaction velocity, burst and multidimensional pattern analysis over the last 24 hours",
		Category:     domain.CategoryVelocity,
		Dependencies: []string{"transaction_history"},
	}, provider, cfg, logger)}
}

// WindowViolation records one breached velocity window.
type WindowViolation struct {
	WindowMinutes int              `json:"window_minutes"`
	Count         int              `json:"count"`
	Threshold     int              `json:"threshold"`
	Deviation     float64          `json:"deviation"`
	Severity      domain.RiskLevel `json:"severity"`
}

// VelocityPattern records one detected anomaly pattern.
type VelocityPattern struct {
	Type        string         `json:"pattern_type"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details,omitempty"`
}

// Pattern types, in detection order. The same-merchant and travel patterns
// outrank the others when rationale space is limited.
const (
	patternMultiDevices   = "same_merchant_multiple_devices"
	patternMultiLocations = "same_merchant_multiple_locations"
	patternMultiIPs       = "same_merchant_multiple_ips"
	patternHighValue      = "high_value_transactions"
	patternMethodSwitch   = "payment_method_switching"
	patternEscalation     = "amount_escalation"
	patternCrossChannel   = "cross_channel_activity"
	patternMCCSwitch      = "mcc_switching"
	patternRapidTravel    = "rapid_geographic_movement"
)

// VelocityOutcome is the typed result of the velocity check.
type VelocityOutcome struct {
	TotalAnalyzed int
	Violations    []WindowViolation
	MaxSeverity   domain.RiskLevel

	AvgGapMinutes float64
	GapViolation  bool
	GapThreshold  float64

	UnusualHours bool
	Last10Min    int
	RecentCount  int

	Patterns []VelocityPattern

	Outcomes  []domain.ScenarioOutcome
	Result    string
	Rationale []string
}

// ScenarioAnalysis implements Summarizable.
func (o *VelocityOutcome) ScenarioAnalysis() []domain.ScenarioOutcome { return o.Outcomes }

// OverallAssessment implements Summarizable.
func (o *VelocityOutcome) OverallAssessment() domain.OverallAssessment {
	return domain.OverallAssessment{Result: o.Result, Rationale: o.Rationale}
}

// Metrics implements Summarizable.
func (o *VelocityOutcome) Metrics() map[string]any {
	return map[string]any{
		"total_transactions_analyzed":      o.TotalAnalyzed,
		"velocity_violations_count":        len(o.Violations),
		"max_velocity_severity":            string(o.MaxSeverity),
		"avg_gap_minutes":                  round2(o.AvgGapMinutes),
		"gap_violation":                    o.GapViolation,
		"avg_time_gap_threshold":           o.GapThreshold,
		"unusual_hours_detected":           o.UnusualHours,
		"last_10_min_transactions":         o.Last10Min,
		"recent_transaction_count":         o.RecentCount,
		"multidimensional_anomalies_count": len(o.Patterns),
	}
}

// Schema implements Check.
func (c *VelocityCheck) Schema() Schema {
	return Schema{
		Params: []ParamSpec{
			{Name: "customer_id", Type: TypeString, Required: true},
			{Name: "transaction_timestamp", Type: TypeTimestamp, Required: true},
		},
		ReturnKeys: []string{
			"total_transactions_analyzed", "velocity_violations_count",
			"max_velocity_severity", "avg_gap_minutes", "gap_violation",
			"avg_time_gap_threshold", "unusual_hours_detected",
			"last_10_min_transactions", "recent_transaction_count",
			"multidimensional_anomalies_count",
		},
	}
}

// Validate implements Check.
func (c *VelocityCheck) Validate(params domain.Params) error {
	return ValidateParams(params, c.Schema())
}

// Execute implements Check.
func (c *VelocityCheck) Execute(ctx context.Context, params domain.Params) *domain.CheckResult {
	return Run(c.info, func() (*domain.CheckResult, error) {
		ref, err := c.refTime(params)
		if err != nil {
			return nil, err
		}

		view, err := c.prepare(ctx, params, history.Window{Since: ref.Add(-24 * time.Hour)})
		if err != nil {
			return nil, err
		}

		return Finalize(c.analyze(view, ref)), nil
	})
}

func (c *VelocityCheck) analyze(view *history.View, ref time.Time) *VelocityOutcome {
	cfg := c.cfg.Velocity
	txs := view.All()

	o := &VelocityOutcome{
		TotalAnalyzed: len(txs),
		GapThreshold:  cfg.AvgGapMinutes,
		MaxSeverity:   domain.RiskNone,
	}

	// Window counting against configured thresholds.
	for _, w := range cfg.Windows {
		cutoff := ref.Add(-time.Duration(w.Minutes) * time.Minute)
		count := view.Since(cutoff).Len()
		if count > w.Threshold {
			deviation := round3(float64(count-w.Threshold) / float64(w.Threshold))
			o.Violations = append(o.Violations, WindowViolation{
				WindowMinutes: w.Minutes,
				Count:         count,
				Threshold:     w.Threshold,
				Deviation:     deviation,
				Severity:      violationSeverity(deviation),
			})
		}
	}
	for _, v := range o.Violations {
		o.MaxSeverity = domain.WorstRisk(o.MaxSeverity, v.Severity)
	}

	// Inter-transaction gap over the full day.
	if len(txs) >= 2 {
		var total float64
		for i := 1; i < len(txs); i++ {
			total += txs[i].Timestamp.Sub(txs[i-1].Timestamp).Minutes()
		}
		o.AvgGapMinutes = total / float64(len(txs)-1)
		o.GapViolation = o.AvgGapMinutes < cfg.AvgGapMinutes
	}

	last10 := view.Since(ref.Add(-10 * time.Minute))
	o.Last10Min = last10.Len()
	o.RecentCount = view.Since(ref.Add(-time.Hour)).Len()
	for _, tx := range last10.All() {
		if unusualHours[tx.Timestamp.Hour()] {
			o.UnusualHours = true
			break
		}
	}

	o.Patterns = detectPatterns(txs)

	c.score(o)
	return o
}

func violationSeverity(deviation float64) domain.RiskLevel {
	switch {
	case deviation >= 0.5:
		return domain.RiskHigh
	case deviation >= 0.25:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// score assembles the three scenarios and the overall verdict.
func (c *VelocityCheck) score(o *VelocityOutcome) {
	s31 := len(o.Violations) > 0
	s32 := o.UnusualHours && (o.GapViolation || o.Last10Min >= 2)
	s33 := len(o.Patterns) >= 1

	o.Outcomes = []domain.ScenarioOutcome{
		{
			ScenarioID:          "3.1",
			ScenarioDescription: "Transaction count exceeds velocity thresholds in one or more time windows",
			ScenarioResult:      scenarioVerdict(s31, domain.VerdictProbableFraudHigh),
			Rationale:           c.violationRationale(o, s31),
		},
		{
			ScenarioID:          "3.2",
			ScenarioDescription: "Rapid consecutive transactions during unusual hours",
			ScenarioResult:      scenarioVerdict(s32, domain.VerdictProbableFraud),
			Rationale:           c.burstRationale(o, s32),
		},
		{
			ScenarioID:          "3.3",
			ScenarioDescription: "Multidimensional anomaly patterns in recent activity",
			ScenarioResult:      scenarioVerdict(s33, domain.VerdictProbableFraud),
			Rationale:           patternRationale(o.Patterns, s33),
		},
	}

	switch {
	case s31:
		o.Result = domain.VerdictProbableFraudHigh
	case s32 || s33:
		o.Result = domain.VerdictProbableFraud
	default:
		o.Result = domain.VerdictNotFraud
	}

	for i, s := range o.Outcomes {
		fired := []bool{s31, s32, s33}[i]
		if fired {
			o.Rationale = append(o.Rationale, s.Rationale)
		}
	}
}

func (c *VelocityCheck) violationRationale(o *VelocityOutcome, fired bool) string {
	if !fired {
		return "Transaction counts are within all velocity thresholds"
	}
	worst := o.Violations[0]
	for _, v := range o.Violations[1:] {
		if v.Deviation > worst.Deviation {
			worst = v
		}
	}
	return fmt.Sprintf("%d window threshold(s) breached; worst: %d transactions in %d minutes (limit %d)",
		len(o.Violations), worst.Count, worst.WindowMinutes, worst.Threshold)
}

func (c *VelocityCheck) burstRationale(o *VelocityOutcome, fired bool) string {
	if !fired {
		return "No unusual-hours burst detected"
	}
	return fmt.Sprintf("Unusual-hours activity in rapid succession (avg gap %.1f min, %d transactions in last 10 min)",
		o.AvgGapMinutes, o.Last10Min)
}

// patternRationale lists the highest-priority pattern descriptions, capped
// at three.
func patternRationale(patterns []VelocityPattern, fired bool) string {
	if !fired {
		return "No multidimensional anomaly patterns detected"
	}
	priority := map[string]bool{
		patternMultiDevices:   true,
		patternMultiLocations: true,
		patternMultiIPs:       true,
		patternRapidTravel:    true,
	}
	var lines []string
	for _, p := range patterns {
		if priority[p.Type] {
			lines = append(lines, p.Description)
		}
	}
	for _, p := range patterns {
		if !priority[p.Type] {
			lines = append(lines, p.Description)
		}
	}
	if len(lines) > 3 {
		lines = lines[:3]
	}
	return strings.Join(lines, "; ")
}

// merchantActivity accumulates per-merchant access-point diversity.
type merchantActivity struct {
	count     int
	total     float64
	devices   map[string]struct{}
	locations map[string]struct{}
	ips       map[string]struct{}
	mccs      map[string]struct{}
}

// detectPatterns runs the multidimensional detectors over the day's
// transactions. Detector and merchant order is fixed so repeated runs
// produce identical output.
func detectPatterns(txs []*domain.Transaction) []VelocityPattern {
	var patterns []VelocityPattern

	byMerchant := make(map[string]*merchantActivity)
	var merchantOrder []string
	for _, tx := range txs {
		m, ok := byMerchant[tx.MerchantID]
		if !ok {
			m = &merchantActivity{
				devices:   make(map[string]struct{}),
				locations: make(map[string]struct{}),
				ips:       make(map[string]struct{}),
				mccs:      make(map[string]struct{}),
			}
			byMerchant[tx.MerchantID] = m
			merchantOrder = append(merchantOrder, tx.MerchantID)
		}
		m.count++
		m.total += tx.Amount
		if tx.DeviceID != "" {
			m.devices[tx.DeviceID] = struct{}{}
		}
		if tx.Location != "" {
			m.locations[tx.Location] = struct{}{}
		}
		if tx.IPAddress != "" {
			m.ips[tx.IPAddress] = struct{}{}
		}
		if tx.MCC != "" {
			m.mccs[tx.MCC] = struct{}{}
		}
	}

	for _, mid := range merchantOrder {
		m := byMerchant[mid]
		if len(m.devices) > 1 {
			patterns = append(patterns, VelocityPattern{
				Type:        patternMultiDevices,
				Description: fmt.Sprintf("Multiple devices (%d) used at merchant %s within 24 hours", len(m.devices), mid),
				Details: map[string]any{
					"merchant_id":       mid,
					"device_count":      len(m.devices),
					"devices":           sortedKeys(m.devices),
					"transaction_count": m.count,
					"total_amount":      round2(m.total),
				},
			})
		}
	}
	for _, mid := range merchantOrder {
		m := byMerchant[mid]
		if len(m.locations) > 1 {
			patterns = append(patterns, VelocityPattern{
				Type:        patternMultiLocations,
				Description: fmt.Sprintf("Multiple locations (%d) for merchant %s within 24 hours", len(m.locations), mid),
				Details: map[string]any{
					"merchant_id":       mid,
					"location_count":    len(m.locations),
					"locations":         sortedKeys(m.locations),
					"transaction_count": m.count,
				},
			})
		}
	}
	for _, mid := range merchantOrder {
		m := byMerchant[mid]
		if len(m.ips) > 1 {
			patterns = append(patterns, VelocityPattern{
				Type:        patternMultiIPs,
				Description: fmt.Sprintf("Multiple IP addresses (%d) at merchant %s within 24 hours", len(m.ips), mid),
				Details: map[string]any{
					"merchant_id":       mid,
					"ip_count":          len(m.ips),
					"ips":               sortedKeys(m.ips),
					"transaction_count": m.count,
				},
			})
		}
	}

	if p := detectHighValue(txs); p != nil {
		patterns = append(patterns, *p)
	}
	if p := detectMethodSwitching(txs); p != nil {
		patterns = append(patterns, *p)
	}
	if p := detectEscalation(txs); p != nil {
		patterns = append(patterns, *p)
	}
	if p := detectCrossChannel(txs); p != nil {
		patterns = append(patterns, *p)
	}

	for _, mid := range merchantOrder {
		m := byMerchant[mid]
		if len(m.mccs) > 1 {
			patterns = append(patterns, VelocityPattern{
				Type:        patternMCCSwitch,
				Description: fmt.Sprintf("Merchant %s seen under %d different MCCs", mid, len(m.mccs)),
				Details: map[string]any{
					"merchant_id": mid,
					"mcc_count":   len(m.mccs),
					"mccs":        sortedKeys(m.mccs),
				},
			})
		}
	}

	if p := detectRapidTravel(txs); p != nil {
		patterns = append(patterns, *p)
	}

	return patterns
}

// detectHighValue flags repeated high-value spending spread across access
// points. The bar is twice the day's mean, never below 1000.
func detectHighValue(txs []*domain.Transaction) *VelocityPattern {
	if len(txs) == 0 {
		return nil
	}
	var amounts []float64
	for _, tx := range txs {
		amounts = append(amounts, tx.Amount)
	}
	bar := 2 * mean(amounts)
	if bar < 1000 {
		bar = 1000
	}

	locations := make(map[string]struct{})
	devices := make(map[string]struct{})
	ips := make(map[string]struct{})
	count := 0
	for _, tx := range txs {
		if tx.Amount < bar {
			continue
		}
		count++
		if tx.Location != "" {
			locations[tx.Location] = struct{}{}
		}
		if tx.DeviceID != "" {
			devices[tx.DeviceID] = struct{}{}
		}
		if tx.IPAddress != "" {
			ips[tx.IPAddress] = struct{}{}
		}
	}
	if count < 2 || (len(locations) <= 1 && len(devices) <= 1 && len(ips) <= 1) {
		return nil
	}
	return &VelocityPattern{
		Type:        patternHighValue,
		Description: fmt.Sprintf("Repeated high-value transactions (%d at or above %.2f) across multiple access points", count, bar),
		Details: map[string]any{
			"high_value_count": count,
			"threshold":        round2(bar),
			"location_count":   len(locations),
			"device_count":     len(devices),
			"ip_count":         len(ips),
		},
	}
}

func detectMethodSwitching(txs []*domain.Transaction) *VelocityPattern {
	methods := make(map[string]struct{})
	subTypes := make(map[string]struct{})
	for _, tx := range txs {
		if tx.PaymentMethod != "" {
			methods[tx.PaymentMethod] = struct{}{}
		}
		if tx.PaymentSubType != "" {
			subTypes[tx.PaymentSubType] = struct{}{}
		}
	}
	if len(methods) <= 1 && len(subTypes) <= 2 {
		return nil
	}
	return &VelocityPattern{
		Type:        patternMethodSwitch,
		Description: fmt.Sprintf("Switching across %d payment methods and %d sub-types within 24 hours", len(methods), len(subTypes)),
		Details: map[string]any{
			"methods":   sortedKeys(methods),
			"sub_types": sortedKeys(subTypes),
		},
	}
}

// detectEscalation flags runs of sharply increasing amounts: at least three
// transactions with two or more consecutive jumps of 1.5x or better.
func detectEscalation(txs []*domain.Transaction) *VelocityPattern {
	if len(txs) < 3 {
		return nil
	}
	steps := 0
	var ratios []float64
	for i := 1; i < len(txs); i++ {
		prev := txs[i-1].Amount
		if prev <= 0 {
			continue
		}
		ratio := txs[i].Amount / prev
		ratios = append(ratios, ratio)
		if ratio >= 1.5 {
			steps++
		}
	}
	if steps < 2 {
		return nil
	}
	start := txs[0].Amount
	end := txs[len(txs)-1].Amount
	factor := 0.0
	if start > 0 {
		factor = end / start
	}
	return &VelocityPattern{
		Type:        patternEscalation,
		Description: fmt.Sprintf("Escalating amounts from %.2f to %.2f over %d transactions", start, end, len(txs)),
		Details: map[string]any{
			"start_amount":      round2(start),
			"end_amount":        round2(end),
			"escalation_factor": round2(factor),
			"steps":             steps,
			"avg_ratio":         round2(mean(ratios)),
		},
	}
}

func detectCrossChannel(txs []*domain.Transaction) *VelocityPattern {
	channels := make(map[string]struct{})
	for _, tx := range txs {
		channels[tx.Channel()] = struct{}{}
	}
	if len(channels) <= 1 {
		return nil
	}
	return &VelocityPattern{
		Type:        patternCrossChannel,
		Description: fmt.Sprintf("Activity across %d transaction channels within 24 hours", len(channels)),
		Details: map[string]any{
			"channels": sortedKeys(channels),
		},
	}
}

// detectRapidTravel flags the first pair of consecutive transactions placed
// further apart than plausible for the elapsed time: over 10 km within
// under 5 minutes.
func detectRapidTravel(txs []*domain.Transaction) *VelocityPattern {
	var prev *domain.Transaction
	for _, tx := range txs {
		if !tx.HasGeo() {
			continue
		}
		if prev != nil {
			dist := haversineKm(*prev.Latitude, *prev.Longitude, *tx.Latitude, *tx.Longitude)
			gap := tx.Timestamp.Sub(prev.Timestamp).Minutes()
			if dist > 10 && gap < 5 {
				return &VelocityPattern{
					Type:        patternRapidTravel,
					Description: fmt.Sprintf("Moved %.1f km in %.1f minutes between consecutive transactions", dist, gap),
					Details: map[string]any{
						"distance_km":       round2(dist),
						"time_diff_minutes": round2(gap),
						"locations":         []string{prev.Location, tx.Location},
						"transaction_pair":  []string{prev.ID, tx.ID},
					},
				}
			}
		}
		prev = tx
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
