// Package triage aggregates per-check verdicts into the final disposition
// for an alert: escalate to an analyst (ALRT) or dismiss (NALT).
package triage

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// EngineVersion is stamped on every investigation.
const EngineVersion = "kestrel-1.0"

// Verdict weights for aggregation. Clean verdicts and "No Match Found"
// carry no weight.
const (
	weightHigh     = 1.0
	weightProbable = 0.75
	weightLess     = 0.4
)

// Processor aggregates check results and produces the investigation.
type Processor struct {
	// AlertThreshold is the score above which a high verdict escalates.
	AlertThreshold float64

	// EscalationThreshold is the score that escalates on its own.
	EscalationThreshold float64
}

// NewProcessor creates a triage processor, applying defaults for unset
// thresholds.
func NewProcessor(cfg domain.TriageConfig) *Processor {
	p := &Processor{
		AlertThreshold:      cfg.AlertThreshold,
		EscalationThreshold: cfg.EscalationThreshold,
	}
	if p.AlertThreshold <= 0 {
		p.AlertThreshold = 0.5
	}
	if p.EscalationThreshold <= 0 {
		p.EscalationThreshold = 0.7
	}
	return p
}

// Input carries everything triage needs for a decision.
type Input struct {
	TenantID   string
	AlertID    string
	CustomerID string
	TxID       string
	TraceID    string
	Results    []domain.CheckResult
	HistoryMs  int64
	ChecksMs   int64
	StartTime  time.Time
}

// Process aggregates check results into an Investigation.
func (p *Processor) Process(ctx context.Context, input *Input) *domain.Investigation {
	start := time.Now()

	agg := p.aggregate(input.Results)

	status := domain.StatusNoAlert
	if (agg.HighCount >= 1 && agg.Score >= p.AlertThreshold) || agg.Score >= p.EscalationThreshold {
		status = domain.StatusAlert
	}

	inv := &domain.Investigation{
		ID:            uuid.NewString(),
		TenantID:      input.TenantID,
		AlertID:       input.AlertID,
		CustomerID:    input.CustomerID,
		TxID:          input.TxID,
		Status:        status,
		Score:         agg.Score,
		Timestamp:     time.Now().UTC(),
		CheckResults:  input.Results,
		VerdictCounts: agg.VerdictCounts,
		Reasons:       Reasons(input.Results),
	}

	inv.Metadata = domain.InvestigationMetadata{
		TraceID:       input.TraceID,
		HistoryMs:     input.HistoryMs,
		ChecksMs:      input.ChecksMs,
		TriageMs:      time.Since(start).Milliseconds(),
		TotalMs:       time.Since(input.StartTime).Milliseconds(),
		ChecksRun:     len(input.Results),
		ChecksFailed:  agg.Failed,
		EngineVersion: EngineVersion,
	}

	return inv
}

// AggregateResult holds the aggregated scoring state.
type AggregateResult struct {
	// Score is the mean verdict weight across fraud-leaning checks, 0 when
	// nothing leans fraud.
	Score         float64
	HighCount     int
	FraudLeaning  int
	Failed        int
	VerdictCounts map[string]int
}

// aggregate reduces check results to counts and the triage score. Failed
// checks are excluded from scoring but reported.
func (p *Processor) aggregate(results []domain.CheckResult) *AggregateResult {
	agg := &AggregateResult{VerdictCounts: make(map[string]int)}

	var sum float64
	for i := range results {
		r := &results[i]
		if !r.Success {
			agg.Failed++
			continue
		}

		verdict := r.Verdict()
		if verdict != "" {
			agg.VerdictCounts[verdict]++
		}
		if verdict == domain.VerdictProbableFraudHigh {
			agg.HighCount++
		}

		if w := verdictWeight(verdict); w > 0 {
			agg.FraudLeaning++
			sum += w
		}
	}

	if agg.FraudLeaning > 0 {
		agg.Score = math.Round(sum/float64(agg.FraudLeaning)*1000) / 1000
	}

	return agg
}

func verdictWeight(verdict string) float64 {
	switch verdict {
	case domain.VerdictProbableFraudHigh:
		return weightHigh
	case domain.VerdictProbableFraud:
		return weightProbable
	case domain.VerdictProbableFraudLess:
		return weightLess
	default:
		return 0
	}
}

// ShouldEscalate reports whether the investigation flags the alert.
func ShouldEscalate(inv *domain.Investigation) bool {
	return inv.Status == domain.StatusAlert
}

// Reasons flattens the overall rationale lines of fraud-leaning checks.
func Reasons(results []domain.CheckResult) []string {
	var reasons []string
	for i := range results {
		r := &results[i]
		if !r.FraudLeaning() || r.Overall == nil {
			continue
		}
		for _, line := range r.Overall.Rationale {
			if line != "" {
				reasons = append(reasons, line)
			}
		}
	}
	return reasons
}
