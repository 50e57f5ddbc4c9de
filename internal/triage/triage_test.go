package triage

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// result builds a successful check result with the given overall verdict.
func result(checkType, verdict string, rationale ...string) domain.CheckResult {
	return domain.CheckResult{
		CheckType: checkType,
		Success:   true,
		Overall: &domain.OverallAssessment{
			Result:    verdict,
			Rationale: rationale,
		},
	}
}

func TestProcessor(t *testing.T) {
	proc := NewProcessor(domain.TriageConfig{})
	ctx := context.Background()

	t.Run("AllClean", func(t *testing.T) {
		input := &Input{
			TenantID:   "tenant-001",
			AlertID:    "alert-001",
			CustomerID: "cust-001",
			TxID:       "tx-001",
			TraceID:    "trace-001",
			StartTime:  time.Now(),
			Results: []domain.CheckResult{
				result("amount_analysis", domain.VerdictNotFraud),
				result("time_day", domain.VerdictNotFraud),
				result("risky_merchant", domain.VerdictNoFraud),
				result("previous_history_check", domain.VerdictNoMatch),
			},
		}

		inv := proc.Process(ctx, input)

		if inv.Status != domain.StatusNoAlert {
			t.Errorf("expected NALT, got %s", inv.Status)
		}
		if inv.Score != 0 {
			t.Errorf("expected score 0 with no fraud-leaning checks, got %.3f", inv.Score)
		}
		if inv.TenantID != "tenant-001" {
			t.Errorf("expected tenantID 'tenant-001', got '%s'", inv.TenantID)
		}
		if len(inv.Reasons) != 0 {
			t.Errorf("expected no reasons, got %v", inv.Reasons)
		}
	})

	t.Run("SingleHighEscalates", func(t *testing.T) {
		input := &Input{
			TenantID:  "tenant-001",
			AlertID:   "alert-002",
			StartTime: time.Now(),
			Results: []domain.CheckResult{
				result("amount_analysis", domain.VerdictProbableFraudHigh, "Amount is a strong outlier"),
				result("time_day", domain.VerdictNotFraud),
				result("velocity", domain.VerdictNotFraud),
			},
		}

		inv := proc.Process(ctx, input)

		// One high verdict scores 1.0 on its own
		if inv.Score != 1.0 {
			t.Errorf("expected score 1.0, got %.3f", inv.Score)
		}
		if inv.Status != domain.StatusAlert {
			t.Errorf("expected ALRT for a high verdict, got %s", inv.Status)
		}
	})

	t.Run("SingleProbableEscalates", func(t *testing.T) {
		input := &Input{
			TenantID:  "tenant-001",
			AlertID:   "alert-003",
			StartTime: time.Now(),
			Results: []domain.CheckResult{
				result("risky_merchant", domain.VerdictProbableFraud, "Merchant category is watchlisted"),
				result("time_day", domain.VerdictNotFraud),
			},
		}

		inv := proc.Process(ctx, input)

		// 0.75 clears the escalation threshold without any high verdict
		if inv.Score != 0.75 {
			t.Errorf("expected score 0.75, got %.3f", inv.Score)
		}
		if inv.Status != domain.StatusAlert {
			t.Errorf("expected ALRT for a probable verdict, got %s", inv.Status)
		}
	})

	t.Run("SingleLessDismisses", func(t *testing.T) {
		input := &Input{
			TenantID:  "tenant-001",
			AlertID:   "alert-004",
			StartTime: time.Now(),
			Results: []domain.CheckResult{
				result("time_day", domain.VerdictProbableFraudLess, "Low amount in an unseen slot"),
				result("velocity", domain.VerdictNotFraud),
			},
		}

		inv := proc.Process(ctx, input)

		if inv.Score != 0.4 {
			t.Errorf("expected score 0.4, got %.3f", inv.Score)
		}
		if inv.Status != domain.StatusNoAlert {
			t.Errorf("expected NALT for a lone weak verdict, got %s", inv.Status)
		}
	})

	t.Run("HighDilutedBelowThreshold", func(t *testing.T) {
		results := []domain.CheckResult{
			result("amount_analysis", domain.VerdictProbableFraudHigh, "Strong outlier"),
		}
		for i := 0; i < 9; i++ {
			results = append(results, result("check", domain.VerdictProbableFraudLess, "weak signal"))
		}

		inv := proc.Process(ctx, &Input{AlertID: "alert-005", StartTime: time.Now(), Results: results})

		// (1.0 + 9*0.4) / 10 = 0.46, below both thresholds even with a high
		if inv.Score != 0.46 {
			t.Errorf("expected score 0.46, got %.3f", inv.Score)
		}
		if inv.Status != domain.StatusNoAlert {
			t.Errorf("expected NALT for a diluted high verdict, got %s", inv.Status)
		}
	})

	t.Run("HighWithSupportEscalates", func(t *testing.T) {
		results := []domain.CheckResult{
			result("amount_analysis", domain.VerdictProbableFraudHigh, "Strong outlier"),
		}
		for i := 0; i < 4; i++ {
			results = append(results, result("check", domain.VerdictProbableFraudLess, "weak signal"))
		}

		inv := proc.Process(ctx, &Input{AlertID: "alert-006", StartTime: time.Now(), Results: results})

		// (1.0 + 4*0.4) / 5 = 0.52, above the alert threshold with a high present
		if inv.Score != 0.52 {
			t.Errorf("expected score 0.52, got %.3f", inv.Score)
		}
		if inv.Status != domain.StatusAlert {
			t.Errorf("expected ALRT, got %s", inv.Status)
		}
	})

	t.Run("ScoreRounding", func(t *testing.T) {
		inv := proc.Process(ctx, &Input{
			AlertID:   "alert-007",
			StartTime: time.Now(),
			Results: []domain.CheckResult{
				result("a", domain.VerdictProbableFraudHigh),
				result("b", domain.VerdictProbableFraudHigh),
				result("c", domain.VerdictProbableFraud),
			},
		})

		// 2.75 / 3 = 0.91666..., rounded to three decimals
		if inv.Score != 0.917 {
			t.Errorf("expected score 0.917, got %.3f", inv.Score)
		}
	})

	t.Run("FailedChecksExcluded", func(t *testing.T) {
		input := &Input{
			AlertID:   "alert-008",
			StartTime: time.Now(),
			Results: []domain.CheckResult{
				result("amount_analysis", domain.VerdictNotFraud),
				{CheckType: "geo_location", Success: false, Error: "panic: nil map"},
			},
		}

		inv := proc.Process(ctx, input)

		if inv.Status != domain.StatusNoAlert {
			t.Errorf("expected NALT, got %s", inv.Status)
		}
		if inv.Metadata.ChecksRun != 2 {
			t.Errorf("expected 2 checks run, got %d", inv.Metadata.ChecksRun)
		}
		if inv.Metadata.ChecksFailed != 1 {
			t.Errorf("expected 1 failed check, got %d", inv.Metadata.ChecksFailed)
		}
	})

	t.Run("EmptyResults", func(t *testing.T) {
		inv := proc.Process(ctx, &Input{AlertID: "alert-009", StartTime: time.Now()})

		if inv.Status != domain.StatusNoAlert {
			t.Errorf("expected NALT for empty results, got %s", inv.Status)
		}
		if inv.Score != 0 {
			t.Errorf("expected score 0, got %.3f", inv.Score)
		}
	})

	t.Run("MetadataPopulated", func(t *testing.T) {
		input := &Input{
			TenantID:   "tenant-001",
			AlertID:    "alert-010",
			CustomerID: "cust-010",
			TxID:       "tx-010",
			TraceID:    "trace-010",
			HistoryMs:  12,
			ChecksMs:   34,
			StartTime:  time.Now(),
			Results: []domain.CheckResult{
				result("amount_analysis", domain.VerdictNotFraud),
				result("time_day", domain.VerdictProbableFraud, "Unusual hour"),
			},
		}

		inv := proc.Process(ctx, input)

		if inv.ID == "" {
			t.Error("missing investigation id")
		}
		if inv.Metadata.TraceID != "trace-010" {
			t.Error("missing traceID in metadata")
		}
		if inv.Metadata.EngineVersion != EngineVersion {
			t.Errorf("expected engine version %s, got %s", EngineVersion, inv.Metadata.EngineVersion)
		}
		if inv.Metadata.HistoryMs != 12 || inv.Metadata.ChecksMs != 34 {
			t.Error("timing metadata not carried through")
		}
		if inv.VerdictCounts[domain.VerdictNotFraud] != 1 {
			t.Errorf("expected 1 Not Fraud verdict, got %d", inv.VerdictCounts[domain.VerdictNotFraud])
		}
		if inv.VerdictCounts[domain.VerdictProbableFraud] != 1 {
			t.Errorf("expected 1 Probable Fraud verdict, got %d", inv.VerdictCounts[domain.VerdictProbableFraud])
		}
	})
}

func TestShouldEscalate(t *testing.T) {
	alert := &domain.Investigation{Status: domain.StatusAlert}
	dismissed := &domain.Investigation{Status: domain.StatusNoAlert}

	if !ShouldEscalate(alert) {
		t.Error("expected true for ALRT")
	}
	if ShouldEscalate(dismissed) {
		t.Error("expected false for NALT")
	}
}

func TestReasons(t *testing.T) {
	results := []domain.CheckResult{
		result("amount_analysis", domain.VerdictNotFraud, "Amount fits history"),
		result("time_day", domain.VerdictProbableFraudHigh, "No history in this slot", "Amount above absolute limit"),
		result("risky_merchant", domain.VerdictProbableFraud, "Watchlisted MCC"),
		result("velocity", domain.VerdictNotFraud, "Velocity within limits"),
	}

	reasons := Reasons(results)

	if len(reasons) != 3 {
		t.Fatalf("expected 3 reasons, got %d: %v", len(reasons), reasons)
	}
	if reasons[0] != "No history in this slot" {
		t.Errorf("expected slot reason first, got '%s'", reasons[0])
	}
	if reasons[2] != "Watchlisted MCC" {
		t.Errorf("expected MCC reason last, got '%s'", reasons[2])
	}
}

func TestCustomThresholds(t *testing.T) {
	proc := NewProcessor(domain.TriageConfig{
		AlertThreshold:      0.3,
		EscalationThreshold: 0.9,
	})

	ctx := context.Background()
	inv := proc.Process(ctx, &Input{
		AlertID:   "alert-001",
		StartTime: time.Now(),
		Results: []domain.CheckResult{
			result("a", domain.VerdictProbableFraudHigh),
			result("b", domain.VerdictProbableFraudLess),
			result("c", domain.VerdictProbableFraudLess),
		},
	})

	// (1.0 + 0.8) / 3 = 0.6: below escalation, above the lowered alert bar
	if inv.Score != 0.6 {
		t.Errorf("expected score 0.6, got %.3f", inv.Score)
	}
	if inv.Status != domain.StatusAlert {
		t.Errorf("expected ALRT with lowered alert threshold, got %s", inv.Status)
	}
}

func TestThresholdDefaults(t *testing.T) {
	proc := NewProcessor(domain.TriageConfig{})

	if proc.AlertThreshold != 0.5 {
		t.Errorf("expected default alert threshold 0.5, got %.2f", proc.AlertThreshold)
	}
	if proc.EscalationThreshold != 0.7 {
		t.Errorf("expected default escalation threshold 0.7, got %.2f", proc.EscalationThreshold)
	}
}
