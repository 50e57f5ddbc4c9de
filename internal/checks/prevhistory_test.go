package checks

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
)

func TestPreviousHistoryAnalyze(t *testing.T) {
	c := NewPreviousHistoryCheck(nil, domain.DefaultChecksConfig(), nil)

	t.Run("EstablishedRelationship", func(t *testing.T) {
		// 14 weekly visits: span 92 days, last one a week ago.
		view := history.NewView(weeklyHistory(14))
		o := c.analyze(view, refSaturday)
		if o.Status != relationshipEstablished {
			t.Fatalf("expected ESTABLISHED, got %s", o.Status)
		}
		if o.Count != 14 || o.SpanDays != 92 || o.RecencyDays != 7 {
			t.Errorf("unexpected shape: count=%d span=%d recency=%d", o.Count, o.SpanDays, o.RecencyDays)
		}
		// Familiarity 0.4 + 0.3*(92/365) + 0.3*(358/365) = 0.770.
		if !within(o.Familiarity, 0.770, 0.001) {
			t.Errorf("expected familiarity ~0.770, got %v", o.Familiarity)
		}
		if o.RiskScore != 0.230 || o.Level != domain.RiskLow {
			t.Errorf("expected 0.230/LOW, got %v/%s", o.RiskScore, o.Level)
		}
		overall := o.OverallAssessment()
		if overall.Result != domain.VerdictNotFraud {
			t.Errorf("expected clean verdict, got %q", overall.Result)
		}
		if overall.Rationale[0] != "Established relationship: 14 transactions over 92 days" {
			t.Errorf("unexpected rationale %v", overall.Rationale)
		}
	})

	t.Run("MinimalRelationship", func(t *testing.T) {
		view := history.NewView([]*domain.Transaction{
			seedTx("tx-1", refSaturday.AddDate(0, 0, -20), 1500),
			seedTx("tx-2", refSaturday.AddDate(0, 0, -10), 1500),
		})
		o := c.analyze(view, refSaturday)
		if o.Status != relationshipMinimal {
			t.Fatalf("expected MINIMAL, got %s", o.Status)
		}
		if o.SpanDays != 11 || o.RecencyDays != 10 {
			t.Errorf("unexpected shape: span=%d recency=%d", o.SpanDays, o.RecencyDays)
		}
		// Familiarity 0.08 + 0.3*(11/365) + 0.3*(355/365) = 0.381.
		if o.RiskScore != 0.619 || o.Level != domain.RiskMedium {
			t.Errorf("expected 0.619/MEDIUM, got %v/%s", o.RiskScore, o.Level)
		}
		overall := o.OverallAssessment()
		if overall.Result != domain.VerdictProbableFraud {
			t.Errorf("expected probable verdict, got %q", overall.Result)
		}
		if overall.Rationale[0] != "Thin relationship: 2 transactions over 11 days" {
			t.Errorf("unexpected rationale %v", overall.Rationale)
		}
	})

	t.Run("FirstInteraction", func(t *testing.T) {
		o := c.analyze(history.NewView(nil), refSaturday)
		if o.Status != relationshipFirstTime {
			t.Fatalf("expected FIRST_TIME, got %s", o.Status)
		}
		if o.Level != domain.RiskHigh || o.RiskScore != 1.0 {
			t.Errorf("expected HIGH/1.0, got %s/%v", o.Level, o.RiskScore)
		}
		overall := o.OverallAssessment()
		if overall.Result != domain.VerdictProbableFraudHigh {
			t.Errorf("expected high verdict, got %q", overall.Result)
		}
		if overall.Rationale[0] != "First interaction between customer and merchant" {
			t.Errorf("unexpected rationale %v", overall.Rationale)
		}
		if o.Metrics()["recency_days"] != nil {
			t.Errorf("no history means no recency, got %v", o.Metrics()["recency_days"])
		}
	})

	t.Run("SinglePriorStaysHighRisk", func(t *testing.T) {
		view := history.NewView([]*domain.Transaction{
			seedTx("tx-1", refSaturday.AddDate(0, 0, -30), 1500),
		})
		o := c.analyze(view, refSaturday)
		if o.Status != relationshipFirstTime {
			t.Fatalf("one prior transaction is below the MINIMAL bar, got %s", o.Status)
		}
		if o.SpanDays != 1 {
			t.Errorf("single transaction spans one day, got %d", o.SpanDays)
		}
		// Familiarity 0.316 grades 0.684, floored up to 0.8.
		if o.RiskScore != 0.8 || o.Level != domain.RiskHigh {
			t.Errorf("expected 0.8/HIGH, got %v/%s", o.RiskScore, o.Level)
		}
	})
}
