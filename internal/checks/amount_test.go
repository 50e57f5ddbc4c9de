package checks

import (
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
)

func within(got, want, tol float64) bool {
	return math.Abs(got-want) <= tol
}

func TestDescribeAmounts(t *testing.T) {
	s := describeAmounts([]float64{100, 200, 300, 400}, 250)
	if s.Count != 4 {
		t.Errorf("expected count 4, got %d", s.Count)
	}
	if s.Mean != 250 || s.Median != 250 {
		t.Errorf("expected mean/median 250, got %v/%v", s.Mean, s.Median)
	}
	// Squared deviations 22500+2500+2500+22500 over n-1=3.
	if !within(s.StdDev, 129.099, 0.001) {
		t.Errorf("expected std dev ~129.099, got %v", s.StdDev)
	}
	if s.Min != 100 || s.Max != 400 {
		t.Errorf("unexpected min/max %v/%v", s.Min, s.Max)
	}
	if s.P25 != 200 || s.P75 != 400 {
		t.Errorf("unexpected quartiles %v/%v", s.P25, s.P75)
	}
	if s.Z != 0 {
		t.Errorf("250 is the mean, expected Z 0, got %v", s.Z)
	}
	if s.PercentileRank != 50 {
		t.Errorf("expected rank 50, got %v", s.PercentileRank)
	}
	if s.DeviationPct != 0 {
		t.Errorf("expected zero deviation, got %v", s.DeviationPct)
	}

	empty := describeAmounts(nil, 250)
	if empty.Count != 0 || empty.Mean != 0 || empty.Z != 0 {
		t.Errorf("empty population should zero out: %+v", empty)
	}
}

func TestAmountAnalyze(t *testing.T) {
	c := NewAmountCheck(nil, domain.DefaultChecksConfig(), nil)
	view := history.NewView(weeklyHistory(8))

	t.Run("TypicalSpend", func(t *testing.T) {
		// 1480 sits in the middle of the 1420..1560 weekly run
		// (mean 1490, std dev ~49).
		o := c.analyze(view, 1480, "merchant-grocery", "Grocery")
		if o.Overall.Count != 8 || o.Merchant.Count != 8 || o.Category.Count != 8 {
			t.Fatalf("unexpected population counts: %d/%d/%d",
				o.Overall.Count, o.Merchant.Count, o.Category.Count)
		}
		if !within(o.Overall.Mean, 1490, 0.001) {
			t.Errorf("expected mean 1490, got %v", o.Overall.Mean)
		}
		if o.OutlierLevel != outlierNone {
			t.Errorf("expected NONE, got %s (factors %v)", o.OutlierLevel, o.OutlierFactors)
		}
		if o.RiskLevel != domain.RiskLow || o.RiskScore != 0 {
			t.Errorf("expected LOW/0, got %s/%v (factors %v)", o.RiskLevel, o.RiskScore, o.RiskFactors)
		}
		if got := o.OverallAssessment().Result; got != domain.VerdictNotFraud {
			t.Errorf("expected clean verdict, got %q", got)
		}
	})

	t.Run("ExtremeOutlier", func(t *testing.T) {
		o := c.analyze(view, 50000, "merchant-grocery", "Grocery")
		if o.OutlierLevel != outlierStrong {
			t.Fatalf("expected STRONG, got %s", o.OutlierLevel)
		}
		if o.RiskLevel != domain.RiskHigh || o.RiskScore != 1.0 {
			t.Errorf("strong outlier should pin HIGH/1.0, got %s/%v", o.RiskLevel, o.RiskScore)
		}
		if got := o.OverallAssessment().Result; got != domain.VerdictProbableFraudHigh {
			t.Errorf("expected high verdict, got %q", got)
		}
		found := false
		for _, f := range o.OutlierFactors {
			if f == "Strong statistical outlier (Z-score > 2.5)" {
				found = true
			}
		}
		if !found {
			t.Errorf("missing Z-score factor in %v", o.OutlierFactors)
		}
	})

	t.Run("NoHistory", func(t *testing.T) {
		o := c.analyze(history.NewView(nil), 500, "", "")
		if o.Overall.Count != 0 {
			t.Fatalf("expected empty population, got %d", o.Overall.Count)
		}
		if o.OutlierLevel != outlierNone || o.RiskLevel != domain.RiskLow {
			t.Errorf("no history should stay quiet, got %s/%s", o.OutlierLevel, o.RiskLevel)
		}
		if len(o.RiskFactors) != 0 {
			t.Errorf("unexpected factors %v", o.RiskFactors)
		}
	})

	t.Run("NovelCategory", func(t *testing.T) {
		// Grocery-only history; first purchase labelled Electronics.
		o := c.analyze(view, 1480, "merchant-grocery", "Electronics")
		if o.Category.Count != 0 {
			t.Fatalf("expected no category history, got %d", o.Category.Count)
		}
		if !within(o.RiskScore, 0.2, 0.0001) {
			t.Errorf("expected risk score 0.2, got %v", o.RiskScore)
		}
		if o.RiskLevel != domain.RiskLow {
			t.Errorf("a single soft factor stays LOW, got %s", o.RiskLevel)
		}
		if len(o.RiskFactors) != 1 || o.RiskFactors[0] != "No spending history in this merchant category" {
			t.Errorf("unexpected factors %v", o.RiskFactors)
		}
	})
}
