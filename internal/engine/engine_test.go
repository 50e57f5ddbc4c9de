package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/checks"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/triage"
)

var engineRef = time.Date(2025, 6, 14, 14, 30, 0, 0, time.UTC)

// memorySource serves a fixed transaction slice, filtered per call the way
// the SQL queries would.
type memorySource struct {
	txs []*domain.Transaction
	err error
}

func (m *memorySource) TransactionsByCustomer(_ context.Context, _ string, customerID string) ([]*domain.Transaction, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*domain.Transaction
	for _, tx := range m.txs {
		if tx.CustomerID == customerID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *memorySource) TransactionsByCustomerSince(ctx context.Context, tenantID, customerID string, since time.Time) ([]*domain.Transaction, error) {
	all, err := m.TransactionsByCustomer(ctx, tenantID, customerID)
	if err != nil {
		return nil, err
	}
	var out []*domain.Transaction
	for _, tx := range all {
		if !tx.Timestamp.Before(since) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *memorySource) TransactionsByCustomerAndMerchant(ctx context.Context, tenantID, customerID, merchantID string) ([]*domain.Transaction, error) {
	all, err := m.TransactionsByCustomer(ctx, tenantID, customerID)
	if err != nil {
		return nil, err
	}
	var out []*domain.Transaction
	for _, tx := range all {
		if tx.MerchantID == merchantID {
			out = append(out, tx)
		}
	}
	return out, nil
}

// groceryHistory seeds eight weekly Saturday grocery runs for the customer.
func groceryHistory(customerID string) []*domain.Transaction {
	var txs []*domain.Transaction
	for week := 1; week <= 8; week++ {
		txs = append(txs, &domain.Transaction{
			ID:             fmt.Sprintf("tx-%d", week),
			TenantID:       "tenant-test",
			CustomerID:     customerID,
			MerchantID:     "merchant-grocery",
			Amount:         1400 + float64(week)*20,
			Currency:       "INR",
			Category:       "Grocery",
			MCC:            "5411",
			Location:       "Mumbai Dadar West",
			Country:        "IN",
			PaymentMethod:  domain.MethodCardPresent,
			PaymentSubType: domain.SubTypeEMVChip,
			PinVerified:    true,
			Timestamp:      engineRef.AddDate(0, 0, -7*week),
		})
	}
	return txs
}

func groceryAlert(customerID string) *domain.Alert {
	return &domain.Alert{
		ID:          "alert-9001",
		TenantID:    "tenant-test",
		TriggeredBy: "rule:amount-spike",
		Transaction: domain.Transaction{
			ID:             "tx-current",
			TenantID:       "tenant-test",
			CustomerID:     customerID,
			MerchantID:     "merchant-grocery",
			Amount:         1480,
			Currency:       "INR",
			Category:       "Grocery",
			MCC:            "5411",
			Location:       "Mumbai Dadar West",
			Country:        "IN",
			PaymentMethod:  domain.MethodCardPresent,
			PaymentSubType: domain.SubTypeEMVChip,
			PinVerified:    true,
			Timestamp:      engineRef,
		},
		ReceivedAt: engineRef,
	}
}

func newTestEngine(t *testing.T, source domain.TransactionSource) *Engine {
	t.Helper()
	cfg := domain.DefaultChecksConfig()
	provider := history.NewProvider(source, nil, nil)
	registry, err := checks.NewDefaultRegistry(provider, cfg, nil)
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	processor := triage.NewProcessor(domain.TriageConfig{})
	return New(registry, provider, processor, domain.EngineConfig{MaxConcurrency: 4}, cfg, nil)
}

func TestInvestigateFullBattery(t *testing.T) {
	e := newTestEngine(t, &memorySource{txs: groceryHistory("cust-8801")})
	alert := groceryAlert("cust-8801")

	inv := e.Investigate(context.Background(), alert, nil)

	if inv.Status != domain.StatusNoAlert {
		t.Errorf("habitual purchase should dismiss, got %s (score %v, reasons %v)",
			inv.Status, inv.Score, inv.Reasons)
	}
	if inv.Score != 0 {
		t.Errorf("expected score 0, got %v", inv.Score)
	}
	if len(inv.CheckResults) != 16 {
		t.Fatalf("expected 16 results, got %d", len(inv.CheckResults))
	}
	if inv.Metadata.ChecksRun != 16 || inv.Metadata.ChecksFailed != 0 {
		t.Errorf("unexpected metadata counts: run=%d failed=%d",
			inv.Metadata.ChecksRun, inv.Metadata.ChecksFailed)
	}
	if inv.Metadata.EngineVersion != triage.EngineVersion {
		t.Errorf("expected engine version %s, got %s", triage.EngineVersion, inv.Metadata.EngineVersion)
	}
	if inv.AlertID != "alert-9001" || inv.CustomerID != "cust-8801" || inv.TxID != "tx-current" {
		t.Errorf("identity not carried: %s/%s/%s", inv.AlertID, inv.CustomerID, inv.TxID)
	}
	if inv.TenantID != "tenant-test" {
		t.Errorf("expected tenant carried, got %q", inv.TenantID)
	}

	// Results land in registry order regardless of completion order.
	names := e.registry.Names()
	for i, res := range inv.CheckResults {
		if res.CheckType != names[i] {
			t.Errorf("result[%d]: expected %s, got %s", i, names[i], res.CheckType)
		}
		if !res.Success {
			t.Errorf("check %s failed: %s", res.CheckType, res.Error)
		}
	}
}

func TestInvestigateEscalatesFreshCustomer(t *testing.T) {
	e := newTestEngine(t, &memorySource{})
	alert := groceryAlert("cust-unseen")

	inv := e.Investigate(context.Background(), alert, nil)

	if inv.Status != domain.StatusAlert {
		t.Fatalf("a customer with no history should escalate, got %s (score %v)", inv.Status, inv.Score)
	}
	// card_present, previous_history_check and spending_patterns all grade
	// HIGH; pin_verified grades MEDIUM. (1+1+1+0.75)/4 = 0.938.
	if inv.Score != 0.938 {
		t.Errorf("expected score 0.938, got %v", inv.Score)
	}
	if inv.VerdictCounts[domain.VerdictProbableFraudHigh] != 3 {
		t.Errorf("expected 3 high verdicts, got %v", inv.VerdictCounts)
	}
	found := false
	for _, reason := range inv.Reasons {
		if reason == "First interaction between customer and merchant" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing relationship reason in %v", inv.Reasons)
	}
}

func TestInvestigateChecksSubset(t *testing.T) {
	e := newTestEngine(t, &memorySource{txs: groceryHistory("cust-8801")})
	alert := groceryAlert("cust-8801")

	inv := e.Investigate(context.Background(), alert, &Options{
		Checks: []string{"velocity", "amount_analysis"},
	})

	if len(inv.CheckResults) != 2 {
		t.Fatalf("expected 2 results, got %d", len(inv.CheckResults))
	}
	if inv.CheckResults[0].CheckType != "velocity" || inv.CheckResults[1].CheckType != "amount_analysis" {
		t.Errorf("subset order not preserved: %s, %s",
			inv.CheckResults[0].CheckType, inv.CheckResults[1].CheckType)
	}
}

func TestInvestigateCategoryFilter(t *testing.T) {
	e := newTestEngine(t, &memorySource{txs: groceryHistory("cust-8801")})
	alert := groceryAlert("cust-8801")

	inv := e.Investigate(context.Background(), alert, &Options{
		Category: domain.CategoryConsistency,
	})

	if len(inv.CheckResults) != 6 {
		t.Fatalf("expected 6 consistency checks, got %d", len(inv.CheckResults))
	}
	for _, res := range inv.CheckResults {
		if res.Category != domain.CategoryConsistency {
			t.Errorf("check %s has category %s", res.CheckType, res.Category)
		}
	}
}

func TestInvestigateUnknownCheck(t *testing.T) {
	e := newTestEngine(t, &memorySource{txs: groceryHistory("cust-8801")})
	alert := groceryAlert("cust-8801")

	inv := e.Investigate(context.Background(), alert, &Options{
		Checks: []string{"velocity", "no_such_check"},
	})

	if len(inv.CheckResults) != 2 {
		t.Fatalf("expected 2 results, got %d", len(inv.CheckResults))
	}
	bad := inv.CheckResults[1]
	if bad.Success || bad.CheckType != "no_such_check" {
		t.Errorf("unexpected placeholder result: %+v", bad)
	}
	if !strings.Contains(bad.Error, "unknown check") {
		t.Errorf("unexpected error %q", bad.Error)
	}
	if inv.Metadata.ChecksFailed != 1 {
		t.Errorf("expected 1 failed check, got %d", inv.Metadata.ChecksFailed)
	}
}

func TestInvestigateSurvivesSourceFailure(t *testing.T) {
	e := newTestEngine(t, &memorySource{err: errors.New("connection refused")})
	alert := groceryAlert("cust-8801")

	inv := e.Investigate(context.Background(), alert, nil)

	// first_time_alert, the coordinate-free geo check and the four
	// not-applicable consistency checks resolve without history;
	// everything else degrades to a failed result.
	if inv.Metadata.ChecksFailed != 10 {
		t.Errorf("expected 10 failed checks, got %d", inv.Metadata.ChecksFailed)
	}
	if len(inv.CheckResults) != 16 {
		t.Errorf("failures must not drop results, got %d", len(inv.CheckResults))
	}
	if inv.Status != domain.StatusNoAlert {
		t.Errorf("failed checks must not score, got %s", inv.Status)
	}
}
