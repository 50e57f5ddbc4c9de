package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/checks"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/triage"
)

// fixedSource serves one canned history for every customer.
type fixedSource struct {
	txs []*domain.Transaction
}

func (s fixedSource) TransactionsByCustomer(ctx context.Context, tenantID, customerID string) ([]*domain.Transaction, error) {
	return s.txs, nil
}

func (s fixedSource) TransactionsByCustomerSince(ctx context.Context, tenantID, customerID string, since time.Time) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	for _, tx := range s.txs {
		if !tx.Timestamp.Before(since) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s fixedSource) TransactionsByCustomerAndMerchant(ctx context.Context, tenantID, customerID, merchantID string) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	for _, tx := range s.txs {
		if tx.MerchantID == merchantID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()

	cfg := domain.DefaultChecksConfig()
	provider := history.NewProvider(fixedSource{}, nil, nil)
	registry, err := checks.NewDefaultRegistry(provider, cfg, nil)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	processor := triage.NewProcessor(domain.TriageConfig{
		AlertThreshold:      0.5,
		EscalationThreshold: 0.7,
	})
	return engine.New(registry, provider, processor, domain.EngineConfig{MaxConcurrency: 4}, cfg, nil)
}

func testAlert(id, tenantID string) *domain.Alert {
	return &domain.Alert{
		ID:       id,
		TenantID: tenantID,
		Transaction: domain.Transaction{
			ID:             "tx-" + id,
			CustomerID:     "cust-001",
			MerchantID:     "merch-001",
			Amount:         1500,
			Currency:       "INR",
			Category:       "groceries",
			MCC:            "5411",
			Location:       "Mumbai Central",
			Country:        "IN",
			PaymentMethod:  domain.MethodCardPresent,
			PaymentSubType: domain.SubTypeEMVChip,
			PinVerified:    true,
			Timestamp:      time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC),
		},
		ReceivedAt: time.Now().UTC(),
	}
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	eng := newTestEngine(t)
	worker := NewWorker(eventBus, nil, eng)

	t.Run("StartAndStop", func(t *testing.T) {
		cfg := Config{
			TenantIDs: []string{"tenant-001"},
		}

		err := worker.Start(cfg)
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		if n := worker.Subscriptions(); n != 1 {
			t.Errorf("expected 1 subscription, got %d", n)
		}

		err = worker.Stop()
		if err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		if n := worker.Subscriptions(); n != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", n)
		}
	})

	t.Run("ProcessAlert", func(t *testing.T) {
		w := NewWorker(eventBus, nil, eng)

		cfg := Config{
			TenantIDs: []string{"tenant-test"},
		}
		w.Start(cfg)
		defer w.Stop()

		var completedReceived atomic.Bool
		var completedPayload []byte

		eventBus.Subscribe(context.Background(), "tenant-test", domain.TopicInvestigationCompleted, func(ctx context.Context, msg *domain.Message) error {
			completedPayload = msg.Payload
			completedReceived.Store(true)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(50 * time.Millisecond)

		alert := testAlert("alert-001", "tenant-test")
		payload, _ := json.Marshal(alert)
		err := eventBus.Publish(context.Background(), "tenant-test", domain.TopicAlertReceived, payload)
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Wait for processing
		deadline := time.After(2 * time.Second)
		for !completedReceived.Load() {
			select {
			case <-deadline:
				t.Fatal("timeout waiting for investigation")
			case <-time.After(10 * time.Millisecond):
			}
		}

		var inv domain.Investigation
		if err := json.Unmarshal(completedPayload, &inv); err != nil {
			t.Fatalf("failed to parse investigation: %v", err)
		}

		if inv.AlertID != "alert-001" {
			t.Errorf("expected alertID 'alert-001', got '%s'", inv.AlertID)
		}
		if inv.TenantID != "tenant-test" {
			t.Errorf("expected tenantID 'tenant-test', got '%s'", inv.TenantID)
		}
		if inv.Metadata.ChecksRun != 16 {
			t.Errorf("expected 16 checks run, got %d", inv.Metadata.ChecksRun)
		}
		if inv.Status != domain.StatusAlert && inv.Status != domain.StatusNoAlert {
			t.Errorf("unexpected status %q", inv.Status)
		}
	})

	t.Run("FlaggedAlertPublished", func(t *testing.T) {
		w := NewWorker(eventBus, nil, eng)

		cfg := Config{
			TenantIDs: []string{"tenant-flag"},
		}
		w.Start(cfg)
		defer w.Stop()

		var flagged atomic.Bool

		eventBus.Subscribe(context.Background(), "tenant-flag", domain.TopicAlertFlagged, func(ctx context.Context, msg *domain.Message) error {
			flagged.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		// A customer with zero history grades HIGH on the relationship and
		// pattern checks, so the alert stands.
		alert := testAlert("alert-flag", "tenant-flag")
		payload, _ := json.Marshal(alert)
		eventBus.Publish(context.Background(), "tenant-flag", domain.TopicAlertReceived, payload)

		deadline := time.After(2 * time.Second)
		for !flagged.Load() {
			select {
			case <-deadline:
				t.Fatal("expected flagged alert for first-time customer")
			case <-time.After(10 * time.Millisecond):
			}
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, nil, eng)

		cfg := Config{
			TenantIDs: []string{"tenant-a", "tenant-b"},
		}
		w.Start(cfg)
		defer w.Stop()

		if n := w.Subscriptions(); n != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", n)
		}
	})

	t.Run("GlobalSubscriptionSpansTenants", func(t *testing.T) {
		w := NewWorker(eventBus, nil, eng)

		// No tenant list: one wildcard subscription must still pick up
		// alerts published under a concrete tenant.
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		if n := w.Subscriptions(); n != 1 {
			t.Fatalf("expected a single global subscription, got %d", n)
		}

		var completed atomic.Bool
		eventBus.Subscribe(context.Background(), "tenant-global", domain.TopicInvestigationCompleted, func(ctx context.Context, msg *domain.Message) error {
			completed.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		alert := testAlert("alert-global", "tenant-global")
		payload, _ := json.Marshal(alert)
		eventBus.Publish(context.Background(), "tenant-global", domain.TopicAlertReceived, payload)

		deadline := time.After(2 * time.Second)
		for !completed.Load() {
			select {
			case <-deadline:
				t.Fatal("global worker never processed the tenant's alert")
			case <-time.After(10 * time.Millisecond):
			}
		}
	})
}

func TestWorkerAlertParsing(t *testing.T) {
	alert := testAlert("alert-rt", "tenant-001")

	data, err := json.Marshal(alert)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var parsed domain.Alert
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if parsed.ID != alert.ID {
		t.Errorf("expected ID '%s', got '%s'", alert.ID, parsed.ID)
	}
	if parsed.Transaction.Amount != alert.Transaction.Amount {
		t.Errorf("expected Amount %.2f, got %.2f", alert.Transaction.Amount, parsed.Transaction.Amount)
	}
	if !parsed.Transaction.PinVerified {
		t.Error("expected PinVerified to round-trip")
	}
}
