// Package worker drains queued alerts and runs them through the
// investigation engine.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/triage"
)

// Worker consumes TopicAlertReceived, investigates each alert, persists
// the outcome, and republishes it downstream. It holds one subscription
// per configured tenant, or a single global subscription when no tenants
// are named.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	engine *engine.Engine

	ctx    context.Context
	cancel context.CancelFunc
	subs   []domain.Subscription
}

// Config scopes which tenants the worker drains.
type Config struct {
	// TenantIDs to serve. Empty means one global subscription covering
	// every tenant.
	TenantIDs []string
}

// NewWorker creates an async worker. repo may be nil; investigations are
// then published but not persisted.
func NewWorker(bus domain.EventBus, repo domain.Repository, eng *engine.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		engine: eng,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the alert intake topic for each configured tenant.
// A failed subscription unwinds the ones already made.
func (w *Worker) Start(cfg Config) error {
	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{domain.GlobalTenantID}
	}

	for _, tenantID := range tenants {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicAlertReceived, w.consume)
		if err != nil {
			w.Stop()
			return fmt.Errorf("worker: subscribe tenant %s: %w", tenantID, err)
		}
		w.subs = append(w.subs, sub)
		slog.Info("worker subscribed",
			"tenant_id", tenantID,
			"topic", domain.TopicAlertReceived,
		)
	}
	return nil
}

// consume runs one queued alert through investigate, persist, publish.
// The message always carries its tenant; the alert body may omit it.
func (w *Worker) consume(ctx context.Context, msg *domain.Message) error {
	var alert domain.Alert
	if err := json.Unmarshal(msg.Payload, &alert); err != nil {
		slog.Error("discarding undecodable alert", "message_id", msg.ID, "error", err)
		return fmt.Errorf("worker: decode alert: %w", err)
	}
	if alert.TenantID == "" {
		alert.TenantID = msg.TenantID
	}
	if alert.ReceivedAt.IsZero() {
		alert.ReceivedAt = msg.SentAt
	}

	inv := w.engine.Investigate(ctx, &alert, nil)

	if w.repo != nil {
		if err := w.repo.SaveInvestigation(ctx, alert.TenantID, inv); err != nil {
			slog.Error("failed to save investigation", "alert_id", alert.ID, "error", err)
		}
	}
	w.republish(ctx, &alert, inv)

	slog.Info("alert processed",
		"alert_id", alert.ID,
		"tenant_id", alert.TenantID,
		"status", inv.Status,
		"score", inv.Score,
		"total_ms", inv.Metadata.TotalMs,
	)
	return nil
}

// republish pushes the finished investigation downstream; alerts that
// stand go to the case-management topic as well.
func (w *Worker) republish(ctx context.Context, alert *domain.Alert, inv *domain.Investigation) {
	payload, err := json.Marshal(inv)
	if err != nil {
		slog.Error("failed to encode investigation", "alert_id", alert.ID, "error", err)
		return
	}

	if err := w.bus.Publish(ctx, alert.TenantID, domain.TopicInvestigationCompleted, payload); err != nil {
		slog.Error("failed to publish investigation", "alert_id", alert.ID, "error", err)
	}
	if triage.ShouldEscalate(inv) {
		if err := w.bus.Publish(ctx, alert.TenantID, domain.TopicAlertFlagged, payload); err != nil {
			slog.Error("failed to publish flagged alert", "alert_id", alert.ID, "error", err)
		}
	}
}

// Stop detaches every subscription and cancels the worker context.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}
	w.subs = nil

	slog.Info("worker stopped")
	return nil
}

// Subscriptions reports how many topic bindings the worker holds.
func (w *Worker) Subscriptions() int {
	return len(w.subs)
}
