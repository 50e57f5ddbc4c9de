package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/checks"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/screening"
)

// Handler serves the HTTP API. Backends may be nil; endpoints that
// need a missing one answer 503 instead of panicking, which keeps the
// synchronous /investigate path usable in stripped-down deployments.
type Handler struct {
	repo        domain.Repository
	cache       domain.Cache
	bus         domain.EventBus
	engine      *engine.Engine
	screening   *screening.Engine
	registry    *checks.Registry
	version     string
	intakeLimit int
}

// NewHandler wires the handler to its backends.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, scr *screening.Engine, registry *checks.Registry, version string, intakeLimit int) *Handler {
	return &Handler{
		repo:        repo,
		cache:       cache,
		bus:         bus,
		engine:      eng,
		screening:   scr,
		registry:    registry,
		version:     version,
		intakeLimit: intakeLimit,
	}
}

// AlertRequest is the request body for POST /investigate and POST /alerts.
type AlertRequest struct {
	ID          string             `json:"id,omitempty"`
	TriggeredBy string             `json:"triggeredBy,omitempty"`
	Transaction TransactionRequest `json:"transaction"`
}

// TransactionRequest carries the card transaction under investigation.
// Omitted IDs are generated; an omitted timestamp defaults to now.
type TransactionRequest struct {
	ID             string    `json:"id,omitempty"`
	CustomerID     string    `json:"customerId"`
	MerchantID     string    `json:"merchantId"`
	Amount         float64   `json:"amount"`
	Currency       string    `json:"currency,omitempty"`
	Category       string    `json:"category"`
	MCC            string    `json:"mcc,omitempty"`
	Location       string    `json:"location,omitempty"`
	Country        string    `json:"country,omitempty"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	PaymentMethod  string    `json:"paymentMethod"`
	PaymentSubType string    `json:"paymentSubType,omitempty"`
	PinVerified    bool      `json:"pinVerified"`
	DeviceID       string    `json:"deviceId,omitempty"`
	IPAddress      string    `json:"ipAddress,omitempty"`
	AlertHistory   bool      `json:"alertHistory"`
	PreviousAlerts int       `json:"previousAlerts"`
	Timestamp      time.Time `json:"timestamp,omitempty"`
}

// IntakeResponse is the response for POST /alerts.
type IntakeResponse struct {
	AlertID string `json:"alertId"`
	Status  string `json:"status"`
}

// Investigate handles POST /investigate requests: the alert is analyzed
// synchronously and the full investigation is returned.
func (h *Handler) Investigate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := TenantFrom(ctx)

	var req AlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if msg := validateAlertRequest(&req); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": msg,
		})
		return
	}

	alert := buildAlert(&req, tenantID)

	// Persist the transaction so it joins the customer's history for
	// later investigations.
	if err := h.storeTransaction(ctx, tenantID, &alert.Transaction); err != nil {
		slog.Error("failed to save transaction", "tx_id", alert.Transaction.ID, "error", err)
	}

	inv := h.engine.Investigate(ctx, alert, nil)

	if h.repo != nil {
		if err := h.repo.SaveInvestigation(ctx, tenantID, inv); err != nil {
			slog.Error("failed to save investigation", "id", inv.ID, "error", err)
		}
	}

	slog.Info("investigation completed",
		"alert_id", alert.ID,
		"tenant_id", tenantID,
		"status", inv.Status,
		"score", inv.Score,
		"total_ms", time.Since(start).Milliseconds(),
	)

	writeJSON(w, http.StatusOK, inv.ToResponse())
}

// IntakeAlert handles POST /alerts requests: the alert is queued on the
// event bus and investigated by a worker. Responds 202 Accepted.
func (h *Handler) IntakeAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := TenantFrom(ctx)

	var req AlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if msg := validateAlertRequest(&req); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": msg,
		})
		return
	}

	// Throttle per tenant when a cap is configured.
	if h.intakeLimit > 0 && h.cache != nil {
		count, err := h.cache.IncrementCounter(ctx, tenantID, "intake", time.Minute)
		if err != nil {
			slog.Error("intake counter failed", "tenant_id", tenantID, "error", err)
		} else if count > int64(h.intakeLimit) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "alert intake limit exceeded, retry later",
			})
			return
		}
	}

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	alert := buildAlert(&req, tenantID)

	// Persist the transaction up front so history is current even while
	// the alert waits in the queue.
	if err := h.storeTransaction(ctx, tenantID, &alert.Transaction); err != nil {
		slog.Error("failed to save transaction", "tx_id", alert.Transaction.ID, "error", err)
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to encode alert",
		})
		return
	}

	if err := h.bus.Publish(ctx, tenantID, domain.TopicAlertReceived, payload); err != nil {
		slog.Error("failed to publish alert", "alert_id", alert.ID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "alert intake unavailable",
		})
		return
	}

	slog.Info("alert queued", "alert_id", alert.ID, "tenant_id", tenantID)
	writeJSON(w, http.StatusAccepted, IntakeResponse{
		AlertID: alert.ID,
		Status:  "accepted",
	})
}

// Health reports process liveness and the state of each configured
// backend. A degraded backend does not fail the endpoint; use /ready
// for traffic gating.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := map[string]string{
		"status":  "healthy",
		"version": h.version,
	}
	probe := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			resp[name] = "unreachable"
			resp["status"] = "degraded"
		} else {
			resp[name] = "ok"
		}
	}
	if h.repo != nil {
		probe("repository", h.repo.Ping)
	}
	if h.cache != nil {
		probe("cache", h.cache.Ping)
	}
	if h.bus != nil {
		probe("eventbus", h.bus.Ping)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Ready answers 200 once every configured backend responds, 503
// otherwise. Backends that were never configured do not count against
// readiness.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
				"error": "repository unreachable",
			})
			return
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
				"error": "event bus unreachable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetInvestigation retrieves an investigation by ID.
func (h *Handler) GetInvestigation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := TenantFrom(ctx)
	invID := chi.URLParam(r, "id")

	if invID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "investigation id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	inv, err := h.repo.GetInvestigation(ctx, tenantID, invID)
	if err != nil {
		slog.Error("failed to get investigation", "id", invID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "investigation not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, inv)
}

// GetAlertInvestigation retrieves the investigation outcome for a queued
// alert. Clients that received a 202 from IntakeAlert poll here; 404 means
// the alert has not been processed yet.
func (h *Handler) GetAlertInvestigation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := TenantFrom(ctx)
	alertID := chi.URLParam(r, "id")

	if alertID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "alert id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	inv, err := h.repo.GetInvestigationByAlert(ctx, tenantID, alertID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no investigation recorded for this alert",
		})
		return
	}

	writeJSON(w, http.StatusOK, inv.ToResponse())
}

// ListChecks returns the descriptors of every registered check, including
// the parameter schema each one expects.
func (h *Handler) ListChecks(w http.ResponseWriter, r *http.Request) {
	descriptors := h.registry.Descriptors()

	writeJSON(w, http.StatusOK, map[string]any{
		"checks": descriptors,
		"count":  len(descriptors),
	})
}

// CreateTransaction saves a transaction without investigating it. Used to
// seed customer history.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := TenantFrom(ctx)

	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if msg := validateTransactionRequest(&req); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": msg,
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	tx := buildTransaction(&req, tenantID)
	if err := h.storeTransaction(ctx, tenantID, tx); err != nil {
		slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save transaction",
		})
		return
	}

	writeJSON(w, http.StatusCreated, tx)
}

// storeTransaction persists tx and evicts the customer's cached history
// snapshots so the next investigation sees the new transaction without
// waiting out the snapshot TTL.
func (h *Handler) storeTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if h.repo == nil {
		return nil
	}
	if err := h.repo.SaveTransaction(ctx, tenantID, tx); err != nil {
		return err
	}
	if h.cache != nil {
		if err := h.cache.DeletePrefix(ctx, tenantID, history.SnapshotPrefix(tx.CustomerID)); err != nil {
			slog.Warn("history snapshot eviction failed", "customer_id", tx.CustomerID, "error", err)
		}
	}
	return nil
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := TenantFrom(ctx)
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	tx, err := h.repo.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		slog.Error("failed to get transaction", "id", txID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ListCustomerTransactions retrieves a customer's transaction history,
// oldest first. Supports ?since=RFC3339 and ?merchant=ID filters.
func (h *Handler) ListCustomerTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := TenantFrom(ctx)
	customerID := chi.URLParam(r, "id")

	if customerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "customer id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	var (
		txs []*domain.Transaction
		err error
	)
	switch {
	case r.URL.Query().Get("merchant") != "":
		txs, err = h.repo.TransactionsByCustomerAndMerchant(ctx, tenantID, customerID, r.URL.Query().Get("merchant"))
	case r.URL.Query().Get("since") != "":
		var since time.Time
		since, err = time.Parse(time.RFC3339, r.URL.Query().Get("since"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "since must be an RFC 3339 timestamp",
			})
			return
		}
		txs, err = h.repo.TransactionsByCustomerSince(ctx, tenantID, customerID, since)
	default:
		txs, err = h.repo.TransactionsByCustomer(ctx, tenantID, customerID)
	}
	if err != nil {
		slog.Error("failed to list transactions", "customer_id", customerID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list transactions",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"count":        len(txs),
	})
}

// ListRules returns all screening rules currently loaded in the engine.
// Rules are loaded from config defaults and the database at startup and can
// be reloaded via POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if h.screening == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "screening engine not available",
		})
		return
	}

	loadedRules := h.screening.LoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loadedRules,
		"count": len(loadedRules),
	})
}

// GetRule retrieves a screening rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if h.screening == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "screening engine not available",
		})
		return
	}

	for _, rule := range h.screening.LoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a screening rule.
type CreateRuleRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Expression  string  `json:"expression"`
	Weight      float64 `json:"weight"`
	Reason      string  `json:"reason,omitempty"`
	Enabled     bool    `json:"enabled"`
}

// CreateRule creates a screening rule, saves it to the database, and loads
// it into the engine. Rules are saved globally (tenant_id = "*") so they
// apply to all tenants.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.screening == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "screening engine not available",
		})
		return
	}

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	// Validate
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}
	if req.Weight < 0 || req.Weight > 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "weight must be between 0 and 1",
		})
		return
	}

	rule := domain.ScreeningRule{
		ID:          req.ID,
		TenantID:    domain.GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0",
		Expression:  req.Expression,
		Weight:      req.Weight,
		Reason:      req.Reason,
		Enabled:     req.Enabled,
	}

	// Validate the CEL expression before anything is persisted.
	if err := h.screening.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveScreeningRule(ctx, domain.GlobalTenantID, &rule); err != nil {
			slog.Error("failed to save screening rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	if rule.Enabled {
		if err := h.screening.LoadRule(rule); err != nil {
			slog.Error("failed to load screening rule", "id", rule.ID, "error", err)
		}
	}

	slog.Info("screening rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule": rule,
	})
}

// DeleteRule disables a screening rule and removes it from the engine.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.DeleteScreeningRule(ctx, domain.GlobalTenantID, ruleID); err != nil {
			slog.Error("failed to delete screening rule", "id", ruleID, "error", err)
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
	}

	if h.screening != nil {
		h.screening.RemoveRule(ruleID)
	}

	slog.Info("screening rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rule deleted",
	})
}

// ReloadRules reloads all screening rules from the database into the
// engine. This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}
	if h.screening == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "screening engine not available",
		})
		return
	}

	dbRules, err := h.repo.ListScreeningRules(ctx, domain.GlobalTenantID)
	if err != nil {
		slog.Error("failed to list screening rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	rules := make([]domain.ScreeningRule, 0, len(dbRules))
	for _, rule := range dbRules {
		rules = append(rules, *rule)
	}
	if err := h.screening.ReloadRules(rules); err != nil {
		slog.Error("failed to reload screening rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("screening rules reloaded from database", "count", len(rules))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   len(rules),
	})
}

func validateAlertRequest(req *AlertRequest) string {
	return validateTransactionRequest(&req.Transaction)
}

func validateTransactionRequest(req *TransactionRequest) string {
	switch {
	case req.CustomerID == "":
		return "customerId is required"
	case req.Amount <= 0:
		return "amount must be positive"
	case req.PaymentMethod == "":
		return "paymentMethod is required"
	}
	return ""
}

func buildTransaction(req *TransactionRequest, tenantID string) *domain.Transaction {
	now := time.Now().UTC()

	tx := &domain.Transaction{
		ID:             req.ID,
		TenantID:       tenantID,
		CustomerID:     req.CustomerID,
		MerchantID:     req.MerchantID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Category:       req.Category,
		MCC:            req.MCC,
		Location:       req.Location,
		Country:        req.Country,
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		PaymentMethod:  req.PaymentMethod,
		PaymentSubType: req.PaymentSubType,
		PinVerified:    req.PinVerified,
		DeviceID:       req.DeviceID,
		IPAddress:      req.IPAddress,
		AlertHistory:   req.AlertHistory,
		PreviousAlerts: req.PreviousAlerts,
		Timestamp:      req.Timestamp,
		CreatedAt:      now,
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = now
	}
	return tx
}

func buildAlert(req *AlertRequest, tenantID string) *domain.Alert {
	alert := &domain.Alert{
		ID:          req.ID,
		TenantID:    tenantID,
		TriggeredBy: req.TriggeredBy,
		Transaction: *buildTransaction(&req.Transaction, tenantID),
		ReceivedAt:  time.Now().UTC(),
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	return alert
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
