// Package engine orchestrates one alert investigation end to end: parameter
// extraction, the check battery on a bounded worker pool, and triage.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/kestrel/internal/checks"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/triage"
)

var tracer = otel.Tracer("kestrel-engine")

// Engine runs the check battery for an alert and hands the results to
// triage. Checks run concurrently behind a semaphore; a failing check
// degrades to an error result and never aborts its siblings.
type Engine struct {
	registry  *checks.Registry
	provider  *history.Provider
	processor *triage.Processor
	checksCfg domain.ChecksConfig
	logger    *slog.Logger

	maxConcurrency int
}

// New creates an investigation engine.
func New(registry *checks.Registry, provider *history.Provider, processor *triage.Processor, cfg domain.EngineConfig, checksCfg domain.ChecksConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 8
	}
	return &Engine{
		registry:       registry,
		provider:       provider,
		processor:      processor,
		checksCfg:      checksCfg,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Options narrows the battery for one investigation.
type Options struct {
	// Checks restricts the battery to these registered names, in order.
	Checks []string

	// Category restricts the battery to one category. Ignored when Checks
	// is set.
	Category domain.CheckCategory
}

// Investigate runs the selected checks against the alert and returns the
// triaged investigation. A nil opts runs the full battery.
func (e *Engine) Investigate(ctx context.Context, alert *domain.Alert, opts *Options) *domain.Investigation {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "investigate")
	defer span.End()
	span.SetAttributes(
		attribute.String("alert.id", alert.ID),
		attribute.String("alert.customer_id", alert.Transaction.CustomerID),
		attribute.String("alert.tenant_id", alert.TenantID),
	)

	traceID := span.SpanContext().TraceID().String()
	if !span.SpanContext().TraceID().IsValid() {
		traceID = uuid.NewString()
	}

	ctx = domain.WithTenant(ctx, alert.TenantID)
	params := alert.Params()

	historyMs := e.prewarm(ctx, alert, params)

	names := e.selectNames(opts)
	results := make([]domain.CheckResult, len(names))

	checksStart := time.Now()
	sem := make(chan struct{}, e.maxConcurrency)
	var wg sync.WaitGroup

	for i, name := range names {
		chk, err := e.registry.Get(name)
		if err != nil {
			results[i] = domain.CheckResult{
				CheckType: name,
				Success:   false,
				Error:     err.Error(),
			}
			e.logger.Warn("check not registered", "check", name)
			continue
		}

		wg.Add(1)
		go func(idx int, chk checks.Check) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = *e.runCheck(ctx, chk, params)
		}(i, chk)
	}

	wg.Wait()
	checksMs := time.Since(checksStart).Milliseconds()

	inv := e.processor.Process(ctx, &triage.Input{
		TenantID:   alert.TenantID,
		AlertID:    alert.ID,
		CustomerID: alert.Transaction.CustomerID,
		TxID:       alert.Transaction.ID,
		TraceID:    traceID,
		Results:    results,
		HistoryMs:  historyMs,
		ChecksMs:   checksMs,
		StartTime:  start,
	})

	span.SetAttributes(
		attribute.String("investigation.status", inv.Status),
		attribute.Float64("investigation.score", inv.Score),
	)

	e.logger.Info("investigation completed",
		"alert_id", alert.ID,
		"customer_id", alert.Transaction.CustomerID,
		"status", inv.Status,
		"score", inv.Score,
		"checks_run", inv.Metadata.ChecksRun,
		"checks_failed", inv.Metadata.ChecksFailed,
		"total_ms", inv.Metadata.TotalMs)

	return inv
}

// prewarm prepares the default-lookback snapshot once so the battery hits a
// warm cache, and reports how long the fetch took.
func (e *Engine) prewarm(ctx context.Context, alert *domain.Alert, params domain.Params) int64 {
	ts, ok := params.Time("transaction_timestamp")
	if !ok {
		return 0
	}

	w := history.Window{ExcludeID: alert.Transaction.ID}
	if days := e.checksCfg.HistoryLookbackDays; days > 0 {
		w.Since = ts.UTC().AddDate(0, 0, -days)
	}

	start := time.Now()
	if _, err := e.provider.Prepare(ctx, alert.TenantID, alert.Transaction.CustomerID, w); err != nil {
		e.logger.Warn("history prewarm failed",
			"customer_id", alert.Transaction.CustomerID,
			"error", err)
	}
	return time.Since(start).Milliseconds()
}

func (e *Engine) selectNames(opts *Options) []string {
	if opts != nil && len(opts.Checks) > 0 {
		return opts.Checks
	}
	if opts != nil && opts.Category != "" {
		selected := e.registry.ByCategory(opts.Category)
		names := make([]string, 0, len(selected))
		for _, chk := range selected {
			names = append(names, chk.Info().Name)
		}
		return names
	}
	return e.registry.Names()
}

func (e *Engine) runCheck(ctx context.Context, chk checks.Check, params domain.Params) *domain.CheckResult {
	info := chk.Info()

	if err := chk.Validate(params); err != nil {
		e.logger.Warn("check inputs invalid",
			"check", info.Name,
			"error", err)
		return &domain.CheckResult{
			CheckType: info.Name,
			Category:  info.Category,
			Success:   false,
			Error:     err.Error(),
		}
	}

	res := chk.Execute(ctx, params)
	if res == nil {
		return &domain.CheckResult{
			CheckType: info.Name,
			Category:  info.Category,
			Success:   false,
			Error:     "check returned no result",
		}
	}

	e.logger.Debug("check completed",
		"check", info.Name,
		"success", res.Success,
		"verdict", res.Verdict(),
		"process_ms", res.ProcessMs)

	return res
}
