package checks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
)

// base carries the collaborators every check shares. Embedded by value so
// each check stays an independent unit.
type base struct {
	info    CheckInfo
	history *history.Provider
	cfg     domain.ChecksConfig
	logger  *slog.Logger
}

func newBase(info CheckInfo, provider *history.Provider, cfg domain.ChecksConfig, logger *slog.Logger) base {
	if logger == nil {
		logger = slog.Default()
	}
	return base{info: info, history: provider, cfg: cfg, logger: logger}
}

// Info implements Check.
func (b *base) Info() CheckInfo { return b.info }

// prepare fetches the customer snapshot for this check's window. The alert's
// own transaction is excluded; an alert is judged against history, never
// against itself. A fetch error means the check cannot produce a usable
// result.
func (b *base) prepare(ctx context.Context, params domain.Params, w history.Window) (*history.View, error) {
	customerID := params.String("customer_id")
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer_id", ErrMissingParams)
	}
	w.ExcludeID = params.String("transaction_id")
	view, err := b.history.Prepare(ctx, domain.TenantFrom(ctx), customerID, w)
	if err != nil {
		b.logger.Warn("history preparation failed",
			"check", b.info.Name,
			"customer_id", customerID,
			"error", err)
		return nil, err
	}
	return view, nil
}

// refTime returns the alert timestamp all temporal math is anchored to.
// Anchoring to the supplied timestamp instead of the wall clock keeps
// repeated executions byte-identical.
func (b *base) refTime(params domain.Params) (time.Time, error) {
	ts, ok := params.Time("transaction_timestamp")
	if !ok {
		return time.Time{}, fmt.Errorf("%w: transaction_timestamp", ErrMissingParams)
	}
	return ts.UTC(), nil
}

// lookbackWindow bounds history to the configured default lookback ending at
// the alert timestamp.
func (b *base) lookbackWindow(ref time.Time) history.Window {
	days := b.cfg.HistoryLookbackDays
	if days <= 0 {
		return history.Window{}
	}
	return history.Window{Since: ref.AddDate(0, 0, -days)}
}

// Run wraps a check body in the fault boundary: errors and panics become
// failed results carrying the error text, and processing time is recorded.
// Check implementations outside this package use it the same way the
// built-in battery does.
func Run(info CheckInfo, fn func() (*domain.CheckResult, error)) (res *domain.CheckResult) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			res = failedResult(info, fmt.Sprintf("check panicked: %v", rec))
		}
		if res != nil {
			res.ProcessMs = time.Since(start).Milliseconds()
		}
	}()

	out, err := fn()
	if err != nil {
		return failedResult(info, err.Error())
	}
	out.CheckType = info.Name
	out.Category = info.Category
	out.Success = true
	return out
}

// failedResult is the uniform degraded result: the check ran, produced no
// assessment, and reports why. Sibling checks are unaffected.
func failedResult(info CheckInfo, msg string) *domain.CheckResult {
	return &domain.CheckResult{
		CheckType: info.Name,
		Category:  info.Category,
		Success:   false,
		Error:     msg,
	}
}
