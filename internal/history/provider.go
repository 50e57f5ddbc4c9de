// Package history prepares immutable transaction snapshots for checks.
//
// Checks follow a two-phase protocol: Prepare builds the snapshot for the
// alert's customer, then the check computes over the returned View. Prepare
// failures surface as errors the check converts into a failed result; an
// empty snapshot is a valid first-time-customer state.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Window bounds a history request. The zero Window means the customer's full
// recorded history. Merchant scopes the fetch to one merchant relationship.
// ExcludeID drops one transaction from the snapshot; the alert under
// investigation may already be stored and must not count as its own history.
type Window struct {
	Since     time.Time
	Merchant  string
	ExcludeID string
}

// Provider fetches customer history through the repository and caches
// serialized snapshots so an investigation's checks share one read.
type Provider struct {
	source domain.TransactionSource
	cache  domain.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewProvider creates a snapshot provider. cache may be nil to disable
// snapshot caching (every Prepare hits the repository).
func NewProvider(source domain.TransactionSource, cache domain.Cache, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		source: source,
		cache:  cache,
		ttl:    60 * time.Second,
		logger: logger,
	}
}

// SetSnapshotTTL overrides the cache lifetime of prepared snapshots.
func (p *Provider) SetSnapshotTTL(ttl time.Duration) {
	p.ttl = ttl
}

// Prepare returns the customer's history snapshot for the given window.
func (p *Provider) Prepare(ctx context.Context, tenantID string, customerID string, w Window) (*View, error) {
	if customerID == "" {
		return nil, fmt.Errorf("prepare history: customer id is required")
	}

	key := snapshotKey(customerID, w)
	if cached := p.fromCache(ctx, tenantID, key); cached != nil {
		return cached, nil
	}

	txs, err := p.fetch(ctx, tenantID, customerID, w)
	if err != nil {
		return nil, fmt.Errorf("prepare history for %s: %w", customerID, err)
	}

	if w.ExcludeID != "" {
		kept := txs[:0]
		for _, tx := range txs {
			if tx.ID != w.ExcludeID {
				kept = append(kept, tx)
			}
		}
		txs = kept
	}

	view := NewView(txs)
	p.toCache(ctx, tenantID, key, view)

	p.logger.Debug("history snapshot prepared",
		"customer_id", customerID,
		"merchant_id", w.Merchant,
		"transactions", view.Len())
	return view, nil
}

func (p *Provider) fetch(ctx context.Context, tenantID, customerID string, w Window) ([]*domain.Transaction, error) {
	switch {
	case w.Merchant != "":
		return p.source.TransactionsByCustomerAndMerchant(ctx, tenantID, customerID, w.Merchant)
	case !w.Since.IsZero():
		return p.source.TransactionsByCustomerSince(ctx, tenantID, customerID, w.Since)
	default:
		return p.source.TransactionsByCustomer(ctx, tenantID, customerID)
	}
}

func (p *Provider) fromCache(ctx context.Context, tenantID, key string) *View {
	if p.cache == nil {
		return nil
	}
	raw, err := p.cache.Get(ctx, tenantID, key)
	if err != nil || raw == nil {
		return nil
	}
	var txs []*domain.Transaction
	if err := json.Unmarshal(raw, &txs); err != nil {
		p.logger.Warn("discarding undecodable history snapshot", "key", key, "error", err)
		return nil
	}
	return NewView(txs)
}

func (p *Provider) toCache(ctx context.Context, tenantID, key string, view *View) {
	if p.cache == nil {
		return
	}
	raw, err := json.Marshal(view.All())
	if err != nil {
		return
	}
	if err := p.cache.Set(ctx, tenantID, key, raw, p.ttl); err != nil {
		p.logger.Warn("history snapshot cache write failed", "key", key, "error", err)
	}
}

// SnapshotPrefix is the cache key prefix under which every snapshot for
// the customer lives. Intake evicts this prefix when new history lands.
// Matching a similarly named customer only costs extra cache misses.
func SnapshotPrefix(customerID string) string {
	return "history:" + customerID
}

func snapshotKey(customerID string, w Window) string {
	key := SnapshotPrefix(customerID)
	if w.Merchant != "" {
		key += ":m:" + w.Merchant
	}
	if !w.Since.IsZero() {
		key += ":s:" + strconv.FormatInt(w.Since.Unix(), 10)
	}
	if w.ExcludeID != "" {
		key += ":x:" + w.ExcludeID
	}
	return key
}
