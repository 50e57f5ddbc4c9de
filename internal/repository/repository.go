// Package repository persists transactions, investigations, and
// screening rules behind the domain.Repository interface.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository speaks database/sql and runs unchanged on SQLite and
// PostgreSQL; rebind translates placeholders for the latter.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New opens the configured database, verifies connectivity, and applies
// the schema.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	repo := &SQLRepository{db: db, driver: cfg.Driver}
	if err := repo.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration: %w", err)
	}
	return repo, nil
}

func (r *SQLRepository) migrate(ctx context.Context) error {
	for _, ddl := range schemas() {
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidInput)
	}
	return nil
}

func asInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

const transactionColumns = `id, tenant_id, customer_id, merchant_id, amount, currency,
		   category, mcc, location, country, latitude, longitude,
		   payment_method, payment_sub_type, pin_verified, device_id, ip_address,
		   alert_history, previous_alerts, timestamp, created_at`

// SaveTransaction stores a transaction under the tenant.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `
		INSERT INTO transactions (` + transactionColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID, tx.CustomerID, tx.MerchantID,
		tx.Amount, tx.Currency, tx.Category, tx.MCC,
		tx.Location, tx.Country, tx.Latitude, tx.Longitude,
		tx.PaymentMethod, tx.PaymentSubType, asInt(tx.PinVerified),
		tx.DeviceID, tx.IPAddress,
		asInt(tx.AlertHistory), tx.PreviousAlerts,
		tx.Timestamp, tx.CreatedAt,
	)
	return err
}

// GetTransaction retrieves one transaction; ErrNotFound covers both a
// missing id and another tenant's record.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE tenant_id = ? AND id = ?
	`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

// TransactionsByCustomer returns the customer's full history, oldest first.
func (r *SQLRepository) TransactionsByCustomer(ctx context.Context, tenantID string, customerID string) ([]*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE tenant_id = ? AND customer_id = ?
		ORDER BY timestamp ASC
	`
	return r.queryTransactions(ctx, tenantID, query, customerID)
}

// TransactionsByCustomerSince returns history from the cutoff onward, oldest first.
func (r *SQLRepository) TransactionsByCustomerSince(ctx context.Context, tenantID string, customerID string, since time.Time) ([]*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE tenant_id = ? AND customer_id = ? AND timestamp >= ?
		ORDER BY timestamp ASC
	`
	return r.queryTransactions(ctx, tenantID, query, customerID, since)
}

// TransactionsByCustomerAndMerchant returns the customer's history with
// one merchant, oldest first.
func (r *SQLRepository) TransactionsByCustomerAndMerchant(ctx context.Context, tenantID string, customerID string, merchantID string) ([]*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE tenant_id = ? AND customer_id = ? AND merchant_id = ?
		ORDER BY timestamp ASC
	`
	return r.queryTransactions(ctx, tenantID, query, customerID, merchantID)
}

func (r *SQLRepository) queryTransactions(ctx context.Context, tenantID string, query string, args ...any) ([]*domain.Transaction, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), append([]any{tenantID}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var lat, lon sql.NullFloat64
	var pin, alertHistory int

	if err := row.Scan(
		&tx.ID, &tx.TenantID, &tx.CustomerID, &tx.MerchantID,
		&tx.Amount, &tx.Currency, &tx.Category, &tx.MCC,
		&tx.Location, &tx.Country, &lat, &lon,
		&tx.PaymentMethod, &tx.PaymentSubType, &pin,
		&tx.DeviceID, &tx.IPAddress,
		&alertHistory, &tx.PreviousAlerts,
		&tx.Timestamp, &tx.CreatedAt,
	); err != nil {
		return nil, err
	}

	if lat.Valid {
		tx.Latitude = &lat.Float64
	}
	if lon.Valid {
		tx.Longitude = &lon.Float64
	}
	tx.PinVerified = pin == 1
	tx.AlertHistory = alertHistory == 1
	return &tx, nil
}

const investigationColumns = `id, tenant_id, alert_id, customer_id, tx_id,
		   status, score, timestamp,
		   check_results, verdict_counts, reasons, metadata`

// SaveInvestigation stores an investigation outcome. Check results and
// metadata are kept as JSON blobs; queries never reach into them.
func (r *SQLRepository) SaveInvestigation(ctx context.Context, tenantID string, inv *domain.Investigation) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	checkResults, _ := json.Marshal(inv.CheckResults)
	verdictCounts, _ := json.Marshal(inv.VerdictCounts)
	reasons, _ := json.Marshal(inv.Reasons)
	metadata, _ := json.Marshal(inv.Metadata)

	query := `
		INSERT INTO investigations (` + investigationColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		inv.ID, tenantID, inv.AlertID, inv.CustomerID, inv.TxID,
		inv.Status, inv.Score, inv.Timestamp,
		string(checkResults), string(verdictCounts), string(reasons), string(metadata),
	)
	return err
}

// GetInvestigation retrieves an investigation by its id.
func (r *SQLRepository) GetInvestigation(ctx context.Context, tenantID string, invID string) (*domain.Investigation, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + investigationColumns + `
		FROM investigations
		WHERE tenant_id = ? AND id = ?
	`
	return r.oneInvestigation(ctx, query, tenantID, invID)
}

// GetInvestigationByAlert retrieves the newest investigation recorded
// for an alert, the lookup async intake clients poll after a 202.
func (r *SQLRepository) GetInvestigationByAlert(ctx context.Context, tenantID string, alertID string) (*domain.Investigation, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + investigationColumns + `
		FROM investigations
		WHERE tenant_id = ? AND alert_id = ?
		ORDER BY timestamp DESC
		LIMIT 1
	`
	return r.oneInvestigation(ctx, query, tenantID, alertID)
}

func (r *SQLRepository) oneInvestigation(ctx context.Context, query string, args ...any) (*domain.Investigation, error) {
	var inv domain.Investigation
	var checkResults, verdictCounts, reasons, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(
		&inv.ID, &inv.TenantID, &inv.AlertID, &inv.CustomerID, &inv.TxID,
		&inv.Status, &inv.Score, &inv.Timestamp,
		&checkResults, &verdictCounts, &reasons, &metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	// The blobs were marshaled on save; a decode failure leaves the
	// field zero rather than failing the read.
	decodeJSON(checkResults, &inv.CheckResults)
	decodeJSON(verdictCounts, &inv.VerdictCounts)
	decodeJSON(reasons, &inv.Reasons)
	decodeJSON(metadata, &inv.Metadata)
	return &inv, nil
}

func decodeJSON(raw string, v any) {
	if raw != "" {
		json.Unmarshal([]byte(raw), v)
	}
}

// SaveScreeningRule inserts the rule, or updates it in place when the
// same id and version already exist for the tenant.
func (r *SQLRepository) SaveScreeningRule(ctx context.Context, tenantID string, rule *domain.ScreeningRule) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO screening_rules (
			id, tenant_id, name, description, version, expression, weight, reason, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			weight = excluded.weight,
			reason = excluded.reason,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, rule.Weight, rule.Reason, asInt(rule.Enabled),
		now, now,
	)
	return err
}

// GetScreeningRule retrieves the newest enabled version of a rule.
func (r *SQLRepository) GetScreeningRule(ctx context.Context, tenantID string, ruleID string) (*domain.ScreeningRule, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, weight, reason, enabled
		FROM screening_rules
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	rule, err := scanScreeningRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListScreeningRules retrieves every enabled rule for the tenant.
func (r *SQLRepository) ListScreeningRules(ctx context.Context, tenantID string) ([]*domain.ScreeningRule, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, weight, reason, enabled
		FROM screening_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.ScreeningRule
	for rows.Next() {
		rule, err := scanScreeningRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func scanScreeningRule(row rowScanner) (*domain.ScreeningRule, error) {
	var rule domain.ScreeningRule
	var enabled int

	if err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
		&rule.Version, &rule.Expression, &rule.Weight, &rule.Reason, &enabled,
	); err != nil {
		return nil, err
	}
	rule.Enabled = enabled == 1
	return &rule, nil
}

// DeleteScreeningRule disables every version of the rule. Rules are
// soft-deleted so stored investigations stay explicable.
func (r *SQLRepository) DeleteScreeningRule(ctx context.Context, tenantID string, ruleID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `
		UPDATE screening_rules
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, ruleID)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the connection pool.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind rewrites ? placeholders as $1..$n for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}
