// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// GlobalTenantID scopes shared resources visible to every tenant.
const GlobalTenantID = "*"

// TransactionSource is the narrow read capability checks depend on through
// the history provider. Implementations return transactions in chronological
// order (oldest first).
type TransactionSource interface {
	// TransactionsByCustomer returns the customer's full recorded history.
	TransactionsByCustomer(ctx context.Context, tenantID string, customerID string) ([]*Transaction, error)

	// TransactionsByCustomerSince bounds the history to timestamps >= since.
	TransactionsByCustomerSince(ctx context.Context, tenantID string, customerID string, since time.Time) ([]*Transaction, error)

	// TransactionsByCustomerAndMerchant narrows the history to one merchant.
	TransactionsByCustomerAndMerchant(ctx context.Context, tenantID string, customerID string, merchantID string) ([]*Transaction, error)
}

// Repository is the persistence boundary. Every method takes the
// caller's tenant id and rows never cross tenants; there is no
// unscoped read.
type Repository interface {
	TransactionSource

	// Transaction intake
	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	GetTransaction(ctx context.Context, tenantID string, txID string) (*Transaction, error)

	// Investigation audit trail
	SaveInvestigation(ctx context.Context, tenantID string, inv *Investigation) error
	GetInvestigation(ctx context.Context, tenantID string, invID string) (*Investigation, error)
	GetInvestigationByAlert(ctx context.Context, tenantID string, alertID string) (*Investigation, error)

	// Screening rule storage
	SaveScreeningRule(ctx context.Context, tenantID string, rule *ScreeningRule) error
	GetScreeningRule(ctx context.Context, tenantID string, ruleID string) (*ScreeningRule, error)
	ListScreeningRules(ctx context.Context, tenantID string) ([]*ScreeningRule, error)
	DeleteScreeningRule(ctx context.Context, tenantID string, ruleID string) error

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryConfig selects and tunes the storage backend.
type RepositoryConfig struct {
	// Driver picks the backend: "sqlite" or "postgres".
	Driver string

	// SQLitePath is the database file; the enclosing directory is
	// created on first open.
	SQLitePath string

	// Postgres connection parameters. Empty host and zero port fall
	// back to localhost:5432.
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Pool limits; zero values keep database/sql defaults.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
