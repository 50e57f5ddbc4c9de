package repository

// DDL shared by both drivers: SQLite and PostgreSQL accept the same
// CREATE statements, with booleans stored as 0/1 integers.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    merchant_id TEXT NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    category TEXT NOT NULL,
    mcc TEXT NOT NULL,
    location TEXT,
    country TEXT,
    latitude REAL,
    longitude REAL,
    payment_method TEXT NOT NULL,
    payment_sub_type TEXT NOT NULL,
    pin_verified INTEGER NOT NULL DEFAULT 0,
    device_id TEXT,
    ip_address TEXT,
    alert_history INTEGER NOT NULL DEFAULT 0,
    previous_alerts INTEGER NOT NULL DEFAULT 0,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_tenant ON transactions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_transactions_customer ON transactions(tenant_id, customer_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_merchant ON transactions(tenant_id, customer_id, merchant_id);
`

const schemaInvestigations = `
CREATE TABLE IF NOT EXISTS investigations (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    alert_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    tx_id TEXT NOT NULL,
    status TEXT NOT NULL,
    score REAL NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    check_results TEXT NOT NULL,
    verdict_counts TEXT,
    reasons TEXT,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_investigations_tenant ON investigations(tenant_id);
CREATE INDEX IF NOT EXISTS idx_investigations_alert ON investigations(tenant_id, alert_id);
CREATE INDEX IF NOT EXISTS idx_investigations_customer ON investigations(tenant_id, customer_id);
CREATE INDEX IF NOT EXISTS idx_investigations_status ON investigations(tenant_id, status);
`

const schemaScreeningRules = `
CREATE TABLE IF NOT EXISTS screening_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 0.5,
    reason TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_screening_rules_tenant ON screening_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_screening_rules_enabled ON screening_rules(tenant_id, enabled);
`

func schemas() []string {
	return []string{
		schemaTransactions,
		schemaInvestigations,
		schemaScreeningRules,
	}
}
