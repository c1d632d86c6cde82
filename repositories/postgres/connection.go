package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/tool-governance/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	// Check if we can query
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// WrapDB wraps an already opened pool, used by tests and embedders
func WrapDB(sqlDB *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: sqlDB, logger: logger}
}

const toolInvocationsDDL = `
		CREATE TABLE IF NOT EXISTS tool_invocations (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL,
			tool_name VARCHAR(100) NOT NULL,
			session_id UUID,
			user_id UUID,
			tool_input JSONB NOT NULL,
			tool_output JSONB,
			status VARCHAR(20) NOT NULL CHECK (status IN ('success', 'error', 'denied')),
			error_message TEXT,
			execution_time_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_tool_invocations_tenant_created ON tool_invocations(tenant_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_tool_invocations_tenant_tool ON tool_invocations(tenant_id, tool_name);
		CREATE INDEX IF NOT EXISTS idx_tool_invocations_status ON tool_invocations(status);
`

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Tenants table, tool configuration lives in settings->'tools'
		CREATE TABLE IF NOT EXISTS tenants (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			slug VARCHAR(100) NOT NULL UNIQUE,
			settings JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Admin-owned limits, NULL means unlimited
		CREATE TABLE IF NOT EXISTS tool_quota_policies (
			tenant_id UUID NOT NULL,
			tool_name VARCHAR(100) NOT NULL,
			max_calls_per_day INTEGER CHECK (max_calls_per_day >= 0),
			max_calls_per_month INTEGER CHECK (max_calls_per_month >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (tenant_id, tool_name)
		);

		-- Service-owned counters, kept apart from policies so admin edits never race increments
		CREATE TABLE IF NOT EXISTS tool_quota_counters (
			tenant_id UUID NOT NULL,
			tool_name VARCHAR(100) NOT NULL,
			day_count INTEGER NOT NULL DEFAULT 0,
			month_count INTEGER NOT NULL DEFAULT 0,
			day_window_start DATE NOT NULL,
			month_window_start DATE NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (tenant_id, tool_name)
		);
	` + toolInvocationsDDL

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}

// InitAuditSchema initializes the audit database schema (tool_invocations only).
// Use for the separate audit database when DATABASE_URL_AUDIT is set.
func (db *DB) InitAuditSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, toolInvocationsDDL); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	db.logger.Info("audit schema initialized successfully")
	return nil
}
