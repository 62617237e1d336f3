package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/audit-collector/config"
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

// Wrap adopts an already opened pool, e.g. a sqlmock connection in tests
func Wrap(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
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

// Schema is the DDL applied by InitSchema. Every statement is idempotent.
const Schema = `
		-- Entity catalog
		CREATE TABLE IF NOT EXISTS dashboards (
			id UUID PRIMARY KEY,
			title VARCHAR(255) NOT NULL UNIQUE,
			type VARCHAR(50) NOT NULL,
			configuration_item VARCHAR(255) NOT NULL DEFAULT '',
			configuration_item_component VARCHAR(255) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Configuration management metadata
		CREATE TABLE IF NOT EXISTS cmdb (
			configuration_item VARCHAR(255) PRIMARY KEY,
			common_name VARCHAR(255) NOT NULL DEFAULT '',
			app_service_owner VARCHAR(255) NOT NULL DEFAULT '',
			business_owner VARCHAR(255) NOT NULL DEFAULT '',
			support_owner VARCHAR(255) NOT NULL DEFAULT '',
			owner_dept VARCHAR(255) NOT NULL DEFAULT '',
			line_of_business VARCHAR(255) NOT NULL DEFAULT '',
			environment VARCHAR(100) NOT NULL DEFAULT ''
		);

		-- Current audit results, one set per dashboard
		CREATE TABLE IF NOT EXISTS audit_results (
			id UUID PRIMARY KEY,
			dashboard_id UUID NOT NULL,
			dashboard_title VARCHAR(255) NOT NULL,
			audit_type VARCHAR(50) NOT NULL,
			audit_status VARCHAR(20) NOT NULL,
			audit_statuses TEXT[],
			audit_details JSONB,
			url TEXT NOT NULL DEFAULT '',
			configuration_item VARCHAR(255) NOT NULL DEFAULT '',
			app_service_owner VARCHAR(255) NOT NULL DEFAULT '',
			business_owner VARCHAR(255) NOT NULL DEFAULT '',
			line_of_business VARCHAR(255) NOT NULL DEFAULT '',
			owner_dept VARCHAR(255) NOT NULL DEFAULT '',
			window_begin TIMESTAMPTZ NOT NULL,
			window_end TIMESTAMPTZ NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			collector_run_id BIGINT NOT NULL
		);

		-- Collector settings and bookkeeping
		CREATE TABLE IF NOT EXISTS collectors (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			enabled BOOLEAN NOT NULL DEFAULT true,
			lookback_days INTEGER NOT NULL DEFAULT 0, -- 0 falls back to AUDIT_DAYS
			schedule VARCHAR(100) NOT NULL DEFAULT '',
			target_sources TEXT[],
			last_executed TIMESTAMPTZ,
			last_executed_seconds BIGINT NOT NULL DEFAULT 0,
			last_execution_record_count INTEGER NOT NULL DEFAULT 0
		);

		-- Run history
		CREATE TABLE IF NOT EXISTS collector_runs (
			run_id BIGINT NOT NULL,
			collector_name VARCHAR(255) NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			elapsed_seconds BIGINT NOT NULL,
			entity_count INTEGER NOT NULL,
			succeeded INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			window_begin TIMESTAMPTZ NOT NULL,
			window_end TIMESTAMPTZ NOT NULL,
			failures JSONB,
			PRIMARY KEY (collector_name, run_id)
		);

		-- rows created before lookback_days defaulted to 0 keep their value
		ALTER TABLE collectors ALTER COLUMN lookback_days SET DEFAULT 0;

		CREATE INDEX IF NOT EXISTS idx_dashboards_type ON dashboards(type);
		CREATE INDEX IF NOT EXISTS idx_audit_results_dashboard_title ON audit_results(dashboard_title);
		CREATE INDEX IF NOT EXISTS idx_audit_results_run_id ON audit_results(collector_run_id);
		CREATE INDEX IF NOT EXISTS idx_collector_runs_started_at ON collector_runs(started_at);
`

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
