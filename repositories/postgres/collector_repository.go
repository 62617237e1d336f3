package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/audit-collector/models"
	"github.com/upb/audit-collector/repositories"
	"go.uber.org/zap"
)

// CollectorRepository implements the repositories.CollectorRepository interface
type CollectorRepository struct {
	db     *DB
	txMgr  repositories.TransactionManager
	logger *zap.Logger
}

// NewCollectorRepository creates a new collector repository
func NewCollectorRepository(db *DB, logger *zap.Logger) repositories.CollectorRepository {
	return &CollectorRepository{
		db:     db,
		txMgr:  NewTransactionManager(db, logger),
		logger: logger,
	}
}

// GetCollectorConfig returns the settings row of a collector, or nil when none exists
func (r *CollectorRepository) GetCollectorConfig(ctx context.Context, name string) (*models.CollectorSettings, error) {
	query := `
		SELECT id, name, enabled, lookback_days, schedule, target_sources,
		       last_executed, last_executed_seconds, last_execution_record_count
		FROM collectors
		WHERE name = $1
	`

	executor := GetExecutor(ctx, r.db)
	s := &models.CollectorSettings{}
	var lastExecuted sql.NullTime
	err := executor.QueryRowContext(ctx, query, name).Scan(
		&s.ID,
		&s.Name,
		&s.Enabled,
		&s.LookbackDays,
		&s.Schedule,
		pq.Array(&s.TargetSources),
		&lastExecuted,
		&s.LastExecutedSeconds,
		&s.LastExecutionRecordCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get collector: %w", err)
	}
	if lastExecuted.Valid {
		s.LastExecuted = lastExecuted.Time
	}

	return s, nil
}

// RecordRunStats appends the run to collector_runs and updates the collector
// bookkeeping columns in one transaction. A row created here leaves the
// settings unset so the configured defaults keep applying.
func (r *CollectorRepository) RecordRunStats(ctx context.Context, name string, run models.RunRecord) error {
	failures, err := json.Marshal(run.Failures)
	if err != nil {
		return fmt.Errorf("failed to marshal run failures: %w", err)
	}

	insertRun := `
		INSERT INTO collector_runs (
			run_id, collector_name, started_at, finished_at, elapsed_seconds,
			entity_count, succeeded, failed, skipped, window_begin, window_end, failures
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	upsertCollector := `
		INSERT INTO collectors (
			id, name, lookback_days, last_executed, last_executed_seconds, last_execution_record_count
		) VALUES (
			$1, $2, 0, $3, $4, $5
		)
		ON CONFLICT (name) DO UPDATE SET
			last_executed = EXCLUDED.last_executed,
			last_executed_seconds = EXCLUDED.last_executed_seconds,
			last_execution_record_count = EXCLUDED.last_execution_record_count
	`

	record := func(ctx context.Context) error {
		executor := GetExecutor(ctx, r.db)
		if _, err := executor.ExecContext(ctx, insertRun,
			run.RunID,
			name,
			run.StartedAt,
			run.FinishedAt,
			run.ElapsedSeconds,
			run.EntityCount,
			run.Succeeded,
			run.Failed,
			run.Skipped,
			run.WindowBegin,
			run.WindowEnd,
			failures,
		); err != nil {
			return fmt.Errorf("failed to insert collector run: %w", err)
		}

		if _, err := executor.ExecContext(ctx, upsertCollector,
			uuid.New(),
			name,
			run.StartedAt,
			run.ElapsedSeconds,
			run.EntityCount,
		); err != nil {
			return fmt.Errorf("failed to update collector: %w", err)
		}
		return nil
	}

	if _, ok := GetTransactionFromContext(ctx); ok {
		err = record(ctx)
	} else {
		err = r.txMgr.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
			return record(ctx)
		})
	}
	if err != nil {
		return err
	}

	r.logger.Debug("collector run recorded",
		zap.String("collector", name),
		zap.Int64("collector_run_id", run.RunID))
	return nil
}

// LatestRun returns the most recent run of a collector, or nil when it never ran
func (r *CollectorRepository) LatestRun(ctx context.Context, name string) (*models.RunRecord, error) {
	query := `
		SELECT run_id, started_at, finished_at, elapsed_seconds, entity_count,
		       succeeded, failed, skipped, window_begin, window_end, failures
		FROM collector_runs
		WHERE collector_name = $1
		ORDER BY started_at DESC
		LIMIT 1
	`

	executor := GetExecutor(ctx, r.db)
	run := &models.RunRecord{}
	var failures []byte
	err := executor.QueryRowContext(ctx, query, name).Scan(
		&run.RunID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.ElapsedSeconds,
		&run.EntityCount,
		&run.Succeeded,
		&run.Failed,
		&run.Skipped,
		&run.WindowBegin,
		&run.WindowEnd,
		&failures,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest collector run: %w", err)
	}

	if len(failures) > 0 {
		if err := json.Unmarshal(failures, &run.Failures); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run failures: %w", err)
		}
	}

	return run, nil
}
