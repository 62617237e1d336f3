package models

import (
	"time"

	"github.com/google/uuid"
)

// CollectorSettings is the persisted configuration and bookkeeping row of a collector
type CollectorSettings struct {
	ID                       uuid.UUID `json:"id" db:"id"`
	Name                     string    `json:"name" db:"name"`
	Enabled                  bool      `json:"enabled" db:"enabled"`
	LookbackDays             int       `json:"lookback_days" db:"lookback_days"`
	Schedule                 string    `json:"schedule" db:"schedule"` // cron expression
	TargetSources            []string  `json:"target_sources" db:"target_sources"`
	LastExecuted             time.Time `json:"last_executed" db:"last_executed"`
	LastExecutedSeconds      int64     `json:"last_executed_seconds" db:"last_executed_seconds"`
	LastExecutionRecordCount int       `json:"last_execution_record_count" db:"last_execution_record_count"`
}

// TableName returns the table name for the CollectorSettings model
func (CollectorSettings) TableName() string {
	return "collectors"
}

// Failure stages recorded on a run
const (
	StageEvaluation = "evaluation"
	StageRefresh    = "refresh"
	StageCancelled  = "cancelled"
	StagePanic      = "panic"
)

// RunFailure identifies one dashboard that failed within a run
type RunFailure struct {
	Dashboard string `json:"dashboard"`
	Stage     string `json:"stage"`
	Message   string `json:"message"`
}

// RunRecord is the bookkeeping of one collection run.
// RunID is the run start in epoch milliseconds.
type RunRecord struct {
	RunID          int64        `json:"collector_run_id" db:"run_id"`
	StartedAt      time.Time    `json:"started_at" db:"started_at"`
	FinishedAt     time.Time    `json:"finished_at" db:"finished_at"`
	ElapsedSeconds int64        `json:"elapsed_seconds" db:"elapsed_seconds"`
	EntityCount    int          `json:"entity_count" db:"entity_count"`
	Succeeded      int          `json:"succeeded" db:"succeeded"`
	Failed         int          `json:"failed" db:"failed"`
	Skipped        int          `json:"skipped" db:"skipped"`
	WindowBegin    time.Time    `json:"window_begin" db:"window_begin"`
	WindowEnd      time.Time    `json:"window_end" db:"window_end"`
	Failures       []RunFailure `json:"failures,omitempty" db:"failures"`
}

// TableName returns the table name for the RunRecord model
func (RunRecord) TableName() string {
	return "collector_runs"
}

// NewRunRecord starts a record for a run beginning at startedAt
func NewRunRecord(startedAt time.Time) RunRecord {
	return RunRecord{
		RunID:     startedAt.UnixMilli(),
		StartedAt: startedAt,
	}
}

// Finish stamps the end of the run and computes elapsed whole seconds
func (r *RunRecord) Finish(finishedAt time.Time) {
	r.FinishedAt = finishedAt
	r.ElapsedSeconds = int64(finishedAt.Sub(r.StartedAt) / time.Second)
}
