package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// AuditResult is the persisted projection of an AuditOutcome.
// At most one current set of results exists per dashboard title.
type AuditResult struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	DashboardID    uuid.UUID       `json:"dashboard_id" db:"dashboard_id"`
	DashboardTitle string          `json:"dashboard_title" db:"dashboard_title"`
	Kind           AuditKind       `json:"audit_type" db:"audit_type"`
	Status         AuditStatus     `json:"audit_status" db:"audit_status"`
	Statuses       pq.StringArray  `json:"audit_statuses,omitempty" db:"audit_statuses"`
	Details        json.RawMessage `json:"audit_details,omitempty" db:"audit_details"` // JSONB
	URL            string          `json:"url,omitempty" db:"url"`

	// CMDB projection, empty when no metadata was found
	ConfigurationItem string `json:"configuration_item,omitempty" db:"configuration_item"`
	AppServiceOwner   string `json:"app_service_owner,omitempty" db:"app_service_owner"`
	BusinessOwner     string `json:"business_owner,omitempty" db:"business_owner"`
	LineOfBusiness    string `json:"line_of_business,omitempty" db:"line_of_business"`
	OwnerDept         string `json:"owner_dept,omitempty" db:"owner_dept"`

	WindowBegin time.Time `json:"window_begin" db:"window_begin"`
	WindowEnd   time.Time `json:"window_end" db:"window_end"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"` // as-of, equal to WindowEnd
	RunID       int64     `json:"collector_run_id" db:"collector_run_id"`
}

// TableName returns the table name for the AuditResult model
func (AuditResult) TableName() string {
	return "audit_results"
}

// NewAuditResult projects an outcome for a dashboard into a storable result
func NewAuditResult(dashboard *Dashboard, outcome *AuditOutcome, asOf time.Time) *AuditResult {
	r := &AuditResult{
		ID:             uuid.New(),
		DashboardID:    dashboard.ID,
		DashboardTitle: dashboard.Title,
		Kind:           outcome.Kind,
		Status:         outcome.Status,
		URL:            outcome.URL,
		Timestamp:      asOf,
	}
	if len(outcome.Statuses) > 0 {
		r.Statuses = append(pq.StringArray{}, outcome.Statuses...)
	}
	if len(outcome.Detail) > 0 {
		r.Details = append(json.RawMessage{}, outcome.Detail...)
	}
	return r
}

// WithConfigMetadata copies CMDB ownership fields onto the result
func (r *AuditResult) WithConfigMetadata(meta *ConfigMetadata) *AuditResult {
	if meta == nil {
		return r
	}
	r.ConfigurationItem = meta.ConfigurationItem
	r.AppServiceOwner = meta.AppServiceOwner
	r.BusinessOwner = meta.BusinessOwner
	r.LineOfBusiness = meta.LineOfBusiness
	r.OwnerDept = meta.OwnerDept
	return r
}

// WithWindow sets the audit window the result was computed over
func (r *AuditResult) WithWindow(begin, end time.Time) *AuditResult {
	r.WindowBegin = begin
	r.WindowEnd = end
	return r
}

// WithRun tags the result with the collector run that produced it
func (r *AuditResult) WithRun(runID int64) *AuditResult {
	r.RunID = runID
	return r
}

// BuildAuditResults turns an outcome mapping into an ordered result set.
// Results follow AuditKind declaration order; nil outcomes are skipped.
func BuildAuditResults(dashboard *Dashboard, outcomes AuditOutcomes, meta *ConfigMetadata, begin, end time.Time, runID int64) []*AuditResult {
	results := make([]*AuditResult, 0, len(outcomes))
	for _, kind := range outcomes.SortedKinds() {
		outcome := outcomes[kind]
		if outcome == nil {
			continue
		}
		result := NewAuditResult(dashboard, outcome, end).
			WithConfigMetadata(meta).
			WithWindow(begin, end).
			WithRun(runID)
		// the mapping key is authoritative
		result.Kind = kind
		results = append(results, result)
	}
	return results
}
