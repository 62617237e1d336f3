package shared

import "context"

// Context keys for run-scoped data. Keep types unexported to avoid collisions.
type ctxKey string

const (
	ctxKeyRunID     ctxKey = "collector-run-id"
	ctxKeyDashboard ctxKey = "dashboard"
	ctxKeySources   ctxKey = "target-sources"
)

// WithRunID tags ctx with the collector run it belongs to
func WithRunID(ctx context.Context, runID int64) context.Context {
	return context.WithValue(ctx, ctxKeyRunID, runID)
}

// RunID returns the collector run id of ctx, or 0
func RunID(ctx context.Context) int64 {
	v, _ := ctx.Value(ctxKeyRunID).(int64)
	return v
}

// WithDashboard tags ctx with the dashboard being processed
func WithDashboard(ctx context.Context, title string) context.Context {
	return context.WithValue(ctx, ctxKeyDashboard, title)
}

// Dashboard returns the dashboard title of ctx, or ""
func Dashboard(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyDashboard).(string)
	return v
}

// WithTargetSources tags ctx with the audit API servers configured for the run
func WithTargetSources(ctx context.Context, sources []string) context.Context {
	return context.WithValue(ctx, ctxKeySources, sources)
}

// TargetSources returns the audit API servers of ctx, or nil
func TargetSources(ctx context.Context) []string {
	v, _ := ctx.Value(ctxKeySources).([]string)
	return v
}
