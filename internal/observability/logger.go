package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Standard log field keys shared by the collector components
const (
	FieldRunID          = "collector_run_id"
	FieldDashboard      = "dashboard"
	FieldStage          = "stage"
	FieldPhase          = "phase"
	FieldDashboardCount = "dashboard_count"
	FieldDuration       = "duration"
)

// Field represents a structured log field.
type Field = zap.Field

// NewLogger builds a production JSON logger, or a development console logger
// when format is "text" or "console".
func NewLogger(level, format string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "text", "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}

// RunID returns the log field identifying a collector run
func RunID(id int64) Field {
	return zap.Int64(FieldRunID, id)
}

// Dashboard returns the log field identifying a dashboard
func Dashboard(title string) Field {
	return zap.String(FieldDashboard, title)
}
