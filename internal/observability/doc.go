// Package observability provides structured logging and Prometheus metrics
// for the audit collector.
//
// This package implements:
//   - zap logger construction from LOG_LEVEL and LOG_FORMAT
//   - run and per-dashboard metrics registered on an explicit registry
package observability
