// Package evaluator talks to the audit API that computes audit outcomes for a dashboard.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/upb/audit-collector/internal/shared"
	"github.com/upb/audit-collector/models"
	"github.com/upb/audit-collector/services"
	"github.com/upb/audit-collector/services/window"
	"go.uber.org/zap"
)

const (
	reviewPath       = "/dashboardReview"
	runIDHeader      = "X-Collector-Run-Id"
	defaultTimeout   = 60 * time.Second
	defaultRetryWait = 500 * time.Millisecond
	maxErrorBody     = 512
)

// Evaluator computes the audit outcomes of one dashboard over a window.
// On success the returned map is never nil; it is empty when no audit was computable.
type Evaluator interface {
	Evaluate(ctx context.Context, dashboard *models.Dashboard, w window.Window) (models.AuditOutcomes, error)
}

// Func adapts a plain function to the Evaluator interface
type Func func(ctx context.Context, dashboard *models.Dashboard, w window.Window) (models.AuditOutcomes, error)

// Evaluate calls f
func (f Func) Evaluate(ctx context.Context, dashboard *models.Dashboard, w window.Window) (models.AuditOutcomes, error) {
	return f(ctx, dashboard, w)
}

// Config configures the HTTP audit API client
type Config struct {
	// Servers are tried in order; a server is skipped when it is unreachable or answers 5xx
	Servers    []string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// HTTPEvaluator implements Evaluator against the audit API
type HTTPEvaluator struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPEvaluator creates a new audit API client
func NewHTTPEvaluator(config Config, logger *zap.Logger) (*HTTPEvaluator, error) {
	servers, err := normalizeServers(config.Servers)
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("at least one audit API server is required")
	}
	config.Servers = servers

	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = defaultRetryWait
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	return &HTTPEvaluator{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger,
	}, nil
}

// reviewResponse is the audit API payload for one dashboard review
type reviewResponse struct {
	Review map[string]reviewEntry `json:"review"`
}

type reviewEntry struct {
	AuditStatus   string          `json:"auditStatus"`
	AuditStatuses []string        `json:"auditStatuses"`
	AuditDetail   json.RawMessage `json:"auditDetail"`
	URL           string          `json:"url"`
}

// Evaluate fetches the dashboard review for the window
func (e *HTTPEvaluator) Evaluate(ctx context.Context, dashboard *models.Dashboard, w window.Window) (models.AuditOutcomes, error) {
	if dashboard == nil {
		return nil, services.WrapEvaluation("dashboard is required", services.ErrInvalidInput)
	}

	query := url.Values{}
	query.Set("title", dashboard.Title)
	query.Set("businessService", dashboard.ConfigurationItem)
	query.Set("businessApplication", dashboard.ConfigurationItemComponent)
	query.Set("beginDate", strconv.FormatInt(w.BeginMillis(), 10))
	query.Set("endDate", strconv.FormatInt(w.EndMillis(), 10))
	query.Set("auditType", "ALL")

	servers := e.config.Servers
	if sources := shared.TargetSources(ctx); len(sources) > 0 {
		override, err := normalizeServers(sources)
		if err != nil {
			return nil, services.WrapEvaluation("invalid collector target sources", err)
		}
		if len(override) > 0 {
			servers = override
		}
	}

	var lastErr error
	for _, server := range servers {
		body, err := e.fetch(ctx, server+reviewPath+"?"+query.Encode())
		if err == nil {
			return e.decode(dashboard, body)
		}
		lastErr = err
		if !services.IsExternalError(err) || ctx.Err() != nil {
			return nil, err
		}
		e.logger.Warn("audit API server failed",
			zap.String("server", server),
			zap.String("dashboard", dashboard.Title),
			zap.Error(err))
	}

	return nil, lastErr
}

// fetch performs a GET with retries. Transport errors and 5xx are retried and
// reported as external errors; other non-200 answers fail immediately.
func (e *HTTPEvaluator) fetch(ctx context.Context, target string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, e.config.RetryDelay*time.Duration(attempt)); err != nil {
				return nil, services.WrapEvaluation("audit request cancelled", err)
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, services.WrapEvaluation("failed to create audit request", err)
		}
		httpReq.Header.Set("Accept", "application/json")
		if e.config.Token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+e.config.Token)
		}
		if runID := shared.RunID(ctx); runID != 0 {
			httpReq.Header.Set(runIDHeader, strconv.FormatInt(runID, 10))
		}

		httpResp, err := e.httpClient.Do(httpReq)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, services.WrapEvaluation("audit request cancelled", ctx.Err())
			}
			continue
		}

		respBody, err := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		switch {
		case httpResp.StatusCode == http.StatusOK:
			return respBody, nil
		case httpResp.StatusCode >= 500:
			lastErr = fmt.Errorf("audit API returned %d: %s", httpResp.StatusCode, truncate(respBody))
		default:
			return nil, services.WrapEvaluation("audit API rejected the request",
				fmt.Errorf("status %d: %s", httpResp.StatusCode, truncate(respBody))).
				WithDetail("status_code", httpResp.StatusCode)
		}
	}

	return nil, services.WrapExternal(services.ErrEvaluatorUnavailable.Message, lastErr)
}

func (e *HTTPEvaluator) decode(dashboard *models.Dashboard, body []byte) (models.AuditOutcomes, error) {
	var resp reviewResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, services.WrapEvaluation("failed to decode audit response", err)
	}

	outcomes := make(models.AuditOutcomes, len(resp.Review))
	for name, entry := range resp.Review {
		kind, err := models.ParseAuditKind(name)
		if err != nil {
			e.logger.Debug("ignoring unknown audit kind",
				zap.String("dashboard", dashboard.Title),
				zap.String("audit_type", name))
			continue
		}

		status := models.AuditStatus(entry.AuditStatus)
		if !status.IsValid() {
			return nil, services.WrapEvaluation("audit API returned an unknown status",
				fmt.Errorf("%s: %q", name, entry.AuditStatus)).
				WithDetail("audit_type", name)
		}

		outcome := &models.AuditOutcome{
			Kind:     kind,
			Status:   status,
			Statuses: entry.AuditStatuses,
			URL:      entry.URL,
		}
		if len(entry.AuditDetail) > 0 && string(entry.AuditDetail) != "null" {
			outcome.Detail = entry.AuditDetail
		}
		outcomes[kind] = outcome
	}

	return outcomes, nil
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// normalizeServers trims blanks and trailing slashes and rejects non-URLs
func normalizeServers(in []string) ([]string, error) {
	servers := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimRight(strings.TrimSpace(s), "/")
		if s == "" {
			continue
		}
		if _, err := url.ParseRequestURI(s); err != nil {
			return nil, fmt.Errorf("invalid audit API server %q: %w", s, err)
		}
		servers = append(servers, s)
	}
	return servers, nil
}
