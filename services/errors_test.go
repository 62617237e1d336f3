package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDomainError(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeNotFound, "dashboard not found", baseErr)

	assert.Equal(t, ErrorTypeNotFound, domainErr.Type)
	assert.Equal(t, "dashboard not found", domainErr.Message)
	assert.Equal(t, baseErr, domainErr.Err)
	assert.NotNil(t, domainErr.Details)
}

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *DomainError
		wantMsg string
	}{
		{
			name: "error with wrapped error",
			err: &DomainError{
				Type:    ErrorTypeEvaluation,
				Message: "audit evaluation failed",
				Err:     errors.New("connection refused"),
			},
			wantMsg: "evaluation: audit evaluation failed (connection refused)",
		},
		{
			name: "error without wrapped error",
			err: &DomainError{
				Type:    ErrorTypeValidation,
				Message: "invalid input",
			},
			wantMsg: "validation: invalid input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeInternal, "internal error", baseErr)

	assert.Equal(t, baseErr, errors.Unwrap(domainErr))
	assert.True(t, errors.Is(domainErr, baseErr))
}

func TestDomainError_Is(t *testing.T) {
	err := NewDomainError(ErrorTypeNotFound, "other message", nil)

	assert.True(t, errors.Is(err, ErrDashboardNotFound))
	assert.True(t, errors.Is(err, ErrRunNotFound))
	assert.False(t, errors.Is(err, ErrInvalidInput))
	assert.False(t, err.Is(errors.New("plain")))
}

func TestDomainError_WithDetail(t *testing.T) {
	err := NewDomainError(ErrorTypeValidation, "bad value", nil).
		WithDetail("field", "lookback_days").
		WithDetail("value", -1)

	assert.Equal(t, "lookback_days", err.Details["field"])
	assert.Equal(t, -1, err.Details["value"])

	var bare DomainError
	bare.WithDetail("k", "v")
	assert.Equal(t, "v", bare.Details["k"])
}

func TestErrorTypeCheckers(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		checker func(error) bool
	}{
		{"configuration", ErrInvalidLookback, IsConfigurationError},
		{"catalog", ErrCatalogUnavailable, IsCatalogError},
		{"evaluation", ErrEvaluationFailed, IsEvaluationError},
		{"refresh", ErrRefreshFailed, IsRefreshError},
		{"not found", ErrDashboardNotFound, IsNotFoundError},
		{"validation", ErrEmptyResultSet, IsValidationError},
		{"unauthorized", ErrInvalidToken, IsUnauthorizedError},
		{"forbidden", ErrForbidden, IsForbiddenError},
		{"conflict", ErrRunInProgress, IsConflictError},
		{"internal", ErrDatabaseError, IsInternalError},
		{"external", ErrEvaluatorUnavailable, IsExternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.checker(tt.err))
			assert.True(t, tt.checker(fmt.Errorf("wrapped: %w", tt.err)))
			assert.False(t, tt.checker(errors.New("plain error")))
			assert.False(t, tt.checker(nil))
		})
	}
}

func TestErrorTypeCheckers_DoNotOverlap(t *testing.T) {
	assert.False(t, IsRefreshError(ErrEvaluationFailed))
	assert.False(t, IsEvaluationError(ErrRefreshFailed))
	assert.False(t, IsCatalogError(ErrCollectorNotConfigured))
}

func TestGetErrorType(t *testing.T) {
	assert.Equal(t, ErrorTypeConflict, GetErrorType(ErrRunInProgress))
	assert.Equal(t, ErrorTypeRefresh, GetErrorType(fmt.Errorf("ctx: %w", WrapRefresh("insert", errors.New("x")))))
	assert.Equal(t, ErrorType(""), GetErrorType(errors.New("plain")))
}

func TestGetErrorDetails(t *testing.T) {
	err := NewDomainError(ErrorTypeValidation, "bad", nil).WithDetail("field", "title")

	details := GetErrorDetails(err)
	require.NotNil(t, details)
	assert.Equal(t, "title", details["field"])
	assert.Nil(t, GetErrorDetails(errors.New("plain")))
}

func TestWrapError(t *testing.T) {
	baseErr := errors.New("cron: bad field")
	err := WrapError(ErrorTypeConfiguration, "invalid collector schedule", baseErr)

	assert.True(t, IsConfigurationError(err))
	assert.True(t, errors.Is(err, baseErr))
}

func TestWrapInternal(t *testing.T) {
	err := WrapInternal("query failed", errors.New("db down"))

	assert.True(t, IsInternalError(err))
	assert.Contains(t, err.Error(), "db down")
}

func TestWrapExternal(t *testing.T) {
	err := WrapExternal("audit API returned 503", errors.New("unavailable"))

	assert.True(t, IsExternalError(err))
}

func TestWrapEvaluation(t *testing.T) {
	cause := WrapExternal("audit API returned 503", nil)
	err := WrapEvaluation("failed to evaluate dashboard audits", cause)

	assert.True(t, IsEvaluationError(err))
	// the outermost domain error decides the category
	assert.Equal(t, ErrorTypeEvaluation, GetErrorType(err))
}

func TestWrapRefresh(t *testing.T) {
	baseErr := errors.New("unique violation")
	err := WrapRefresh("insert", baseErr)

	assert.True(t, IsRefreshError(err))
	assert.Equal(t, "failed to insert audit results", err.Message)
	assert.Equal(t, "insert", err.Details["phase"])
	assert.True(t, errors.Is(err, baseErr))
}
