package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeCatalog       ErrorType = "catalog"
	ErrorTypeEvaluation    ErrorType = "evaluation"
	ErrorTypeRefresh       ErrorType = "refresh"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeUnauthorized  ErrorType = "unauthorized"
	ErrorTypeForbidden     ErrorType = "forbidden"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeInternal      ErrorType = "internal"
	ErrorTypeExternal      ErrorType = "external"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Configuration Errors
	ErrCollectorNotConfigured = NewDomainError(ErrorTypeConfiguration, "collector settings not found", nil)
	ErrInvalidLookback        = NewDomainError(ErrorTypeConfiguration, "audit lookback days must be non-negative", nil)
	ErrInvalidSchedule        = NewDomainError(ErrorTypeConfiguration, "invalid collector schedule", nil)

	// Catalog Errors
	ErrCatalogUnavailable = NewDomainError(ErrorTypeCatalog, "dashboard catalog unavailable", nil)

	// Evaluation Errors
	ErrEvaluationFailed = NewDomainError(ErrorTypeEvaluation, "audit evaluation failed", nil)
	ErrNilOutcomes      = NewDomainError(ErrorTypeEvaluation, "evaluator returned no outcome mapping", nil)

	// Refresh Errors
	ErrRefreshFailed = NewDomainError(ErrorTypeRefresh, "audit result refresh failed", nil)
	ErrLockNotHeld   = NewDomainError(ErrorTypeRefresh, "dashboard refresh lock held elsewhere", nil)

	// Not Found Errors
	ErrDashboardNotFound = NewDomainError(ErrorTypeNotFound, "dashboard not found", nil)
	ErrRunNotFound       = NewDomainError(ErrorTypeNotFound, "no collector run recorded", nil)

	// Validation Errors
	ErrInvalidInput   = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrEmptyResultSet = NewDomainError(ErrorTypeValidation, "refresh requires a non-empty result set", nil)

	// Authorization Errors
	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidToken = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)
	ErrTokenExpired = NewDomainError(ErrorTypeUnauthorized, "authentication token expired", nil)

	// Permission Errors
	ErrForbidden = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)

	// Conflict Errors
	ErrRunInProgress = NewDomainError(ErrorTypeConflict, "a collector run is already in progress", nil)

	// Internal Errors
	ErrInternal          = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError     = NewDomainError(ErrorTypeInternal, "database error", nil)
	ErrTransactionFailed = NewDomainError(ErrorTypeInternal, "transaction failed", nil)

	// External Errors
	ErrEvaluatorUnavailable = NewDomainError(ErrorTypeExternal, "audit API unavailable", nil)
)

// Error type checking helper functions

func isType(err error, errType ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == errType
	}
	return false
}

// IsConfigurationError checks if an error is a configuration error
func IsConfigurationError(err error) bool {
	return isType(err, ErrorTypeConfiguration)
}

// IsCatalogError checks if an error is a catalog enumeration error
func IsCatalogError(err error) bool {
	return isType(err, ErrorTypeCatalog)
}

// IsEvaluationError checks if an error is a per-dashboard evaluation error
func IsEvaluationError(err error) bool {
	return isType(err, ErrorTypeEvaluation)
}

// IsRefreshError checks if an error is a per-dashboard refresh error
func IsRefreshError(err error) bool {
	return isType(err, ErrorTypeRefresh)
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return isType(err, ErrorTypeNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return isType(err, ErrorTypeUnauthorized)
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return isType(err, ErrorTypeForbidden)
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return isType(err, ErrorTypeConflict)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return isType(err, ErrorTypeInternal)
}

// IsExternalError checks if an error is an external service error
func IsExternalError(err error) bool {
	return isType(err, ErrorTypeExternal)
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) *DomainError {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapExternal wraps an error as an external service error
func WrapExternal(message string, err error) error {
	return NewDomainError(ErrorTypeExternal, message, err)
}

// WrapEvaluation wraps an error raised while evaluating a dashboard
func WrapEvaluation(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeEvaluation, message, err)
}

// WrapRefresh wraps a storage error raised while replacing results, tagging the failing phase
func WrapRefresh(phase string, err error) *DomainError {
	return NewDomainError(ErrorTypeRefresh, "failed to "+phase+" audit results", err).WithDetail("phase", phase)
}
