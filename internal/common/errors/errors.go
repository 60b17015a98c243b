// Package errors provides the standardized error taxonomy of the entitlement engine.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Entitlement errors surfaced to callers.
const (
	ErrCodeAuthRequired       ErrorCode = "AUTH_REQUIRED"
	ErrCodeUpgradeRequired    ErrorCode = "UPGRADE_REQUIRED"
	ErrCodeTierRequired       ErrorCode = "TIER_REQUIRED"
	ErrCodeLimitExceeded      ErrorCode = "LIMIT_EXCEEDED"
	ErrCodeAIRateLimit        ErrorCode = "AI_RATE_LIMIT"
	ErrCodeModelNotAllowed    ErrorCode = "MODEL_NOT_ALLOWED"
	ErrCodeInsufficientLock   ErrorCode = "INSUFFICIENT_LOCK_AMOUNT"
	ErrCodeNoActiveTokenLock  ErrorCode = "NO_ACTIVE_TOKEN_LOCK"
	ErrCodeTokensStillLocked  ErrorCode = "TOKENS_STILL_LOCKED"
	ErrCodeTrialAlreadyUsed   ErrorCode = "TRIAL_ALREADY_USED"
	ErrCodeInvalidTierUpgrade ErrorCode = "INVALID_TIER_FOR_UPGRADE"

	ErrCodeInvalidSignature ErrorCode = "INVALID_STAKING_SIGNATURE"
	ErrCodeSignatureExpired ErrorCode = "SIGNATURE_EXPIRED"
	ErrCodeInvalidFormat    ErrorCode = "INVALID_SIGNATURE_FORMAT"

	ErrCodeInvalidRequest  ErrorCode = "INVALID_REQUEST"
	ErrCodePayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"

	ErrCodeStoreUnavailable   ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeCounterUnavailable ErrorCode = "COUNTER_UNAVAILABLE"
	ErrCodeBillingUnavailable ErrorCode = "BILLING_UNAVAILABLE"
	ErrCodeExternalService    ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
)

// Sentinels for errors.Is checks across packages.
var (
	ErrAuthRequired           = stderrors.New("authentication required")
	ErrUpgradeRequired        = stderrors.New("upgrade required")
	ErrModelNotAllowed        = stderrors.New("model not allowed")
	ErrLimitExceeded          = stderrors.New("limit exceeded")
	ErrInsufficientLockAmount = stderrors.New("insufficient lock amount")
	ErrNoActiveTokenLock      = stderrors.New("no active token lock found")
	ErrTokensStillLocked      = stderrors.New("tokens still locked")
	ErrTrialAlreadyUsed       = stderrors.New("trial period already used")
	ErrInvalidTierForUpgrade  = stderrors.New("invalid tier for upgrade")
	ErrInvalidSignature       = stderrors.New("invalid signature")
	ErrSignatureExpired       = stderrors.New("signature expired")
	ErrInvalidFormat          = stderrors.New("invalid signature format")
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the sentinel so errors.Is keeps working on wrapped errors.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata returns the error with an extra metadata entry.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = map[string]interface{}{}
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// NewAuthRequiredError creates a non-retryable identity error.
func NewAuthRequiredError(details string) *StandardError {
	return newError(ErrCodeAuthRequired, "Authentication required", details, false, ErrAuthRequired)
}

// NewLimitExceededError carries the limit name and reset time in metadata.
func NewLimitExceededError(limitType string, resetAt time.Time) *StandardError {
	return newError(ErrCodeLimitExceeded, fmt.Sprintf("Limit exceeded: %s", limitType), "", true, ErrLimitExceeded).
		WithMetadata("limitType", limitType).
		WithMetadata("resetAt", resetAt)
}

// NewInsufficientLockAmountError reports the amount a tier requires.
func NewInsufficientLockAmountError(tier string, required float64) *StandardError {
	return newError(ErrCodeInsufficientLock,
		fmt.Sprintf("Insufficient lock amount. Required: %g BEZ", required),
		fmt.Sprintf("tier: %s", tier), false, ErrInsufficientLockAmount).
		WithMetadata("requiredAmount", required).
		WithMetadata("tier", tier)
}

func NewNoActiveTokenLockError() *StandardError {
	return newError(ErrCodeNoActiveTokenLock, "No active token lock found", "", false, ErrNoActiveTokenLock)
}

func NewTokensStillLockedError(unlocksAt time.Time) *StandardError {
	return newError(ErrCodeTokensStillLocked,
		fmt.Sprintf("Tokens locked until %s", unlocksAt.UTC().Format(time.RFC3339)), "", true, ErrTokensStillLocked).
		WithMetadata("unlocksAt", unlocksAt)
}

func NewTrialAlreadyUsedError() *StandardError {
	return newError(ErrCodeTrialAlreadyUsed, "Trial period already used", "", false, ErrTrialAlreadyUsed)
}

func NewInvalidTierForUpgradeError(tier string) *StandardError {
	return newError(ErrCodeInvalidTierUpgrade, "Invalid tier for upgrade", fmt.Sprintf("tier: %s", tier), false, ErrInvalidTierForUpgrade)
}

// NewUpgradeRequiredError reports a feature the current tier does not unlock.
func NewUpgradeRequiredError(feature, current, required string) *StandardError {
	return newError(ErrCodeUpgradeRequired, fmt.Sprintf("Feature %s requires an upgrade", feature), "", false, ErrUpgradeRequired).
		WithMetadata("feature", feature).
		WithMetadata("currentTier", current).
		WithMetadata("requiredTier", required)
}

func NewTierRequiredError(current, required string) *StandardError {
	return newError(ErrCodeTierRequired, fmt.Sprintf("Tier %s or higher required", required), "", false, ErrUpgradeRequired).
		WithMetadata("currentTier", current).
		WithMetadata("requiredTier", required)
}

func NewModelNotAllowedError(model, current string, allowed []string) *StandardError {
	return newError(ErrCodeModelNotAllowed, fmt.Sprintf("Model %s is not available on your tier", model), "", false, ErrModelNotAllowed).
		WithMetadata("model", model).
		WithMetadata("currentTier", current).
		WithMetadata("allowedModels", allowed)
}

func NewAIRateLimitError(resetAt time.Time) *StandardError {
	return newError(ErrCodeAIRateLimit, "Daily AI query limit reached", "", true, ErrLimitExceeded).
		WithMetadata("resetAt", resetAt)
}

func NewInvalidSignatureError() *StandardError {
	return newError(ErrCodeInvalidSignature, "Invalid signature", "", false, ErrInvalidSignature)
}

func NewSignatureExpiredError() *StandardError {
	return newError(ErrCodeSignatureExpired, "Signature expired", "", false, ErrSignatureExpired)
}

func NewInvalidSignatureFormatError() *StandardError {
	return newError(ErrCodeInvalidFormat, "Invalid signature format", "", false, ErrInvalidFormat)
}

// NewInvalidRequestError creates a non-retryable validation error.
func NewInvalidRequestError(details string) *StandardError {
	return newError(ErrCodeInvalidRequest, "Invalid request", details, false, nil)
}

// NewPayloadTooLargeError rejects a request body over limit bytes.
func NewPayloadTooLargeError(limit int64) *StandardError {
	return newError(ErrCodePayloadTooLarge, "Request body too large", fmt.Sprintf("limit: %d bytes", limit), false, nil)
}

// NewStoreUnavailableError wraps a persistence failure.
func NewStoreUnavailableError(err error) *StandardError {
	return newError(ErrCodeStoreUnavailable, "Subscription store error", err.Error(), true, err)
}

// NewCounterUnavailableError wraps a usage counter failure.
func NewCounterUnavailableError(err error) *StandardError {
	return newError(ErrCodeCounterUnavailable, "Usage counter error", err.Error(), true, err)
}

// NewBillingUnavailableError is returned when the billing rail is not configured or fails.
func NewBillingUnavailableError(details string) *StandardError {
	return newError(ErrCodeBillingUnavailable, "Billing provider unavailable", details, true, nil)
}

// NewExternalServiceError creates a retryable external service error.
func NewExternalServiceError(service string, err error) *StandardError {
	return newError(ErrCodeExternalService, fmt.Sprintf("External service %s failed", service), err.Error(), true, err)
}

// ==========================
// 3. Classification
// ==========================

// HTTPStatus maps an error code to the status the request boundary answers with.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeAuthRequired, ErrCodeInvalidSignature, ErrCodeSignatureExpired, ErrCodeInvalidFormat:
		return http.StatusUnauthorized
	case ErrCodeUpgradeRequired, ErrCodeTierRequired, ErrCodeModelNotAllowed:
		return http.StatusForbidden
	case ErrCodeLimitExceeded, ErrCodeAIRateLimit:
		return http.StatusTooManyRequests
	case ErrCodeInsufficientLock, ErrCodeInvalidRequest, ErrCodeInvalidTierUpgrade:
		return http.StatusBadRequest
	case ErrCodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrCodeNoActiveTokenLock:
		return http.StatusNotFound
	case ErrCodeTokensStillLocked, ErrCodeTrialAlreadyUsed:
		return http.StatusConflict
	case ErrCodeStoreUnavailable, ErrCodeCounterUnavailable, ErrCodeBillingUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryableErrorCode checks if an error code should be retried by the caller.
func IsRetryableErrorCode(code ErrorCode) bool {
	switch code {
	case ErrCodeLimitExceeded, ErrCodeAIRateLimit, ErrCodeTokensStillLocked,
		ErrCodeStoreUnavailable, ErrCodeCounterUnavailable, ErrCodeBillingUnavailable, ErrCodeExternalService:
		return true
	}
	return false
}

// GetErrorCategory returns the category of an error code for metrics labels.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "AUTH") || strings.Contains(codeStr, "SIGNATURE"):
		return "identity"
	case strings.Contains(codeStr, "LIMIT"):
		return "quota"
	case strings.Contains(codeStr, "TIER") || strings.Contains(codeStr, "UPGRADE") || strings.Contains(codeStr, "MODEL"):
		return "entitlement"
	case strings.Contains(codeStr, "LOCK") || strings.Contains(codeStr, "TRIAL"):
		return "subscription"
	case strings.Contains(codeStr, "UNAVAILABLE") || strings.Contains(codeStr, "EXTERNAL"):
		return "infrastructure"
	default:
		return "unknown"
	}
}

// AsStandardError normalizes any error into a StandardError.
func AsStandardError(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return newError(ErrCodeInternal, "Unexpected error", err.Error(), false, err)
}
