// internal/common/errors/errors.go
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type ErrorCode string

const (
	// Caller input and caller identity.
	ErrCodeValidationFailed   ErrorCode = "VALIDATION_FAILED"
	ErrCodeUnsupportedProduct ErrorCode = "UNSUPPORTED_PRODUCT"
	ErrCodeUnauthenticated    ErrorCode = "UNAUTHENTICATED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"

	// Billing provider.
	ErrCodeBillingAuthFailed  ErrorCode = "BILLING_AUTH_FAILED"
	ErrCodePurchaseNotFound   ErrorCode = "PURCHASE_NOT_FOUND"
	ErrCodeBillingUnavailable ErrorCode = "BILLING_UNAVAILABLE"
	ErrCodeBillingTimeout     ErrorCode = "BILLING_TIMEOUT"

	// Notification path.
	ErrCodeMalformedPayload ErrorCode = "MALFORMED_PAYLOAD"
	ErrCodeUnmappedToken    ErrorCode = "UNMAPPED_TOKEN"

	// Stores.
	ErrCodeStoreReadFailed  ErrorCode = "STORE_READ_FAILED"
	ErrCodeStoreWriteFailed ErrorCode = "STORE_WRITE_FAILED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

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
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata attaches a key to the error and returns it for chaining.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

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

func errDetails(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ValidationError: malformed or missing caller input. Never retried.
func NewValidationError(details string) *StandardError {
	return newError(ErrCodeValidationFailed, "Request validation failed", details, false, nil)
}

func NewUnsupportedProductError(productID string) *StandardError {
	return newError(ErrCodeUnsupportedProduct, "Product is not in the catalog",
		fmt.Sprintf("productId: %s", productID), false, nil)
}

func NewUnauthenticatedError(details string) *StandardError {
	return newError(ErrCodeUnauthenticated, "Caller is not authenticated", details, false, nil)
}

func NewForbiddenError(details string) *StandardError {
	return newError(ErrCodeForbidden, "Caller may not act on this user", details, false, nil)
}

// AuthError: billing credential unavailable or rejected. Safe to retry later.
func NewAuthError(err error) *StandardError {
	return newError(ErrCodeBillingAuthFailed, "Billing provider credential unavailable", errDetails(err), true, err)
}

// NotFoundError: token unknown to the billing provider. Permanent.
func NewNotFoundError(token string, err error) *StandardError {
	return newError(ErrCodePurchaseNotFound, "Purchase token unknown to billing provider",
		errDetails(err), false, err).WithMetadata("purchaseToken", token)
}

// TransientError: network failure or provider 5xx/429.
func NewTransientError(err error) *StandardError {
	return newError(ErrCodeBillingUnavailable, "Billing provider temporarily unavailable", errDetails(err), true, err)
}

// NewTimeoutError is a TransientError raised when a provider call exceeds its deadline.
func NewTimeoutError(service string, err error) *StandardError {
	return newError(ErrCodeBillingTimeout, fmt.Sprintf("Service '%s' timeout", service), errDetails(err), true, err)
}

func NewMalformedPayloadError(details string, err error) *StandardError {
	return newError(ErrCodeMalformedPayload, "Notification payload cannot be decoded", details, false, err)
}

// NewUnmappedTokenError reports a notification for a token with no local
// mapping. retryable is only true inside the configured grace window.
func NewUnmappedTokenError(token string, retryable bool) *StandardError {
	return newError(ErrCodeUnmappedToken, "No mapping for purchase token", "", retryable, nil).
		WithMetadata("purchaseToken", token)
}

func NewStoreReadError(collection string, err error) *StandardError {
	return newError(ErrCodeStoreReadFailed, fmt.Sprintf("Read from '%s' failed", collection), errDetails(err), true, err)
}

func NewStoreWriteError(collection string, err error) *StandardError {
	return newError(ErrCodeStoreWriteFailed, fmt.Sprintf("Write to '%s' failed", collection), errDetails(err), true, err)
}

func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", errDetails(err), false, err)
}

var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeValidationFailed:   "PURCHASE_INVALID",
	ErrCodeUnsupportedProduct: "PURCHASE_INVALID",
	ErrCodeUnauthenticated:    "CALLER_UNAUTHENTICATED",
	ErrCodeForbidden:          "CALLER_FORBIDDEN",
	ErrCodeBillingAuthFailed:  "BILLING_AUTH_FAILED",
	ErrCodePurchaseNotFound:   "PURCHASE_NOT_FOUND",
	ErrCodeBillingUnavailable: "BILLING_UNAVAILABLE",
	ErrCodeBillingTimeout:     "BILLING_UNAVAILABLE",
	ErrCodeMalformedPayload:   "NOTIFICATION_MALFORMED",
	ErrCodeUnmappedToken:      "NOTIFICATION_UNMAPPED",
	ErrCodeStoreReadFailed:    "STORE_UNAVAILABLE",
	ErrCodeStoreWriteFailed:   "STORE_UNAVAILABLE",
}

func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeBillingUnavailable,
		ErrCodeStoreReadFailed,
		ErrCodeStoreWriteFailed:
		return 3

	case ErrCodeBillingTimeout,
		ErrCodeBillingAuthFailed:
		return 2

	case ErrCodeUnmappedToken:
		return 1

	default:
		return 0
	}
}

func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// AsStandardError finds a StandardError in err's chain. Context deadlines
// become timeouts; anything else unknown becomes an internal error.
func AsStandardError(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError("unknown", err)
	}
	return NewInternalError(err)
}

// CodeOf returns the error code of err, or "" for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	return AsStandardError(err).Code
}

func IsCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	return stderrors.As(err, &stdErr) && stdErr.Code == code
}

func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return AsStandardError(err).Retryable
}

func IsNotFound(err error) bool {
	return IsCode(err, ErrCodePurchaseNotFound)
}

// HTTPStatus maps an error to the status the registration endpoint returns.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case "":
		return http.StatusOK
	case ErrCodeValidationFailed, ErrCodeUnsupportedProduct:
		return http.StatusBadRequest
	case ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "BILLING") || strings.HasPrefix(codeStr, "PURCHASE"):
		return "BILLING"
	case strings.HasPrefix(codeStr, "STORE"):
		return "STORE"
	case code == ErrCodeMalformedPayload || code == ErrCodeUnmappedToken:
		return "NOTIFICATION"
	case code == ErrCodeUnauthenticated || code == ErrCodeForbidden:
		return "AUTH"
	case strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "UNSUPPORTED"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
