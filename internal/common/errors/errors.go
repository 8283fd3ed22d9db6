// Package errors provides the standardized error taxonomy of the settlement engine.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Caller errors: surfaced synchronously, never retried.
const (
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeValidation       ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidState     ErrorCode = "INVALID_STATE"
	ErrCodeUnknownParty     ErrorCode = "UNKNOWN_PARTY"
	ErrCodeInvalidSignature ErrorCode = "INVALID_SIGNATURE"
)

// Settlement and execution errors.
const (
	ErrCodeInsufficientFunds        ErrorCode = "INSUFFICIENT_FUNDS"
	ErrCodeUnsupportedAction        ErrorCode = "UNSUPPORTED_ACTION"
	ErrCodeUnsupportedCondition     ErrorCode = "UNSUPPORTED_CONDITION"
	ErrCodeConditionTimeout         ErrorCode = "CONDITION_TIMEOUT"
	ErrCodeRiskVerificationRequired ErrorCode = "RISK_VERIFICATION_REQUIRED"
)

// Infrastructure errors: retryable.
const (
	ErrCodeStorageFailure  ErrorCode = "STORAGE_FAILURE"
	ErrCodeQueueFailure    ErrorCode = "QUEUE_FAILURE"
	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Is reports whether target carries the same error code, so that
// errors.Is(err, ErrNotFound) matches any NOT_FOUND error.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMetadata attaches a metadata key and returns the receiver.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound                 = &StandardError{Code: ErrCodeNotFound}
	ErrValidation               = &StandardError{Code: ErrCodeValidation}
	ErrInvalidState             = &StandardError{Code: ErrCodeInvalidState}
	ErrUnknownParty             = &StandardError{Code: ErrCodeUnknownParty}
	ErrInvalidSignature         = &StandardError{Code: ErrCodeInvalidSignature}
	ErrInsufficientFunds        = &StandardError{Code: ErrCodeInsufficientFunds}
	ErrUnsupportedAction        = &StandardError{Code: ErrCodeUnsupportedAction}
	ErrUnsupportedCondition     = &StandardError{Code: ErrCodeUnsupportedCondition}
	ErrConditionTimeout         = &StandardError{Code: ErrCodeConditionTimeout}
	ErrRiskVerificationRequired = &StandardError{Code: ErrCodeRiskVerificationRequired}
	ErrStorageFailure           = &StandardError{Code: ErrCodeStorageFailure}
	ErrQueueFailure             = &StandardError{Code: ErrCodeQueueFailure}
	ErrExternalService          = &StandardError{Code: ErrCodeExternalService}
)

// ==========================
// 2. Error Constructors
// ==========================

// NewNotFoundError creates a non-retryable lookup error for an entity kind and id.
func NewNotFoundError(kind, id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("%s not found", kind),
		Details:   fmt.Sprintf("%sId: %s", strings.ToLower(kind), id),
		Retryable: false,
		Metadata:  map[string]interface{}{"kind": kind, "id": id},
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationError creates a non-retryable input validation error.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidation,
		Message:   "Validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidStateError reports an operation that is illegal in the current lifecycle state.
func NewInvalidStateError(operation, state string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidState,
		Message:   fmt.Sprintf("Operation '%s' not permitted", operation),
		Details:   fmt.Sprintf("state: %s", state),
		Retryable: false,
		Metadata:  map[string]interface{}{"operation": operation, "state": state},
		Timestamp: time.Now().UTC(),
	}
}

func NewUnknownPartyError(contractID, partyID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnknownParty,
		Message:   "Party is not a participant of the contract",
		Details:   fmt.Sprintf("contractId: %s, partyId: %s", contractID, partyID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewInvalidSignatureError(partyID, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidSignature,
		Message:   "Signature verification failed",
		Details:   fmt.Sprintf("partyId: %s, %s", partyID, details),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInsufficientFundsError is used as a failure reason, never as a crash.
func NewInsufficientFundsError(accountID, requested, available string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInsufficientFunds,
		Message:   "Insufficient funds",
		Details:   fmt.Sprintf("accountId: %s, requested: %s, available: %s", accountID, requested, available),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewUnsupportedActionError(actionType string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnsupportedAction,
		Message:   "Unsupported action type",
		Details:   fmt.Sprintf("type: %s", actionType),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewUnsupportedConditionError(conditionType string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnsupportedCondition,
		Message:   "Unsupported condition type",
		Details:   fmt.Sprintf("type: %s", conditionType),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewConditionTimeoutError is raised by the scheduler once the attempt budget is spent.
func NewConditionTimeoutError(contractID string, attempts int) *StandardError {
	return &StandardError{
		Code:      ErrCodeConditionTimeout,
		Message:   "Contract conditions not met before attempt limit",
		Details:   fmt.Sprintf("contractId: %s, attempts: %d", contractID, attempts),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewRiskVerificationRequiredError(score float64, recommendation string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRiskVerificationRequired,
		Message:   "Transfer requires additional verification",
		Details:   fmt.Sprintf("score: %.2f, recommendation: %s", score, recommendation),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStorageError creates a retryable persistence error.
func NewStorageError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStorageFailure,
		Message:   "Persistence operation failed",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueueError creates a retryable scheduler queue error.
func NewQueueError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueueFailure,
		Message:   "Queue operation failed",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewExternalServiceError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeExternalService,
		Message:   fmt.Sprintf("External service '%s' error", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// AsStandardError unwraps err to a *StandardError if one is in the chain.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first StandardError in the chain, or INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// GetRetryCount returns the recommended retry count for an error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeStorageFailure,
		ErrCodeQueueFailure:
		return 3

	case ErrCodeExternalService:
		return 2

	default:
		return 0
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeNotFound, ErrCodeValidation, ErrCodeUnknownParty, ErrCodeInvalidSignature:
		return "CALLER"
	case ErrCodeInvalidState:
		return "LIFECYCLE"
	case ErrCodeInsufficientFunds, ErrCodeRiskVerificationRequired:
		return "SETTLEMENT"
	case ErrCodeUnsupportedAction, ErrCodeUnsupportedCondition, ErrCodeConditionTimeout:
		return "EXECUTION"
	case ErrCodeStorageFailure, ErrCodeQueueFailure, ErrCodeExternalService:
		return "INFRASTRUCTURE"
	default:
		return "OTHER"
	}
}
