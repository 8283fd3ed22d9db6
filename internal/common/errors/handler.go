// internal/common/errors/handler.go
package errors

import (
	"time"
)

// Disposition is what the scheduler should do with a job whose handler failed.
type Disposition string

const (
	// DispositionRetry re-enqueues the job with backoff.
	DispositionRetry Disposition = "RETRY"
	// DispositionDrop discards the job silently (terminal or vanished contract).
	DispositionDrop Disposition = "DROP"
	// DispositionFail discards the job after recording the failure.
	DispositionFail Disposition = "FAIL"
)

// ErrorHandler normalizes job errors and decides their disposition.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleJobError logs err with the job identity and returns its disposition.
func (h *ErrorHandler) HandleJobError(jobID, taskType string, attempt int, err error) Disposition {
	stdErr := h.normalizeError(err)
	disposition := Classify(stdErr)

	h.logger.Error("Job failed", map[string]interface{}{
		"jobId":         jobID,
		"taskType":      taskType,
		"attempt":       attempt,
		"errorCode":     string(stdErr.Code),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"retryable":     stdErr.Retryable,
		"errorCategory": GetErrorCategory(stdErr.Code),
		"disposition":   string(disposition),
	})

	return disposition
}

// Classify maps an error to a scheduler disposition without logging.
func Classify(err error) Disposition {
	stdErr, ok := AsStandardError(err)
	if !ok {
		return DispositionFail
	}
	switch stdErr.Code {
	case ErrCodeInvalidState, ErrCodeNotFound:
		return DispositionDrop
	}
	if stdErr.Retryable || IsRetryableErrorCode(stdErr.Code) {
		return DispositionRetry
	}
	return DispositionFail
}

// normalizeError ensures we always have a StandardError
func (h *ErrorHandler) normalizeError(err error) *StandardError {
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr
	}
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}
