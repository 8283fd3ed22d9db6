package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	entries []map[string]interface{}
}

func (r *recordingLogger) Error(_ string, fields map[string]interface{}) {
	r.entries = append(r.entries, fields)
}

// ==========================
// Matching
// ==========================

func TestStandardError_IsMatchesByCode(t *testing.T) {
	err := NewNotFoundError("Contract", "c-1")
	wrapped := fmt.Errorf("load contract: %w", err)

	assert.True(t, stderrors.Is(wrapped, ErrNotFound))
	assert.False(t, stderrors.Is(wrapped, ErrInvalidState))
	assert.Equal(t, ErrCodeNotFound, CodeOf(wrapped))
	assert.Contains(t, err.Error(), "contractId: c-1")
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
	assert.Equal(t, ErrCodeInternal, CodeOf(stderrors.New("boom")))
	assert.Equal(t, ErrCodeInsufficientFunds, CodeOf(NewInsufficientFundsError("a", "10", "5")))
}

func TestGetErrorCategory(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected string
	}{
		{ErrCodeValidation, "CALLER"},
		{ErrCodeInvalidSignature, "CALLER"},
		{ErrCodeInvalidState, "LIFECYCLE"},
		{ErrCodeInsufficientFunds, "SETTLEMENT"},
		{ErrCodeConditionTimeout, "EXECUTION"},
		{ErrCodeStorageFailure, "INFRASTRUCTURE"},
		{ErrorCode("SOMETHING"), "OTHER"},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.expected, GetErrorCategory(tt.code))
		})
	}
}

// ==========================
// Job Error Handler
// ==========================

func TestErrorHandler_HandleJobError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Disposition
	}{
		{"storage failure retries", NewStorageError("save", stderrors.New("conn reset")), DispositionRetry},
		{"queue failure retries", NewQueueError("push", stderrors.New("timeout")), DispositionRetry},
		{"terminal contract drops", NewInvalidStateError("execute", "COMPLETED"), DispositionDrop},
		{"missing contract drops", fmt.Errorf("wrap: %w", NewNotFoundError("Contract", "x")), DispositionDrop},
		{"unsupported action fails", NewUnsupportedActionError("BURN"), DispositionFail},
		{"plain error fails", stderrors.New("boom"), DispositionFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &recordingLogger{}
			h := NewErrorHandler(log)

			got := h.HandleJobError("job-1", "execute-contract", 2, tt.err)

			assert.Equal(t, tt.expected, got)
			require.Len(t, log.entries, 1)
			assert.Equal(t, "job-1", log.entries[0]["jobId"])
			assert.Equal(t, string(tt.expected), log.entries[0]["disposition"])
		})
	}
}
