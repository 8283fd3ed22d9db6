// internal/workers/ledger/loan-repayment/handler.go
package loanrepayment

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"settlement-engine/internal/actions"
	apperrors "settlement-engine/internal/common/errors"
	"settlement-engine/internal/common/logger"
	"settlement-engine/internal/common/metrics"
	"settlement-engine/internal/ledger"
	"settlement-engine/internal/models"
	"settlement-engine/internal/scheduler"
)

const (
	TaskType = actions.TaskLoanRepayment

	payloadFailedTransaction = "failedTransactionId"
)

type Ledger interface {
	Transfer(ctx context.Context, req ledger.TransferRequest) (*models.Transaction, error)
	Retry(ctx context.Context, transactionID string) (*models.Transaction, error)
}

type Publisher interface {
	Publish(ctx context.Context, event models.LifecycleEvent) error
}

type Handler struct {
	config    *Config
	ledger    Ledger
	publisher Publisher
	clock     func() time.Time
	logger    logger.Logger
}

func NewHandler(config *Config, l Ledger, publisher Publisher, log logger.Logger) *Handler {
	return &Handler{
		config:    config,
		ledger:    l,
		publisher: publisher,
		clock:     func() time.Time { return time.Now().UTC() },
		logger:    log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}
}

// Handle settles a due repayment from borrower to lender. Insufficient funds
// keep the job scheduled; the first FAILED record is retried on later attempts
// so its attempt log shows the whole collection history.
func (h *Handler) Handle(ctx context.Context, job *models.Job) (scheduler.Result, error) {
	input, err := parseInput(job)
	if err != nil {
		return scheduler.Done, err
	}

	output, err := h.execute(ctx, input)
	if err != nil {
		return scheduler.Done, err
	}

	switch output.Status {
	case string(models.TransactionCompleted):
		h.logger.Info("loan repaid", map[string]interface{}{
			"contractId":    input.ContractID,
			"transactionId": output.TransactionID,
			"attempt":       job.Attempt,
		})
		h.publish(ctx, models.LifecycleEvent{
			ContractID: input.ContractID,
			Event:      models.EventLoanRepaid,
			Data: map[string]interface{}{
				"transactionId": output.TransactionID,
				"amount":        input.Amount.String(),
			},
		})
		return scheduler.Done, nil
	default:
		if input.FailedTransactionID == "" {
			job.Payload[payloadFailedTransaction] = output.TransactionID
		}
		h.logger.Info("loan repayment deferred", map[string]interface{}{
			"contractId": input.ContractID,
			"borrower":   input.Borrower,
			"reason":     output.Reason,
			"attempt":    job.Attempt,
		})
		return scheduler.Reschedule, nil
	}
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	ctx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	var (
		rec *models.Transaction
		err error
	)
	if input.FailedTransactionID != "" {
		rec, err = h.ledger.Retry(ctx, input.FailedTransactionID)
	} else {
		rec, err = h.ledger.Transfer(ctx, ledger.TransferRequest{
			From:       input.Borrower,
			To:         input.Lender,
			Amount:     input.Amount,
			Type:       models.TransactionLoanRepayment,
			ContractID: input.ContractID,
		})
	}
	if err != nil {
		return nil, err
	}
	if rec.Status == models.TransactionFailed && !ledger.IsInsufficientFunds(rec) {
		return nil, ledger.FailureError(rec)
	}
	return &Output{
		TransactionID: rec.ID,
		Status:        string(rec.Status),
		Reason:        rec.FailureReason,
	}, nil
}

// Exhausted reports the default. The lender's claim stays on the ledger as
// the FAILED repayment record.
func (h *Handler) Exhausted(ctx context.Context, job models.Job) error {
	input, err := parseInput(&job)
	if err != nil {
		return err
	}
	h.logger.Warn("loan repayment defaulted", map[string]interface{}{
		"contractId": input.ContractID,
		"borrower":   input.Borrower,
		"lender":     input.Lender,
		"amount":     input.Amount.String(),
		"attempts":   job.Attempt,
	})
	h.publish(ctx, models.LifecycleEvent{
		ContractID: input.ContractID,
		Event:      models.EventLoanRepaymentDefaulted,
		Data: map[string]interface{}{
			"borrower":      input.Borrower,
			"lender":        input.Lender,
			"amount":        input.Amount.String(),
			"attempts":      job.Attempt,
			"transactionId": input.FailedTransactionID,
		},
	})
	return nil
}

func (h *Handler) publish(ctx context.Context, event models.LifecycleEvent) {
	if h.publisher == nil {
		return
	}
	event.Timestamp = h.clock()
	if err := h.publisher.Publish(ctx, event); err != nil {
		metrics.SinkFailures.WithLabelValues("events").Inc()
		h.logger.Warn("failed to publish repayment event", map[string]interface{}{
			"contractId": event.ContractID,
			"event":      event.Event,
			"error":      err,
		})
	}
}

func parseInput(job *models.Job) (*Input, error) {
	if job.Payload == nil {
		return nil, apperrors.NewValidationError("repayment job has no payload").WithMetadata("jobId", job.ID)
	}
	from, to := job.Payload[actions.PayloadFrom], job.Payload[actions.PayloadTo]
	if from == "" || to == "" {
		return nil, apperrors.NewValidationError("repayment job needs borrower and lender").WithMetadata("jobId", job.ID)
	}
	amount, err := decimal.NewFromString(job.Payload[actions.PayloadAmount])
	if err != nil || !amount.IsPositive() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("repayment amount %q is invalid", job.Payload[actions.PayloadAmount])).
			WithMetadata("jobId", job.ID)
	}
	return &Input{
		ContractID:          job.ContractID,
		Borrower:            from,
		Lender:              to,
		Amount:              amount,
		FailedTransactionID: job.Payload[payloadFailedTransaction],
	}, nil
}
