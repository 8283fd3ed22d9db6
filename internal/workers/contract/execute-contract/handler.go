// internal/workers/contract/execute-contract/handler.go
package executecontract

import (
	"context"
	"errors"
	"fmt"

	apperrors "settlement-engine/internal/common/errors"
	"settlement-engine/internal/common/logger"
	"settlement-engine/internal/contracts"
	"settlement-engine/internal/models"
	"settlement-engine/internal/scheduler"
)

const (
	TaskType = scheduler.TaskExecuteContract
)

// Engine is the part of the contract engine this worker drives.
type Engine interface {
	Execute(ctx context.Context, contractID string) (contracts.Outcome, error)
	Fail(ctx context.Context, contractID string, cause error) error
}

type Handler struct {
	config *Config
	engine Engine
	logger logger.Logger
}

func NewHandler(config *Config, engine Engine, log logger.Logger) *Handler {
	return &Handler{
		config: config,
		engine: engine,
		logger: log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}
}

// Handle runs one execution attempt. A contract whose conditions are not yet
// met is rescheduled. Errors that leave the contract ACTIVE keep it queued so
// the attempt budget ends in a condition timeout rather than a dropped job.
func (h *Handler) Handle(ctx context.Context, job *models.Job) (scheduler.Result, error) {
	input := Input{ContractID: job.ContractID, Attempt: job.Attempt}
	if input.ContractID == "" {
		return scheduler.Done, apperrors.NewValidationError("execute job has no contract id").WithMetadata("jobId", job.ID)
	}

	h.logger.Debug("processing job", map[string]interface{}{
		"jobId":      job.ID,
		"contractId": input.ContractID,
		"attempt":    input.Attempt,
	})

	output, err := h.execute(ctx, &input)
	if err != nil {
		if apperrors.Classify(err) != apperrors.DispositionFail {
			return scheduler.Done, err
		}
		h.logger.Warn("execution attempt errored, rescheduling", map[string]interface{}{
			"jobId":      job.ID,
			"contractId": input.ContractID,
			"attempt":    input.Attempt,
			"error":      err.Error(),
		})
		return scheduler.Reschedule, nil
	}
	if output.Outcome == contracts.OutcomeNotEligible {
		return scheduler.Reschedule, nil
	}

	h.logger.Info("contract execution settled", map[string]interface{}{
		"contractId": output.ContractID,
		"outcome":    string(output.Outcome),
		"attempts":   input.Attempt,
	})
	return scheduler.Done, nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (out *Output, err error) {
	ctx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("contract %s: execute panic: %v", input.ContractID, r)
		}
	}()

	outcome, err := h.engine.Execute(ctx, input.ContractID)
	if err != nil {
		return nil, err
	}
	return &Output{ContractID: input.ContractID, Outcome: outcome}, nil
}

// Exhausted fails a contract that never became eligible.
func (h *Handler) Exhausted(ctx context.Context, job models.Job) error {
	cause := apperrors.NewConditionTimeoutError(job.ContractID, job.Attempt)
	err := h.engine.Fail(ctx, job.ContractID, cause)
	if errors.Is(err, apperrors.ErrInvalidState) {
		// settled by another path in the meantime
		return nil
	}
	return err
}
