// Package conditions decides whether a contract's gating predicates hold.
package conditions

import (
	"context"
	"errors"
	"fmt"
	"sync"

	apperrors "settlement-engine/internal/common/errors"
	"settlement-engine/internal/common/logger"
	"settlement-engine/internal/models"
)

// Outcome is the result of one evaluation. Reason explains a FAILED status.
type Outcome struct {
	Status models.ConditionStatus
	Reason string
}

func Met() Outcome { return Outcome{Status: models.ConditionMet} }

func Failed(format string, args ...interface{}) Outcome {
	return Outcome{Status: models.ConditionFailed, Reason: fmt.Sprintf(format, args...)}
}

// Handler evaluates one condition type. An error means the predicate could
// not be decided (infrastructure failure), not that it is false.
type Handler interface {
	Evaluate(ctx context.Context, params models.Params) (Outcome, error)
}

type HandlerFunc func(ctx context.Context, params models.Params) (Outcome, error)

func (f HandlerFunc) Evaluate(ctx context.Context, params models.Params) (Outcome, error) {
	return f(ctx, params)
}

// Registry dispatches by condition type. Unknown types fail closed.
type Registry struct {
	mu       sync.RWMutex
	handlers map[models.ConditionType]Handler
	logger   logger.Logger
}

func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		handlers: make(map[models.ConditionType]Handler),
		logger:   logger.ForComponent(log, "condition-evaluator"),
	}
}

// Register adds or replaces the handler for a condition type.
func (r *Registry) Register(t models.ConditionType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

func (r *Registry) Evaluate(ctx context.Context, cond models.Condition) (Outcome, error) {
	r.mu.RLock()
	h, ok := r.handlers[cond.Type]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn("Unsupported condition", map[string]interface{}{"type": string(cond.Type)})
		return Outcome{Status: models.ConditionFailed, Reason: apperrors.NewUnsupportedConditionError(string(cond.Type)).Error()}, nil
	}

	out, err := h.Evaluate(ctx, cond.Params)
	if err != nil {
		// malformed parameters can never become valid
		if errors.Is(err, models.ErrMissingParam) || errors.Is(err, models.ErrInvalidParam) {
			return Failed("%v", err), nil
		}
		return Outcome{}, err
	}
	return out, nil
}
