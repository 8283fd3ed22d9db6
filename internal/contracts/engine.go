// Package contracts owns the contract state machine.
//
//	PENDING_APPROVAL --quorum--> ACTIVE --all actions--> COMPLETED
//	       |                        |
//	       +--cancel--> CANCELLED   +--action failure / timeout--> FAILED
//
// Every mutation of one contract runs under the "contract:<id>" lock.
package contracts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"settlement-engine/internal/approval"
	apperrors "settlement-engine/internal/common/errors"
	"settlement-engine/internal/common/locks"
	"settlement-engine/internal/common/logger"
	"settlement-engine/internal/common/metrics"
	"settlement-engine/internal/common/observability"
	"settlement-engine/internal/common/validation"
	"settlement-engine/internal/conditions"
	"settlement-engine/internal/models"
	"settlement-engine/internal/store"
	"settlement-engine/internal/templates"
)

const lockPrefix = "contract:"

// Outcome is the result of one Execute call.
type Outcome string

const (
	OutcomeNotEligible Outcome = "NOT_ELIGIBLE"
	OutcomeCompleted   Outcome = "COMPLETED"
	OutcomeFailed      Outcome = "FAILED"
)

type Templates interface {
	Get(ctx context.Context, id string) (*models.Template, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, cond models.Condition) (conditions.Outcome, error)
}

type Executor interface {
	Execute(ctx context.Context, action models.Action, contract *models.Contract) (*models.ActionResult, error)
}

// Enqueuer hands an activated contract to the execution scheduler.
type Enqueuer interface {
	Enqueue(ctx context.Context, contractID string, notBefore time.Time) error
}

// Publisher receives every history entry as a lifecycle event.
type Publisher interface {
	Publish(ctx context.Context, event models.LifecycleEvent) error
}

type IDGenerator interface {
	RandomID() string
}

type Engine struct {
	store     store.ContractStore
	templates Templates
	tracker   *approval.Tracker
	evaluator Evaluator
	executor  Executor
	ids       IDGenerator
	enqueuer  Enqueuer
	publisher Publisher
	locks     *locks.Table
	clock     func() time.Time
	logger    logger.Logger
}

type Option func(*Engine)

func WithEnqueuer(q Enqueuer) Option {
	return func(e *Engine) { e.enqueuer = q }
}

func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithLocks(t *locks.Table) Option {
	return func(e *Engine) { e.locks = t }
}

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

func NewEngine(
	st store.ContractStore,
	tmpl Templates,
	tracker *approval.Tracker,
	evaluator Evaluator,
	executor Executor,
	ids IDGenerator,
	log logger.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		store:     st,
		templates: tmpl,
		tracker:   tracker,
		evaluator: evaluator,
		executor:  executor,
		ids:       ids,
		locks:     locks.NewTable(),
		clock:     func() time.Time { return time.Now().UTC() },
		logger:    logger.ForComponent(log, "contract-engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) lock(id string) func() {
	return e.locks.Lock(lockPrefix + id)
}

// ==========================
// Deploy
// ==========================

// Deploy instantiates templateID with params for parties. The contract
// starts in PENDING_APPROVAL whatever the number of parties.
func (e *Engine) Deploy(ctx context.Context, templateID string, params models.Params, parties []string) (string, error) {
	if err := validateParties(parties); err != nil {
		return "", err
	}
	tmpl, err := e.templates.Get(ctx, templateID)
	if err != nil {
		return "", err
	}

	result, err := validation.ValidateParameters(tmpl.ParameterSchema, params)
	if err != nil {
		return "", apperrors.NewValidationError(err.Error())
	}
	if !result.Valid {
		return "", apperrors.NewValidationError(result.Summary()).WithMetadata("templateId", templateID)
	}
	conds, acts, err := templates.Bind(tmpl, params)
	if err != nil {
		return "", err
	}

	now := e.clock()
	c := &models.Contract{
		ID:              e.ids.RandomID(),
		TemplateID:      tmpl.ID,
		TemplateName:    tmpl.Name,
		TemplateVersion: tmpl.Version,
		Parameters:      params.Clone(),
		Parties:         append([]string(nil), parties...),
		State:           models.ContractStatePendingApproval,
		Approvals:       make(map[string]models.Approval, len(parties)),
		Conditions:      conds,
		Actions:         acts,
		CreatedAt:       now,
	}
	c.AppendHistory(models.EventDeployed, now, map[string]interface{}{
		"templateId": tmpl.ID,
		"parties":    strings.Join(parties, ","),
	})
	if err := e.store.SaveContract(ctx, c); err != nil {
		return "", err
	}

	metrics.ContractsDeployed.WithLabelValues(tmpl.Name).Inc()
	e.logger.Info("Contract deployed", map[string]interface{}{
		"contractId": c.ID,
		"templateId": tmpl.ID,
		"parties":    len(parties),
	})
	e.publish(ctx, c.ID, c.History)
	return c.ID, nil
}

func validateParties(parties []string) error {
	if len(parties) == 0 {
		return apperrors.NewValidationError("at least one party is required")
	}
	seen := make(map[string]struct{}, len(parties))
	for _, p := range parties {
		if strings.TrimSpace(p) == "" {
			return apperrors.NewValidationError("party ids must be non-empty")
		}
		if _, dup := seen[p]; dup {
			return apperrors.NewValidationError("duplicate party " + p)
		}
		seen[p] = struct{}{}
	}
	return nil
}

// ==========================
// Approve / Cancel
// ==========================

// Approve records partyID's signature. The final approval activates the
// contract and enqueues it for execution.
func (e *Engine) Approve(ctx context.Context, contractID, partyID, signature string) error {
	snapshot, err := e.store.LoadContract(ctx, contractID)
	if err != nil {
		return err
	}
	if err := precheckApproval(snapshot, partyID, signature); err != nil {
		return err
	}
	if err := e.tracker.Verify(snapshot, partyID, signature); err != nil {
		return err
	}

	unlock := e.lock(contractID)
	c, err := e.store.LoadContract(ctx, contractID)
	if err != nil {
		unlock()
		return err
	}
	now := e.clock()
	outcome, err := e.tracker.Record(c, partyID, signature, now)
	if err != nil || outcome == approval.Unchanged {
		unlock()
		return err
	}

	from := len(c.History)
	c.AppendHistory(models.EventApproved, now, map[string]interface{}{"partyId": partyID})
	if outcome == approval.QuorumReached {
		c.State = models.ContractStateActive
		c.AppendHistory(models.EventActivated, now, nil)
	}
	if err := e.store.SaveContract(ctx, c); err != nil {
		unlock()
		return err
	}
	unlock()

	e.publish(ctx, c.ID, c.History[from:])
	if outcome != approval.QuorumReached {
		e.logger.Info("Approval recorded", map[string]interface{}{
			"contractId": c.ID,
			"partyId":    partyID,
			"pending":    len(approval.Pending(c)),
		})
		return nil
	}

	metrics.ContractTransitions.WithLabelValues(string(models.ContractStatePendingApproval), string(models.ContractStateActive)).Inc()
	e.logger.Info("Contract activated", map[string]interface{}{"contractId": c.ID})
	if e.enqueuer != nil {
		if err := e.enqueuer.Enqueue(ctx, c.ID, now); err != nil {
			// startup recovery re-enqueues every ACTIVE contract
			e.logger.Error("Failed to enqueue activated contract", map[string]interface{}{
				"contractId": c.ID,
				"error":      err,
			})
		}
	}
	return nil
}

// precheckApproval rejects approvals the state machine can never accept
// before paying for signature verification.
func precheckApproval(c *models.Contract, partyID, signature string) error {
	if c.State == models.ContractStatePendingApproval {
		return nil
	}
	if existing, ok := c.Approvals[partyID]; ok && c.State == models.ContractStateActive && existing.Signature == signature {
		return nil
	}
	return apperrors.NewInvalidStateError("approve", string(c.State)).WithMetadata("contractId", c.ID)
}

// Cancel is only permitted before activation.
func (e *Engine) Cancel(ctx context.Context, contractID string) error {
	unlock := e.lock(contractID)
	c, err := e.store.LoadContract(ctx, contractID)
	if err != nil {
		unlock()
		return err
	}
	if c.State != models.ContractStatePendingApproval {
		unlock()
		return apperrors.NewInvalidStateError("cancel", string(c.State)).WithMetadata("contractId", c.ID)
	}

	from := len(c.History)
	c.State = models.ContractStateCancelled
	c.AppendHistory(models.EventCancelled, e.clock(), nil)
	if err := e.store.SaveContract(ctx, c); err != nil {
		unlock()
		return err
	}
	unlock()

	metrics.ContractTransitions.WithLabelValues(string(models.ContractStatePendingApproval), string(models.ContractStateCancelled)).Inc()
	e.logger.Info("Contract cancelled", map[string]interface{}{"contractId": c.ID})
	e.publish(ctx, c.ID, c.History[from:])
	return nil
}

// Get returns a copy of the contract.
func (e *Engine) Get(ctx context.Context, contractID string) (*models.Contract, error) {
	return e.store.LoadContract(ctx, contractID)
}

// ==========================
// Execute
// ==========================

// Execute re-evaluates every condition of an ACTIVE contract and, once all
// are MET, runs its actions in order. An error return means nothing was
// decided and the call should be retried; a failed action is reported as
// OutcomeFailed with a nil error.
func (e *Engine) Execute(ctx context.Context, contractID string) (Outcome, error) {
	ctx, span := observability.StartSpan(ctx, "contracts.execute", attribute.String("contractId", contractID))
	defer span.End()

	unlock := e.lock(contractID)
	defer unlock()

	c, err := e.store.LoadContract(ctx, contractID)
	if err != nil {
		return "", err
	}
	if c.State != models.ContractStateActive {
		return "", apperrors.NewInvalidStateError("execute", string(c.State)).WithMetadata("contractId", c.ID)
	}

	now := e.clock()
	var unmet []string
	// conditions are not rechecked once an action has completed
	if !actionsStarted(c) {
		if unmet, err = e.evaluateConditions(ctx, c, now); err != nil {
			return "", err
		}
	}
	if len(unmet) > 0 {
		reason := strings.Join(unmet, "; ")
		c.Attempts = append(c.Attempts, models.ExecutionAttempt{At: now, Outcome: string(OutcomeNotEligible), Reason: reason})
		c.UpdatedAt = now
		if err := e.store.SaveContract(ctx, c); err != nil {
			return "", err
		}
		e.logger.Debug("Contract not yet eligible", map[string]interface{}{
			"contractId": c.ID,
			"reason":     reason,
		})
		return OutcomeNotEligible, nil
	}

	for i := range c.Actions {
		act := &c.Actions[i]
		if act.Status == models.ActionCompleted {
			continue
		}
		result, err := e.executor.Execute(ctx, *act, c)
		at := e.clock()
		if err != nil {
			if apperrors.Classify(err) == apperrors.DispositionRetry {
				return "", err
			}
			act.Status = models.ActionFailed
			act.ExecutedAt = &at
			act.Result = result
			act.Error = err.Error()
			reason := fmt.Sprintf("action %d (%s): %s", i, act.Type, err.Error())
			if err := e.failLocked(ctx, c, reason, apperrors.CodeOf(err), at); err != nil {
				return "", err
			}
			return OutcomeFailed, nil
		}
		act.Status = models.ActionCompleted
		act.ExecutedAt = &at
		act.Result = result
		act.Error = ""
		c.UpdatedAt = at
		if err := e.store.SaveContract(ctx, c); err != nil {
			return "", err
		}
	}

	at := e.clock()
	from := len(c.History)
	c.State = models.ContractStateCompleted
	c.Attempts = append(c.Attempts, models.ExecutionAttempt{At: at, Outcome: string(OutcomeCompleted)})
	c.AppendHistory(models.EventExecutionCompleted, at, map[string]interface{}{"actions": len(c.Actions)})
	if err := e.store.SaveContract(ctx, c); err != nil {
		return "", err
	}

	metrics.ContractTransitions.WithLabelValues(string(models.ContractStateActive), string(models.ContractStateCompleted)).Inc()
	e.logger.Info("Contract completed", map[string]interface{}{"contractId": c.ID})
	e.publish(ctx, c.ID, c.History[from:])
	return OutcomeCompleted, nil
}

func actionsStarted(c *models.Contract) bool {
	for _, a := range c.Actions {
		if a.Status == models.ActionCompleted {
			return true
		}
	}
	return false
}

// evaluateConditions records each condition's status and returns the
// reasons of those not MET.
func (e *Engine) evaluateConditions(ctx context.Context, c *models.Contract, now time.Time) ([]string, error) {
	var unmet []string
	for i := range c.Conditions {
		cond := &c.Conditions[i]
		out, err := e.evaluator.Evaluate(ctx, *cond)
		if err != nil {
			return nil, err
		}
		at := now
		cond.Status = out.Status
		cond.EvaluatedAt = &at
		cond.Reason = out.Reason
		if out.Status != models.ConditionMet {
			unmet = append(unmet, fmt.Sprintf("%s: %s", cond.Type, out.Reason))
		}
	}
	return unmet, nil
}

// Fail forces a non-terminal contract to FAILED, used by the scheduler when
// a contract exhausts its execution attempts.
func (e *Engine) Fail(ctx context.Context, contractID string, cause error) error {
	unlock := e.lock(contractID)
	defer unlock()

	c, err := e.store.LoadContract(ctx, contractID)
	if err != nil {
		return err
	}
	if c.State.IsTerminal() {
		return apperrors.NewInvalidStateError("fail", string(c.State)).WithMetadata("contractId", c.ID)
	}
	return e.failLocked(ctx, c, cause.Error(), apperrors.CodeOf(cause), e.clock())
}

func (e *Engine) failLocked(ctx context.Context, c *models.Contract, reason string, code apperrors.ErrorCode, at time.Time) error {
	prev := c.State
	from := len(c.History)
	c.State = models.ContractStateFailed
	c.FailureReason = reason
	c.Attempts = append(c.Attempts, models.ExecutionAttempt{At: at, Outcome: string(OutcomeFailed), Reason: reason})
	c.AppendHistory(models.EventExecutionFailed, at, map[string]interface{}{
		"reason": reason,
		"code":   string(code),
	})
	if err := e.store.SaveContract(ctx, c); err != nil {
		return err
	}

	metrics.ContractTransitions.WithLabelValues(string(prev), string(models.ContractStateFailed)).Inc()
	e.logger.Error("Contract execution failed", map[string]interface{}{
		"contractId": c.ID,
		"code":       string(code),
		"reason":     reason,
	})
	e.publish(ctx, c.ID, c.History[from:])
	return nil
}

// publish mirrors history entries to the publisher. Delivery failures are
// counted and logged; the history itself is the system of record.
func (e *Engine) publish(ctx context.Context, contractID string, entries []models.HistoryEntry) {
	if e.publisher == nil {
		return
	}
	for _, h := range entries {
		err := e.publisher.Publish(ctx, models.LifecycleEvent{
			ContractID: contractID,
			Event:      h.Event,
			Timestamp:  h.Timestamp,
			Data:       h.Data,
		})
		if err != nil {
			metrics.SinkFailures.WithLabelValues("events").Inc()
			e.logger.Warn("Lifecycle event not published", map[string]interface{}{
				"contractId": contractID,
				"event":      h.Event,
				"error":      err,
			})
		}
	}
}
