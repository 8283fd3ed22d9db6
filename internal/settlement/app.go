package settlement

import (
	"context"
	"fmt"
	"time"

	"settlement-engine/internal/actions"
	"settlement-engine/internal/approval"
	"settlement-engine/internal/common/config"
	"settlement-engine/internal/common/locks"
	"settlement-engine/internal/common/logger"
	"settlement-engine/internal/common/observability"
	"settlement-engine/internal/conditions"
	"settlement-engine/internal/contracts"
	"settlement-engine/internal/events"
	"settlement-engine/internal/ledger"
	"settlement-engine/internal/models"
	"settlement-engine/internal/risk"
	"settlement-engine/internal/scheduler"
	"settlement-engine/internal/store"
	"settlement-engine/internal/templates"
	executecontract "settlement-engine/internal/workers/contract/execute-contract"
	loanrepayment "settlement-engine/internal/workers/ledger/loan-repayment"
)

// Sealer is the cryptographic sealing collaborator as the core uses it.
type Sealer interface {
	RandomID() string
	Verify(partyID string, payload []byte, signatureB64 string) error
}

// Deps are the collaborators built by the composition root. Publisher,
// Audit, TemplateCache and Credit are optional. Conditions and Actions add
// custom handlers after the built-ins, replacing any of the same type.
type Deps struct {
	Config        *config.Config
	Store         store.Store
	Sealer        Sealer
	Queue         scheduler.Queue
	Publisher     contracts.Publisher
	Audit         ledger.AuditSink
	TemplateCache templates.Cache
	Credit        conditions.CreditSignal
	Observability *observability.Observability
	Clock         func() time.Time
	Conditions    map[models.ConditionType]conditions.Handler
	Actions       map[models.ActionType]actions.Handler
}

// App owns every component of a running engine.
type App struct {
	Service   *Service
	Engine    *contracts.Engine
	Scheduler *scheduler.Scheduler
	Ledger    *ledger.Ledger
	Templates *templates.Registry
	Risk      *risk.Engine

	store  store.Store
	logger logger.Logger
}

func NewApp(d Deps, log logger.Logger) (*App, error) {
	if d.Config == nil || d.Store == nil || d.Sealer == nil || d.Queue == nil {
		return nil, fmt.Errorf("config, store, sealer and queue are required")
	}
	cfg := d.Config
	if d.Publisher == nil {
		d.Publisher = events.NoOp{}
	}
	clock := d.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	// one table for contract and account ids; their key prefixes differ
	table := locks.NewTable()

	ledgerOpts := []ledger.Option{ledger.WithLocks(table), ledger.WithClock(clock)}
	if d.Audit != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithAuditSink(d.Audit))
	}
	l := ledger.New(d.Store, d.Sealer, log, ledgerOpts...)

	riskEngine := risk.NewEngine(d.Store, risk.PolicyFrom(cfg.Risk), log, risk.WithClock(clock))

	registryOpts := []templates.Option{templates.WithClock(clock)}
	if d.TemplateCache != nil {
		registryOpts = append(registryOpts, templates.WithCache(d.TemplateCache))
	}
	registry := templates.NewRegistry(d.Store, d.Sealer, log, registryOpts...)

	schedOpts := []scheduler.Option{scheduler.WithClock(clock)}
	if d.Observability != nil {
		schedOpts = append(schedOpts, scheduler.WithObservability(d.Observability))
	}
	sched := scheduler.New(d.Queue, scheduler.ConfigFrom(cfg.Scheduler), log, schedOpts...)

	evaluator := conditions.NewRegistry(log)
	conditions.RegisterBuiltins(evaluator, d.Store, d.Credit)
	for t, h := range d.Conditions {
		evaluator.Register(t, h)
	}

	executor := actions.NewExecutor(l, riskEngine, sched, log,
		actions.WithRiskGate(cfg.Risk.GateActions),
		actions.WithClock(clock),
	)
	for t, h := range d.Actions {
		executor.Register(t, h)
	}

	engine := contracts.NewEngine(d.Store, registry, approval.NewTracker(d.Sealer, log), evaluator, executor, d.Sealer, log,
		contracts.WithEnqueuer(sched),
		contracts.WithPublisher(d.Publisher),
		contracts.WithLocks(table),
		contracts.WithClock(clock),
	)

	registerWorkers(cfg, sched, engine, l, d.Publisher, log)

	return &App{
		Service:   NewService(engine, registry, l, riskEngine, log, WithRiskGate(cfg.Risk.GateActions)),
		Engine:    engine,
		Scheduler: sched,
		Ledger:    l,
		Templates: registry,
		Risk:      riskEngine,
		store:     d.Store,
		logger:    logger.ForComponent(log, "app"),
	}, nil
}

func registerWorkers(cfg *config.Config, sched *scheduler.Scheduler, engine *contracts.Engine, l *ledger.Ledger, pub contracts.Publisher, log logger.Logger) {
	if config.IsWorkerEnabled(cfg, executecontract.TaskType) {
		wc := config.GetWorkerConfig(cfg, executecontract.TaskType)
		sched.Register(executecontract.TaskType, executecontract.NewHandler(executecontract.LoadConfig(wc), engine, log), wc)
	}
	if config.IsWorkerEnabled(cfg, loanrepayment.TaskType) {
		wc := config.GetWorkerConfig(cfg, loanrepayment.TaskType)
		sched.Register(loanrepayment.TaskType, loanrepayment.NewHandler(loanrepayment.LoadConfig(wc), l, pub, log), wc)
	}
}

// Seed registers the standard templates and any definitions that are not
// yet known by name.
func (a *App) Seed(ctx context.Context, defs []templates.Definition) error {
	if _, err := a.Templates.EnsureStandard(ctx); err != nil {
		return fmt.Errorf("seed standard templates: %w", err)
	}
	if len(defs) == 0 {
		return nil
	}
	if _, err := a.Templates.Ensure(ctx, defs); err != nil {
		return fmt.Errorf("seed registry templates: %w", err)
	}
	return nil
}

// Run re-enqueues ACTIVE contracts and processes scheduled jobs until ctx
// is cancelled.
func (a *App) Run(ctx context.Context) error {
	n, err := a.Scheduler.Recover(ctx, a.store)
	if err != nil {
		return fmt.Errorf("recover active contracts: %w", err)
	}
	a.logger.Info("Engine running", map[string]interface{}{"recovered": n})
	return a.Scheduler.Run(ctx)
}
