package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"settlement-engine/internal/common/config"
	apperrors "settlement-engine/internal/common/errors"
	"settlement-engine/internal/common/logger"
	"settlement-engine/internal/common/metrics"
	"settlement-engine/internal/common/observability"
	"settlement-engine/internal/models"
)

// TaskExecuteContract rechecks an ACTIVE contract's conditions.
const TaskExecuteContract = "execute-contract"

// Result tells the scheduler what to do with a job that did not error.
type Result int

const (
	// Done drops the job.
	Done Result = iota
	// Reschedule re-enqueues the job after a backoff delay.
	Reschedule
)

// Handler processes one task type.
type Handler interface {
	// Handle may update job.Payload; a rescheduled job keeps the changes.
	Handle(ctx context.Context, job *models.Job) (Result, error)
	// Exhausted is called instead of re-enqueueing once a job has used
	// its attempts.
	Exhausted(ctx context.Context, job models.Job) error
}

// Config is the scheduler policy.
type Config struct {
	Workers        int
	BatchSize      int
	PollInterval   time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	MaxAttempts    int
}

// ConfigFrom converts the millisecond based config section.
func ConfigFrom(c config.SchedulerConfig) Config {
	return Config{
		Workers:        c.Workers,
		BatchSize:      c.BatchSize,
		PollInterval:   config.GetDuration(c.PollInterval),
		BackoffInitial: config.GetDuration(c.BackoffInitial),
		BackoffMax:     config.GetDuration(c.BackoffMax),
		MaxAttempts:    c.MaxAttempts,
	}
}

type registration struct {
	handler     Handler
	timeout     time.Duration
	maxAttempts int
	slots       chan struct{}
}

type Scheduler struct {
	queue    Queue
	cfg      Config
	errs     *apperrors.ErrorHandler
	obs      *observability.Observability
	clock    func() time.Time
	logger   logger.Logger
	mu       sync.RWMutex
	handlers map[string]*registration
}

type Option func(*Scheduler)

func WithObservability(o *observability.Observability) Option {
	return func(s *Scheduler) { s.obs = o }
}

func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) { s.clock = clock }
}

func New(queue Queue, cfg Config, log logger.Logger, opts ...Option) *Scheduler {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	log = logger.ForComponent(log, "scheduler")
	s := &Scheduler{
		queue:    queue,
		cfg:      cfg,
		errs:     apperrors.NewErrorHandler(log),
		clock:    func() time.Time { return time.Now().UTC() },
		logger:   log,
		handlers: make(map[string]*registration),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register installs the handler for taskType. MaxJobsActive bounds how many
// jobs of the type run at once and MaxRetries, when set, overrides the
// scheduler's attempt limit.
func (s *Scheduler) Register(taskType string, h Handler, wc config.WorkerConfig) {
	reg := &registration{
		handler:     h,
		timeout:     config.GetDuration(wc.Timeout),
		maxAttempts: s.cfg.MaxAttempts,
	}
	if wc.MaxRetries > 0 {
		reg.maxAttempts = wc.MaxRetries
	}
	if wc.MaxJobsActive > 0 {
		reg.slots = make(chan struct{}, wc.MaxJobsActive)
	}
	s.mu.Lock()
	s.handlers[taskType] = reg
	s.mu.Unlock()
	s.logger.Info("Task handler registered", map[string]interface{}{
		"taskType":      taskType,
		"maxJobsActive": wc.MaxJobsActive,
		"maxAttempts":   reg.maxAttempts,
	})
}

// Enqueue schedules an execution recheck of contractID.
func (s *Scheduler) Enqueue(ctx context.Context, contractID string, notBefore time.Time) error {
	return s.Schedule(ctx, models.Job{
		TaskType:   TaskExecuteContract,
		ContractID: contractID,
		NotBefore:  notBefore,
	})
}

// Schedule pushes a job. A zero NotBefore means now.
func (s *Scheduler) Schedule(ctx context.Context, job models.Job) error {
	now := s.clock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.NotBefore.IsZero() {
		job.NotBefore = now
	}
	job.EnqueuedAt = now
	if err := s.queue.Push(ctx, job); err != nil {
		return err
	}
	s.logger.Debug("Job scheduled", map[string]interface{}{
		"jobId":      job.ID,
		"taskType":   job.TaskType,
		"contractId": job.ContractID,
		"notBefore":  job.NotBefore,
	})
	return nil
}

// ContractLister lists contracts by state.
type ContractLister interface {
	ListContractsByState(ctx context.Context, state models.ContractState) ([]*models.Contract, error)
}

// Recover enqueues every ACTIVE contract that has no queued execution job
// and returns how many were enqueued.
func (s *Scheduler) Recover(ctx context.Context, lister ContractLister) (int, error) {
	active, err := lister.ListContractsByState(ctx, models.ContractStateActive)
	if err != nil {
		return 0, err
	}
	queued, err := s.queue.Scheduled(ctx, TaskExecuteContract)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range active {
		if _, ok := queued[c.ID]; ok {
			continue
		}
		if err := s.Enqueue(ctx, c.ID, s.clock()); err != nil {
			return n, err
		}
		n++
	}
	s.logger.Info("Active contracts recovered", map[string]interface{}{
		"active":   len(active),
		"enqueued": n,
	})
	return n, nil
}

// Backoff is initial * 2^(attempt-1), capped at max.
func Backoff(attempt int, initial, max time.Duration) time.Duration {
	if initial <= 0 {
		return 0
	}
	d := initial
	for i := 1; i < attempt; i++ {
		if d >= max/2 {
			return max
		}
		d *= 2
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// ==========================
// Worker loop
// ==========================

// Run dispatches due jobs to the worker pool until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	jobs := make(chan models.Job)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		return s.dispatch(gctx, jobs)
	})
	for i := 0; i < s.cfg.Workers; i++ {
		g.Go(func() error {
			for job := range jobs {
				s.process(gctx, job)
			}
			return nil
		})
	}

	s.logger.Info("Scheduler started", map[string]interface{}{"workers": s.cfg.Workers})
	err := g.Wait()
	s.logger.Info("Scheduler stopped", nil)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Scheduler) dispatch(ctx context.Context, out chan<- models.Job) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := s.drain(ctx, out); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drain hands out due jobs until the queue has none left.
func (s *Scheduler) drain(ctx context.Context, out chan<- models.Job) error {
	for {
		due, err := s.queue.PopDue(ctx, s.clock(), s.cfg.BatchSize)
		if err != nil {
			s.logger.Warn("Queue poll failed", map[string]interface{}{"error": err})
			return nil
		}
		s.observeDepth(ctx)
		if len(due) == 0 {
			return nil
		}
		for i, job := range due {
			select {
			case out <- job:
			case <-ctx.Done():
				s.requeue(due[i:])
				return ctx.Err()
			}
		}
	}
}

func (s *Scheduler) observeDepth(ctx context.Context) {
	if n, err := s.queue.Len(ctx); err == nil {
		metrics.SchedulerQueueDepth.Set(float64(n))
	}
}

// requeue returns undelivered jobs to the queue during shutdown.
func (s *Scheduler) requeue(jobs []models.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, job := range jobs {
		if err := s.queue.Push(ctx, job); err != nil {
			s.logger.Error("Failed to requeue job on shutdown", map[string]interface{}{
				"jobId": job.ID,
				"error": err,
			})
		}
	}
}

func (s *Scheduler) lookup(taskType string) (*registration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.handlers[taskType]
	return reg, ok
}

func (s *Scheduler) process(ctx context.Context, job models.Job) {
	reg, ok := s.lookup(job.TaskType)
	if !ok {
		s.logger.Error("No handler for task type", map[string]interface{}{
			"jobId":    job.ID,
			"taskType": job.TaskType,
		})
		s.record(ctx, job.TaskType, "unhandled", 0)
		return
	}
	if reg.slots != nil {
		select {
		case reg.slots <- struct{}{}:
			defer func() { <-reg.slots }()
		case <-ctx.Done():
			s.requeue([]models.Job{job})
			return
		}
	}

	job.Attempt++
	metrics.SchedulerJobsActive.WithLabelValues(job.TaskType).Inc()
	defer metrics.SchedulerJobsActive.WithLabelValues(job.TaskType).Dec()

	start := s.clock()
	res, err := s.handle(ctx, reg, &job)
	elapsed := s.clock().Sub(start)

	if ctx.Err() != nil && err != nil {
		// interrupted by shutdown: keep the attempt for the next run
		job.Attempt--
		s.requeue([]models.Job{job})
		s.record(ctx, job.TaskType, "interrupted", elapsed)
		return
	}

	switch {
	case err != nil:
		switch apperrors.Classify(err) {
		case apperrors.DispositionDrop:
			s.logger.Debug("Job dropped", map[string]interface{}{
				"jobId":      job.ID,
				"contractId": job.ContractID,
				"reason":     err.Error(),
			})
			s.record(ctx, job.TaskType, "dropped", elapsed)
		case apperrors.DispositionRetry:
			s.errs.HandleJobError(job.ID, job.TaskType, job.Attempt, err)
			s.retry(ctx, reg, job, elapsed)
		default:
			s.errs.HandleJobError(job.ID, job.TaskType, job.Attempt, err)
			s.record(ctx, job.TaskType, "failed", elapsed)
		}
	case res == Reschedule:
		s.retry(ctx, reg, job, elapsed)
	default:
		s.record(ctx, job.TaskType, "done", elapsed)
	}
}

func (s *Scheduler) handle(ctx context.Context, reg *registration, job *models.Job) (res Result, err error) {
	ctx, span := observability.StartSpan(ctx, "scheduler.job",
		attribute.String("taskType", job.TaskType),
		attribute.String("contractId", job.ContractID),
		attribute.Int("attempt", job.Attempt),
	)
	defer span.End()
	if reg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, reg.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return reg.handler.Handle(ctx, job)
}

func (s *Scheduler) retry(ctx context.Context, reg *registration, job models.Job, elapsed time.Duration) {
	if job.Attempt >= reg.maxAttempts {
		s.logger.Warn("Job attempts exhausted", map[string]interface{}{
			"jobId":      job.ID,
			"taskType":   job.TaskType,
			"contractId": job.ContractID,
			"attempts":   job.Attempt,
		})
		if err := reg.handler.Exhausted(ctx, job); err != nil {
			s.errs.HandleJobError(job.ID, job.TaskType, job.Attempt, err)
		}
		s.record(ctx, job.TaskType, "exhausted", elapsed)
		return
	}

	job.NotBefore = s.clock().Add(Backoff(job.Attempt, s.cfg.BackoffInitial, s.cfg.BackoffMax))
	if err := s.queue.Push(ctx, job); err != nil {
		s.logger.Error("Failed to reschedule job", map[string]interface{}{
			"jobId":      job.ID,
			"contractId": job.ContractID,
			"error":      err,
		})
		s.record(ctx, job.TaskType, "lost", elapsed)
		return
	}
	s.record(ctx, job.TaskType, "rescheduled", elapsed)
}

func (s *Scheduler) record(ctx context.Context, taskType, outcome string, elapsed time.Duration) {
	metrics.SchedulerJobs.WithLabelValues(taskType, outcome).Inc()
	metrics.SchedulerJobDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
	if s.obs != nil {
		s.obs.RecordJobProcessed(ctx, taskType, outcome)
		s.obs.RecordJobDuration(ctx, taskType, elapsed)
	}
}
