package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"posextract/internal/infrastructure"
	"posextract/pkg/contracts/domain"
)

// SubmitRequest is the input of Manager.Submit. Both fields are optional.
type SubmitRequest struct {
	DeliveryURL string `json:"delivery_url,omitempty" validate:"omitempty,url"`
	ReportDate  string `json:"report_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// Deliverer posts a finished job's payload. It never fails the job.
type Deliverer interface {
	Deliver(ctx context.Context, payload domain.DeliveryPayload, target string) bool
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// JobTimeout bounds a whole run. Zero means unbounded.
	JobTimeout time.Duration
	// DefaultDeliveryURL is used when a request carries none.
	DefaultDeliveryURL string
	// FinalizeRetryDelay is the first pause between attempts to record a
	// finished job. Zero means 100ms.
	FinalizeRetryDelay time.Duration
}

// finalizeAttempts bounds how many times a finished job's record is retried.
const finalizeAttempts = 4

// Manager admits jobs and runs them one at a time in the background.
type Manager struct {
	store       JobStore
	pipeline    Pipeline
	deliverer   Deliverer
	broadcaster *StatusBroadcaster
	tracer      *JobTracer
	metrics     *infrastructure.Metrics
	opts        ManagerOptions
	validate    *validator.Validate
	logger      *slog.Logger
	now         func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	running map[string]chan struct{}
}

// NewManager creates a Manager. deliverer, broadcaster, tracer and metrics
// may be nil.
func NewManager(store JobStore, pipeline Pipeline, deliverer Deliverer, broadcaster *StatusBroadcaster,
	tracer *JobTracer, metrics *infrastructure.Metrics, opts ManagerOptions, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:       store,
		pipeline:    pipeline,
		deliverer:   deliverer,
		broadcaster: broadcaster,
		tracer:      tracer,
		metrics:     metrics,
		opts:        opts,
		validate:    validator.New(),
		logger:      logger.With(slog.String("component", "job_manager")),
		now:         time.Now,
		baseCtx:     ctx,
		cancel:      cancel,
		running:     make(map[string]chan struct{}),
	}
}

// Submit admits a new job and starts it. It returns as soon as the job is
// running; a *ConflictError is returned while another job is active.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*domain.Job, error) {
	if err := m.validateRequest(req); err != nil {
		m.metrics.JobOutcome("rejected")
		return nil, err
	}
	if m.baseCtx.Err() != nil {
		return nil, &InternalError{Op: "submit", Err: errors.New("manager is shut down")}
	}

	job := &domain.Job{
		ID:          uuid.New().String(),
		Status:      domain.JobStatusPending,
		CreatedAt:   m.now().UTC(),
		DeliveryURL: req.DeliveryURL,
		ReportDate:  req.ReportDate,
	}

	if err := m.store.TryAdmit(ctx, job); err != nil {
		if errors.Is(err, ErrConflict) {
			m.metrics.JobOutcome("conflict")
			m.logger.WarnContext(ctx, "Job rejected, another job is active", slog.String("error", err.Error()))
			return nil, err
		}
		return nil, &InternalError{Op: "admit job", Err: err}
	}
	m.metrics.JobOutcome("submitted")

	started, err := m.store.Update(ctx, job.ID, func(j *domain.Job) error {
		now := m.now().UTC()
		j.Status = domain.JobStatusRunning
		j.StartedAt = &now
		return nil
	})
	if err != nil {
		if delErr := m.store.Delete(context.WithoutCancel(ctx), job.ID); delErr != nil {
			m.logger.ErrorContext(ctx, "Failed to roll back admission",
				slog.String("job_id", job.ID),
				slog.String("error", delErr.Error()))
		}
		return nil, &InternalError{Op: "start job", Err: err}
	}

	done := make(chan struct{})
	m.mu.Lock()
	m.running[job.ID] = done
	m.mu.Unlock()

	m.broadcaster.JobChanged(started)
	m.logger.InfoContext(ctx, "Job started",
		slog.String("job_id", job.ID),
		slog.String("report_date", job.ReportDate),
		slog.Bool("delivery", m.deliveryTarget(started) != ""))

	m.wg.Add(1)
	go m.run(started.Clone(), done)

	return started, nil
}

func (m *Manager) validateRequest(req SubmitRequest) error {
	err := m.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := map[string]string{"DeliveryURL": "delivery_url", "ReportDate": "report_date"}[fe.Field()]
		msg := fmt.Sprintf("failed %q check", fe.Tag())
		switch fe.Tag() {
		case "url":
			msg = "must be an absolute URL"
		case "datetime":
			msg = "must be a date in YYYY-MM-DD form"
		}
		return &ValidationError{Field: field, Message: msg}
	}
	return &ValidationError{Field: "request", Message: err.Error()}
}

// run is the job goroutine. The job is finalized exactly once, whatever
// the pipeline does.
func (m *Manager) run(job *domain.Job, done chan struct{}) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		delete(m.running, job.ID)
		m.mu.Unlock()
		close(done)
	}()

	logger := m.logger
	ctx := infrastructure.WithJobID(infrastructure.EnsureTraceID(m.baseCtx), job.ID)
	var cancel context.CancelFunc
	if m.opts.JobTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, m.opts.JobTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	ctx, endTrace := m.tracer.TraceJob(ctx, job.ID, job.ReportDate)
	start := m.now()

	result, err := m.execute(ctx, job, logger)
	endTrace(err)

	final, updErr := m.finalize(ctx, job.ID, result, err, logger)
	if updErr != nil {
		logger.ErrorContext(ctx, "Failed to finalize job", slog.String("error", updErr.Error()))
		if err == nil {
			err = &InternalError{Op: "finalize", Err: updErr}
		}
		final = m.markFailed(ctx, job, err, logger)
	}

	m.metrics.JobDuration(m.now().Sub(start))
	if err != nil {
		m.metrics.JobOutcome(string(domain.JobStatusFailed))
		logger.ErrorContext(ctx, "Job failed",
			slog.String("error", err.Error()),
			slog.String("error_type", string(GetErrorType(err))),
			slog.Duration("duration", m.now().Sub(start)))
	} else {
		m.metrics.JobOutcome(string(domain.JobStatusCompleted))
		logger.InfoContext(ctx, "Job completed",
			slog.Int("total_items", result.TotalItems),
			slog.Float64("total_sales", result.TotalSales),
			slog.Int("failed_locations", result.FailedLocations),
			slog.Duration("duration", m.now().Sub(start)))
	}
	m.broadcaster.JobChanged(final)

	// Delivery outlives the job deadline but not a shutdown.
	deliverCtx := infrastructure.WithTraceID(m.baseCtx, infrastructure.GetTraceID(ctx))
	m.deliver(infrastructure.WithJobID(deliverCtx, job.ID), final, logger)
}

// finalize records the job's outcome, retrying with exponential backoff
// while the store errors.
func (m *Manager) finalize(ctx context.Context, id string, result *domain.JobResult, jobErr error, logger *slog.Logger) (*domain.Job, error) {
	ctx = context.WithoutCancel(ctx)
	delay := m.opts.FinalizeRetryDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = delay
	b.MaxInterval = 20 * delay

	var final *domain.Job
	op := func() error {
		updated, err := m.store.Update(ctx, id, func(j *domain.Job) error {
			now := m.now().UTC()
			j.CompletedAt = &now
			if jobErr != nil {
				j.Status = domain.JobStatusFailed
				j.Error = jobErr.Error()
				return nil
			}
			j.Status = domain.JobStatusCompleted
			j.Result = result
			return nil
		})
		if errors.Is(err, ErrJobNotFound) || errors.Is(err, ErrInvalidTransition) {
			return backoff.Permanent(err)
		}
		final = updated
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.WarnContext(ctx, "Retrying job finalization",
			slog.String("error", err.Error()),
			slog.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(op, backoff.WithMaxRetries(b, finalizeAttempts-1), notify); err != nil {
		return nil, err
	}
	return final, nil
}

// markFailed is the last resort after finalize gave up: a bare failed
// transition without the result. If the store still refuses, the returned
// copy is only in memory, so broadcast and delivery can go ahead.
func (m *Manager) markFailed(ctx context.Context, job *domain.Job, jobErr error, logger *slog.Logger) *domain.Job {
	now := m.now().UTC()
	mark := func(j *domain.Job) error {
		j.Status = domain.JobStatusFailed
		j.Error = jobErr.Error()
		j.Result = nil
		j.CompletedAt = &now
		return nil
	}
	failed, err := m.store.Update(context.WithoutCancel(ctx), job.ID, mark)
	if err == nil {
		return failed
	}
	logger.ErrorContext(ctx, "Failed to record job failure", slog.String("error", err.Error()))
	local := job.Clone()
	_ = mark(local)
	return local
}

// execute runs the pipeline, turning a panic into an *InternalError.
func (m *Manager) execute(ctx context.Context, job *domain.Job, logger *slog.Logger) (result *domain.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Job panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			result = nil
			err = &InternalError{Op: "pipeline", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	var progress ProgressReporter
	if m.broadcaster != nil {
		progress = m.broadcaster
	}
	result, err = m.pipeline.Run(ctx, job, progress)
	if err == nil && result == nil {
		err = &InternalError{Op: "pipeline", Err: errors.New("no result")}
	}
	return result, err
}

func (m *Manager) deliveryTarget(job *domain.Job) string {
	if job.DeliveryURL != "" {
		return job.DeliveryURL
	}
	return m.opts.DefaultDeliveryURL
}

func (m *Manager) deliver(ctx context.Context, job *domain.Job, logger *slog.Logger) {
	target := m.deliveryTarget(job)
	if m.deliverer == nil || target == "" {
		m.broadcaster.SkipStage(job.ID, StageDelivery, "No delivery target")
		return
	}

	m.broadcaster.StartStage(job.ID, StageDelivery, "Delivering result")
	ok := m.deliverer.Deliver(ctx, domain.NewDeliveryPayload(job), target)
	if ok {
		m.broadcaster.CompleteStage(job.ID, StageDelivery, "Delivered")
	} else {
		m.broadcaster.FailStage(job.ID, StageDelivery, errors.New("delivery failed"))
	}

	updated, err := m.store.Update(context.WithoutCancel(ctx), job.ID, func(j *domain.Job) error {
		if !j.Status.IsTerminal() {
			return fmt.Errorf("job is still %s: %w", j.Status, ErrInvalidTransition)
		}
		j.Delivered = &ok
		return nil
	})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to record delivery outcome", slog.String("error", err.Error()))
		return
	}
	m.broadcaster.JobChanged(updated)
}

// GetStatus returns a copy of the job.
func (m *Manager) GetStatus(ctx context.Context, id string) (*domain.Job, error) {
	return m.store.Get(ctx, id)
}

// List returns the most recent jobs, newest first.
func (m *Manager) List(ctx context.Context, limit int) ([]*domain.Job, error) {
	return m.store.List(ctx, JobFilter{Limit: limit})
}

// Active returns the pending or running job, or ErrJobNotFound.
func (m *Manager) Active(ctx context.Context) (*domain.Job, error) {
	jobs, err := m.store.List(ctx, JobFilter{ActiveOnly: true, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, ErrJobNotFound
	}
	return jobs[0], nil
}

// Wait blocks until the job's goroutine has exited (delivery included) and
// returns the final job.
func (m *Manager) Wait(ctx context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	done, ok := m.running[id]
	m.mu.Unlock()
	if ok {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.store.Get(ctx, id)
}

// Shutdown cancels running jobs and waits for them to finalize.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("Job manager stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs to stop: %w", ctx.Err())
	}
}

// Recover fails jobs left active by a previous process, which would
// otherwise block admission forever on a persistent store.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	jobs, err := m.store.List(ctx, JobFilter{ActiveOnly: true})
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, job := range jobs {
		m.mu.Lock()
		_, ours := m.running[job.ID]
		m.mu.Unlock()
		if ours {
			continue
		}
		if job.Status == domain.JobStatusPending {
			if _, err := m.store.Update(ctx, job.ID, func(j *domain.Job) error {
				now := m.now().UTC()
				j.Status = domain.JobStatusRunning
				j.StartedAt = &now
				return nil
			}); err != nil {
				return recovered, fmt.Errorf("failed to recover job %s: %w", job.ID, err)
			}
		}
		_, err := m.store.Update(ctx, job.ID, func(j *domain.Job) error {
			now := m.now().UTC()
			j.Status = domain.JobStatusFailed
			j.CompletedAt = &now
			j.Error = "interrupted by restart"
			return nil
		})
		if err != nil {
			return recovered, fmt.Errorf("failed to recover job %s: %w", job.ID, err)
		}
		recovered++
		m.logger.WarnContext(ctx, "Marked interrupted job as failed", slog.String("job_id", job.ID))
	}
	return recovered, nil
}
