package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mythidas/MSPByte-Remake-sub005/bus"
	"github.com/Mythidas/MSPByte-Remake-sub005/errors"
	"github.com/Mythidas/MSPByte-Remake-sub005/metric"
	"github.com/Mythidas/MSPByte-Remake-sub005/pkg/retry"
	"github.com/Mythidas/MSPByte-Remake-sub005/pkg/worker"
	"github.com/Mythidas/MSPByte-Remake-sub005/store"
	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

// Config holds queue tuning knobs.
type Config struct {
	Concurrency       int           // worker pool size
	QueueSize         int           // worker pool buffer
	PollInterval      time.Duration // how often the dispatcher polls the backend
	VisibilityTimeout time.Duration // processing deadline before a job is considered stalled
	MaxAttempts       int           // total attempts before terminal failure
	Backoff           retry.Config  // delay schedule between attempts
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       8,
		QueueSize:         256,
		PollInterval:      500 * time.Millisecond,
		VisibilityTimeout: 5 * time.Minute,
		MaxAttempts:       4,
		Backoff: retry.Config{
			InitialDelay: 30 * time.Second,
			MaxDelay:     15 * time.Minute,
			Multiplier:   2.0,
		},
	}
}

// Queue is the job queue engine: it accepts jobs, dispatches them onto the
// message bus as sync-stage envelopes, and owns every job status
// transition. Stage components close jobs through CompleteJob/FailJob.
type Queue struct {
	backend Backend
	bus     bus.Bus
	history *store.History
	metrics *metric.Registry
	logger  *slog.Logger
	cfg     Config

	pool *worker.Pool[*types.Job]

	recurringMu sync.Mutex
	recurring   map[string]*recurringEntry

	lifecycleMu sync.Mutex
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New creates a queue over the given backend and bus. history may be nil in
// tests that do not assert on persisted outcomes.
func New(backend Backend, b bus.Bus, history *store.History, metrics *metric.Registry, logger *slog.Logger, cfg Config) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = DefaultConfig().VisibilityTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}

	return &Queue{
		backend:   backend,
		bus:       b,
		history:   history,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		recurring: make(map[string]*recurringEntry),
	}
}

// Schedule validates and enqueues a job, returning its ID.
func (q *Queue) Schedule(ctx context.Context, job *types.Job) (string, error) {
	if err := job.Validate(); err != nil {
		return "", errors.WrapInvalid(err, "Queue", "Schedule", "validate job")
	}

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.SyncID == "" {
		job.SyncID = uuid.New().String()
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = q.cfg.MaxAttempts
	}
	job.Status = types.JobPending
	job.Attempt = 0
	job.CreatedAt = time.Now().UTC()

	if err := q.backend.Enqueue(ctx, job, 0); err != nil {
		return "", err
	}

	q.logger.Debug("job scheduled",
		"job_id", job.ID,
		"action", job.Action,
		"tenant_id", job.TenantID,
		"priority", job.Priority)
	return job.ID, nil
}

// Status returns the current status of a job.
func (q *Queue) Status(ctx context.Context, jobID string) (StatusInfo, error) {
	job, err := q.backend.Get(ctx, jobID)
	if err != nil {
		return StatusInfo{}, err
	}
	return StatusInfo{Status: job.Status, Attempt: job.Attempt, Error: job.Error}, nil
}

// Stats reports queue depths by state.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	return q.backend.Stats(ctx)
}

// HealthCheck verifies the backing store is reachable.
func (q *Queue) HealthCheck(ctx context.Context) error {
	return q.backend.Ping(ctx)
}

// Start launches the dispatcher, reaper, and recurring scheduler.
func (q *Queue) Start(ctx context.Context) error {
	q.lifecycleMu.Lock()
	defer q.lifecycleMu.Unlock()

	if q.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Queue", "Start", "check running state")
	}

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	q.pool = worker.NewPool(q.cfg.Concurrency, q.cfg.QueueSize, q.dispatch)
	if err := q.pool.Start(runCtx); err != nil {
		cancel()
		return err
	}

	q.wg.Add(3)
	go q.dispatchLoop(runCtx)
	go q.reapLoop(runCtx)
	go q.recurringLoop(runCtx)

	q.running = true
	q.logger.Info("job queue started",
		"concurrency", q.cfg.Concurrency,
		"max_attempts", q.cfg.MaxAttempts,
		"visibility_timeout", q.cfg.VisibilityTimeout)
	return nil
}

// Stop halts all loops and drains the worker pool.
func (q *Queue) Stop(timeout time.Duration) error {
	q.lifecycleMu.Lock()
	defer q.lifecycleMu.Unlock()

	if !q.running {
		return nil
	}
	q.cancel()
	q.wg.Wait()
	q.running = false
	return q.pool.Stop(timeout)
}

// dispatchLoop polls the backend and feeds the worker pool.
func (q *Queue) dispatchLoop(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				job, err := q.backend.Dequeue(ctx, q.cfg.VisibilityTimeout)
				if err != nil {
					q.logger.Error("dequeue failed", "error", err)
					break
				}
				if job == nil {
					break
				}

				job.Status = types.JobProcessing
				job.Attempt++
				if job.StartedAt.IsZero() {
					job.StartedAt = time.Now().UTC()
				}
				if err := q.backend.Update(ctx, job); err != nil {
					q.logger.Error("job status update failed", "job_id", job.ID, "error", err)
					continue
				}

				if err := q.pool.Submit(job); err != nil {
					// Pool is saturated; the visibility timeout will
					// return the job to pending.
					q.logger.Debug("worker pool full, job will be reaped", "job_id", job.ID)
					break
				}
			}
		}
	}
}

// dispatch publishes the job onto the bus for its fetch stage. The job
// stays processing until the consuming stage closes it.
func (q *Queue) dispatch(ctx context.Context, job *types.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return q.FailJob(ctx, job.ID, errors.WrapInvalid(err, "Queue", "dispatch", "marshal job"))
	}

	env := &types.Envelope{
		EventID:         uuid.New().String(),
		ParentEventID:   job.ID,
		TraceID:         job.SyncID,
		TenantID:        job.TenantID,
		IntegrationType: job.IntegrationType,
		EntityType:      job.EntityType,
		DataSourceID:    job.DataSourceID,
		Stage:           types.StageSync,
		CreatedAt:       time.Now().UTC(),
		Payload:         payload,
	}

	if err := q.bus.Publish(ctx, env); err != nil {
		q.logger.Error("job dispatch failed", "job_id", job.ID, "error", err)
		return q.FailJob(ctx, job.ID, err)
	}
	return nil
}

// CompleteJob marks a processing job completed and persists its history.
func (q *Queue) CompleteJob(ctx context.Context, jobID string, metrics types.JobMetrics) error {
	job, err := q.backend.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Status.CanTransitionTo(types.JobCompleted) {
		return errors.WrapInvalid(
			errors.ErrJobNotProcessing, "Queue", "CompleteJob",
			fmt.Sprintf("job is %s", job.Status))
	}

	job.Status = types.JobCompleted
	job.CompletedAt = time.Now().UTC()
	if err := q.backend.Update(ctx, job); err != nil {
		return err
	}
	if err := q.backend.Release(ctx, jobID); err != nil {
		return err
	}

	q.countJob(job)
	q.writeHistory(ctx, job, metrics)

	q.logger.Info("job completed",
		"job_id", job.ID,
		"action", job.Action,
		"attempt", job.Attempt,
		"duration_ms", job.CompletedAt.Sub(job.StartedAt).Milliseconds())
	return nil
}

// FailJob records a job failure. Transient errors re-enter the pending
// queue with exponential backoff until attempts are exhausted; invalid and
// fatal errors, or exhaustion, make the failure terminal. Terminal failures
// are surfaced to job history, never silently dropped.
func (q *Queue) FailJob(ctx context.Context, jobID string, jobErr error) error {
	job, err := q.backend.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	if err := q.backend.Release(ctx, jobID); err != nil {
		return err
	}

	job.Error = jobErr.Error()
	retryable := errors.Classify(jobErr) == errors.ErrorTransient

	if retryable && job.Attempt < job.MaxAttempts {
		job.Status = types.JobPending
		delay := q.cfg.Backoff.Delay(job.Attempt)
		if err := q.backend.Enqueue(ctx, job, delay); err != nil {
			return err
		}
		if q.metrics != nil {
			q.metrics.Core.JobRetriesTotal.WithLabelValues(job.Action).Inc()
		}
		q.logger.Warn("job retry scheduled",
			"job_id", job.ID,
			"attempt", job.Attempt,
			"max_attempts", job.MaxAttempts,
			"delay", delay,
			"error", jobErr)
		return nil
	}

	job.Status = types.JobFailed
	job.CompletedAt = time.Now().UTC()
	if err := q.backend.Update(ctx, job); err != nil {
		return err
	}

	q.countJob(job)
	var metrics types.JobMetrics
	metrics.Record(types.StageFailed, types.StageMetrics{Error: job.Error})
	q.writeHistory(ctx, job, metrics)

	q.logger.Error("job failed terminally",
		"job_id", job.ID,
		"action", job.Action,
		"attempt", job.Attempt,
		"error", jobErr)
	return nil
}

func (q *Queue) countJob(job *types.Job) {
	if q.metrics != nil {
		q.metrics.Core.JobsTotal.WithLabelValues(job.Action, string(job.Status)).Inc()
	}
	if rb, ok := q.backend.(*RedisBackend); ok {
		rb.IncrementCounter(context.Background(), job.Status)
	}
}

func (q *Queue) writeHistory(ctx context.Context, job *types.Job, metrics types.JobMetrics) {
	if q.history == nil {
		return
	}
	h := &types.JobHistory{
		TenantID:      job.TenantID,
		IntegrationID: job.IntegrationType,
		DataSourceID:  job.DataSourceID,
		JobID:         job.ID,
		Action:        job.Action,
		Status:        job.Status,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
		DurationMs:    job.CompletedAt.Sub(job.StartedAt).Milliseconds(),
		Metrics:       metrics,
		Error:         job.Error,
	}
	if err := q.history.Insert(ctx, h); err != nil {
		q.logger.Error("job history write failed", "job_id", job.ID, "error", err)
	}
}

// reapLoop returns stalled jobs to the retry path.
func (q *Queue) reapLoop(ctx context.Context) {
	defer q.wg.Done()

	interval := q.cfg.VisibilityTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stalled, err := q.backend.ReapStalled(ctx, time.Now())
			if err != nil {
				q.logger.Error("stalled job reap failed", "error", err)
				continue
			}
			for _, job := range stalled {
				q.logger.Warn("reaping stalled job", "job_id", job.ID, "attempt", job.Attempt)
				if err := q.FailJob(ctx, job.ID, errors.WrapTransient(
					errors.ErrConnectorTimeout, "Queue", "reapLoop", "job attempt stalled")); err != nil {
					q.logger.Error("stalled job requeue failed", "job_id", job.ID, "error", err)
				}
			}
		}
	}
}
