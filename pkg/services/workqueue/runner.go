// Package workqueue runs deferred generation-job steps. Steps are executed
// one at a time so only a single model call is ever in flight, and a job
// that still has work re-enqueues at the tail so concurrent jobs interleave
// fairly instead of head-of-line blocking.
package workqueue

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loci-ai/loci-engine/pkg/llm"
)

// StepFunc advances a job by one pipeline step. It returns requeue=true when
// the job has more work, and false when it reached a terminal status. The
// step owns all persistence; the runner only decides what to do next.
type StepFunc func(ctx context.Context) (requeue bool, err error)

// RetryConfig configures retries of transient step failures.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultRetryConfig returns the default backoff schedule: 2s, 4s, 8s, 16s,
// then capped at 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
	}
}

type entry struct {
	jobID uuid.UUID
	step  StepFunc
}

// Runner is a serialized executor of job steps.
type Runner struct {
	mu        sync.Mutex
	queue     []entry
	active    map[uuid.UUID]context.CancelFunc
	cancelled map[uuid.UUID]bool
	running   bool
	closed    bool

	retryConfig RetryConfig
	wake        chan struct{}
	wg          sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	onFailure func(jobID uuid.UUID, err error)

	logger *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(r *Runner) {
		r.retryConfig = cfg
	}
}

// New creates a Runner. Call Start before submitting work.
func New(logger *zap.Logger, opts ...Option) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		active:      make(map[uuid.UUID]context.CancelFunc),
		cancelled:   make(map[uuid.UUID]bool),
		retryConfig: DefaultRetryConfig(),
		wake:        make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.Named("workqueue"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetOnFailure sets the callback invoked when a step gives up: either a
// non-retryable error or retries exhausted. The callback must not block.
func (r *Runner) SetOnFailure(fn func(jobID uuid.UUID, err error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFailure = fn
}

// Start launches the worker goroutine.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running || r.closed {
		return
	}
	r.running = true
	r.wg.Add(1)
	go r.loop()
}

// Submit schedules the next step of a job. Safe to call from inside a step.
func (r *Runner) Submit(jobID uuid.UUID, step StepFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		r.logger.Warn("runner closed, dropping job step", zap.String("job_id", jobID.String()))
		return
	}
	if r.cancelled[jobID] {
		delete(r.cancelled, jobID)
		r.logger.Info("job cancelled, dropping queued step", zap.String("job_id", jobID.String()))
		return
	}

	r.queue = append(r.queue, entry{jobID: jobID, step: step})
	r.logger.Debug("job step enqueued",
		zap.String("job_id", jobID.String()),
		zap.Int("queue_depth", len(r.queue)))

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// CancelJob stops any queued or in-flight step for the job. The in-flight
// step sees context cancellation; persistence of the cancelled status is the
// caller's responsibility.
func (r *Runner) CancelJob(jobID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.queue[:0]
	dropped := false
	for _, e := range r.queue {
		if e.jobID == jobID {
			dropped = true
			continue
		}
		kept = append(kept, e)
	}
	r.queue = kept

	if cancel, ok := r.active[jobID]; ok {
		cancel()
		r.logger.Info("cancelling in-flight job step", zap.String("job_id", jobID.String()))
		return
	}
	if dropped {
		r.logger.Info("dropped queued job steps", zap.String("job_id", jobID.String()))
		return
	}

	// Nothing queued or running yet; remember the cancel so a late Submit
	// from a racing step is dropped.
	r.cancelled[jobID] = true
}

// Shutdown stops accepting work, cancels the in-flight step, and waits for
// the worker to drain or ctx to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) loop() {
	defer r.wg.Done()

	for {
		e, ok := r.next()
		if !ok {
			select {
			case <-r.ctx.Done():
				return
			case <-r.wake:
				continue
			}
		}

		r.runStep(e)
	}
}

// next pops the head of the queue.
func (r *Runner) next() (entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.queue) == 0 {
		return entry{}, false
	}
	e := r.queue[0]
	r.queue = r.queue[1:]
	return e, true
}

// runStep executes one step with retries for transient errors.
func (r *Runner) runStep(e entry) {
	stepCtx, stepCancel := context.WithCancel(r.ctx)
	defer stepCancel()

	r.mu.Lock()
	r.active[e.jobID] = stepCancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.active, e.jobID)
		r.mu.Unlock()
	}()

	var lastErr error

	for attempt := 0; attempt <= r.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := r.backoff(attempt)
			r.logger.Info("retrying job step after backoff",
				zap.String("job_id", e.jobID.String()),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.retryConfig.MaxRetries),
				zap.Duration("backoff", backoff))

			select {
			case <-stepCtx.Done():
				r.logger.Info("job step cancelled during backoff",
					zap.String("job_id", e.jobID.String()))
				return
			case <-time.After(backoff):
			}
		}

		requeue, err := e.step(stepCtx)
		if err == nil {
			if requeue {
				r.Submit(e.jobID, e.step)
			}
			return
		}
		lastErr = err

		if errors.Is(err, context.Canceled) {
			r.logger.Info("job step cancelled", zap.String("job_id", e.jobID.String()))
			return
		}
		if !llm.IsRetryable(err) {
			r.logger.Warn("non-retryable step error",
				zap.String("job_id", e.jobID.String()),
				zap.Error(err))
			r.notifyFailure(e.jobID, err)
			return
		}
	}

	r.logger.Error("job step failed after max retries",
		zap.String("job_id", e.jobID.String()),
		zap.Int("max_retries", r.retryConfig.MaxRetries),
		zap.Error(lastErr))
	r.notifyFailure(e.jobID, lastErr)
}

func (r *Runner) notifyFailure(jobID uuid.UUID, err error) {
	r.mu.Lock()
	fn := r.onFailure
	r.mu.Unlock()
	if fn != nil {
		fn(jobID, err)
	}
}

// backoff computes exponential backoff with ±10% jitter.
func (r *Runner) backoff(attempt int) time.Duration {
	d := float64(r.retryConfig.InitialBackoff) *
		math.Pow(r.retryConfig.BackoffFactor, float64(attempt-1))
	if d > float64(r.retryConfig.MaxBackoff) {
		d = float64(r.retryConfig.MaxBackoff)
	}
	jitter := d * 0.1 * (rand.Float64()*2 - 1)
	return time.Duration(d + jitter)
}
