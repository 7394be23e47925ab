package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Handler executes the payload of a due job. It must return promptly once
// ctx is cancelled.
type Handler func(ctx context.Context, key string, payload []byte) error

// RunnerOptions tunes a Runner. Zero values take defaults.
type RunnerOptions struct {
	// Interval between polls for due jobs. Default 30s.
	Interval time.Duration
	// MaxAttempts before a failing job is marked failed. Default 5.
	MaxAttempts int
	// Backoff is multiplied by the attempt count to delay a retry. Default 1m.
	Backoff time.Duration
	// BatchSize caps the jobs claimed per poll. Default 100.
	BatchSize int
	Logger    *slog.Logger
}

// Runner polls a Queue and executes due jobs one at a time.
type Runner struct {
	queue   *Queue
	handler Handler
	opts    RunnerOptions
	logger  *slog.Logger
}

// NewRunner creates a runner executing jobs from q with h.
func NewRunner(q *Queue, h Handler, opts RunnerOptions) *Runner {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{queue: q, handler: h, opts: opts, logger: logger}
}

// Run recovers jobs interrupted by a previous crash, then polls until ctx is
// cancelled.
func (r *Runner) Run(ctx context.Context) error {
	n, err := r.queue.recoverStale(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		r.logger.Warn("recovered interrupted jobs", "count", n)
	}

	r.logger.Info("job runner started", "interval", r.opts.Interval)

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunDue(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("running due jobs", "error", err)
		}
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunDue executes every job that is due now and returns how many fired.
func (r *Runner) RunDue(ctx context.Context) (int, error) {
	due, err := r.queue.Due(ctx, r.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, job := range due {
		if ctx.Err() != nil {
			break
		}
		ok, err := r.execute(ctx, job)
		if err != nil {
			return fired, err
		}
		if ok {
			fired++
		}
	}
	return fired, nil
}

// execute claims and runs one job. It reports whether the handler succeeded.
func (r *Runner) execute(ctx context.Context, job Job) (bool, error) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Track before claiming so a replacement that lands right after the
	// claim can still interrupt this execution.
	r.queue.track(job.Key, job.ID, cancel)
	defer r.queue.untrack(job.Key, job.ID)

	claimed, err := r.queue.claim(ctx, job.Key, job.ID)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}
	attempt := job.Attempts + 1

	herr := r.handler(jobCtx, job.Key, job.Payload)

	// Record the outcome even if shutdown cancelled ctx meanwhile.
	wctx := context.WithoutCancel(ctx)

	switch {
	case herr == nil:
		r.logger.Info("job fired", "key", job.Key, "attempt", attempt)
		return true, r.queue.finish(wctx, job.Key, job.ID, `status = 'fired', last_error = ''`)

	case ctx.Err() != nil:
		// Shutdown: hand the job back without spending an attempt.
		return false, r.queue.finish(wctx, job.Key, job.ID, `status = 'pending', attempts = attempts - 1`)

	case jobCtx.Err() != nil:
		// Replaced or cancelled while running; the row already says so.
		r.logger.Info("job interrupted", "key", job.Key)
		return false, nil

	case attempt >= r.opts.MaxAttempts:
		r.logger.Error("job failed", "key", job.Key, "attempt", attempt, "error", herr)
		return false, r.queue.finish(wctx, job.Key, job.ID,
			`status = 'failed', last_error = ?`, herr.Error())

	default:
		retryAt := r.queue.clock.Now().Add(r.opts.Backoff * time.Duration(attempt))
		r.logger.Warn("job attempt failed, retrying",
			"key", job.Key, "attempt", attempt, "retry_at", retryAt, "error", herr)
		if err := r.queue.finish(wctx, job.Key, job.ID,
			`status = 'pending', run_at = ?, last_error = ?`, millis(retryAt), herr.Error()); err != nil {
			return false, fmt.Errorf("scheduling retry: %w", err)
		}
		return false, nil
	}
}
