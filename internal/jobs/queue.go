// Package jobs is a persistent deferred-work executor backed by SQLite.
//
// Each job is identified by a caller-chosen key, and the table holds at most
// one row per key. Every registration that installs a row gets a fresh
// generation ID; claims and completions are guarded by that ID so a job that
// was replaced or cancelled while running never overwrites its successor.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/svezina/internal/clock"
)

// Policy decides what happens when a key already has a pending job.
type Policy int

const (
	// KeepIfPending leaves an existing pending job untouched.
	KeepIfPending Policy = iota
	// ReplaceExisting always installs the new job, superseding the old one.
	ReplaceExisting
)

func (p Policy) String() string {
	switch p {
	case KeepIfPending:
		return "keep-if-pending"
	case ReplaceExisting:
		return "replace-existing"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Status is the lifecycle state of a job row.
type Status string

// Job statuses.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusFired     Status = "fired"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Job is one row of the queue.
type Job struct {
	Key       string    `json:"key"`
	ID        string    `json:"id"`
	RunAt     time.Time `json:"run_at"`
	DueAt     time.Time `json:"due_at"`
	Payload   []byte    `json:"-"`
	Status    Status    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type execution struct {
	id     string
	cancel context.CancelFunc
}

// Queue stores jobs and tracks executions in flight in this process.
type Queue struct {
	db     *sql.DB
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]execution
}

// NewQueue returns a queue over db. A nil logger uses slog.Default().
func NewQueue(db *sql.DB, c clock.Clock, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		db:       db,
		clock:    c,
		logger:   logger,
		inflight: make(map[string]execution),
	}
}

const jobColumns = `key, id, run_at, due_at, payload, status, attempts, last_error, created_at, updated_at`

func millis(t time.Time) int64 { return t.UnixMilli() }

// Enqueue registers payload under key to run after delay. It reports whether
// a new job was installed; under KeepIfPending an existing pending or running
// job wins and false is returned.
func (q *Queue) Enqueue(ctx context.Context, key string, delay time.Duration, policy Policy, payload []byte) (bool, error) {
	if delay < 0 {
		delay = 0
	}
	now := q.clock.Now()
	id := uuid.NewString()

	stmt := `INSERT INTO alert_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, 'pending', 0, '', ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			id = excluded.id,
			run_at = excluded.run_at,
			due_at = excluded.due_at,
			payload = excluded.payload,
			status = 'pending',
			attempts = 0,
			last_error = '',
			updated_at = excluded.updated_at`
	switch policy {
	case KeepIfPending:
		stmt += ` WHERE alert_jobs.status NOT IN ('pending', 'running')`
	case ReplaceExisting:
	default:
		return false, fmt.Errorf("enqueueing %s: unknown %s", key, policy)
	}

	due := millis(now.Add(delay))
	result, err := q.db.ExecContext(ctx, stmt,
		key, id, due, due, payload, millis(now), millis(now),
	)
	if err != nil {
		return false, fmt.Errorf("enqueueing %s: %w", key, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueueing %s: %w", key, err)
	}
	if n == 0 {
		q.logger.Debug("job already pending", "key", key)
		return false, nil
	}

	// A replaced generation must not keep running.
	q.interrupt(key, id)
	q.logger.Debug("job enqueued", "key", key, "id", id, "policy", policy.String(), "delay", delay)
	return true, nil
}

// RunOnce runs fn now as the job under key registered for due, unless key
// already fired or is firing for that same due time. It reports whether fn
// ran. The row is recorded as fired before fn runs, so concurrent and
// repeated calls for one due time run fn at most once; if fn fails the row
// is marked failed and a later call for the same due time tries again.
func (q *Queue) RunOnce(ctx context.Context, key string, due time.Time, payload []byte, fn func(context.Context) error) (bool, error) {
	now := q.clock.Now()
	id := uuid.NewString()

	result, err := q.db.ExecContext(ctx,
		`INSERT INTO alert_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, 'fired', 1, '', ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			id = excluded.id,
			run_at = excluded.run_at,
			due_at = excluded.due_at,
			payload = excluded.payload,
			status = 'fired',
			attempts = 1,
			last_error = '',
			updated_at = excluded.updated_at
		WHERE NOT (alert_jobs.due_at = excluded.due_at AND alert_jobs.status IN ('fired', 'running'))`,
		key, id, millis(now), millis(due), payload, millis(now), millis(now),
	)
	if err != nil {
		return false, fmt.Errorf("recording %s: %w", key, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("recording %s: %w", key, err)
	}
	if n == 0 {
		q.logger.Debug("job already fired", "key", key, "due", due)
		return false, nil
	}

	// Whatever was registered under key before is superseded.
	q.interrupt(key, id)

	if ferr := fn(ctx); ferr != nil {
		_, err := q.db.ExecContext(context.WithoutCancel(ctx),
			`UPDATE alert_jobs SET status = 'failed', last_error = ?, updated_at = ?
			 WHERE key = ? AND id = ? AND status = 'fired'`,
			ferr.Error(), millis(q.clock.Now()), key, id,
		)
		if err != nil {
			return true, errors.Join(ferr, fmt.Errorf("recording failure of %s: %w", key, err))
		}
		return true, ferr
	}
	return true, nil
}

// Cancel marks the job under key cancelled and interrupts it if it is
// running in this process. Unknown keys are a no-op.
func (q *Queue) Cancel(ctx context.Context, key string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE alert_jobs SET status = 'cancelled', updated_at = ?
		 WHERE key = ? AND status IN ('pending', 'running')`,
		millis(q.clock.Now()), key,
	)
	if err != nil {
		return fmt.Errorf("cancelling %s: %w", key, err)
	}
	q.interrupt(key, "")
	return nil
}

// interrupt cancels the in-flight execution of key unless it belongs to
// generation keep.
func (q *Queue) interrupt(key, keep string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ex, ok := q.inflight[key]; ok && ex.id != keep {
		ex.cancel()
		delete(q.inflight, key)
	}
}

func (q *Queue) track(key, id string, cancel context.CancelFunc) {
	q.mu.Lock()
	q.inflight[key] = execution{id: id, cancel: cancel}
	q.mu.Unlock()
}

func (q *Queue) untrack(key, id string) {
	q.mu.Lock()
	if ex, ok := q.inflight[key]; ok && ex.id == id {
		delete(q.inflight, key)
	}
	q.mu.Unlock()
}

// Get returns the job under key, or nil if there is none.
func (q *Queue) Get(ctx context.Context, key string) (*Job, error) {
	job, err := scanJob(q.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM alert_jobs WHERE key = ?`, key,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting job %s: %w", key, err)
	}
	return job, nil
}

// Pending returns all pending jobs ordered by run time.
func (q *Queue) Pending(ctx context.Context) ([]Job, error) {
	return q.list(ctx,
		`SELECT `+jobColumns+` FROM alert_jobs WHERE status = 'pending' ORDER BY run_at, key`,
	)
}

// Due returns up to limit pending jobs whose run time has passed.
func (q *Queue) Due(ctx context.Context, limit int) ([]Job, error) {
	return q.list(ctx,
		`SELECT `+jobColumns+` FROM alert_jobs
		 WHERE status = 'pending' AND run_at <= ? ORDER BY run_at, key LIMIT ?`,
		millis(q.clock.Now()), limit,
	)
}

func (q *Queue) list(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var runAt, dueAt, createdAt, updatedAt int64
	var status string
	err := row.Scan(&j.Key, &j.ID, &runAt, &dueAt, &j.Payload, &status, &j.Attempts, &j.LastError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	j.Status = Status(status)
	j.RunAt = time.UnixMilli(runAt)
	j.DueAt = time.UnixMilli(dueAt)
	j.CreatedAt = time.UnixMilli(createdAt)
	j.UpdatedAt = time.UnixMilli(updatedAt)
	return &j, nil
}

// claim moves a pending job of generation id to running.
func (q *Queue) claim(ctx context.Context, key, id string) (bool, error) {
	result, err := q.db.ExecContext(ctx,
		`UPDATE alert_jobs SET status = 'running', attempts = attempts + 1, updated_at = ?
		 WHERE key = ? AND id = ? AND status = 'pending'`,
		millis(q.clock.Now()), key, id,
	)
	if err != nil {
		return false, fmt.Errorf("claiming %s: %w", key, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming %s: %w", key, err)
	}
	return n == 1, nil
}

// finish updates a running job of generation id. Rows that were replaced or
// cancelled in the meantime are left alone.
func (q *Queue) finish(ctx context.Context, key, id string, set string, args ...any) error {
	args = append(args, millis(q.clock.Now()), key, id)
	_, err := q.db.ExecContext(ctx,
		`UPDATE alert_jobs SET `+set+`, updated_at = ?
		 WHERE key = ? AND id = ? AND status = 'running'`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("finishing %s: %w", key, err)
	}
	return nil
}

// recoverStale returns jobs left running by a previous process to pending.
func (q *Queue) recoverStale(ctx context.Context) (int64, error) {
	result, err := q.db.ExecContext(ctx,
		`UPDATE alert_jobs SET status = 'pending', updated_at = ? WHERE status = 'running'`,
		millis(q.clock.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("recovering running jobs: %w", err)
	}
	return result.RowsAffected()
}
