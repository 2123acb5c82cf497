// Package queue is a durable at-least-once job queue stored in SQLite.
//
// Enqueue returns as soon as the job row is written. Workers claim jobs
// with Dequeue, which leases the job for a fixed duration. A job whose lease
// expires before Complete or Fail is called becomes claimable again, so a
// crashed worker's job is redelivered. Job handlers must therefore be
// idempotent.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

var (
	// ErrEmpty is returned by Dequeue when no job is ready.
	ErrEmpty = errors.New("queue: no job available")

	// ErrNotFound is returned when a job id does not exist.
	ErrNotFound = errors.New("queue: job not found")

	// ErrLeaseLost is returned by Complete and Fail when the caller no longer
	// holds the job's lease, because it expired and the job was redelivered.
	ErrLeaseLost = errors.New("queue: job lease lost")
)

// State is a job's lifecycle state.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Payload is the work description carried by a job.
// Its wire form is {document_id, file_path}.
type Payload struct {
	DocumentID int64  `json:"document_id"`
	FilePath   string `json:"file_path"`
}

// Job is one queued unit of ingestion work.
type Job struct {
	ID string `json:"id"`
	Payload
	State         State  `json:"state"`
	Attempts      int    `json:"attempts"`
	MaxAttempts   int    `json:"max_attempts"`
	LastError     string `json:"last_error,omitempty"`
	ChunksWritten int    `json:"chunks_written"`
	// LeaseToken identifies the current claim; Complete and Fail must present it.
	LeaseToken  string     `json:"-"`
	LeaseUntil  *time.Time `json:"lease_until,omitempty"`
	AvailableAt time.Time  `json:"available_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Config tunes queue behaviour.
type Config struct {
	// MaxAttempts is the number of deliveries before a job fails for good (default 3).
	MaxAttempts int
	// RetryBase is the delay before the first retry; later retries back off
	// exponentially up to RetryMax (defaults 5s and 5m).
	RetryBase time.Duration
	RetryMax  time.Duration
}

// SQLiteQueue implements the job queue on a SQLite database handle. The
// handle is usually shared with the document store and is not closed here.
type SQLiteQueue struct {
	db          *sql.DB
	maxAttempts int
	retryBase   time.Duration
	retryMax    time.Duration
	now         func() time.Time
}

// New runs the jobs table migration on db and returns a queue.
func New(db *sql.DB, cfg Config) (*SQLiteQueue, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 5 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 5 * time.Minute
	}
	q := &SQLiteQueue{
		db:          db,
		maxAttempts: cfg.MaxAttempts,
		retryBase:   cfg.RetryBase,
		retryMax:    cfg.RetryMax,
		now:         time.Now,
	}
	if err := q.migrate(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS jobs (
    id              TEXT    PRIMARY KEY,
    document_id     INTEGER NOT NULL,
    file_path       TEXT    NOT NULL,
    state           TEXT    NOT NULL CHECK(state IN ('queued','running','succeeded','failed')),
    attempts        INTEGER NOT NULL DEFAULT 0,
    max_attempts    INTEGER NOT NULL,
    last_error      TEXT    NOT NULL DEFAULT '',
    chunks_written  INTEGER NOT NULL DEFAULT 0,
    lease_token     TEXT    NOT NULL DEFAULT '',
    lease_until     INTEGER,           -- Unix milliseconds
    available_at    INTEGER NOT NULL,  -- Unix milliseconds
    created_at      INTEGER NOT NULL,  -- Unix milliseconds
    updated_at      INTEGER NOT NULL   -- Unix milliseconds
);
CREATE INDEX IF NOT EXISTS idx_jobs_ready    ON jobs (state, available_at);
CREATE INDEX IF NOT EXISTS idx_jobs_document ON jobs (document_id);
`
	if _, err := q.db.Exec(ddl); err != nil {
		return fmt.Errorf("queue: migrate: %w", err)
	}
	return nil
}

const jobColumns = `id, document_id, file_path, state, attempts, max_attempts, last_error, chunks_written,
    lease_token, lease_until, available_at, created_at, updated_at`

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (*Job, error) {
	var (
		j          Job
		state      string
		leaseUntil sql.NullInt64
	)
	var availableAt, created, updated int64
	err := sc.Scan(&j.ID, &j.DocumentID, &j.FilePath, &state, &j.Attempts, &j.MaxAttempts, &j.LastError,
		&j.ChunksWritten, &j.LeaseToken, &leaseUntil, &availableAt, &created, &updated)
	if err != nil {
		return nil, err
	}
	j.State = State(state)
	if leaseUntil.Valid {
		t := time.UnixMilli(leaseUntil.Int64).UTC()
		j.LeaseUntil = &t
	}
	j.AvailableAt = time.UnixMilli(availableAt).UTC()
	j.CreatedAt = time.UnixMilli(created).UTC()
	j.UpdatedAt = time.UnixMilli(updated).UTC()
	return &j, nil
}

// Enqueue stores a new job, ready immediately, and returns it.
func (q *SQLiteQueue) Enqueue(ctx context.Context, p Payload) (*Job, error) {
	now := q.now().UnixMilli()
	id := uuid.NewString()
	const stmt = `INSERT INTO jobs (id, document_id, file_path, state, max_attempts, available_at, created_at, updated_at)
VALUES (?, ?, ?, 'queued', ?, ?, ?, ?)
RETURNING ` + jobColumns
	row := q.db.QueryRowContext(ctx, stmt, id, p.DocumentID, p.FilePath, q.maxAttempts, now, now, now)
	j, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("queue: enqueue document %d: %w", p.DocumentID, err)
	}
	return j, nil
}

// Dequeue atomically claims the oldest ready job for lease. A job is ready
// when it is queued and due, or running with an expired lease and attempts
// left. The claim increments Attempts. Returns ErrEmpty when none is ready.
func (q *SQLiteQueue) Dequeue(ctx context.Context, lease time.Duration) (*Job, error) {
	now := q.now()
	nowMs := now.UnixMilli()
	const stmt = `
UPDATE jobs
SET    state = 'running', attempts = attempts + 1, lease_token = ?, lease_until = ?, updated_at = ?
WHERE  id = (
    SELECT id FROM jobs
    WHERE  (state = 'queued' AND available_at <= ?)
       OR  (state = 'running' AND lease_until < ? AND attempts < max_attempts)
    ORDER  BY available_at, created_at
    LIMIT  1
)
RETURNING ` + jobColumns

	row := q.db.QueryRowContext(ctx, stmt, uuid.NewString(), now.Add(lease).UnixMilli(), nowMs, nowMs, nowMs)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue: %w", err)
	}
	return j, nil
}

// Complete marks a claimed job succeeded.
func (q *SQLiteQueue) Complete(ctx context.Context, j *Job, chunksWritten int) error {
	const stmt = `UPDATE jobs SET state = 'succeeded', chunks_written = ?, last_error = '', lease_until = NULL, updated_at = ?
WHERE id = ? AND lease_token = ? AND state = 'running'`
	res, err := q.db.ExecContext(ctx, stmt, chunksWritten, q.now().UnixMilli(), j.ID, j.LeaseToken)
	if err != nil {
		return fmt.Errorf("queue: complete %s: %w", j.ID, err)
	}
	return leaseHeld(res)
}

// Fail records a failed attempt. When retry is true and attempts remain the
// job is requeued after an exponential backoff delay; otherwise it fails for
// good. The returned State says which happened.
func (q *SQLiteQueue) Fail(ctx context.Context, j *Job, msg string, retry bool) (State, error) {
	now := q.now()
	next := StateFailed
	availableAt := now
	if retry && j.Attempts < j.MaxAttempts {
		next = StateQueued
		availableAt = now.Add(q.RetryDelay(j.Attempts))
	}

	const stmt = `UPDATE jobs SET state = ?, last_error = ?, available_at = ?, lease_until = NULL, updated_at = ?
WHERE id = ? AND lease_token = ? AND state = 'running'`
	res, err := q.db.ExecContext(ctx, stmt, string(next), msg, availableAt.UnixMilli(), now.UnixMilli(), j.ID, j.LeaseToken)
	if err != nil {
		return "", fmt.Errorf("queue: fail %s: %w", j.ID, err)
	}
	if err := leaseHeld(res); err != nil {
		return "", err
	}
	return next, nil
}

// Reap moves running jobs whose lease expired on their final attempt to
// failed and returns them, so their documents can be marked failed too.
func (q *SQLiteQueue) Reap(ctx context.Context) ([]Job, error) {
	nowMs := q.now().UnixMilli()
	const stmt = `UPDATE jobs
SET    state = 'failed', last_error = 'lease expired on final attempt', lease_until = NULL, updated_at = ?
WHERE  state = 'running' AND lease_until < ? AND attempts >= max_attempts
RETURNING ` + jobColumns

	rows, err := q.db.QueryContext(ctx, stmt, nowMs, nowMs)
	if err != nil {
		return nil, fmt.Errorf("queue: reap: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("queue: reap scan: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// Get returns the job with the given id.
func (q *SQLiteQueue) Get(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(q.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("queue: get %s: %w", id, err)
	}
	return j, nil
}

// DeleteForDocument removes every job of documentID that is not running.
func (q *SQLiteQueue) DeleteForDocument(ctx context.Context, documentID int64) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM jobs WHERE document_id = ? AND state <> 'running'`, documentID); err != nil {
		return fmt.Errorf("queue: delete jobs of document %d: %w", documentID, err)
	}
	return nil
}

// Stats returns the number of jobs per state.
func (q *SQLiteQueue) Stats(ctx context.Context) (map[State]int, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("queue: stats: %w", err)
	}
	defer rows.Close()

	out := map[State]int{StateQueued: 0, StateRunning: 0, StateSucceeded: 0, StateFailed: 0}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("queue: stats scan: %w", err)
		}
		out[State(st)] = n
	}
	return out, rows.Err()
}

// RetryDelay returns the wait before redelivering a job that failed on
// attempt (1-based): RetryBase doubling per attempt, capped at RetryMax.
func (q *SQLiteQueue) RetryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.retryBase
	b.MaxInterval = q.retryMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

func leaseHeld(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("queue: rows affected: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}
