// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/sqlitepool"
)

var (
	// ErrNotFound is returned for a job ID that is not in the live
	// queue, including jobs already delivered or abandoned.
	ErrNotFound = errors.New("queue: job not found")

	// ErrNotInFlight is returned when MarkDelivered or MarkFailed is
	// called for a job the caller does not hold.
	ErrNotInFlight = errors.New("queue: job is not in flight")
)

// Scheduler decides retry timing. retry.Policy implements it.
type Scheduler interface {
	// Delay is the wait before the next attempt of a job that has
	// failed attempts times.
	Delay(attempts int) time.Duration

	// Exhausted reports whether a job that has failed attempts times
	// must be abandoned.
	Exhausted(attempts int) bool
}

// Config holds the parameters for Open.
type Config struct {
	// Path is the SQLite database file.
	Path string

	// Scheduler is required.
	Scheduler Scheduler

	// MaxDepth bounds the number of Pending jobs. Zero or negative
	// means unbounded.
	MaxDepth int

	// AuditRetain is how many dead letters to keep. Defaults to 1000.
	AuditRetain int

	// Observer defaults to a LogObserver on Logger.
	Observer Observer

	// Clock stamps CreatedAt and the initial NextEligibleAt. Defaults
	// to the wall clock.
	Clock clock.Clock

	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// Queue is a durable FIFO of delivery jobs. Safe for concurrent use.
type Queue struct {
	pool        *sqlitepool.Pool
	scheduler   Scheduler
	maxDepth    int
	auditRetain int
	observer    Observer
	clock       clock.Clock
	logger      *slog.Logger
	notify      chan struct{}
}

// Open opens or creates the queue database at cfg.Path.
func Open(cfg Config) (*Queue, error) {
	if cfg.Scheduler == nil {
		return nil, fmt.Errorf("queue: Scheduler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("component", "queue")

	observer := cfg.Observer
	if observer == nil {
		observer = LogObserver{Logger: logger}
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	auditRetain := cfg.AuditRetain
	if auditRetain <= 0 {
		auditRetain = 1000
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   cfg.Path,
		Schema: schema,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("queue: %w", err)
	}

	return &Queue{
		pool:        pool,
		scheduler:   cfg.Scheduler,
		maxDepth:    cfg.MaxDepth,
		auditRetain: auditRetain,
		observer:    observer,
		clock:       clk,
		logger:      logger,
		notify:      make(chan struct{}, 1),
	}, nil
}

// Close closes the database. No other method may be called afterwards.
func (q *Queue) Close() error {
	return q.pool.Close()
}

// Notify returns a channel that receives a value after each Enqueue.
// It has capacity 1, so any number of enqueues between two reads
// collapse into one wakeup.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

// Enqueue persists a new Pending job, eligible immediately, and
// returns its ID. If the queue already holds MaxDepth Pending jobs the
// oldest of them is evicted first.
func (q *Queue) Enqueue(ctx context.Context, payload Payload) (int64, error) {
	now := q.clock.Now()
	key := uuid.NewString()

	var id int64
	var evicted []Job
	err := q.transaction(ctx, func(conn *sqlite.Conn) error {
		if q.maxDepth > 0 {
			pending, err := countState(conn, Pending)
			if err != nil {
				return err
			}
			for ; pending >= q.maxDepth; pending-- {
				oldest, found, err := selectOne(conn,
					"SELECT "+jobColumns+" FROM jobs WHERE state = ? ORDER BY id LIMIT 1",
					int64(Pending))
				if err != nil {
					return err
				}
				if !found {
					break
				}
				if err := q.bury(conn, oldest, ReasonEvicted, counterEvicted, now); err != nil {
					return err
				}
				evicted = append(evicted, oldest)
			}
		}

		err := sqlitex.Execute(conn, `INSERT INTO jobs
			(key, device_id, phone, lat, lng, token, captured_at,
			 attempts, state, next_eligible_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				key,
				payload.DeviceID,
				payload.Phone,
				payload.Lat,
				payload.Lng,
				payload.Token,
				toNanos(payload.CapturedAt),
				int64(Pending),
				toNanos(now),
				toNanos(now),
			}})
		if err != nil {
			return fmt.Errorf("inserting job: %w", err)
		}
		id = conn.LastInsertRowID()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("queue: enqueue: %w", err)
	}

	for _, job := range evicted {
		q.observer.JobEvicted(job)
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return id, nil
}

// DequeueReady claims the lowest-ID Pending job whose NextEligibleAt is
// at or before now and moves it to InFlight. The boolean is false when
// no job is ready.
func (q *Queue) DequeueReady(ctx context.Context, now time.Time) (Job, bool, error) {
	var job Job
	var found bool
	err := q.transaction(ctx, func(conn *sqlite.Conn) error {
		var err error
		job, found, err = selectOne(conn,
			"SELECT "+jobColumns+` FROM jobs
			WHERE state = ? AND next_eligible_at <= ?
			ORDER BY id LIMIT 1`,
			int64(Pending), toNanos(now))
		if err != nil || !found {
			return err
		}

		err = sqlitex.Execute(conn,
			"UPDATE jobs SET state = ? WHERE id = ? AND state = ?",
			&sqlitex.ExecOptions{Args: []any{int64(InFlight), job.ID, int64(Pending)}})
		if err != nil {
			return fmt.Errorf("claiming job %d: %w", job.ID, err)
		}
		if conn.Changes() != 1 {
			found = false
			return nil
		}
		job.State = InFlight
		return nil
	})
	if err != nil {
		return Job{}, false, fmt.Errorf("queue: dequeue: %w", err)
	}
	return job, found, nil
}

// MarkDelivered completes an InFlight job and removes it.
func (q *Queue) MarkDelivered(ctx context.Context, id int64) error {
	err := q.transaction(ctx, func(conn *sqlite.Conn) error {
		if _, err := loadInFlight(conn, id); err != nil {
			return err
		}
		if err := sqlitex.Execute(conn, "DELETE FROM jobs WHERE id = ?",
			&sqlitex.ExecOptions{Args: []any{id}}); err != nil {
			return fmt.Errorf("deleting job %d: %w", id, err)
		}
		return incrementCounter(conn, counterDelivered)
	})
	if err != nil {
		return fmt.Errorf("queue: mark delivered %d: %w", id, err)
	}
	return nil
}

// MarkFailed records a failed attempt on an InFlight job. The attempt
// count goes up by one. If the scheduler still allows retries the job
// returns to Pending with NextEligibleAt = now + Delay(attempts);
// otherwise it is abandoned, audited and reported to the Observer.
func (q *Queue) MarkFailed(ctx context.Context, id int64, now time.Time, reason string) (Failure, error) {
	var failure Failure
	var abandoned Job
	err := q.transaction(ctx, func(conn *sqlite.Conn) error {
		job, err := loadInFlight(conn, id)
		if err != nil {
			return err
		}
		job.Attempts++
		job.LastError = reason
		failure.Attempts = job.Attempts

		if q.scheduler.Exhausted(job.Attempts) {
			if err := q.bury(conn, job, ReasonBudgetExhausted, counterAbandoned, now); err != nil {
				return err
			}
			job.State = Abandoned
			abandoned = job
			failure.Abandoned = true
			return nil
		}

		failure.NextEligibleAt = now.Add(q.scheduler.Delay(job.Attempts))
		err = sqlitex.Execute(conn, `UPDATE jobs
			SET state = ?, attempts = ?, next_eligible_at = ?, last_error = ?
			WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{
				int64(Pending), job.Attempts, toNanos(failure.NextEligibleAt), reason, id,
			}})
		if err != nil {
			return fmt.Errorf("rescheduling job %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return Failure{}, fmt.Errorf("queue: mark failed %d: %w", id, err)
	}
	if failure.Abandoned {
		q.observer.JobAbandoned(abandoned)
	}
	return failure, nil
}

// Abandon removes an InFlight job without retrying it, for failures no
// retry can fix. The attempt that failed is counted.
func (q *Queue) Abandon(ctx context.Context, id int64, now time.Time, reason string) error {
	var abandoned Job
	err := q.transaction(ctx, func(conn *sqlite.Conn) error {
		job, err := loadInFlight(conn, id)
		if err != nil {
			return err
		}
		job.Attempts++
		job.LastError = reason
		if err := q.bury(conn, job, reason, counterAbandoned, now); err != nil {
			return err
		}
		job.State = Abandoned
		abandoned = job
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue: abandon %d: %w", id, err)
	}
	q.observer.JobAbandoned(abandoned)
	return nil
}

// Len returns the number of live jobs, Pending plus InFlight.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var count int
	err := q.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT COUNT(*) FROM jobs", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	})
	if err != nil {
		return 0, fmt.Errorf("queue: len: %w", err)
	}
	return count, nil
}

// Recover demotes every InFlight job to Pending and returns how many
// were demoted. Call it once at startup, before any worker runs.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	var recovered int
	err := q.transaction(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, "UPDATE jobs SET state = ? WHERE state = ?",
			&sqlitex.ExecOptions{Args: []any{int64(Pending), int64(InFlight)}})
		if err != nil {
			return err
		}
		recovered = conn.Changes()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("queue: recover: %w", err)
	}
	if recovered > 0 {
		q.logger.Info("recovered interrupted deliveries", "count", recovered)
	}
	return recovered, nil
}

// NextEligible returns the earliest NextEligibleAt among Pending jobs.
// The boolean is false when nothing is Pending.
func (q *Queue) NextEligible(ctx context.Context) (time.Time, bool, error) {
	var next time.Time
	var found bool
	err := q.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT next_eligible_at FROM jobs WHERE state = ? ORDER BY next_eligible_at LIMIT 1",
			&sqlitex.ExecOptions{
				Args: []any{int64(Pending)},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					next = fromNanos(stmt.ColumnInt64(0))
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("queue: next eligible: %w", err)
	}
	return next, found, nil
}

// Get returns a live job by ID.
func (q *Queue) Get(ctx context.Context, id int64) (Job, error) {
	var job Job
	err := q.read(ctx, func(conn *sqlite.Conn) error {
		var found bool
		var err error
		job, found, err = selectOne(conn, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return Job{}, fmt.Errorf("queue: get %d: %w", id, err)
	}
	return job, nil
}

// List returns every live job in ID order.
func (q *Queue) List(ctx context.Context) ([]Job, error) {
	var jobs []Job
	err := q.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT "+jobColumns+" FROM jobs ORDER BY id",
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					jobs = append(jobs, scanJob(stmt))
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("queue: list: %w", err)
	}
	return jobs, nil
}

// Stats returns live counts and lifetime totals.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := q.read(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, "SELECT state, COUNT(*) FROM jobs GROUP BY state",
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					switch State(stmt.ColumnInt(0)) {
					case Pending:
						stats.Pending = stmt.ColumnInt(1)
					case InFlight:
						stats.InFlight = stmt.ColumnInt(1)
					}
					return nil
				},
			})
		if err != nil {
			return err
		}
		return sqlitex.Execute(conn, "SELECT name, value FROM counters",
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					switch stmt.ColumnText(0) {
					case counterDelivered:
						stats.Delivered = stmt.ColumnInt64(1)
					case counterAbandoned:
						stats.Abandoned = stmt.ColumnInt64(1)
					case counterEvicted:
						stats.Evicted = stmt.ColumnInt64(1)
					}
					return nil
				},
			})
	})
	if err != nil {
		return Stats{}, fmt.Errorf("queue: stats: %w", err)
	}
	return stats, nil
}

// DeadLetters returns up to limit audit records, newest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	var letters []DeadLetter
	err := q.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT job_id, key, device_id, lat, lng, captured_at,
				attempts, reason, last_error, recorded_at
			FROM dead_letters ORDER BY id DESC LIMIT ?`,
			&sqlitex.ExecOptions{
				Args: []any{limit},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					letters = append(letters, DeadLetter{
						JobID:      stmt.ColumnInt64(0),
						Key:        stmt.ColumnText(1),
						DeviceID:   stmt.ColumnText(2),
						Lat:        stmt.ColumnFloat(3),
						Lng:        stmt.ColumnFloat(4),
						CapturedAt: fromNanos(stmt.ColumnInt64(5)),
						Attempts:   stmt.ColumnInt(6),
						Reason:     stmt.ColumnText(7),
						LastError:  stmt.ColumnText(8),
						RecordedAt: fromNanos(stmt.ColumnInt64(9)),
					})
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("queue: dead letters: %w", err)
	}
	return letters, nil
}

// bury removes a job from the live queue and records it in the audit
// table. Runs inside the caller's transaction.
func (q *Queue) bury(conn *sqlite.Conn, job Job, reason, counter string, now time.Time) error {
	if err := sqlitex.Execute(conn, "DELETE FROM jobs WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{job.ID}}); err != nil {
		return fmt.Errorf("deleting job %d: %w", job.ID, err)
	}
	err := sqlitex.Execute(conn, `INSERT INTO dead_letters
		(job_id, key, device_id, lat, lng, captured_at, attempts, reason, last_error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			job.ID,
			job.Key,
			job.Payload.DeviceID,
			job.Payload.Lat,
			job.Payload.Lng,
			toNanos(job.Payload.CapturedAt),
			job.Attempts,
			reason,
			job.LastError,
			toNanos(now),
		}})
	if err != nil {
		return fmt.Errorf("auditing job %d: %w", job.ID, err)
	}
	err = sqlitex.Execute(conn, `DELETE FROM dead_letters WHERE id <=
		(SELECT id FROM dead_letters ORDER BY id DESC LIMIT 1 OFFSET ?)`,
		&sqlitex.ExecOptions{Args: []any{q.auditRetain}})
	if err != nil {
		return fmt.Errorf("pruning dead letters: %w", err)
	}
	return incrementCounter(conn, counter)
}

// transaction runs fn in an IMMEDIATE transaction, which takes the
// database write lock up front.
func (q *Queue) transaction(ctx context.Context, fn func(conn *sqlite.Conn) error) (err error) {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer q.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer endTransaction(&err)
	return fn(conn)
}

func (q *Queue) read(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer q.pool.Put(conn)
	return fn(conn)
}

func loadInFlight(conn *sqlite.Conn, id int64) (Job, error) {
	job, found, err := selectOne(conn, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	if err != nil {
		return Job{}, err
	}
	if !found {
		return Job{}, ErrNotFound
	}
	if job.State != InFlight {
		return Job{}, fmt.Errorf("%w (state %s)", ErrNotInFlight, job.State)
	}
	return job, nil
}

func selectOne(conn *sqlite.Conn, query string, args ...any) (Job, bool, error) {
	var job Job
	var found bool
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			job = scanJob(stmt)
			found = true
			return nil
		},
	})
	return job, found, err
}

func scanJob(stmt *sqlite.Stmt) Job {
	return Job{
		ID:  stmt.ColumnInt64(0),
		Key: stmt.ColumnText(1),
		Payload: Payload{
			DeviceID:   stmt.ColumnText(2),
			Phone:      stmt.ColumnText(3),
			Lat:        stmt.ColumnFloat(4),
			Lng:        stmt.ColumnFloat(5),
			Token:      stmt.ColumnText(6),
			CapturedAt: fromNanos(stmt.ColumnInt64(7)),
		},
		Attempts:       stmt.ColumnInt(8),
		State:          State(stmt.ColumnInt(9)),
		NextEligibleAt: fromNanos(stmt.ColumnInt64(10)),
		CreatedAt:      fromNanos(stmt.ColumnInt64(11)),
		LastError:      stmt.ColumnText(12),
	}
}

func countState(conn *sqlite.Conn, state State) (int, error) {
	var count int
	err := sqlitex.Execute(conn, "SELECT COUNT(*) FROM jobs WHERE state = ?",
		&sqlitex.ExecOptions{
			Args: []any{int64(state)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("counting %s jobs: %w", state, err)
	}
	return count, nil
}

func incrementCounter(conn *sqlite.Conn, name string) error {
	err := sqlitex.Execute(conn, `INSERT INTO counters (name, value) VALUES (?, 1)
		ON CONFLICT (name) DO UPDATE SET value = value + 1`,
		&sqlitex.ExecOptions{Args: []any{name}})
	if err != nil {
		return fmt.Errorf("incrementing %s: %w", name, err)
	}
	return nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
