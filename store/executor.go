package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Conn is the part of *sql.DB the Executor needs.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ExecutorBuilder can build executors.
type ExecutorBuilder struct {
	tries    int
	sleepMin time.Duration
	sleepMax time.Duration
	logger   *slog.Logger
	sleep    SleepFunc
	name     string
}

// MakeExecutorBuilder returns a builder with 10 tries and a 10-100ms jitter.
func MakeExecutorBuilder() ExecutorBuilder {
	return ExecutorBuilder{
		tries:    10,
		sleepMin: 10 * time.Millisecond,
		sleepMax: 100 * time.Millisecond,
		sleep:    Sleep,
		name:     "store",
	}
}

// WithTries sets how many attempts an operation gets.
func (b ExecutorBuilder) WithTries(tries int) ExecutorBuilder {
	b.tries = tries
	return b
}

// WithSleepRange sets the jitter interval between two attempts.
func (b ExecutorBuilder) WithSleepRange(minSleep, maxSleep time.Duration) ExecutorBuilder {
	b.sleepMin = minSleep
	b.sleepMax = maxSleep
	return b
}

// WithLogger sets the logger that reports retries.
func (b ExecutorBuilder) WithLogger(logger *slog.Logger) ExecutorBuilder {
	b.logger = logger
	return b
}

// WithSleepFunc replaces the function used to wait between attempts.
func (b ExecutorBuilder) WithSleepFunc(sleep SleepFunc) ExecutorBuilder {
	b.sleep = sleep
	return b
}

// WithName sets the store name shown in log records.
func (b ExecutorBuilder) WithName(name string) ExecutorBuilder {
	b.name = name
	return b
}

// Build creates an Executor over conn.
func (b ExecutorBuilder) Build(conn Conn) *Executor {
	if b.tries < 1 {
		panic("executor needs at least one try")
	}

	if b.sleepMax < b.sleepMin {
		panic("executor sleep range is inverted")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		conn:     conn,
		tries:    b.tries,
		sleepMin: b.sleepMin,
		sleepMax: b.sleepMax,
		sleep:    b.sleep,
		logger:   logger.With("component", b.name),
	}
}

// An Executor runs statements against a store, retrying transient
// contention a bounded number of times.
type Executor struct {
	conn     Conn
	tries    int
	sleepMin time.Duration
	sleepMax time.Duration
	sleep    SleepFunc
	logger   *slog.Logger
}

// Tries returns the number of attempts an operation gets.
func (e *Executor) Tries() int {
	return e.tries
}

// Interval returns a random duration in the jitter range.
func (e *Executor) Interval() time.Duration {
	span := e.sleepMax - e.sleepMin
	if span <= 0 {
		return e.sleepMin
	}

	return e.sleepMin + rand.N(span+1)
}

// Pause waits for one jitter interval.
func (e *Executor) Pause(ctx context.Context) error {
	return e.sleep(ctx, e.Interval())
}

// Exec runs a statement that returns no rows.
func (e *Executor) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result

	err := e.retry(ctx, query, func() error {
		var err error
		res, err = e.conn.ExecContext(ctx, query, args...)
		return err
	})

	return res, err
}

// Query runs a query and hands every row to scan. If the query has to be
// retried, scan sees the rows of the retried attempt from the beginning, so
// it must reset whatever it accumulates when called with a fresh result.
func (e *Executor) Query(
	ctx context.Context,
	scan func(rows *sql.Rows) error,
	query string,
	args ...any,
) error {
	return e.retry(ctx, query, func() error {
		rows, err := e.conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		if err := scan(rows); err != nil {
			return err
		}

		return rows.Err()
	})
}

// QueryRow runs a query expected to return one row and scans it into dest.
// A missing row is reported as sql.ErrNoRows.
func (e *Executor) QueryRow(
	ctx context.Context,
	query string,
	args []any,
	dest ...any,
) error {
	return e.Query(ctx, func(rows *sql.Rows) error {
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return err
			}
			return sql.ErrNoRows
		}

		return rows.Scan(dest...)
	}, query, args...)
}

// Tx runs fn in a transaction. A transient failure anywhere in fn rolls the
// whole transaction back before it is retried, so no partial effect is ever
// committed.
func (e *Executor) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return e.retry(ctx, "transaction", func() error {
		tx, err := e.conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}

		return tx.Commit()
	})
}

func (e *Executor) retry(ctx context.Context, op string, fn func() error) error {
	var last error

	for i := 0; i < e.tries; i++ {
		err := fn()
		if err == nil {
			return nil
		}

		if !IsTransient(err) {
			return err
		}

		last = err
		remaining := e.tries - i - 1
		e.logger.Warn("store busy",
			"op", op, "error", err, "remaining", remaining)

		if remaining == 0 {
			break
		}

		if err := e.Pause(ctx); err != nil {
			return err
		}
	}

	e.logger.Error("store unavailable", "op", op, "tries", e.tries)

	return &UnavailableError{Op: op, Tries: e.tries, Last: last}
}

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NoRows tells whether err reports a missing row.
func NoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
