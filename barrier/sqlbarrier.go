package barrier

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/sarchlab/cosim/store"
)

// SQLBuilder can build barriers persisted in a store's sync table.
type SQLBuilder struct {
	driver       string
	pollInterval time.Duration
	sleep        store.SleepFunc
	logger       *slog.Logger
}

// MakeSQLBuilder returns a builder for a barrier without a driver that polls
// at the executor's jitter interval.
func MakeSQLBuilder() SQLBuilder {
	return SQLBuilder{
		sleep: store.Sleep,
	}
}

// WithDriver names the participant that holds the turn when every flag is 1.
func (b SQLBuilder) WithDriver(name string) SQLBuilder {
	b.driver = name
	return b
}

// WithPollInterval fixes the interval between two polls of a flag.
func (b SQLBuilder) WithPollInterval(d time.Duration) SQLBuilder {
	b.pollInterval = d
	return b
}

// WithSleepFunc replaces the function used to wait between polls.
func (b SQLBuilder) WithSleepFunc(sleep store.SleepFunc) SQLBuilder {
	b.sleep = sleep
	return b
}

// WithLogger sets the logger.
func (b SQLBuilder) WithLogger(logger *slog.Logger) SQLBuilder {
	b.logger = logger
	return b
}

// Build creates the barrier.
func (b SQLBuilder) Build(exec *store.Executor) *SQLBarrier {
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SQLBarrier{
		exec:         exec,
		driver:       b.driver,
		pollInterval: b.pollInterval,
		sleep:        b.sleep,
		logger:       logger.With("component", "barrier"),
	}
}

// SQLBarrier keeps flags in the sync table of a store. Waiting is done by
// polling, since the other participants live in other processes.
type SQLBarrier struct {
	exec         *store.Executor
	driver       string
	pollInterval time.Duration
	sleep        store.SleepFunc
	logger       *slog.Logger
}

// Wait polls the flag of name until it reads 0.
func (b *SQLBarrier) Wait(ctx context.Context, name string) error {
	for {
		ready, err := b.ready(ctx, name)
		if err != nil {
			return err
		}

		if ready {
			return nil
		}

		if err := b.sleep(ctx, b.interval()); err != nil {
			return err
		}
	}
}

func (b *SQLBarrier) interval() time.Duration {
	if b.pollInterval > 0 {
		return b.pollInterval
	}

	return b.exec.Interval()
}

func (b *SQLBarrier) ready(ctx context.Context, name string) (bool, error) {
	if name == b.driver {
		var proceeding int

		err := b.exec.QueryRow(ctx,
			"SELECT COUNT(*) FROM sync WHERE flag = 0", nil, &proceeding)
		if err != nil {
			return false, fmt.Errorf("poll %s: %w", name, err)
		}

		return proceeding == 0, nil
	}

	var flag int

	err := b.exec.QueryRow(ctx,
		"SELECT flag FROM sync WHERE name = ?", []any{name}, &flag)
	if store.NoRows(err) {
		return false, unknown(name)
	}

	if err != nil {
		return false, fmt.Errorf("poll %s: %w", name, err)
	}

	return flag == 0, nil
}

// Handoff sets the flag of from to 1 and the flag of to to 0 in one
// transaction. The driver has no flag, so handing off from or to it only
// touches the other side.
func (b *SQLBarrier) Handoff(ctx context.Context, from, to string) error {
	if from == to {
		return fmt.Errorf("handoff from %q to itself", from)
	}

	err := b.exec.Tx(ctx, func(tx *sql.Tx) error {
		switch {
		case from == b.driver:
			return b.update(ctx, tx, to, 1,
				"UPDATE sync SET flag = 0 WHERE name = ?", to)
		case to == b.driver:
			return b.update(ctx, tx, from, 1,
				"UPDATE sync SET flag = 1 WHERE name = ?", from)
		default:
			return b.update(ctx, tx, from+", "+to, 2,
				"UPDATE sync SET flag = CASE WHEN name = ? THEN 1 ELSE 0 END "+
					"WHERE name IN (?, ?)", from, from, to)
		}
	})
	if err != nil {
		return fmt.Errorf("handoff %s -> %s: %w", from, to, err)
	}

	b.logger.Debug("handoff", "from", from, "to", to)

	return nil
}

func (b *SQLBarrier) update(
	ctx context.Context,
	tx *sql.Tx,
	names string,
	want int64,
	query string,
	args ...any,
) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n != want {
		return unknown(names)
	}

	return nil
}

// Flags reads the sync table.
func (b *SQLBarrier) Flags(ctx context.Context) (map[string]bool, error) {
	return store.SyncFlags(ctx, b.exec)
}
