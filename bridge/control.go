// Package bridge connects the monitor to a learning agent through the control
// store. The monitor and the agent take turns on a two-participant barrier:
// the agent acts first, then every exchange of the monitor fetches the action
// and publishes a new observation.
package bridge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/sarchlab/cosim/barrier"
	"github.com/sarchlab/cosim/config"
	"github.com/sarchlab/cosim/store"
)

// ErrInvalidAction is returned for an action index outside the action space.
var ErrInvalidAction = errors.New("invalid action")

// ControlStore is the monitor side of the bridge.
type ControlStore struct {
	exec    *store.Executor
	barrier barrier.Barrier
	logger  *slog.Logger
}

// NewControlStore creates the monitor side of the bridge. The barrier must
// know the scada and agent participants.
func NewControlStore(
	exec *store.Executor,
	b barrier.Barrier,
	logger *slog.Logger,
) *ControlStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &ControlStore{
		exec:    exec,
		barrier: b,
		logger:  logger.With("component", "control-bridge"),
	}
}

// PublishObservation writes sensor values to the state space in one
// transaction. Every id must exist.
func (c *ControlStore) PublishObservation(ctx context.Context, values map[string]float64) error {
	ids := make([]string, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	err := c.exec.Tx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			res, err := tx.ExecContext(ctx,
				"UPDATE state_space SET value = ? WHERE id = ?", values[id], id)
			if err != nil {
				return err
			}

			n, err := res.RowsAffected()
			if err != nil {
				return err
			}

			if n == 0 {
				return fmt.Errorf("unknown state variable %s", id)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish observation: %w", err)
	}

	return nil
}

// FetchAction reads the action space.
func (c *ControlStore) FetchAction(ctx context.Context) (map[string]int, error) {
	action := map[string]int{}

	err := c.exec.Query(ctx, func(rows *sql.Rows) error {
		clear(action)
		for rows.Next() {
			var (
				id    string
				value int
			)
			if err := rows.Scan(&id, &value); err != nil {
				return err
			}
			action[id] = value
		}
		return nil
	}, "SELECT id, value FROM action_space")
	if err != nil {
		return nil, fmt.Errorf("fetch action: %w", err)
	}

	return action, nil
}

// Exchange waits until the agent has acted, fetches its action, publishes
// the observation of tick clock and gives the turn back to the agent.
func (c *ControlStore) Exchange(
	ctx context.Context,
	clock int,
	obs map[string]float64,
) (map[string]int, error) {
	if err := c.barrier.Wait(ctx, config.ScadaName); err != nil {
		return nil, err
	}

	action, err := c.FetchAction(ctx)
	if err != nil {
		return nil, err
	}

	if err := store.SetMasterTime(ctx, c.exec, clock); err != nil {
		return nil, err
	}

	if err := c.PublishObservation(ctx, obs); err != nil {
		return nil, err
	}

	if err := c.barrier.Handoff(ctx, config.ScadaName, config.AgentName); err != nil {
		return nil, err
	}

	c.logger.Debug("exchanged", "clock", clock, "action", action)

	return action, nil
}
