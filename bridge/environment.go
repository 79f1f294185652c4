package bridge

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"

	"github.com/sarchlab/cosim/barrier"
	"github.com/sarchlab/cosim/config"
	"github.com/sarchlab/cosim/store"
)

// Environment is the agent side of the bridge.
type Environment struct {
	exec    *store.Executor
	barrier barrier.Barrier
	env     config.Env
	logger  *slog.Logger
}

// NewEnvironment checks the layout of the control store and creates the
// agent side of the bridge.
func NewEnvironment(
	ctx context.Context,
	exec *store.Executor,
	b barrier.Barrier,
	env config.Env,
	logger *slog.Logger,
) (*Environment, error) {
	for _, table := range []string{"state_space", "action_space"} {
		keys, err := store.PrimaryKeys(ctx, exec, table)
		if err != nil {
			return nil, err
		}

		if !slices.Equal(keys, []string{"id"}) {
			return nil, &store.SchemaError{
				Table: table,
				Msg:   fmt.Sprintf("primary key is %v, want [id]", keys),
			}
		}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Environment{
		exec:    exec,
		barrier: b,
		env:     env,
		logger:  logger.With("component", "environment"),
	}, nil
}

// ActionSpaceSize returns the number of discrete actions.
func (e *Environment) ActionSpaceSize() int {
	return e.env.ActionSpaceSize()
}

// Observe waits for the agent's turn and returns the state variables in
// configured order. Values outside their bounds are clamped.
func (e *Environment) Observe(ctx context.Context) ([]float64, error) {
	if err := e.barrier.Wait(ctx, config.AgentName); err != nil {
		return nil, err
	}

	obs := make([]float64, len(e.env.StateVars))
	for i, id := range e.env.StateVars {
		var v float64

		err := e.exec.QueryRow(ctx,
			"SELECT value FROM state_space WHERE id = ?", []any{id}, &v)
		if err != nil {
			return nil, fmt.Errorf("observe %s: %w", id, err)
		}

		obs[i] = e.clamp(id, v)
	}

	return obs, nil
}

func (e *Environment) clamp(id string, v float64) float64 {
	bound, found := e.env.Bounds[id]
	if !found {
		return v
	}

	clamped := min(max(v, bound.Min), bound.Max)
	if clamped != v {
		e.logger.Warn("observation out of bounds",
			"var", id, "value", v, "min", bound.Min, "max", bound.Max)
	}

	return clamped
}

// Clock returns the tick of the last published observation.
func (e *Environment) Clock(ctx context.Context) (int, error) {
	return store.MasterTime(ctx, e.exec)
}

// Act writes the decoded action to the action space and gives the turn to
// the monitor.
func (e *Environment) Act(ctx context.Context, index int) (map[string]int, error) {
	action, err := DecodeAction(index, e.env.ActionVars)
	if err != nil {
		return nil, err
	}

	err = e.exec.Tx(ctx, func(tx *sql.Tx) error {
		for _, id := range e.env.ActionVars {
			res, err := tx.ExecContext(ctx,
				"UPDATE action_space SET value = ? WHERE id = ?", action[id], id)
			if err != nil {
				return err
			}

			n, err := res.RowsAffected()
			if err != nil {
				return err
			}

			if n == 0 {
				return fmt.Errorf("unknown action variable %s", id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("act: %w", err)
	}

	if err := e.barrier.Handoff(ctx, config.AgentName, config.ScadaName); err != nil {
		return nil, err
	}

	return action, nil
}

// DecodeAction maps a discrete action to one 0/1 value per actuator. Bit i
// of index, counted from the least significant bit, drives vars[i].
func DecodeAction(index int, vars []string) (map[string]int, error) {
	if len(vars) > config.MaxActionVars {
		return nil, fmt.Errorf("%w: %d action variables, at most %d",
			ErrInvalidAction, len(vars), config.MaxActionVars)
	}

	size := 1 << len(vars)
	if index < 0 || index >= size {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidAction, index, size)
	}

	action := make(map[string]int, len(vars))
	for i, id := range vars {
		action[id] = (index >> i) & 1
	}

	return action, nil
}

// EncodeAction is the inverse of DecodeAction. Missing actuators count as 0.
func EncodeAction(action map[string]int, vars []string) int {
	index := 0
	for i, id := range vars {
		if action[id] != 0 {
			index |= 1 << i
		}
	}

	return index
}
