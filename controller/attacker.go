package controller

import (
	"context"
	"log/slog"

	"github.com/sarchlab/cosim/config"
	"github.com/sarchlab/cosim/store"
)

// Attacker is a network attack that switches itself on while the master
// clock is inside its trigger window.
type Attacker struct {
	attack config.NetworkAttack
	exec   *store.Executor
	logger *slog.Logger

	known  bool
	active bool
}

// NewAttacker creates an attacker participant.
func NewAttacker(attack config.NetworkAttack, exec *store.Executor, logger *slog.Logger) *Attacker {
	if logger == nil {
		logger = slog.Default()
	}

	return &Attacker{
		attack: attack,
		exec:   exec,
		logger: logger.With("component", attack.Name),
	}
}

// Name returns the participant name of the attacker.
func (a *Attacker) Name() string {
	return a.attack.Name
}

// Active tells whether the attack was on after the last round.
func (a *Attacker) Active() bool {
	return a.active
}

// Round sets the attack flag for the current clock.
func (a *Attacker) Round(ctx context.Context) error {
	t, err := store.MasterTime(ctx, a.exec)
	if err != nil {
		return err
	}

	active := a.attack.Trigger.Active(t)
	if a.known && active == a.active {
		return nil
	}

	if err := store.SetAttackFlag(ctx, a.exec, a.attack.Name, active); err != nil {
		return err
	}

	if a.known {
		a.logger.Info("attack switched", "time", t, "active", active)
	}

	a.known = true
	a.active = active

	return nil
}
