package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/sarchlab/cosim/config"
)

// A Policy picks a discrete action from an observation.
type Policy interface {
	Decide(obs []float64) (int, error)
}

// RandomPolicy picks actions uniformly at random.
type RandomPolicy struct {
	rng  *rand.Rand
	size int
}

// NewRandomPolicy creates a policy over size actions with a fixed seed.
func NewRandomPolicy(seed uint64, size int) *RandomPolicy {
	return &RandomPolicy{
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		size: size,
	}
}

// Decide ignores the observation.
func (p *RandomPolicy) Decide([]float64) (int, error) {
	return p.rng.IntN(p.size), nil
}

// FixedPolicy always picks the same action.
type FixedPolicy int

// Decide returns the action.
func (p FixedPolicy) Decide([]float64) (int, error) {
	return int(p), nil
}

// NewPolicy builds the policy named in the agent configuration.
func NewPolicy(agent config.Agent, size int) (Policy, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: empty action space", ErrInvalidAction)
	}

	switch agent.Policy {
	case "", "random":
		return NewRandomPolicy(agent.Seed, size), nil
	case "fixed":
		if agent.Action < 0 || agent.Action >= size {
			return nil, fmt.Errorf("%w: fixed action %d not in [0, %d)",
				ErrInvalidAction, agent.Action, size)
		}
		return FixedPolicy(agent.Action), nil
	default:
		return nil, fmt.Errorf("unknown policy %q", agent.Policy)
	}
}

// Runner drives an environment with a policy.
type Runner struct {
	env    *Environment
	policy Policy
	logger *slog.Logger
	steps  int
}

// NewRunner creates a runner.
func NewRunner(env *Environment, policy Policy, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		env:    env,
		policy: policy,
		logger: logger.With("component", "agent"),
	}
}

// Steps returns the number of actions taken.
func (r *Runner) Steps() int {
	return r.steps
}

// Step observes, decides and acts once.
func (r *Runner) Step(ctx context.Context) error {
	obs, err := r.env.Observe(ctx)
	if err != nil {
		return err
	}

	index, err := r.policy.Decide(obs)
	if err != nil {
		return fmt.Errorf("decide: %w", err)
	}

	action, err := r.env.Act(ctx, index)
	if err != nil {
		return err
	}

	r.steps++
	r.logger.Debug("acted", "step", r.steps, "obs", obs, "action", action)

	return nil
}

// Run steps until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	for {
		err := r.Step(ctx)
		if err == nil {
			continue
		}

		if ctx.Err() != nil {
			return nil
		}

		return err
	}
}
