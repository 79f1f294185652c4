package barrier

import (
	"context"
	"errors"

	"github.com/sarchlab/cosim/hooking"
)

// HookPosTurnBegin marks the moment an actor starts its round.
var HookPosTurnBegin = &hooking.HookPos{Name: "TurnBegin"}

// HookPosTurnEnd marks the moment an actor finished its round, before it
// hands off.
var HookPosTurnEnd = &hooking.HookPos{Name: "TurnEnd"}

// HookPosTurnDone marks a turn whose round ended the actor with ErrDone. It
// closes the TurnBegin of that turn.
var HookPosTurnDone = &hooking.HookPos{Name: "TurnDone"}

// A Participant does the work of one actor for one round.
type Participant interface {
	Round(ctx context.Context) error
}

// ParticipantFunc adapts a function to the Participant interface.
type ParticipantFunc func(ctx context.Context) error

// Round calls f.
func (f ParticipantFunc) Round(ctx context.Context) error {
	return f(ctx)
}

// An Actor runs a participant in turn with the other actors of a barrier.
type Actor struct {
	*hooking.HookableBase

	name        string
	next        string
	barrier     Barrier
	participant Participant
	rounds      int
}

// NewActor creates an actor named name that hands off to next.
func NewActor(name, next string, b Barrier, p Participant) *Actor {
	return &Actor{
		HookableBase: hooking.NewHookableBase(),
		name:         name,
		next:         next,
		barrier:      b,
		participant:  p,
	}
}

// Name returns the name of the actor.
func (a *Actor) Name() string {
	return a.name
}

// Rounds returns how many rounds the actor completed.
func (a *Actor) Rounds() int {
	return a.rounds
}

// Step waits for the actor's turn, runs one round and hands off. A round
// that fails does not hand off.
func (a *Actor) Step(ctx context.Context) error {
	if err := a.barrier.Wait(ctx, a.name); err != nil {
		return err
	}

	a.InvokeHook(hooking.HookCtx{
		Domain: a,
		Pos:    HookPosTurnBegin,
		Item:   a.name,
		Detail: a.rounds,
	})

	if err := a.participant.Round(ctx); err != nil {
		if errors.Is(err, ErrDone) {
			a.InvokeHook(hooking.HookCtx{
				Domain: a,
				Pos:    HookPosTurnDone,
				Item:   a.name,
				Detail: a.rounds,
			})
		}

		return err
	}

	a.InvokeHook(hooking.HookCtx{
		Domain: a,
		Pos:    HookPosTurnEnd,
		Item:   a.name,
		Detail: a.rounds,
	})

	if err := a.barrier.Handoff(ctx, a.name, a.next); err != nil {
		return err
	}

	a.rounds++

	return nil
}

// Run steps until the participant returns ErrDone, the context is cancelled
// or an error occurs. Only the last case is reported; a failure seen after
// cancellation counts as cancellation.
func (a *Actor) Run(ctx context.Context) error {
	for {
		err := a.Step(ctx)

		switch {
		case err == nil:
			continue
		case errors.Is(err, ErrDone):
			return nil
		case ctx.Err() != nil:
			return nil
		default:
			return err
		}
	}
}
