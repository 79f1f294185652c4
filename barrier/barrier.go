// Package barrier implements the turn-taking protocol that advances all
// participants of a run in lockstep rounds.
//
// Every participant owns a boolean sync flag. A flag of 1 means "not your
// turn, keep waiting"; a flag of 0 means "proceed". A participant waits until
// its own flag reads 0, does its work for the round, then sets its own flag
// back to 1 and clears the flag of the next participant in one atomic step.
// A participant only ever clears its successor, so at most one flag is 0 at
// any time.
//
// A barrier may have a driver: a participant without a flag that holds the
// turn whenever every flag is 1. The physical process is the driver of the
// main barrier, which is why a freshly seeded store (all flags 1) starts with
// the physical process.
package barrier

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnknownParticipant is returned for a name with no flag.
	ErrUnknownParticipant = errors.New("unknown participant")

	// ErrDone may be returned by a Participant to end its loop without
	// handing off.
	ErrDone = errors.New("participant done")
)

// A Barrier coordinates turns between named participants.
type Barrier interface {
	// Wait blocks until it is the named participant's turn.
	Wait(ctx context.Context, name string) error

	// Handoff ends the turn of from and gives the turn to to.
	Handoff(ctx context.Context, from, to string) error

	// Flags returns the flag of every participant that has one. True means
	// the flag is 1, i.e. the participant is waiting.
	Flags(ctx context.Context) (map[string]bool, error)
}

func unknown(name string) error {
	return fmt.Errorf("%w: %q", ErrUnknownParticipant, name)
}

// Holder returns the participant that currently holds the turn, the
// driver if every flag is 1, or an empty string if the flags are
// inconsistent.
func Holder(flags map[string]bool, driver string) string {
	holder := ""
	for name, waiting := range flags {
		if waiting {
			continue
		}

		if holder != "" {
			return ""
		}
		holder = name
	}

	if holder == "" {
		return driver
	}

	return holder
}
