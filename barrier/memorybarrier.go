package barrier

import (
	"context"
	"fmt"
	"maps"
	"sync"
)

// MemoryBarrier keeps flags in memory for participants that share one
// process. Waiters block until a handoff changes the flags instead of
// polling.
type MemoryBarrier struct {
	lock    sync.Mutex
	driver  string
	flags   map[string]bool
	changed chan struct{}
}

// NewMemoryBarrier creates a barrier seeded with the given flags, where true
// stands for 1. The driver, if not empty, must not have a flag.
func NewMemoryBarrier(driver string, flags map[string]bool) *MemoryBarrier {
	if _, found := flags[driver]; found && driver != "" {
		panic(fmt.Sprintf("driver %q must not have a flag", driver))
	}

	return &MemoryBarrier{
		driver:  driver,
		flags:   maps.Clone(flags),
		changed: make(chan struct{}),
	}
}

// NewPipelineBarrier seeds one flag of 1 per name, which gives the first
// turn to the driver.
func NewPipelineBarrier(driver string, names []string) *MemoryBarrier {
	flags := make(map[string]bool, len(names))
	for _, n := range names {
		flags[n] = true
	}

	return NewMemoryBarrier(driver, flags)
}

// Wait blocks until the flag of name is 0.
func (b *MemoryBarrier) Wait(ctx context.Context, name string) error {
	for {
		b.lock.Lock()
		ready, err := b.ready(name)
		changed := b.changed
		b.lock.Unlock()

		if err != nil || ready {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

func (b *MemoryBarrier) ready(name string) (bool, error) {
	if b.driver != "" && name == b.driver {
		for _, waiting := range b.flags {
			if !waiting {
				return false, nil
			}
		}

		return true, nil
	}

	waiting, found := b.flags[name]
	if !found {
		return false, unknown(name)
	}

	return !waiting, nil
}

// Handoff sets the flag of from to 1 and the flag of to to 0 and wakes all
// waiters.
func (b *MemoryBarrier) Handoff(_ context.Context, from, to string) error {
	if from == to {
		return fmt.Errorf("handoff from %q to itself", from)
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	for _, n := range []string{from, to} {
		if _, found := b.flags[n]; !found && n != b.driver {
			return unknown(n)
		}
	}

	if from != b.driver {
		b.flags[from] = true
	}

	if to != b.driver {
		b.flags[to] = false
	}

	close(b.changed)
	b.changed = make(chan struct{})

	return nil
}

// Flags returns a copy of the flags.
func (b *MemoryBarrier) Flags(_ context.Context) (map[string]bool, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	return maps.Clone(b.flags), nil
}
