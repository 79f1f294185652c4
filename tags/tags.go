// Package tags moves named tag values between the controllers and the
// monitor. It stands in for the industrial protocol of a real plant.
package tags

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
)

// ErrTransport reports that a source could not be reached.
var ErrTransport = errors.New("tag transport failure")

// TransportError is returned when the tags of a source could not be fetched.
type TransportError struct {
	Source string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetch tags from %s: %v", e.Source, e.Err)
}

// Is makes errors.Is match ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// A Source is a remote party whose tags can be fetched.
type Source struct {
	Name    string
	Address string
	Tags    []string
}

// A Fetcher reads every tag of a source in one call. The values are returned
// in the order of Source.Tags.
type Fetcher interface {
	Fetch(ctx context.Context, source Source) ([]string, error)
}

// Address formats the transport address of a host and port.
func Address(host string, port int) string {
	if host == "" {
		host = "127.0.0.1"
	}

	return fmt.Sprintf("tcp://%s:%d", host, port)
}

// A Table holds the tag values a party serves. It is safe for concurrent use.
type Table struct {
	lock   sync.RWMutex
	values map[string]string
}

// NewTable creates a table with the given initial values.
func NewTable(initial map[string]string) *Table {
	t := &Table{values: map[string]string{}}
	maps.Copy(t.values, initial)

	return t
}

// Set updates the given tags.
func (t *Table) Set(values map[string]string) {
	t.lock.Lock()
	defer t.lock.Unlock()

	maps.Copy(t.values, values)
}

// Get returns the values of the named tags in order. Unknown tags are an
// error.
func (t *Table) Get(names []string) ([]string, error) {
	t.lock.RLock()
	defer t.lock.RUnlock()

	values := make([]string, len(names))
	for i, n := range names {
		v, found := t.values[n]
		if !found {
			return nil, fmt.Errorf("unknown tag %s", n)
		}

		values[i] = v
	}

	return values, nil
}

// Snapshot returns a copy of every tag.
func (t *Table) Snapshot() map[string]string {
	t.lock.RLock()
	defer t.lock.RUnlock()

	return maps.Clone(t.values)
}
