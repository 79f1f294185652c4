package tags

import (
	"context"
	"errors"
	"sync"
)

var errUnreachable = errors.New("source unreachable")

// Network connects tables and fetchers that live in the same process.
type Network struct {
	lock   sync.RWMutex
	tables map[string]*Table
	down   map[string]bool
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{
		tables: map[string]*Table{},
		down:   map[string]bool{},
	}
}

// Serve makes a table reachable under a source name.
func (n *Network) Serve(name string, table *Table) {
	n.lock.Lock()
	defer n.lock.Unlock()

	n.tables[name] = table
}

// SetDown makes a source unreachable, or reachable again.
func (n *Network) SetDown(name string, down bool) {
	n.lock.Lock()
	defer n.lock.Unlock()

	n.down[name] = down
}

// Fetch reads the tags of a source by its name.
func (n *Network) Fetch(ctx context.Context, source Source) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Source: source.Name, Err: err}
	}

	n.lock.RLock()
	table, found := n.tables[source.Name]
	down := n.down[source.Name]
	n.lock.RUnlock()

	if !found || down {
		return nil, &TransportError{Source: source.Name, Err: errUnreachable}
	}

	values, err := table.Get(source.Tags)
	if err != nil {
		return nil, &TransportError{Source: source.Name, Err: err}
	}

	return values, nil
}
