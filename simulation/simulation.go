// Package simulation runs every participant of a co-simulation in one
// process. Participants take turns through a shared barrier and exchange tags
// over an in-memory network.
package simulation

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/cosim/barrier"
	"github.com/sarchlab/cosim/bridge"
	"github.com/sarchlab/cosim/config"
	"github.com/sarchlab/cosim/hooking"
	"github.com/sarchlab/cosim/monitoring"
	"github.com/sarchlab/cosim/physical"
	"github.com/sarchlab/cosim/store"
	"github.com/sarchlab/cosim/tags"
)

// A Simulation holds the participants of one in-process run.
type Simulation struct {
	id     string
	cfg    *config.Config
	logger *slog.Logger

	dbs            []*sql.DB
	exec           *store.Executor
	controlExec    *store.Executor
	barrier        barrier.Barrier
	controlBarrier barrier.Barrier
	network        *tags.Network

	driver *physical.Driver
	scada  *monitoring.Scada
	agent  *bridge.Runner
	server *monitoring.Server
	url    string

	actors         []*barrier.Actor
	actorNameIndex map[string]int
}

// ID returns the unique ID of the run.
func (s *Simulation) ID() string {
	return s.id
}

// Executor returns the executor of the simulation store.
func (s *Simulation) Executor() *store.Executor {
	return s.exec
}

// Barrier returns the barrier of the main pipeline.
func (s *Simulation) Barrier() barrier.Barrier {
	return s.barrier
}

// Network returns the network the PLCs and the monitor serve their tags on.
func (s *Simulation) Network() *tags.Network {
	return s.network
}

// Scada returns the monitor.
func (s *Simulation) Scada() *monitoring.Scada {
	return s.scada
}

// Agent returns the agent runner, or nil without a control agent.
func (s *Simulation) Agent() *bridge.Runner {
	return s.agent
}

// MonitorURL returns the URL of the monitoring API, or "" if it is off.
func (s *Simulation) MonitorURL() string {
	return s.url
}

// RegisterParticipant wraps p into an actor that hands off to the next
// participant of the pipeline.
func (s *Simulation) RegisterParticipant(name string, p barrier.Participant) *barrier.Actor {
	if _, found := s.actorNameIndex[name]; found {
		panic("participant " + name + " already registered")
	}

	a := barrier.NewActor(name, s.cfg.Next(name), s.barrier, p)
	if s.logger.Enabled(context.Background(), slog.LevelDebug) {
		a.AcceptHook(hooking.NewLogHook(s.logger))
	}

	s.actors = append(s.actors, a)
	s.actorNameIndex[name] = len(s.actors) - 1

	return a
}

// GetParticipantByName returns the actor of the named participant.
func (s *Simulation) GetParticipantByName(name string) *barrier.Actor {
	i, found := s.actorNameIndex[name]
	if !found {
		return nil
	}

	return s.actors[i]
}

// Participants returns every actor in registration order.
func (s *Simulation) Participants() []*barrier.Actor {
	return s.actors
}

// Run lets every participant take its turns until the configured number of
// rounds is done, ctx is cancelled or a participant fails.
func (s *Simulation) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	for _, a := range s.actors {
		g.Go(func() error {
			err := a.Run(ctx)
			if a.Name() == config.PhysicalName {
				cancel()
			}
			return err
		})
	}

	if s.agent != nil {
		g.Go(func() error {
			return s.agent.Run(ctx)
		})
	}

	err := g.Wait()

	s.logger.Info("run stopped",
		"rounds", s.driver.Rounds(), "error", err)

	return err
}

// Terminate stops the monitor, saves the record and closes the stores.
func (s *Simulation) Terminate() error {
	var errs []error

	if s.server != nil {
		errs = append(errs, s.server.Close())
	}

	if s.scada != nil {
		errs = append(errs, s.scada.Close())
	}

	for _, db := range s.dbs {
		errs = append(errs, db.Close())
	}
	s.dbs = nil

	return errors.Join(errs...)
}
