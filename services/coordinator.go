package services

import (
	"context"
	"log/slog"

	"github.com/RENCI-NRIG/impact-smc/counts"
	"github.com/RENCI-NRIG/impact-smc/engine"
	"github.com/RENCI-NRIG/impact-smc/metrics"
	"github.com/RENCI-NRIG/impact-smc/protocol"
	"github.com/jonboulle/clockwork"
)

// Coordinator runs aggregation sessions in role 0.
type Coordinator struct {
	directory protocol.PeerDirectory
	resolver  counts.Resolver
	notifier  Notifier
	engine    Engine
	clock     clockwork.Clock
	log       *slog.Logger
}

// NewCoordinator creates a coordinator from config.
func NewCoordinator(config NodeConfig) *Coordinator {
	c := &Coordinator{
		directory: config.Directory,
		resolver:  config.Resolver,
		notifier:  config.Notifier,
		engine:    config.Engine,
		clock:     config.Clock,
		log:       config.Log,
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.notifier == nil {
		c.notifier = NewPeerNotifier(config.Directory, config.Peers, c.log)
	}
	return c
}

// Query runs one session for criterion: resolve the local count, initiate both
// peers, run the engine and collect the aggregate. The returned session
// records the outcome and is non-nil even on failure.
func (c *Coordinator) Query(ctx context.Context, criterion protocol.Criterion) (*protocol.Session, error) {
	session := protocol.NewSession(c.clock, protocol.NewSessionID(), criterion, protocol.CoordinatorRole, c.directory.Self())
	log := c.log.With("session", session.ID, "criterion", criterion, "role", session.Role)

	err := c.run(ctx, session, log)
	if err != nil {
		session.Abort(err)
		log.Error("session aborted", "state", session.State(), "err", err)
	} else {
		log.Info("session completed", "aggregate", session.Aggregate(), "duration", session.Duration())
	}
	metrics.ObserveSession(session.Role.String(), protocol.ErrorKind(err), session.Duration())
	return session, err
}

func (c *Coordinator) run(ctx context.Context, session *protocol.Session, log *slog.Logger) error {
	count, err := c.resolver.Resolve(ctx, session.Criterion)
	if err != nil {
		return err
	}
	if err := session.SetCount(count); err != nil {
		return err
	}
	log.Debug("local count resolved", "sentinel", count.IsSentinel())

	if err := c.notifier.NotifyPeers(ctx, session.ID, session.Criterion); err != nil {
		return err
	}
	if err := session.Advance(protocol.PeersNotified); err != nil {
		return err
	}

	if err := session.Advance(protocol.EngineLaunched); err != nil {
		return err
	}
	result, err := c.engine.Coordinate(ctx, engine.Run{
		Session:         session.ID,
		Count:           count,
		CoordinatorHost: session.CoordinatorHost,
		Role:            protocol.CoordinatorRole,
	})
	if err != nil {
		return err
	}

	aggregate, err := result.Collect()
	if err != nil {
		return err
	}
	if err := session.SetAggregate(aggregate); err != nil {
		return err
	}
	return session.Advance(protocol.Completed)
}
