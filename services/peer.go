package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/RENCI-NRIG/impact-smc/counts"
	"github.com/RENCI-NRIG/impact-smc/engine"
	"github.com/RENCI-NRIG/impact-smc/metrics"
	"github.com/RENCI-NRIG/impact-smc/protocol"
	"github.com/jonboulle/clockwork"
)

type peerKey struct {
	session protocol.SessionID
	role    protocol.PartyRole
}

// peerRun is an in-flight peer session. launched is closed once the engine
// is running or the initiation failed, err holds the failure.
type peerRun struct {
	session  *protocol.Session
	launched chan struct{}
	err      error
}

// PeerHandler runs the peer side of a session.
type PeerHandler struct {
	resolver counts.Resolver
	engine   Engine
	clock    clockwork.Clock
	log      *slog.Logger
	tasks    engine.TaskGroup

	mu       sync.Mutex
	inflight map[peerKey]*peerRun
}

// NewPeerHandler creates a peer handler from config.
func NewPeerHandler(config NodeConfig) *PeerHandler {
	h := &PeerHandler{
		resolver: config.Resolver,
		engine:   config.Engine,
		clock:    config.Clock,
		log:      config.Log,
		inflight: make(map[peerKey]*peerRun),
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	if h.clock == nil {
		h.clock = clockwork.NewRealClock()
	}
	return h
}

// Initiate resolves the local count and starts the engine in peer role. It
// returns once the engine is running; the engine itself is supervised in the
// background. A repeated initiation of a session that is still in flight
// does no work of its own: it waits for the first one to launch and reports
// the same outcome.
func (h *PeerHandler) Initiate(ctx context.Context, req *protocol.PeerInitRequest) error {
	key := peerKey{session: req.Session, role: req.Role}

	h.mu.Lock()
	if existing, ok := h.inflight[key]; ok {
		h.mu.Unlock()
		h.log.Info("duplicate peer initiation", "session", req.Session, "role", req.Role, "state", existing.session.State())
		select {
		case <-existing.launched:
			return existing.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	run := &peerRun{
		session:  protocol.NewSession(h.clock, req.Session, req.Criterion, req.Role, req.CoordinatorHost),
		launched: make(chan struct{}),
	}
	h.inflight[key] = run
	h.mu.Unlock()

	session := run.session
	log := h.log.With("session", session.ID, "criterion", session.Criterion, "role", session.Role, "coordinator", session.CoordinatorHost)

	task, err := h.start(ctx, session)
	if err != nil {
		run.err = err
		h.forget(key)
		close(run.launched)
		session.Abort(err)
		log.Error("peer initiation failed", "state", session.State(), "err", err)
		metrics.ObserveSession(session.Role.String(), protocol.ErrorKind(err), session.Duration())
		return err
	}

	h.tasks.Add(task)
	close(run.launched)
	go func() {
		<-task.Done()
		h.forget(key)
		if err := task.Err(); err != nil {
			log.Error("peer engine failed", "err", err)
		} else {
			log.Info("peer engine finished")
		}
	}()

	if err := session.Advance(protocol.Acknowledged); err != nil {
		return err
	}
	log.Info("peer session acknowledged", "duration", session.Duration())
	metrics.ObserveSession(session.Role.String(), protocol.ErrorKind(nil), session.Duration())
	return nil
}

func (h *PeerHandler) start(ctx context.Context, session *protocol.Session) (*engine.Task, error) {
	count, err := h.resolver.Resolve(ctx, session.Criterion)
	if err != nil {
		return nil, err
	}
	if err := session.SetCount(count); err != nil {
		return nil, err
	}

	task, err := h.engine.Launch(engine.Run{
		Session:         session.ID,
		Count:           count,
		CoordinatorHost: session.CoordinatorHost,
		Role:            session.Role,
	})
	if err != nil {
		return nil, err
	}
	if err := session.Advance(protocol.EngineLaunched); err != nil {
		task.Cancel()
		return nil, err
	}
	return task, nil
}

func (h *PeerHandler) forget(key peerKey) {
	h.mu.Lock()
	delete(h.inflight, key)
	h.mu.Unlock()
}

// InFlight returns the number of peer sessions whose engine is still running.
func (h *PeerHandler) InFlight() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.inflight)
}

// Wait blocks until every peer engine has exited or ctx is done, in which
// case the remaining engines are killed.
func (h *PeerHandler) Wait(ctx context.Context) error {
	return h.tasks.Wait(ctx)
}
