package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/RENCI-NRIG/impact-smc/engine"
	"github.com/RENCI-NRIG/impact-smc/protocol"
	"github.com/go-chi/chi/v5"
)

// Routes served by a node. The legacy routes take the older parameter
// names (ccc, party) and behave identically.
const (
	QueryPath               = "/query"
	CreateTriplesPath       = "/createTriples"
	LegacyQueryPath         = "/v2/cohortQuery"
	LegacyPeerInitPath      = "/v2/cohortCoordinatedQuery"
	LegacyCreateTriplesPath = "/v2/createTriples"
)

// Node serves both the coordinator and the peer side of the protocol. Which
// role a node plays is decided per request.
type Node struct {
	coordinator *Coordinator
	peer        *PeerHandler
	engine      Engine
	log         *slog.Logger
}

// NewNode creates a node from config.
func NewNode(config NodeConfig) (*Node, error) {
	if config.Resolver == nil {
		return nil, errors.New("node requires a resolver")
	}
	if config.Engine == nil {
		return nil, errors.New("node requires an engine")
	}
	if config.Directory.IsZero() {
		return nil, errors.New("node requires a peer directory")
	}
	if config.Log == nil {
		config.Log = slog.Default()
	}
	return &Node{
		coordinator: NewCoordinator(config),
		peer:        NewPeerHandler(config),
		engine:      config.Engine,
		log:         config.Log,
	}, nil
}

// Coordinator returns the coordinator side of the node.
func (n *Node) Coordinator() *Coordinator { return n.coordinator }

// Peer returns the peer side of the node.
func (n *Node) Peer() *PeerHandler { return n.peer }

// RegisterRoutes registers the protocol routes.
func (n *Node) RegisterRoutes(r chi.Router) {
	r.Get("/", handleUsage)
	r.Get(QueryPath, n.handleQuery)
	r.Get(PeerInitPath, n.handlePeerInit)
	r.Get(CreateTriplesPath, n.handleCreateTriples)

	r.Get(LegacyQueryPath, n.handleQuery)
	r.Get(LegacyPeerInitPath, n.handlePeerInit)
	r.Get(LegacyCreateTriplesPath, n.handleCreateTriples)
}

// Shutdown waits for running peer engines.
func (n *Node) Shutdown(ctx context.Context) error {
	return n.peer.Wait(ctx)
}

func (n *Node) handleQuery(w http.ResponseWriter, r *http.Request) {
	criterion, err := protocol.QueryCriterion(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}

	session, err := n.coordinator.Query(r.Context(), criterion)
	if err != nil {
		writeError(w, err)
		return
	}
	writeText(w, session.Aggregate().String())
}

func (n *Node) handlePeerInit(w http.ResponseWriter, r *http.Request) {
	req, err := protocol.DecodePeerInitRequest(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := n.peer.Initiate(r.Context(), req); err != nil {
		http.Error(w, protocol.ErrorKind(err)+": "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeText(w, protocol.AckToken)
}

func (n *Node) handleCreateTriples(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get(protocol.ParamParties)
	parties, err := strconv.Atoi(raw)
	if err != nil || parties != protocol.PartyCount {
		http.Error(w, fmt.Sprintf("%s must be %d, got %q", protocol.ParamParties, protocol.PartyCount, raw), http.StatusBadRequest)
		return
	}

	task, err := n.engine.Prepare(parties)
	if errors.Is(err, engine.ErrPrepareNotConfigured) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	n.peer.tasks.Add(task)
	n.log.Info("shared randomness preparation started", "parties", parties)
	writeText(w, protocol.AckToken)
}

const usage = `impact-smc node

GET /query?criterion=<id>                      run a session as coordinator
GET /peerInit?criterion=<id>&host=<addr>&role=<1|2>[&session=<uuid>]
                                               join a session as peer
GET /createTriples?parties=3                   start shared randomness preparation`

func handleUsage(w http.ResponseWriter, r *http.Request) {
	writeText(w, usage)
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, body)
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, protocol.ErrorKind(err)+": "+err.Error(), StatusCode(err))
}

// StatusCode maps a session error to an HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, protocol.ErrInvalidCriterion), errors.Is(err, protocol.ErrInvalidRole):
		return http.StatusBadRequest
	case errors.Is(err, protocol.ErrPeerUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, protocol.ErrEngineTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
