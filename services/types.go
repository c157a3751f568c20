package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/RENCI-NRIG/impact-smc/counts"
	"github.com/RENCI-NRIG/impact-smc/engine"
	"github.com/RENCI-NRIG/impact-smc/protocol"
	"github.com/jonboulle/clockwork"
)

// Engine starts SMC engine and preparation processes. *engine.Launcher
// implements it.
type Engine interface {
	Coordinate(ctx context.Context, run engine.Run) (*engine.Result, error)
	Launch(run engine.Run) (*engine.Task, error)
	Prepare(parties int) (*engine.Task, error)
}

// Notifier initiates a session on both peers.
type Notifier interface {
	NotifyPeers(ctx context.Context, session protocol.SessionID, criterion protocol.Criterion) error
}

// PeersConfig configures the outbound peer initiation calls.
type PeersConfig struct {
	// Timeout bounds each initiation call.
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
	// Concurrent notifies both peers at once instead of peer 1 then peer 2.
	Concurrent bool `yaml:"concurrent" toml:"concurrent"`
}

// DefaultPeersConfig returns sequential notification with a 10s per-peer timeout.
func DefaultPeersConfig() PeersConfig {
	return PeersConfig{Timeout: 10 * time.Second}
}

// NodeConfig wires the collaborators of a node.
type NodeConfig struct {
	Directory protocol.PeerDirectory
	Resolver  counts.Resolver
	Engine    Engine
	// Notifier defaults to a PeerNotifier over Directory.
	Notifier Notifier
	Peers    PeersConfig
	Clock    clockwork.Clock
	Log      *slog.Logger
}
