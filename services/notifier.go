package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/RENCI-NRIG/impact-smc/metrics"
	"github.com/RENCI-NRIG/impact-smc/protocol"
	"golang.org/x/sync/errgroup"
)

// PeerInitPath is the peer initiation route.
const PeerInitPath = "/peerInit"

// maxAckSize bounds how much of an acknowledgment body is read.
const maxAckSize = 1 << 10

// PeerNotifier sends peer initiation calls on behalf of the coordinator.
type PeerNotifier struct {
	directory  protocol.PeerDirectory
	config     PeersConfig
	httpClient *http.Client
	log        *slog.Logger
}

// NewPeerNotifier creates a notifier for the peers in directory.
func NewPeerNotifier(directory protocol.PeerDirectory, config PeersConfig, log *slog.Logger) *PeerNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &PeerNotifier{
		directory:  directory,
		config:     config,
		httpClient: &http.Client{},
		log:        log,
	}
}

// NotifyPeers initiates the session on peer 1 and then peer 2, waiting for
// each acknowledgment. With PeersConfig.Concurrent both calls are issued at
// once and joined. The first failure is returned.
func (n *PeerNotifier) NotifyPeers(ctx context.Context, session protocol.SessionID, criterion protocol.Criterion) error {
	if !n.config.Concurrent {
		for _, role := range protocol.PeerRoles {
			if err := n.Notify(ctx, n.request(session, criterion, role)); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, role := range protocol.PeerRoles {
		req := n.request(session, criterion, role)
		g.Go(func() error {
			return n.Notify(gctx, req)
		})
	}
	return g.Wait()
}

func (n *PeerNotifier) request(session protocol.SessionID, criterion protocol.Criterion, role protocol.PartyRole) *protocol.PeerInitRequest {
	return &protocol.PeerInitRequest{
		Session:         session,
		Criterion:       criterion,
		CoordinatorHost: n.directory.Self(),
		Role:            role,
	}
}

// Notify sends one initiation call and waits for its acknowledgment.
func (n *PeerNotifier) Notify(ctx context.Context, req *protocol.PeerInitRequest) error {
	peer, err := n.directory.Peer(req.Role)
	if err != nil {
		return err
	}

	if n.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.config.Timeout)
		defer cancel()
	}

	err = n.send(ctx, peer, req)
	if err != nil {
		metrics.PeerNotifyFailures.WithLabelValues(peer.String()).Inc()
		n.log.Warn("peer initiation failed", "session", req.Session, "role", req.Role, "peer", peer, "err", err)
		return fmt.Errorf("%w: role %d at %s: %v", protocol.ErrPeerUnreachable, req.Role, peer, err)
	}
	n.log.Debug("peer acknowledged", "session", req.Session, "role", req.Role, "peer", peer)
	return nil
}

func (n *PeerNotifier) send(ctx context.Context, peer protocol.PeerAddress, req *protocol.PeerInitRequest) error {
	url := peer.BaseURL() + PeerInitPath + "?" + req.Values().Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := n.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAckSize))
	if err != nil {
		return fmt.Errorf("reading acknowledgment: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if strings.TrimSpace(string(body)) != protocol.AckToken {
		return fmt.Errorf("unexpected acknowledgment %q", strings.TrimSpace(string(body)))
	}
	return nil
}
