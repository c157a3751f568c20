package protocol

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// PeerAddress locates a party's HTTP endpoint.
type PeerAddress struct {
	Host string
	Port int
}

// BaseURL returns the http URL of the peer, without a trailing slash.
func (a PeerAddress) BaseURL() string {
	return "http://" + net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

func (a PeerAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// PeerDirectory maps the peer roles of a session to network addresses and
// records the host this node announces to peers and to the engine.
// It is loaded once at startup and never modified.
type PeerDirectory struct {
	self  string
	port  int
	peers [PartyCount - 1]PeerAddress
}

// NewPeerDirectory builds a directory from the local host identity, the two
// peer hosts in role order, and the port shared by all parties. A peer given
// as host:port keeps its own port.
func NewPeerDirectory(self string, peerHosts []string, port int) (PeerDirectory, error) {
	self = strings.TrimSpace(self)
	if self == "" {
		return PeerDirectory{}, fmt.Errorf("self address is empty")
	}
	if len(peerHosts) != PartyCount-1 {
		return PeerDirectory{}, fmt.Errorf("expected %d peers, got %d", PartyCount-1, len(peerHosts))
	}
	if port <= 0 || port > 65535 {
		return PeerDirectory{}, fmt.Errorf("invalid port %d", port)
	}

	d := PeerDirectory{self: self, port: port}
	for i, h := range peerHosts {
		h = strings.TrimSpace(h)
		if h == "" {
			return PeerDirectory{}, fmt.Errorf("peer %d host is empty", i+1)
		}
		addr, err := parsePeerHost(h, port)
		if err != nil {
			return PeerDirectory{}, fmt.Errorf("peer %d: %w", i+1, err)
		}
		d.peers[i] = addr
	}
	return d, nil
}

func parsePeerHost(h string, defaultPort int) (PeerAddress, error) {
	host, rawPort, err := net.SplitHostPort(h)
	if err != nil {
		// No port component.
		return PeerAddress{Host: strings.Trim(h, "[]"), Port: defaultPort}, nil
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil || port <= 0 || port > 65535 {
		return PeerAddress{}, fmt.Errorf("invalid port in %q", h)
	}
	return PeerAddress{Host: host, Port: port}, nil
}

// Self returns the externally reachable host of this node.
func (d PeerDirectory) Self() string {
	return d.self
}

// Port returns the port shared by all parties.
func (d PeerDirectory) Port() int {
	return d.port
}

// Peer returns the address of the party holding a peer role.
func (d PeerDirectory) Peer(role PartyRole) (PeerAddress, error) {
	if !role.IsPeer() {
		return PeerAddress{}, fmt.Errorf("%w: %d is not a peer role", ErrInvalidRole, role)
	}
	return d.peers[role-1], nil
}

// Peers returns both peer addresses in role order.
func (d PeerDirectory) Peers() []PeerAddress {
	return []PeerAddress{d.peers[0], d.peers[1]}
}

// IsZero reports whether the directory was never configured.
func (d PeerDirectory) IsZero() bool {
	return d.self == "" && d.port == 0
}
