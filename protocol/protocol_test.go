package protocol

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestParseCriterion(t *testing.T) {
	c, err := ParseCriterion("study42")
	require.NoError(t, err)
	require.Equal(t, Criterion("study42"), c)

	// Quote characters are fine, the store binds them as parameters.
	_, err = ParseCriterion("o'brien;--")
	require.NoError(t, err)

	for _, bad := range []string{"", "a b", "x\ny", "tab\there", strings.Repeat("a", MaxCriterionLength+1)} {
		_, err := ParseCriterion(bad)
		require.ErrorIs(t, err, ErrInvalidCriterion, "input %q", bad)
	}
}

func TestParsePartyRole(t *testing.T) {
	for i, want := range []PartyRole{CoordinatorRole, FirstPeerRole, SecondPeerRole} {
		got, err := ParsePartyRole(fmt.Sprint(i))
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	for _, bad := range []string{"3", "-1", "one", ""} {
		_, err := ParsePartyRole(bad)
		require.ErrorIs(t, err, ErrInvalidRole)
	}

	require.False(t, CoordinatorRole.IsPeer())
	require.True(t, FirstPeerRole.IsPeer())
	require.True(t, SecondPeerRole.IsPeer())
}

func TestCount(t *testing.T) {
	c, err := ParseCount(" 10\n")
	require.NoError(t, err)
	require.Equal(t, Count(10), c)
	require.Equal(t, "10", c.String())

	_, err = ParseCount("-4")
	require.Error(t, err)

	require.True(t, SentinelCount.IsSentinel())
	require.Equal(t, "222222", SentinelCount.String())
}

func TestPeerDirectory(t *testing.T) {
	d, err := NewPeerDirectory(" coord.example ", []string{"peer1.example", "peer2.example"}, 5000)
	require.NoError(t, err)

	require.Equal(t, "coord.example", d.Self())
	require.Equal(t, 5000, d.Port())

	p1, err := d.Peer(FirstPeerRole)
	require.NoError(t, err)
	require.Equal(t, "http://peer1.example:5000", p1.BaseURL())

	p2, err := d.Peer(SecondPeerRole)
	require.NoError(t, err)
	require.Equal(t, "peer2.example", p2.Host)

	_, err = d.Peer(CoordinatorRole)
	require.ErrorIs(t, err, ErrInvalidRole)

	_, err = NewPeerDirectory("me", []string{"only-one"}, 5000)
	require.Error(t, err)
	_, err = NewPeerDirectory("me", []string{"a", "b"}, 0)
	require.Error(t, err)
	_, err = NewPeerDirectory("", []string{"a", "b"}, 80)
	require.Error(t, err)
	_, err = NewPeerDirectory("me", []string{"a:http", "b"}, 80)
	require.Error(t, err)
}

func TestPeerDirectory_PerPeerPort(t *testing.T) {
	d, err := NewPeerDirectory("me", []string{"127.0.0.1:6001", "::1"}, 5000)
	require.NoError(t, err)

	require.Equal(t, []PeerAddress{
		{Host: "127.0.0.1", Port: 6001},
		{Host: "::1", Port: 5000},
	}, d.Peers())

	p2, err := d.Peer(SecondPeerRole)
	require.NoError(t, err)
	require.Equal(t, "http://[::1]:5000", p2.BaseURL())
}

func TestPeerInitRequestRoundTrip(t *testing.T) {
	req := &PeerInitRequest{
		Session:         NewSessionID(),
		Criterion:       "study&42=x",
		CoordinatorHost: "10.0.0.1",
		Role:            SecondPeerRole,
	}

	// Encoding must survive URL-significant characters in the criterion.
	v, err := url.ParseQuery(req.Values().Encode())
	require.NoError(t, err)

	decoded, err := DecodePeerInitRequest(v)
	require.NoError(t, err)
	require.Equal(t, req, decoded)
}

func TestDecodePeerInitRequest(t *testing.T) {
	t.Run("legacy parameter names", func(t *testing.T) {
		v := url.Values{"ccc": {"study42"}, "host": {"coord"}, "party": {"1"}}
		req, err := DecodePeerInitRequest(v)
		require.NoError(t, err)
		require.Equal(t, Criterion("study42"), req.Criterion)
		require.Equal(t, FirstPeerRole, req.Role)
		require.NotEmpty(t, req.Session)
	})

	t.Run("coordinator role rejected", func(t *testing.T) {
		v := url.Values{"criterion": {"x"}, "host": {"coord"}, "role": {"0"}}
		_, err := DecodePeerInitRequest(v)
		require.ErrorIs(t, err, ErrInvalidRole)
	})

	t.Run("missing host", func(t *testing.T) {
		v := url.Values{"criterion": {"x"}, "role": {"1"}}
		_, err := DecodePeerInitRequest(v)
		require.Error(t, err)
	})

	t.Run("session must be a uuid", func(t *testing.T) {
		v := url.Values{"criterion": {"x"}, "host": {"coord"}, "role": {"1"}, "session": {"../../etc"}}
		_, err := DecodePeerInitRequest(v)
		require.Error(t, err)
	})
}

func TestCoordinatorSessionLifecycle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewSession(clock, NewSessionID(), "study42", CoordinatorRole, "coord")
	require.Equal(t, Idle, s.State())

	require.NoError(t, s.SetCount(10))
	clock.Advance(time.Second)
	require.NoError(t, s.Advance(PeersNotified))
	require.NoError(t, s.Advance(EngineLaunched))
	clock.Advance(2 * time.Second)
	require.NoError(t, s.SetAggregate("20"))
	require.NoError(t, s.Advance(Completed))

	require.Equal(t, Count(10), s.Count())
	require.Equal(t, Aggregate("20"), s.Aggregate())
	require.Equal(t, 3*time.Second, s.Duration())

	var states []State
	for _, tr := range s.History() {
		states = append(states, tr.State)
	}
	require.Equal(t, []State{Idle, LocalCountResolved, PeersNotified, EngineLaunched, ResultCollected, Completed}, states)

	// Terminal sessions ignore aborts.
	s.Abort(errors.New("late"))
	require.Equal(t, Completed, s.State())
	require.NoError(t, s.Err())
}

func TestSessionRejectsSkippedStates(t *testing.T) {
	s := NewSession(nil, NewSessionID(), "x", CoordinatorRole, "coord")
	require.ErrorIs(t, s.Advance(EngineLaunched), ErrInvalidTransition)

	require.NoError(t, s.SetCount(1))
	err := s.SetAggregate("1")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, LocalCountResolved, s.State())
}

func TestPeerSessionLifecycle(t *testing.T) {
	s := NewSession(nil, NewSessionID(), "x", FirstPeerRole, "coord")
	require.NoError(t, s.SetCount(7))

	// Peers never notify anyone.
	require.ErrorIs(t, s.Advance(PeersNotified), ErrInvalidTransition)

	require.NoError(t, s.Advance(EngineLaunched))
	require.NoError(t, s.Advance(Acknowledged))
	require.True(t, s.State().Terminal())
}

func TestSessionAbort(t *testing.T) {
	s := NewSession(nil, NewSessionID(), "x", CoordinatorRole, "coord")
	require.NoError(t, s.SetCount(1))

	cause := fmt.Errorf("%w: peer 2", ErrPeerUnreachable)
	s.Abort(cause)
	require.Equal(t, Aborted, s.State())
	require.ErrorIs(t, s.Err(), ErrPeerUnreachable)
	require.ErrorIs(t, s.Advance(PeersNotified), ErrInvalidTransition)
}

func TestErrorKind(t *testing.T) {
	require.Equal(t, "ok", ErrorKind(nil))
	require.Equal(t, "peer_unreachable", ErrorKind(fmt.Errorf("role 2: %w", ErrPeerUnreachable)))
	require.Equal(t, "engine_timeout", ErrorKind(fmt.Errorf("x: %w", ErrEngineTimeout)))
	require.Equal(t, "internal", ErrorKind(errors.New("boom")))
}
