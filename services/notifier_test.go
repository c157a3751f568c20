package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RENCI-NRIG/impact-smc/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func hostOf(ts *httptest.Server) string {
	return strings.TrimPrefix(ts.URL, "http://")
}

func startPeerStub(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts
}

func stubDirectory(t *testing.T, peer1, peer2 *httptest.Server) protocol.PeerDirectory {
	t.Helper()
	dir, err := protocol.NewPeerDirectory("10.0.0.1", []string{hostOf(peer1), hostOf(peer2)}, 5000)
	require.NoError(t, err)
	return dir
}

func TestPeerNotifier_SequentialOrder(t *testing.T) {
	var log eventLog
	session := protocol.NewSessionID()

	peer := func(role string, delay time.Duration) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			log.add(role + " start")
			q := r.URL.Query()
			assert.Equal(t, PeerInitPath, r.URL.Path)
			assert.Equal(t, "study42", q.Get(protocol.ParamCriterion))
			assert.Equal(t, "10.0.0.1", q.Get(protocol.ParamHost))
			assert.Equal(t, role, q.Get(protocol.ParamRole))
			assert.Equal(t, session.String(), q.Get(protocol.ParamSession))
			time.Sleep(delay)
			log.add(role + " end")
			fmt.Fprintln(w, protocol.AckToken)
		}
	}
	peer1 := startPeerStub(t, peer("1", 100*time.Millisecond))
	peer2 := startPeerStub(t, peer("2", 0))

	n := NewPeerNotifier(stubDirectory(t, peer1, peer2), PeersConfig{Timeout: 2 * time.Second}, nil)
	require.NoError(t, n.NotifyPeers(context.Background(), session, "study42"))

	require.Equal(t, []string{"1 start", "1 end", "2 start", "2 end"}, log.list())
}

func TestPeerNotifier_ConcurrentNotifiesBothAtOnce(t *testing.T) {
	peer2Arrived := make(chan struct{})

	peer1 := startPeerStub(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-peer2Arrived:
			fmt.Fprintln(w, protocol.AckToken)
		case <-r.Context().Done():
		}
	})
	peer2 := startPeerStub(t, func(w http.ResponseWriter, r *http.Request) {
		close(peer2Arrived)
		fmt.Fprintln(w, protocol.AckToken)
	})

	n := NewPeerNotifier(stubDirectory(t, peer1, peer2), PeersConfig{Timeout: 2 * time.Second, Concurrent: true}, nil)
	require.NoError(t, n.NotifyPeers(context.Background(), protocol.NewSessionID(), "study42"))
}

func TestPeerNotifier_StalledPeer(t *testing.T) {
	stall := make(chan struct{})
	var log eventLog

	peer1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add("1")
		select {
		case <-stall:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(stall)
		peer1.Close()
	})
	peer2 := startPeerStub(t, func(w http.ResponseWriter, r *http.Request) {
		log.add("2")
		fmt.Fprintln(w, protocol.AckToken)
	})

	n := NewPeerNotifier(stubDirectory(t, peer1, peer2), PeersConfig{Timeout: 200 * time.Millisecond}, nil)

	start := time.Now()
	err := n.NotifyPeers(context.Background(), protocol.NewSessionID(), "study42")
	require.ErrorIs(t, err, protocol.ErrPeerUnreachable)
	require.Contains(t, err.Error(), "role 1")
	require.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, []string{"1"}, log.list(), "peer 2 must not be notified after peer 1 failed")
}

func TestPeerNotifier_RejectedAcknowledgments(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "resolver_failure: boom", http.StatusInternalServerError)
		},
		"wrong body": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, "FAILURE")
		},
		"not found": http.NotFound,
	}
	ok := startPeerStub(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, protocol.AckToken)
	})

	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			bad := startPeerStub(t, h)
			n := NewPeerNotifier(stubDirectory(t, ok, bad), DefaultPeersConfig(), nil)

			err := n.NotifyPeers(context.Background(), protocol.NewSessionID(), "study42")
			require.ErrorIs(t, err, protocol.ErrPeerUnreachable)
			require.Contains(t, err.Error(), "role 2")
		})
	}
}

func TestPeerNotifier_ConnectionRefused(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	ok := startPeerStub(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, protocol.AckToken)
	})

	n := NewPeerNotifier(stubDirectory(t, closed, ok), DefaultPeersConfig(), nil)
	err := n.NotifyPeers(context.Background(), protocol.NewSessionID(), "study42")
	require.ErrorIs(t, err, protocol.ErrPeerUnreachable)
}
