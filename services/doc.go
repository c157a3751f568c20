/*
# Services Package

The services package turns the protocol types into a running impact-smc node:
the coordinator session driver, the peer notifier, the peer-side initiation
handler and the chi routes that expose them.

## Components

1. **Coordinator** (`coordinator.go`)
  - Drives one aggregation session per `/query` request
  - Resolves the local count, notifies both peers, runs the engine as party 0
    and collects the aggregate
  - Any failure aborts the session and is returned with its protocol kind

2. **PeerNotifier** (`notifier.go`)
  - Sends `GET /peerInit` to peer 1, waits for `SUCCESS`, then peer 2
  - Each call is bounded by `PeersConfig.Timeout`
  - `PeersConfig.Concurrent` notifies both peers at once

3. **PeerHandler** (`peer.go`)
  - Handles `/peerInit` on peers 1 and 2
  - Resolves the local count and launches the engine as a supervised
    background task
  - Duplicate initiations for the same session and role are acknowledged
    without launching a second engine

4. **Node** (`node.go`)
  - Registers the routes on a chi router, including the `/v2/...` aliases
    used by older coordinators
  - Maps error kinds to HTTP status codes (see StatusCode)

## Routes

	GET /                          usage
	GET /query?criterion=<id>      aggregate across the three parties
	GET /peerInit?criterion=<id>&host=<coordinator>&role=<1|2>&session=<id>
	GET /createTriples?parties=3   start shared randomness preparation

Responses are plain text. Errors are `<kind>: <detail>` with status 400 for
bad input, 502 when a peer cannot be reached, 504 when the engine times out
and 500 otherwise.

## Usage

	node, err := services.NewNode(services.NodeConfig{
	    Directory: directory,
	    Resolver:  resolver,
	    Engine:    launcher,
	    Peers:     services.DefaultPeersConfig(),
	    Log:       log,
	})
	if err != nil {
	    return err
	}

	srv, err := httpserver.New(serverConfig, node)

Node.Shutdown waits for peer engine runs that are still in flight.
*/
package services
