// Package protocol defines the session model of the three-party secure
// aggregation protocol run by impact-smc nodes.
//
// # Parties
//
// Every session has exactly three parties. Party 0 is the coordinator: it
// receives the caller's query, notifies both peers, runs the SMC engine in
// coordinator role and returns the aggregate. Parties 1 and 2 are peers: on
// notification they resolve their own local count and start the SMC engine in
// peer role, then acknowledge. The engine processes talk to each other
// directly; nodes never exchange counts.
//
// The set of parties is fixed at process start by a PeerDirectory and is never
// negotiated at request time.
//
// # Sessions
//
// A Session ties together one criterion, the local party role, the local count
// and, on the coordinator, the aggregate. Sessions are identified by a
// SessionID which keys every hand-off to an external process, so concurrent
// sessions on one host never share files.
//
// Coordinator sessions move through
//
//	Idle -> LocalCountResolved -> PeersNotified -> EngineLaunched -> ResultCollected -> Completed
//
// and peer sessions through
//
//	Idle -> LocalCountResolved -> EngineLaunched -> Acknowledged
//
// Any non-terminal state may move to Aborted when a step fails.
//
// # Errors
//
// Failures are classified by the sentinel errors in errors.go so that callers
// can map them to distinct responses with errors.Is.
package protocol
