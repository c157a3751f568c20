package protocol

import "errors"

var (
	// ErrInvalidCriterion rejects a malformed criterion before any work starts.
	ErrInvalidCriterion = errors.New("invalid criterion")

	// ErrInvalidRole rejects a role outside {0, 1, 2} or a role not valid for the operation.
	ErrInvalidRole = errors.New("invalid party role")

	// ErrResolverFailure means the local store or analytics provider could not produce a count.
	ErrResolverFailure = errors.New("resolver failure")

	// ErrPeerUnreachable means a peer did not acknowledge its initiation in time.
	ErrPeerUnreachable = errors.New("peer unreachable")

	// ErrEngineLaunchFailure means the engine process could not be started.
	ErrEngineLaunchFailure = errors.New("engine launch failure")

	// ErrEngineFailure means the engine process exited with a non-zero status.
	ErrEngineFailure = errors.New("engine failure")

	// ErrEngineTimeout means the engine did not finish within its deadline.
	ErrEngineTimeout = errors.New("engine timeout")

	// ErrResultUnavailable means the engine exited but left no readable aggregate.
	ErrResultUnavailable = errors.New("result unavailable")

	// ErrInvalidTransition is returned by Session.Advance for an illegal state change.
	ErrInvalidTransition = errors.New("invalid session state transition")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidCriterion, "invalid_criterion"},
	{ErrInvalidRole, "invalid_role"},
	{ErrResolverFailure, "resolver_failure"},
	{ErrPeerUnreachable, "peer_unreachable"},
	{ErrEngineLaunchFailure, "engine_launch_failure"},
	{ErrEngineTimeout, "engine_timeout"},
	{ErrEngineFailure, "engine_failure"},
	{ErrResultUnavailable, "result_unavailable"},
	{ErrInvalidTransition, "invalid_transition"},
}

// ErrorKind returns a stable label for err, suitable for logs and metrics.
// A nil error is "ok", an unclassified one "internal".
func ErrorKind(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}
