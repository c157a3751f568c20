package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// PartyCount is the number of parties in every session.
const PartyCount = 3

// SentinelCount is reported by a party whose local store has no row for the
// criterion. It is summed by the engine like any other count.
const SentinelCount Count = 222222

// MaxCriterionLength bounds the size of a criterion accepted from callers.
const MaxCriterionLength = 256

// Criterion identifies the query shared by all parties of a session.
type Criterion string

// ParseCriterion validates a caller-supplied criterion.
// Criteria are passed to the local store as bound parameters and to
// subprocesses as single argv elements, so only emptiness, length and
// non-printable characters are rejected.
func ParseCriterion(s string) (Criterion, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCriterion)
	}
	if len(s) > MaxCriterionLength {
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidCriterion, MaxCriterionLength)
	}
	if strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || !unicode.IsPrint(r)
	}) >= 0 {
		return "", fmt.Errorf("%w: contains whitespace or control characters", ErrInvalidCriterion)
	}
	return Criterion(s), nil
}

func (c Criterion) String() string {
	return string(c)
}

// PartyRole is the ordinal of a party within a session.
type PartyRole uint8

// Party roles. The coordinator is always party 0 and notifies the peers in
// role order.
const (
	CoordinatorRole PartyRole = 0
	FirstPeerRole   PartyRole = 1
	SecondPeerRole  PartyRole = 2
)

// PeerRoles lists the peer roles in notification order.
var PeerRoles = [PartyCount - 1]PartyRole{FirstPeerRole, SecondPeerRole}

// ParsePartyRole parses a decimal role ordinal.
func ParsePartyRole(s string) (PartyRole, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 8)
	if err != nil || n >= PartyCount {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return PartyRole(n), nil
}

// IsPeer returns true for roles 1 and 2.
func (r PartyRole) IsPeer() bool {
	return r == FirstPeerRole || r == SecondPeerRole
}

func (r PartyRole) String() string {
	return strconv.Itoa(int(r))
}

// Count is a party's local contribution to the aggregate.
type Count int64

// ParseCount parses a non-negative decimal count.
func ParseCount(s string) (Count, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative count %d", n)
	}
	return Count(n), nil
}

func (c Count) String() string {
	return strconv.FormatInt(int64(c), 10)
}

// IsSentinel reports whether the count means "criterion not found locally".
func (c Count) IsSentinel() bool {
	return c == SentinelCount
}

// Aggregate is the engine's output for a coordinator session, as text.
type Aggregate string

func (a Aggregate) String() string {
	return string(a)
}
