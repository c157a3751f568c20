package protocol

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// AckToken is the body a peer returns once its engine has been started.
const AckToken = "SUCCESS"

// SessionID keys a session across all parties and all process hand-offs.
type SessionID string

// NewSessionID returns a fresh random session identifier.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// ParseSessionID accepts only canonical UUIDs so that the id can be used as a
// path element.
func ParseSessionID(s string) (SessionID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid session id %q: %w", s, err)
	}
	return SessionID(id.String()), nil
}

func (id SessionID) String() string {
	return string(id)
}

// PeerInitRequest is sent by the coordinator to each peer.
type PeerInitRequest struct {
	Session   SessionID
	Criterion Criterion
	// CoordinatorHost is the coordinator's own address, handed to the peer's engine.
	CoordinatorHost string
	Role            PartyRole
}

// Query parameter names of the peer initiation call. The legacy names are
// accepted from older coordinators.
const (
	ParamCriterion       = "criterion"
	ParamHost            = "host"
	ParamRole            = "role"
	ParamSession         = "session"
	ParamParties         = "parties"
	LegacyParamCriterion = "ccc"
	LegacyParamRole      = "party"
)

// Values encodes the request as URL query parameters.
func (r *PeerInitRequest) Values() url.Values {
	v := url.Values{}
	v.Set(ParamCriterion, r.Criterion.String())
	v.Set(ParamHost, r.CoordinatorHost)
	v.Set(ParamRole, r.Role.String())
	if r.Session != "" {
		v.Set(ParamSession, r.Session.String())
	}
	return v
}

// DecodePeerInitRequest parses and validates an initiation request. A missing
// session id is replaced by a fresh one.
func DecodePeerInitRequest(v url.Values) (*PeerInitRequest, error) {
	criterion, err := ParseCriterion(firstOf(v, ParamCriterion, LegacyParamCriterion))
	if err != nil {
		return nil, err
	}

	role, err := ParsePartyRole(firstOf(v, ParamRole, LegacyParamRole))
	if err != nil {
		return nil, err
	}
	if !role.IsPeer() {
		return nil, fmt.Errorf("%w: peer initiation for role %d", ErrInvalidRole, role)
	}

	host := strings.TrimSpace(v.Get(ParamHost))
	if host == "" {
		return nil, fmt.Errorf("missing %s parameter", ParamHost)
	}

	session := NewSessionID()
	if raw := v.Get(ParamSession); raw != "" {
		if session, err = ParseSessionID(raw); err != nil {
			return nil, err
		}
	}

	return &PeerInitRequest{
		Session:         session,
		Criterion:       criterion,
		CoordinatorHost: host,
		Role:            role,
	}, nil
}

// QueryCriterion extracts the criterion of a coordinator query.
func QueryCriterion(v url.Values) (Criterion, error) {
	return ParseCriterion(firstOf(v, ParamCriterion, LegacyParamCriterion))
}

func firstOf(v url.Values, keys ...string) string {
	for _, k := range keys {
		if s := v.Get(k); s != "" {
			return s
		}
	}
	return ""
}
