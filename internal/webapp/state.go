package webapp

import "time"

// Status is the coarse authentication status of a Mini App session.
type Status string

const (
	// StatusUninitialized means the host bridge has not been consulted yet.
	StatusUninitialized Status = "uninitialized"
	// StatusAuthenticated means the host supplied an identity and signed init data.
	StatusAuthenticated Status = "authenticated"
	// StatusUnauthenticated means authentication failed or the viewer logged out.
	StatusUnauthenticated Status = "unauthenticated"
)

// Reasons attached to an Unauthenticated state.
const (
	ReasonNone            = ""
	ReasonHostUnavailable = "not running inside host"
	ReasonNoIdentity      = "no identity"
	ReasonInvalidAuthData = "invalid auth data"
)

// Identity is the Telegram user captured from the host. Immutable once captured.
type Identity struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
	AuthDate  int64  `json:"auth_date"`
	Hash      string `json:"hash"`
}

// AuthTime returns AuthDate as a time.Time.
func (i Identity) AuthTime() time.Time {
	return time.Unix(i.AuthDate, 0).UTC()
}

// AuthState is one of Uninitialized, Authenticated(Identity) or Unauthenticated(Reason).
type AuthState struct {
	Status   Status    `json:"status"`
	Identity *Identity `json:"identity,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

// Uninitialized returns the initial state.
func Uninitialized() AuthState {
	return AuthState{Status: StatusUninitialized}
}

// Authenticated returns a state carrying a copy of identity.
func Authenticated(identity Identity) AuthState {
	return AuthState{Status: StatusAuthenticated, Identity: &identity}
}

// Unauthenticated returns a failed or logged-out state.
func Unauthenticated(reason string) AuthState {
	return AuthState{Status: StatusUnauthenticated, Reason: reason}
}

// IsAuthenticated reports whether the state carries an identity.
func (s AuthState) IsAuthenticated() bool {
	return s.Status == StatusAuthenticated && s.Identity != nil
}

// validTransitions contains the permitted auth transitions. Authentication settles
// once per session; only logout leaves Authenticated.
var validTransitions = map[Status][]Status{
	StatusUninitialized: {
		StatusAuthenticated,
		StatusUnauthenticated,
	},
	StatusAuthenticated: {
		StatusUnauthenticated,
	},
}

// IsTransitionAllowed reports whether moving from one status to another is valid.
func IsTransitionAllowed(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}

	for _, status := range allowed {
		if status == to {
			return true
		}
	}

	return false
}
