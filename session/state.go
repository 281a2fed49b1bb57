package session

import (
	"github.com/argussec/go-console/mfa"
	"github.com/argussec/go-console/users"
)

// State is the session lifecycle position.
type State string

const (
	// Anonymous is the initial state and the state after logout or an
	// unrecoverable refresh failure. A fresh login restarts the cycle.
	Anonymous State = "anonymous"

	// Authenticating means a login has been submitted and is on the wire.
	Authenticating State = "authenticating"

	// MfaPending means the password was accepted and a second-factor
	// challenge is active. No tokens exist yet.
	MfaPending State = "mfa_pending"

	// Authenticated means a valid token pair is held.
	Authenticated State = "authenticated"

	// Refreshing is the transient state while the proactive refresh timer
	// replaces the token pair. Not user-visible in the UI sense; consumers
	// normally treat it like Authenticated.
	Refreshing State = "refreshing"
)

// Authenticated reports whether the state holds a usable session.
func (s State) Authenticated() bool {
	return s == Authenticated || s == Refreshing
}

// Snapshot is the externally visible session at one point in time. The
// service is the single authoritative holder; everything else subscribes to
// snapshots rather than keeping a parallel copy.
type Snapshot struct {
	State       State
	User        *users.User
	Challenge   *mfa.Challenge
	MfaFailures int
}
