package session

import "fmt"

// State is the authentication lifecycle of a session.
type State int32

// Session states. Transitions only move forward.
const (
	StateAnonymous State = iota
	StateAuthenticating
	StateAuthenticated
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// PasswordMode tells whether the account uses one password for login and
// data, or a separate mailbox password.
type PasswordMode uint8

// Password modes as reported by the service.
const (
	PasswordModeUnknown PasswordMode = 0
	PasswordModeSingle  PasswordMode = 1
	PasswordModeDual    PasswordMode = 2
)
