package messaging

import (
	"context"
	"errors"
)

var (
	// ErrLoggedOut is returned by a transport when the channel has revoked
	// the session. Persisted credentials are useless after it.
	ErrLoggedOut = errors.New("session logged out by channel")

	ErrConnectionClosed = errors.New("channel connection closed")
)

type EventKind int

const (
	EventPairingCode EventKind = iota + 1
	EventCredentials
	EventOpen
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventPairingCode:
		return "pairing_code"
	case EventCredentials:
		return "credentials"
	case EventOpen:
		return "open"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type CloseReason string

const (
	CloseTransient CloseReason = "transient"
	CloseLoggedOut CloseReason = "logged_out"
)

type Event struct {
	Kind        EventKind
	Code        string
	Credentials []byte
	Reason      CloseReason
	Err         error
}

// Transport opens channel connections. Dial with nil credentials starts a
// fresh pairing; otherwise the session is resumed.
type Transport interface {
	Dial(ctx context.Context, creds []byte) (Conn, error)
}

// Conn is one live channel connection. Events is closed after the final
// EventClosed has been delivered or Close has been called.
type Conn interface {
	Events() <-chan Event
	Send(ctx context.Context, to Address, text string) error
	Logout(ctx context.Context) error
	Close() error
}
