package messaging

import "time"

type State string

const (
	StateUnpaired        State = "unpaired"
	StateConnecting      State = "connecting"
	StateAwaitingPairing State = "awaiting-pairing"
	StateConnected       State = "connected"
	StateReconnecting    State = "reconnecting"
)

// transitions is the complete set of legal session state changes.
var transitions = map[State][]State{
	StateUnpaired:        {StateConnecting},
	StateConnecting:      {StateAwaitingPairing, StateConnected, StateReconnecting, StateUnpaired},
	StateAwaitingPairing: {StateConnected, StateReconnecting, StateUnpaired},
	StateConnected:       {StateReconnecting, StateUnpaired},
	StateReconnecting:    {StateConnecting, StateUnpaired},
}

func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is reported to observers after the state has changed.
type Transition struct {
	From   State
	To     State
	Reason string
	At     time.Time
}
