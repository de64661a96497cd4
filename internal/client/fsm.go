// ABOUTME: Connection state machine for the progress feed subscriber
// ABOUTME: One transition function; StateFailed is terminal

package client

// State is the connection state of a Subscriber.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

// String returns the display name for the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// input is a connection-level occurrence fed to the transition function.
type input int

const (
	// inputConnect: the caller started the subscriber.
	inputConnect input = iota
	// inputEstablished: a dial succeeded.
	inputEstablished
	// inputDropped: a dial failed or an open feed broke.
	inputDropped
	// inputRetry: the backoff delay elapsed with attempts to spare.
	inputRetry
	// inputExhausted: the attempt budget is spent.
	inputExhausted
)

// next is the transition function driving the subscriber. Pairs not listed
// hold the current state, which makes StateFailed terminal.
func next(s State, in input) State {
	switch s {
	case StateDisconnected:
		if in == inputConnect {
			return StateConnecting
		}
	case StateConnecting:
		switch in {
		case inputEstablished:
			return StateConnected
		case inputDropped:
			return StateReconnecting
		}
	case StateConnected:
		if in == inputDropped {
			return StateReconnecting
		}
	case StateReconnecting:
		switch in {
		case inputRetry:
			return StateConnecting
		case inputExhausted:
			return StateFailed
		}
	}
	return s
}
