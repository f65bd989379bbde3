package link

import "fmt"

// State is the connection state of a Session.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Disconnected
	Reconnecting
)

var stateNames = [...]string{
	Idle:         "idle",
	Connecting:   "connecting",
	Connected:    "connected",
	Disconnected: "disconnected",
	Reconnecting: "reconnecting",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseState is the inverse of State.String.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return Idle, fmt.Errorf("unknown state %q", name)
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	st, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}
