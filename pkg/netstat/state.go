package netstat

import (
	"fmt"
	"strings"
)

// TCPState is a TCP socket state as encoded in the kernel socket table
// (include/net/tcp_states.h). The numeric values are part of the JSON
// output contract and must not be renumbered.
type TCPState uint8

const (
	Established TCPState = iota + 1
	SynSent
	SynRecv
	FinWait1
	FinWait2
	TimeWait
	Close
	CloseWait
	LastAck
	Listen
	Closing
)

var stateNames = map[TCPState]string{
	Established: "ESTABLISHED",
	SynSent:     "SYN_SENT",
	SynRecv:     "SYN_RECV",
	FinWait1:    "FIN_WAIT1",
	FinWait2:    "FIN_WAIT2",
	TimeWait:    "TIME_WAIT",
	Close:       "CLOSE",
	CloseWait:   "CLOSE_WAIT",
	LastAck:     "LAST_ACK",
	Listen:      "LISTEN",
	Closing:     "CLOSING",
}

// String returns the conventional name for the state (e.g. "ESTABLISHED").
func (s TCPState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
}

// ParseState parses a state name as accepted on the command line.
// Matching is case-insensitive and ignores underscores, so "established",
// "TIME_WAIT" and "timewait" all work.
func ParseState(name string) (TCPState, error) {
	normalized := strings.ReplaceAll(strings.ToUpper(name), "_", "")
	for state, stateName := range stateNames {
		if strings.ReplaceAll(stateName, "_", "") == normalized {
			return state, nil
		}
	}
	return 0, fmt.Errorf("unknown TCP state %q", name)
}

// States returns all known states in ascending code order.
func States() []TCPState {
	states := make([]TCPState, 0, len(stateNames))
	for s := Established; s <= Closing; s++ {
		states = append(states, s)
	}
	return states
}
