package lifecycle

import "fmt"

// Status is the connection state shown to presentation layers.
type Status int

const (
	// Default state, no connections
	StatusUnloaded Status = iota
	// RTC is not available
	StatusUnavailable
	// The signaling connection failed
	StatusErrored
	// Preparing the voice client
	StatusLoading
	// Connecting to the signaling websocket
	StatusConnecting
	// Connected to the signaling websocket
	StatusReady
	// Negotiating with the SFU
	StatusRTCConnecting
	// Joined and publishing
	StatusConnected
)

var statusNames = [...]string{
	StatusUnloaded:      "UNLOADED",
	StatusUnavailable:   "UNAVAILABLE",
	StatusErrored:       "ERRORED",
	StatusLoading:       "LOADING",
	StatusConnecting:    "CONNECTING",
	StatusReady:         "READY",
	StatusRTCConnecting: "RTC_CONNECTING",
	StatusConnected:     "CONNECTED",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}
