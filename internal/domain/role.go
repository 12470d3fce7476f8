package domain

import "github.com/pion/webrtc/v4"

// Role selects one of the two peer connections a client keeps.
// Encoded as a number on the wire.
type Role int

const (
	RolePublisher Role = iota
	RoleSubscriber
)

func (r Role) String() string {
	switch r {
	case RolePublisher:
		return "publisher"
	case RoleSubscriber:
		return "subscriber"
	}
	return "unknown"
}

func (r Role) Valid() bool {
	return r == RolePublisher || r == RoleSubscriber
}

// Trickle carries one ICE candidate for the transport named by Target.
type Trickle struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
	Target    Role                    `json:"target"`
}
