package domain

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// CommandType is a client to server message type.
type CommandType string

const (
	CommandConnect CommandType = "Connect"
	CommandJoin    CommandType = "Join"
	CommandOffer   CommandType = "Offer"
	CommandAnswer  CommandType = "Answer"
	CommandTrickle CommandType = "Trickle"
	CommandLeave   CommandType = "Leave"
)

// EventType is a server to client message type.
type EventType string

const (
	EventAccept           EventType = "Accept"
	EventAnswer           EventType = "Answer"
	EventOffer            EventType = "Offer"
	EventTrickle          EventType = "Trickle"
	EventUserJoin         EventType = "UserJoin"
	EventUserLeft         EventType = "UserLeft"
	EventUserStartProduce EventType = "UserStartProduce"
	EventUserStopProduce  EventType = "UserStopProduce"
)

type ConnectRequest struct {
	Token string `json:"token"`
}

// AuthenticationResult answers a Connect request. The server's own spelling
// (userId, partipants) is accepted next to the snake_case keys.
type AuthenticationResult struct {
	UserID       UserID   `json:"user_id,omitempty"`
	Participants []UserID `json:"participants,omitempty"`
}

func (r *AuthenticationResult) UnmarshalJSON(b []byte) error {
	var raw struct {
		UserID       UserID   `json:"user_id"`
		UserIDCamel  UserID   `json:"userId"`
		Participants []UserID `json:"participants"`
		Partipants   []UserID `json:"partipants"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.UserID = raw.UserID
	if r.UserID == "" {
		r.UserID = raw.UserIDCamel
	}
	r.Participants = raw.Participants
	if r.Participants == nil {
		r.Participants = raw.Partipants
	}
	return nil
}

type JoinRequest struct {
	RoomID RoomID                    `json:"room_id"`
	Offer  webrtc.SessionDescription `json:"offer"`
}

// DescriptionMessage is the body of Offer and Answer in both directions,
// and of the responses to Join and Offer requests.
type DescriptionMessage struct {
	Description *webrtc.SessionDescription `json:"description,omitempty"`
}

type AcceptEvent struct {
	UserIDs []UserID `json:"user_ids"`
}

// UserEvent is the body of UserJoin, UserLeft and the produce events.
// Kind is filled from a "kind" field or from a repeated "type" key.
type UserEvent struct {
	ID   UserID    `json:"id"`
	Kind MediaKind `json:"kind,omitempty"`
}
