package core

import (
	"context"

	"github.com/dkeye/voice-client/internal/domain"
)

// Frame is one serialized outbound message.
type Frame []byte

// ChannelState is the lifecycle of the signaling connection.
type ChannelState int32

const (
	StateAbsent ChannelState = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s ChannelState) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Trickler forwards locally gathered candidates to the server.
type Trickler interface {
	Trickle(t domain.Trickle) error
}

// Message is one inbound frame surfaced to the layers above the channel.
type Message interface {
	MessageType() string
	// Decode unmarshals the frame body into v.
	Decode(v any) error
	// Subtype is the value of a repeated "type" key, if any.
	Subtype() string
}

// Signaling is what the voice client needs from the signaling channel.
type Signaling interface {
	Trickler
	Connect(ctx context.Context, address string) error
	Disconnect()
	Connected() bool
	Send(typ domain.CommandType, payload any) error
	Request(ctx context.Context, typ domain.CommandType, payload any) (Message, error)

	OnData(fn func(Message)) (off func())
	OnClose(fn func(*domain.CloseError)) (off func())
	OnError(fn func(error)) (off func())
}
