package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected     = errors.New("signaling channel is not connected")
	ErrInvalidState     = errors.New("voice client is in an invalid state")
	ErrUnsupported      = errors.New("rtc is unavailable")
	ErrBackpressure     = errors.New("backpressure")
	ErrUnknownMediaKind = errors.New("unknown media kind")
	ErrUnknownProfile   = errors.New("unknown resolution profile")
	ErrNoLocalStream    = errors.New("no local stream")

	ErrRoomIDEmpty   = errors.New("room id empty")
	ErrRoomIDTooLong = errors.New("room id too long")
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
)

// ErrorCode is an application error code returned in a response payload.
type ErrorCode int

const (
	ErrorNotConnected               ErrorCode = 0
	ErrorNotFound                   ErrorCode = 404
	ErrorTransportConnectionFailure ErrorCode = 601
	ErrorProducerFailure            ErrorCode = 611
	ErrorProducerNotFound           ErrorCode = 614
	ErrorConsumerFailure            ErrorCode = 621
	ErrorConsumerNotFound           ErrorCode = 624
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorNotConnected:
		return "not connected"
	case ErrorNotFound:
		return "not found"
	case ErrorTransportConnectionFailure:
		return "transport connection failure"
	case ErrorProducerFailure:
		return "producer failure"
	case ErrorProducerNotFound:
		return "producer not found"
	case ErrorConsumerFailure:
		return "consumer failure"
	case ErrorConsumerNotFound:
		return "consumer not found"
	}
	return fmt.Sprintf("error %d", int(c))
}

// CloseCode is the websocket close code the server uses to explain a disconnect.
type CloseCode int

const (
	CloseNormal       CloseCode = 1000
	CloseInvalidState CloseCode = 1002
	CloseInvalidData  CloseCode = 1003
	CloseAbnormal     CloseCode = 1006
	CloseServerError  CloseCode = 1011
	CloseUnauthorized CloseCode = 4001
	CloseRoomClosed   CloseCode = 4004
)

func (c CloseCode) String() string {
	switch c {
	case CloseNormal:
		return "normal"
	case CloseInvalidState:
		return "invalid state"
	case CloseInvalidData:
		return "invalid data"
	case CloseAbnormal:
		return "abnormal closure"
	case CloseServerError:
		return "server error"
	case CloseUnauthorized:
		return "unauthorized"
	case CloseRoomClosed:
		return "room closed"
	}
	return fmt.Sprintf("close %d", int(c))
}

// ProtocolError is a response whose payload carried an error field.
// Name holds the error when the server sent a string instead of a code.
type ProtocolError struct {
	Code    ErrorCode
	Name    string
	Message string
	Data    []byte
}

func (e *ProtocolError) Error() string {
	what := e.Name
	if what == "" {
		what = e.Code.String()
	}
	if e.Message == "" {
		return "protocol error: " + what
	}
	return fmt.Sprintf("protocol error: %s: %s", what, e.Message)
}

// CloseError rejects requests that were still pending when the channel closed.
// It is also the error carried by the client close notification.
type CloseError struct {
	Code   CloseCode
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("connection closed: %s (%d)", e.Code, int(e.Code))
	}
	return fmt.Sprintf("connection closed: %s (%d): %s", e.Code, int(e.Code), e.Reason)
}
