// Package signaltest provides an in-memory signaling channel for tests.
package signaltest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dkeye/voice-client/internal/core"
	"github.com/dkeye/voice-client/internal/domain"
)

// Message is a decoded inbound frame with a JSON body.
type Message struct {
	Type string
	Sub  string
	Body []byte
}

var _ core.Message = Message{}

func (m Message) MessageType() string { return m.Type }
func (m Message) Subtype() string     { return m.Sub }
func (m Message) Decode(v any) error  { return json.Unmarshal(m.Body, v) }

func Event(typ domain.EventType, body string) Message {
	return Message{Type: string(typ), Body: []byte(body)}
}

// Answer is a response carrying an answer description.
func Answer(sdp string) Message {
	return Message{Body: []byte(`{"description":{"type":"answer","sdp":"` + sdp + `"}}`)}
}

// Sent is one outbound command.
type Sent struct {
	Type    domain.CommandType
	Payload any
}

// Responder produces the response to a request.
type Responder func(typ domain.CommandType, payload any) (core.Message, error)

// Signaling records what is sent and answers requests with a Responder.
// Without one every request resolves with an empty object.
type Signaling struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	sent       []Sent
	requests   []Sent
	respond    Responder
	trickled   []domain.Trickle
	// gone is closed when the current connection goes away.
	gone chan struct{}

	data   core.Emitter[core.Message]
	closed core.Emitter[*domain.CloseError]
	errs   core.Emitter[error]
}

var _ core.Signaling = (*Signaling)(nil)

func New() *Signaling { return &Signaling{} }

func (s *Signaling) Connect(ctx context.Context, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectErr != nil {
		return s.connectErr
	}
	s.connected = true
	s.gone = make(chan struct{})
	return nil
}

// Disconnect closes like a local close: a normal close event follows.
func (s *Signaling) Disconnect() {
	s.mu.Lock()
	was := s.connected
	s.connected = false
	if was {
		close(s.gone)
	}
	s.mu.Unlock()
	if was {
		s.closed.Emit(&domain.CloseError{Code: domain.CloseNormal})
	}
}

func (s *Signaling) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Signaling) Send(typ domain.CommandType, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return domain.ErrNotConnected
	}
	s.sent = append(s.sent, Sent{typ, payload})
	return nil
}

// Request waits for the responder like a real channel waits for the server:
// it is rejected when ctx ends or the connection goes away first.
func (s *Signaling) Request(ctx context.Context, typ domain.CommandType, payload any) (core.Message, error) {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil, domain.ErrNotConnected
	}
	s.requests = append(s.requests, Sent{typ, payload})
	respond := s.respond
	gone := s.gone
	s.mu.Unlock()
	if respond == nil {
		return Message{Body: []byte(`{}`)}, nil
	}

	type result struct {
		msg core.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := respond(typ, payload)
		done <- result{msg, err}
	}()
	select {
	case res := <-done:
		return res.msg, res.err
	case <-gone:
		return nil, &domain.CloseError{Code: domain.CloseNormal}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Signaling) Trickle(t domain.Trickle) error {
	s.mu.Lock()
	s.trickled = append(s.trickled, t)
	s.mu.Unlock()
	return nil
}

func (s *Signaling) OnData(fn func(core.Message)) (off func())         { return s.data.On(fn) }
func (s *Signaling) OnClose(fn func(*domain.CloseError)) (off func()) { return s.closed.On(fn) }
func (s *Signaling) OnError(fn func(error)) (off func())              { return s.errs.On(fn) }

func (s *Signaling) SetConnectErr(err error) {
	s.mu.Lock()
	s.connectErr = err
	s.mu.Unlock()
}

func (s *Signaling) SetRespond(fn Responder) {
	s.mu.Lock()
	s.respond = fn
	s.mu.Unlock()
}

// Deliver pushes an unsolicited frame to the data listeners.
func (s *Signaling) Deliver(m core.Message) { s.data.Emit(m) }

// ServerClose simulates the server dropping the socket.
func (s *Signaling) ServerClose(cause *domain.CloseError) {
	s.mu.Lock()
	if s.connected {
		close(s.gone)
	}
	s.connected = false
	s.mu.Unlock()
	s.closed.Emit(cause)
}

func (s *Signaling) Fail(err error) { s.errs.Emit(err) }

func (s *Signaling) RequestsOf(typ domain.CommandType) []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filter(s.requests, typ)
}

func (s *Signaling) SentOf(typ domain.CommandType) []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filter(s.sent, typ)
}

func (s *Signaling) Trickled() []domain.Trickle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Trickle(nil), s.trickled...)
}

func filter(in []Sent, typ domain.CommandType) []Sent {
	var out []Sent
	for _, s := range in {
		if s.Type == typ {
			out = append(out, s)
		}
	}
	return out
}
