// Package voice drives the publisher/subscriber negotiation against the SFU
// and keeps the room roster from server-pushed events.
package voice

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dkeye/voice-client/internal/adapters/media"
	"github.com/dkeye/voice-client/internal/adapters/rtc"
	"github.com/dkeye/voice-client/internal/core"
	"github.com/dkeye/voice-client/internal/domain"
	"github.com/dkeye/voice-client/internal/metrics"
	"github.com/rs/zerolog/log"
)

// APIMessage is one JSON message received on the application data channel.
type APIMessage struct {
	Label string
	Data  []byte
}

type Client struct {
	sig     core.Signaling
	factory rtc.Factory

	mu           sync.Mutex
	pub          *rtc.Transport
	sub          *rtc.Transport
	roomID       domain.RoomID
	userID       domain.UserID
	linked       bool
	renegOff     func()
	participants map[domain.UserID]domain.Participant
	tracks       map[string]*media.RemoteStream
	deaf         bool
	sink         media.Sink

	ready       core.Emitter[struct{}]
	errs        core.Emitter[error]
	closed      core.Emitter[*domain.CloseError]
	userJoined  core.Emitter[domain.UserID]
	userLeft    core.Emitter[domain.UserID]
	userUpdated core.Emitter[domain.Participant]
	track       core.Emitter[*media.RemoteStream]
	apiMessage  core.Emitter[APIMessage]
}

// New wires the client to sig. A nil factory means the process has no WebRTC stack.
func New(sig core.Signaling, factory rtc.Factory) *Client {
	c := &Client{
		sig:          sig,
		factory:      factory,
		participants: make(map[domain.UserID]domain.Participant),
		tracks:       make(map[string]*media.RemoteStream),
	}
	sig.OnData(c.handleData)
	sig.OnError(func(err error) {
		c.errs.Emit(fmt.Errorf("signaling error: %w", err))
	})
	sig.OnClose(func(cause *domain.CloseError) {
		c.Disconnect(cause, true)
	})
	return c
}

func (c *Client) Supported() bool { return c.factory != nil }

// Connect opens the signaling channel and authenticates with token.
func (c *Client) Connect(ctx context.Context, address, token string) (domain.AuthenticationResult, error) {
	if err := c.sig.Connect(ctx, address); err != nil {
		return domain.AuthenticationResult{}, err
	}
	c.mu.Lock()
	c.linked = true
	c.mu.Unlock()
	return c.Authenticate(ctx, token)
}

func (c *Client) Authenticate(ctx context.Context, token string) (domain.AuthenticationResult, error) {
	var res domain.AuthenticationResult
	msg, err := c.sig.Request(ctx, domain.CommandConnect, domain.ConnectRequest{Token: token})
	if err != nil {
		return res, err
	}
	if err := msg.Decode(&res); err != nil {
		return res, fmt.Errorf("decode authentication result: %w", err)
	}
	log.Info().
		Str("module", "voice").
		Str("user_id", string(res.UserID)).
		Int("participants", len(res.Participants)).
		Msg("authenticated")
	return res, nil
}

// Join creates both transports, sends the publisher offer and applies the answer.
// On failure the transports are torn down again.
func (c *Client) Join(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	if err := domain.ValidateRoomID(roomID); err != nil {
		return err
	}
	if err := domain.ValidateUserID(userID); err != nil {
		return err
	}
	if !c.Supported() {
		return domain.ErrUnsupported
	}

	c.mu.Lock()
	if c.pub != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: already joined %s", domain.ErrInvalidState, c.roomID)
	}
	pub, sub, err := c.newTransports()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.pub, c.sub = pub, sub
	c.roomID, c.userID = roomID, userID
	c.mu.Unlock()

	c.wireTransports(pub, sub)

	log.Info().Str("module", "voice").Str("room", string(roomID)).Str("user_id", string(userID)).Msg("joining")
	err = pub.Negotiate(func() error {
		offer, err := pub.CreateOffer(false)
		if err != nil {
			return c.negotiationFailed(domain.RolePublisher, "offer", err)
		}
		msg, err := c.sig.Request(ctx, domain.CommandJoin, domain.JoinRequest{RoomID: roomID, Offer: offer})
		if err != nil {
			return err
		}
		var resp domain.DescriptionMessage
		if err := msg.Decode(&resp); err != nil {
			return fmt.Errorf("decode join response: %w", err)
		}
		if resp.Description == nil {
			return fmt.Errorf("join response without description")
		}
		return c.handleAnswer(pub, *resp.Description)
	})
	if err != nil {
		log.Error().Err(err).Str("module", "voice").Str("room", string(roomID)).Msg("join failed")
		c.mu.Lock()
		current := c.pub == pub
		c.mu.Unlock()
		if current {
			c.teardown()
		}
		return err
	}
	log.Info().Str("module", "voice").Str("room", string(roomID)).Msg("joined")
	return nil
}

func (c *Client) newTransports() (*rtc.Transport, *rtc.Transport, error) {
	pubPC, err := c.factory(domain.RolePublisher)
	if err != nil {
		return nil, nil, fmt.Errorf("publisher peer connection: %w", err)
	}
	pub, err := rtc.NewTransport(domain.RolePublisher, pubPC, c.sig)
	if err != nil {
		return nil, nil, fmt.Errorf("publisher transport: %w", err)
	}
	subPC, err := c.factory(domain.RoleSubscriber)
	if err != nil {
		pub.Close()
		return nil, nil, fmt.Errorf("subscriber peer connection: %w", err)
	}
	sub, err := rtc.NewTransport(domain.RoleSubscriber, subPC, c.sig)
	if err != nil {
		pub.Close()
		return nil, nil, fmt.Errorf("subscriber transport: %w", err)
	}
	return pub, sub, nil
}

// Leave tells the server we left and drops the room state. The socket stays open.
func (c *Client) Leave() error {
	err := c.sig.Send(domain.CommandLeave, nil)
	c.teardown()
	return err
}

// Disconnect closes the socket and both transports, clears the room state and
// emits close with cause. Unless ignoreDisconnected is set it is a no-op when
// the channel is already down.
func (c *Client) Disconnect(cause *domain.CloseError, ignoreDisconnected bool) {
	if !c.sig.Connected() && !ignoreDisconnected {
		return
	}
	c.mu.Lock()
	linked := c.linked
	c.linked = false
	c.mu.Unlock()

	c.sig.Disconnect()
	c.teardown()

	if linked {
		ev := log.Info().Str("module", "voice")
		if cause != nil {
			ev = ev.Int("code", int(cause.Code)).Str("reason", cause.Reason)
		}
		ev.Msg("disconnected")
		c.closed.Emit(cause)
	}
}

func (c *Client) teardown() {
	c.mu.Lock()
	pub, sub := c.pub, c.sub
	c.pub, c.sub = nil, nil
	c.roomID, c.userID = "", ""
	c.renegOff = nil
	clear(c.tracks)
	clear(c.participants)
	c.mu.Unlock()

	metrics.Participants.Set(0)
	if pub != nil {
		pub.Close()
	}
	if sub != nil {
		sub.Close()
	}
}

func (c *Client) RoomID() domain.RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Client) UserID() domain.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Joined reports whether transports exist.
func (c *Client) Joined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pub != nil
}

func (c *Client) Publisher() *rtc.Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pub
}

func (c *Client) Subscriber() *rtc.Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub
}

// Participants returns the roster ordered by id.
func (c *Client) Participants() []domain.Participant {
	c.mu.Lock()
	out := make([]domain.Participant, 0, len(c.participants))
	for _, p := range c.participants {
		out = append(out, p)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Client) Participant(id domain.UserID) (domain.Participant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.participants[id]
	return p, ok
}

func (c *Client) Tracks() []*media.RemoteStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*media.RemoteStream, 0, len(c.tracks))
	for _, t := range c.tracks {
		out = append(out, t)
	}
	return out
}

// SetDeaf mutes every remote audio stream, current and future.
func (c *Client) SetDeaf(deaf bool) {
	c.mu.Lock()
	c.deaf = deaf
	for _, t := range c.tracks {
		if t.Kind() == domain.MediaAudio {
			t.SetMuted(deaf)
		}
	}
	c.mu.Unlock()
}

func (c *Client) IsDeaf() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deaf
}

// SetSink sets where packets of remote tracks received from now on go.
func (c *Client) SetSink(sink media.Sink) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

func (c *Client) OnReady(fn func()) (off func())                         { return c.ready.On(func(struct{}) { fn() }) }
func (c *Client) OnError(fn func(error)) (off func())                    { return c.errs.On(fn) }
func (c *Client) OnClose(fn func(*domain.CloseError)) (off func())       { return c.closed.On(fn) }
func (c *Client) OnUserJoined(fn func(domain.UserID)) (off func())       { return c.userJoined.On(fn) }
func (c *Client) OnUserLeft(fn func(domain.UserID)) (off func())         { return c.userLeft.On(fn) }
func (c *Client) OnUserUpdated(fn func(domain.Participant)) (off func()) { return c.userUpdated.On(fn) }
func (c *Client) OnTrack(fn func(*media.RemoteStream)) (off func())      { return c.track.On(fn) }
func (c *Client) OnAPIMessage(fn func(APIMessage)) (off func())          { return c.apiMessage.On(fn) }

// Connected reports whether the signaling channel is up.
func (c *Client) Connected() bool { return c.sig.Connected() }
