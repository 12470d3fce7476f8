package voice

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/voice-client/internal/adapters/media"
	"github.com/dkeye/voice-client/internal/adapters/rtc"
	"github.com/dkeye/voice-client/internal/core"
	"github.com/dkeye/voice-client/internal/domain"
	"github.com/dkeye/voice-client/internal/metrics"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// handleData runs on the channel's dispatch goroutine, one frame at a time.
func (c *Client) handleData(msg core.Message) {
	typ := domain.EventType(msg.MessageType())
	if err := c.handleEvent(typ, msg); err != nil {
		log.Error().Err(err).Str("module", "voice").Str("type", string(typ)).Msg("event handling failed")
	}
}

func (c *Client) handleEvent(typ domain.EventType, msg core.Message) error {
	switch typ {
	case domain.EventAccept:
		var ev domain.AcceptEvent
		if err := msg.Decode(&ev); err != nil {
			return err
		}
		c.mu.Lock()
		for _, id := range ev.UserIDs {
			c.participants[id] = domain.Participant{ID: id}
		}
		n := len(c.participants)
		c.mu.Unlock()
		metrics.Participants.Set(float64(n))
		log.Info().Str("module", "voice").Int("participants", n).Msg("accepted")
		c.ready.Emit(struct{}{})

	case domain.EventAnswer:
		var ev domain.DescriptionMessage
		if err := msg.Decode(&ev); err != nil {
			return err
		}
		if ev.Description == nil {
			return nil
		}
		pub, err := c.transport(domain.RolePublisher)
		if err != nil {
			return err
		}
		return c.handleAnswer(pub, *ev.Description)

	case domain.EventOffer:
		var ev domain.DescriptionMessage
		if err := msg.Decode(&ev); err != nil {
			return err
		}
		if ev.Description == nil {
			return nil
		}
		return c.negotiate(*ev.Description)

	case domain.EventTrickle:
		var ev domain.Trickle
		if err := msg.Decode(&ev); err != nil {
			return err
		}
		return c.Trickle(ev)

	case domain.EventUserJoin:
		var p domain.Participant
		if err := msg.Decode(&p); err != nil {
			return err
		}
		if err := domain.ValidateUserID(p.ID); err != nil {
			return err
		}
		c.mu.Lock()
		c.participants[p.ID] = p
		n := len(c.participants)
		c.mu.Unlock()
		metrics.Participants.Set(float64(n))
		log.Debug().Str("module", "voice").Str("user_id", string(p.ID)).Msg("user joined")
		c.userJoined.Emit(p.ID)

	case domain.EventUserLeft:
		var ev domain.UserEvent
		if err := msg.Decode(&ev); err != nil {
			return err
		}
		c.mu.Lock()
		delete(c.participants, ev.ID)
		n := len(c.participants)
		c.mu.Unlock()
		metrics.Participants.Set(float64(n))
		log.Debug().Str("module", "voice").Str("user_id", string(ev.ID)).Msg("user left")
		c.userLeft.Emit(ev.ID)

	case domain.EventUserStartProduce, domain.EventUserStopProduce:
		var ev domain.UserEvent
		if err := msg.Decode(&ev); err != nil {
			return err
		}
		kind := ev.Kind
		if kind == "" {
			kind = domain.MediaKind(msg.Subtype())
		}
		c.mu.Lock()
		p, ok := c.participants[ev.ID]
		if !ok {
			c.mu.Unlock()
			return nil
		}
		if err := p.SetProducing(kind, typ == domain.EventUserStartProduce); err != nil {
			c.mu.Unlock()
			return fmt.Errorf("invalid produce type: %w", err)
		}
		c.participants[ev.ID] = p
		c.mu.Unlock()
		c.userUpdated.Emit(p)

	default:
		log.Debug().Str("module", "voice").Str("type", string(typ)).Msg("unhandled event")
	}
	return nil
}

func (c *Client) addTrack(rt rtc.RemoteTrack) {
	rs := media.NewRemote(rt.Track, rt.Receiver)

	c.mu.Lock()
	if rs.Kind() == domain.MediaAudio {
		rs.SetMuted(c.deaf)
	}
	c.tracks[rs.TrackID()] = rs
	sink := c.sink
	c.mu.Unlock()

	metrics.RemoteTracks.Inc()
	log.Debug().
		Str("module", "voice").
		Str("track_id", rs.TrackID()).
		Str("kind", string(rs.Kind())).
		Msg("added track")

	go func() {
		rs.Consume(sink)
		c.removeTrack(rs)
	}()
	c.track.Emit(rs)
}

func (c *Client) removeTrack(rs *media.RemoteStream) {
	c.mu.Lock()
	if c.tracks[rs.TrackID()] == rs {
		delete(c.tracks, rs.TrackID())
	}
	c.mu.Unlock()
	metrics.RemoteTracks.Dec()
}

func (c *Client) handleDataChannel(dc *webrtc.DataChannel) {
	if dc.Label() != rtc.APIChannel {
		dc.OnMessage(func(m webrtc.DataChannelMessage) {
			log.Debug().Str("module", "voice").Str("label", dc.Label()).Int("size", len(m.Data)).Msg("message intercepted")
		})
		return
	}
	c.mu.Lock()
	pub, sub := c.pub, c.sub
	c.mu.Unlock()
	if pub != nil {
		pub.SetAPIChannel(dc)
	}
	if sub != nil {
		sub.SetAPIChannel(dc)
	}
	c.watchAPI(dc)
}

func (c *Client) watchAPI(dc *webrtc.DataChannel) {
	label := dc.Label()
	dc.OnMessage(func(m webrtc.DataChannelMessage) {
		if !json.Valid(m.Data) {
			log.Error().Str("module", "voice").Str("label", label).Msg("invalid api message")
			return
		}
		c.apiMessage.Emit(APIMessage{Label: label, Data: m.Data})
	})
}

// SendAPIMessage marshals v and sends it on the application data channel.
func (c *Client) SendAPIMessage(v any) error {
	pub, err := c.transport(domain.RolePublisher)
	if err != nil {
		return err
	}
	dc := pub.APIChannel()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return domain.ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return dc.SendText(string(data))
}
