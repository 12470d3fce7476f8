package voice

import (
	"context"
	"fmt"

	"github.com/dkeye/voice-client/internal/adapters/rtc"
	"github.com/dkeye/voice-client/internal/core"
	"github.com/dkeye/voice-client/internal/domain"
	"github.com/dkeye/voice-client/internal/metrics"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func (c *Client) negotiationFailed(role domain.Role, stage string, err error) error {
	metrics.NegotiationFailuresTotal.WithLabelValues(role.String(), stage).Inc()
	return fmt.Errorf("%s %s: %w", role, stage, err)
}

func (c *Client) transport(role domain.Role) (*rtc.Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pub == nil {
		return nil, domain.ErrInvalidState
	}
	switch role {
	case domain.RolePublisher:
		return c.pub, nil
	case domain.RoleSubscriber:
		return c.sub, nil
	}
	return nil, fmt.Errorf("unknown transport role %d", role)
}

func (c *Client) wireTransports(pub, sub *rtc.Transport) {
	pub.OnICERestart(func() {
		go func() {
			if err := c.RestartICE(context.Background()); err != nil {
				log.Error().Err(err).Str("module", "voice").Msg("publisher ICE restart")
			}
		}()
	})
	sub.OnICERestart(func() {
		log.Warn().Str("module", "voice").Msg("subscriber ICE failed, waiting for a server offer")
	})
	sub.OnTrack(c.addTrack)
	sub.OnDataChannel(c.handleDataChannel)
	if dc := pub.APIChannel(); dc != nil {
		c.watchAPI(dc)
	}
}

// handleAnswer applies a publisher answer and arms renegotiation on the first one.
func (c *Client) handleAnswer(pub *rtc.Transport, desc webrtc.SessionDescription) error {
	if err := pub.SetRemoteDescription(desc); err != nil {
		return c.negotiationFailed(domain.RolePublisher, "remote", err)
	}
	metrics.NegotiationsTotal.WithLabelValues(domain.RolePublisher.String()).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pub == pub && c.renegOff == nil {
		c.renegOff = pub.OnNegotiationNeeded(func() {
			go func() {
				if err := c.renegotiate(context.Background(), false); err != nil {
					log.Error().Err(err).Str("module", "voice").Msg("renegotiation failed")
				}
			}()
		})
	}
	return nil
}

// negotiate answers a server offer on the subscriber transport.
func (c *Client) negotiate(desc webrtc.SessionDescription) error {
	sub, err := c.transport(domain.RoleSubscriber)
	if err != nil {
		return err
	}
	return sub.Negotiate(func() error {
		if err := sub.SetRemoteDescription(desc); err != nil {
			return c.negotiationFailed(domain.RoleSubscriber, "remote", err)
		}
		answer, err := sub.CreateAnswer()
		if err != nil {
			return c.negotiationFailed(domain.RoleSubscriber, "answer", err)
		}
		if err := c.sig.Send(domain.CommandAnswer, domain.DescriptionMessage{Description: &answer}); err != nil {
			return c.negotiationFailed(domain.RoleSubscriber, "send", err)
		}
		metrics.NegotiationsTotal.WithLabelValues(domain.RoleSubscriber.String()).Inc()
		return nil
	})
}

// renegotiate runs one offer/answer round on the publisher.
func (c *Client) renegotiate(ctx context.Context, iceRestart bool) error {
	pub, err := c.transport(domain.RolePublisher)
	if err != nil {
		return err
	}
	return pub.Negotiate(func() error {
		offer, err := pub.CreateOffer(iceRestart)
		if err != nil {
			return c.negotiationFailed(domain.RolePublisher, "offer", err)
		}
		msg, err := c.sig.Request(ctx, domain.CommandOffer, domain.DescriptionMessage{Description: &offer})
		if err != nil {
			return c.negotiationFailed(domain.RolePublisher, "request", err)
		}
		var resp domain.DescriptionMessage
		if err := msg.Decode(&resp); err != nil || resp.Description == nil {
			if err == nil {
				err = fmt.Errorf("answer without description")
			}
			return c.negotiationFailed(domain.RolePublisher, "decode", err)
		}
		if err := pub.SetRemoteDescription(*resp.Description); err != nil {
			return c.negotiationFailed(domain.RolePublisher, "remote", err)
		}
		metrics.NegotiationsTotal.WithLabelValues(domain.RolePublisher.String()).Inc()
		log.Debug().Str("module", "voice").Bool("ice_restart", iceRestart).Msg("publisher renegotiated")
		return nil
	})
}

// RestartICE renegotiates the publisher with fresh ICE credentials.
func (c *Client) RestartICE(ctx context.Context) error {
	return c.renegotiate(ctx, true)
}

// Trickle routes a remote candidate to the transport named by its target.
func (c *Client) Trickle(t domain.Trickle) error {
	tr, err := c.transport(t.Target)
	if err != nil {
		return err
	}
	return tr.AddRemoteCandidate(t.Candidate)
}

// PublishTrack attaches the stream's tracks to the publisher. The resulting
// negotiation-needed notification drives the renegotiation.
func (c *Client) PublishTrack(stream core.LocalStream) error {
	pub, err := c.transport(domain.RolePublisher)
	if err != nil {
		return fmt.Errorf("%w: join before publishing", err)
	}
	if err := stream.Publish(pub); err != nil {
		return err
	}
	log.Info().Str("module", "voice").Str("stream_id", stream.ID()).Int("tracks", len(stream.Tracks())).Msg("published")
	return nil
}
