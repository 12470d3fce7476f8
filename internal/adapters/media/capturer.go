package media

import (
	"context"
	"errors"

	"github.com/dkeye/voice-client/internal/core"
	"github.com/dkeye/voice-client/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrNothingRequested = errors.New("neither audio nor video requested")

var opus = webrtc.RTPCodecCapability{
	MimeType:    webrtc.MimeTypeOpus,
	ClockRate:   48000,
	Channels:    2,
	SDPFmtpLine: "minptime=10;useinbandfec=1",
}

// SampleCapturer hands out sample-track streams; the caller owns the encoder feeding them.
type SampleCapturer struct{}

var _ core.Capturer = SampleCapturer{}

func NewCapturer() SampleCapturer { return SampleCapturer{} }

func (SampleCapturer) GetUserMedia(ctx context.Context, c domain.Constraints) (core.LocalStream, error) {
	if !c.Audio && !c.Video {
		return nil, ErrNothingRequested
	}
	return capture(ctx, c, domain.MediaVideo)
}

// GetDisplayMedia always captures video, tagged as a screencast track.
func (SampleCapturer) GetDisplayMedia(ctx context.Context, c domain.Constraints) (core.LocalStream, error) {
	c.Video = true
	return capture(ctx, c, domain.MediaScreencast)
}

func capture(ctx context.Context, c domain.Constraints, videoKind domain.MediaKind) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Codec == "" {
		c.Codec = domain.CodecVP8
	}
	if err := c.Codec.Validate(); err != nil {
		return nil, err
	}
	if c.Resolution == "" {
		c.Resolution = DefaultProfile
	}
	profile, err := LookupProfile(c.Resolution)
	if err != nil {
		return nil, err
	}

	s := newStream(profile)
	if c.Audio {
		if err := s.addTrack(domain.MediaAudio, opus); err != nil {
			return nil, err
		}
	}
	if c.Video {
		if err := s.addTrack(videoKind, webrtc.RTPCodecCapability{
			MimeType:  c.Codec.MimeType(),
			ClockRate: 90000,
		}); err != nil {
			return nil, err
		}
	}
	log.Info().
		Str("module", "media").
		Str("stream_id", s.ID()).
		Bool("audio", c.Audio).
		Bool("video", c.Video).
		Str("kind", string(videoKind)).
		Str("resolution", profile.Name).
		Msg("capture started")
	return s, nil
}
