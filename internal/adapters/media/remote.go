package media

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/dkeye/voice-client/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Sink receives the packets of a remote stream.
type Sink func(stream *RemoteStream, pkt *rtp.Packet)

// RemoteStream is a track received from the server, keyed by track id.
type RemoteStream struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver

	muted   atomic.Bool
	packets atomic.Uint64
	done    chan struct{}
}

func NewRemote(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) *RemoteStream {
	return &RemoteStream{track: track, receiver: receiver, done: make(chan struct{})}
}

func (r *RemoteStream) TrackID() string  { return r.track.ID() }
func (r *RemoteStream) StreamID() string { return r.track.StreamID() }

func (r *RemoteStream) Kind() domain.MediaKind {
	if r.track.Kind() == webrtc.RTPCodecTypeAudio {
		return domain.MediaAudio
	}
	return domain.MediaVideo
}

func (r *RemoteStream) Track() *webrtc.TrackRemote    { return r.track }
func (r *RemoteStream) Receiver() *webrtc.RTPReceiver { return r.receiver }
func (r *RemoteStream) Packets() uint64               { return r.packets.Load() }
func (r *RemoteStream) Done() <-chan struct{}         { return r.done }
func (r *RemoteStream) SetMuted(muted bool)           { r.muted.Store(muted) }
func (r *RemoteStream) Muted() bool                   { return r.muted.Load() }

// Consume reads the track until it ends. Packets are dropped while muted or
// when sink is nil; reading continues so the receiver keeps emitting RTCP.
func (r *RemoteStream) Consume(sink Sink) {
	defer close(r.done)
	for {
		pkt, _, err := r.track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("module", "media").Str("track_id", r.TrackID()).Msg("remote track ended")
			}
			return
		}
		r.packets.Add(1)
		if sink != nil && !r.muted.Load() {
			sink(r, pkt)
		}
	}
}
