package rtc

import (
	"sync"

	"github.com/dkeye/voice-client/internal/core"
	"github.com/dkeye/voice-client/internal/domain"
	"github.com/dkeye/voice-client/internal/metrics"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// APIChannel is the label of the reliable data channel used for application messages.
const APIChannel = "System"

// RemoteTrack is a track received on the subscriber transport.
type RemoteTrack struct {
	Track    *webrtc.TrackRemote
	Receiver *webrtc.RTPReceiver
}

// iceRestarter is implemented by peer connections that can restart ICE by themselves.
type iceRestarter interface {
	RestartICE() error
}

// Transport wraps one peer connection bound to a role. Remote candidates that
// arrive before a remote description are buffered and replayed in order once
// one is set.
type Transport struct {
	role     domain.Role
	pc       core.PeerConnection
	signaler core.Trickler

	// negotiation serializes offer/answer rounds on this transport.
	negotiation sync.Mutex

	mu         sync.Mutex
	candidates []webrtc.ICECandidateInit
	api        *webrtc.DataChannel
	closed     bool

	negotiationNeeded core.Emitter[struct{}]
	iceRestart        core.Emitter[struct{}]
	track             core.Emitter[RemoteTrack]
	dataChannel       core.Emitter[*webrtc.DataChannel]
}

var _ core.PublishTarget = (*Transport)(nil)

func NewTransport(role domain.Role, pc core.PeerConnection, signaler core.Trickler) (*Transport, error) {
	t := &Transport{role: role, pc: pc, signaler: signaler}

	// The channel must be part of the first offer, so it is created before any negotiation.
	if role == domain.RolePublisher {
		dc, err := pc.CreateDataChannel(APIChannel, nil)
		if err != nil {
			_ = pc.Close()
			return nil, err
		}
		t.api = dc
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		if err := t.signaler.Trickle(domain.Trickle{Candidate: cand.ToJSON(), Target: role}); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("role", role.String()).Msg("trickle local candidate")
		}
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("role", role.String()).Str("ice_state", s.String()).Msg("ICE state")
		// some stacks go straight to failed without passing through disconnected
		if s == webrtc.ICEConnectionStateDisconnected || s == webrtc.ICEConnectionStateFailed {
			t.restartICE()
		}
	})

	pc.OnNegotiationNeeded(func() {
		log.Debug().Str("module", "rtc").Str("role", role.String()).Msg("negotiation needed")
		t.negotiationNeeded.Emit(struct{}{})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("role", role.String()).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		t.track.Emit(RemoteTrack{Track: track, Receiver: receiver})
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		log.Info().Str("module", "rtc").Str("role", role.String()).Str("label", dc.Label()).Msg("data channel")
		t.dataChannel.Emit(dc)
	})

	metrics.ActivePeerConnections.WithLabelValues(role.String()).Inc()
	return t, nil
}

func (t *Transport) Role() domain.Role { return t.role }

func (t *Transport) restartICE() {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}
	metrics.ICERestartsTotal.WithLabelValues(t.role.String()).Inc()
	if r, ok := t.pc.(iceRestarter); ok {
		if err := r.RestartICE(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("role", t.role.String()).Msg("restart ice")
		}
	}
	t.iceRestart.Emit(struct{}{})
}

// AddRemoteCandidate applies c now if a remote description exists, otherwise buffers it.
func (t *Transport) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pc.RemoteDescription() == nil {
		t.candidates = append(t.candidates, c)
		metrics.CandidatesBufferedTotal.WithLabelValues(t.role.String()).Inc()
		return nil
	}
	return t.pc.AddICECandidate(c)
}

// SetRemoteDescription applies desc and then flushes the buffered candidates.
func (t *Transport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	t.flushLocked()
	return nil
}

// FlushPendingCandidates applies every buffered candidate in arrival order and clears the buffer.
func (t *Transport) FlushPendingCandidates() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushLocked()
}

func (t *Transport) flushLocked() int {
	n := len(t.candidates)
	for _, c := range t.candidates {
		if err := t.pc.AddICECandidate(c); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("role", t.role.String()).Msg("apply buffered candidate")
		}
	}
	t.candidates = nil
	return n
}

// PendingCandidates reports how many remote candidates are waiting for a remote description.
func (t *Transport) PendingCandidates() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.candidates)
}

// CreateOffer creates an offer and sets it as the local description.
func (t *Transport) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: iceRestart})
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

// CreateAnswer creates an answer to the current remote offer and sets it locally.
func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

// Negotiate runs fn while holding this transport's negotiation lock.
func (t *Transport) Negotiate(fn func() error) error {
	t.negotiation.Lock()
	defer t.negotiation.Unlock()
	return fn()
}

func (t *Transport) LocalDescription() *webrtc.SessionDescription  { return t.pc.LocalDescription() }
func (t *Transport) RemoteDescription() *webrtc.SessionDescription { return t.pc.RemoteDescription() }

func (t *Transport) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	return t.pc.AddTrack(track)
}

func (t *Transport) RemoveTrack(sender *webrtc.RTPSender) error {
	return t.pc.RemoveTrack(sender)
}

func (t *Transport) APIChannel() *webrtc.DataChannel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.api
}

func (t *Transport) SetAPIChannel(dc *webrtc.DataChannel) {
	t.mu.Lock()
	t.api = dc
	t.mu.Unlock()
}

// OnNegotiationNeeded subscribes to renegotiation requests of the peer connection.
func (t *Transport) OnNegotiationNeeded(fn func()) (off func()) {
	return t.negotiationNeeded.On(func(struct{}) { fn() })
}

// OnICERestart fires after an ICE failure; the offering side must renegotiate with an ICE restart.
func (t *Transport) OnICERestart(fn func()) (off func()) {
	return t.iceRestart.On(func(struct{}) { fn() })
}

func (t *Transport) OnTrack(fn func(RemoteTrack)) (off func()) { return t.track.On(fn) }

func (t *Transport) OnDataChannel(fn func(*webrtc.DataChannel)) (off func()) {
	return t.dataChannel.On(fn)
}

func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.candidates = nil
	t.mu.Unlock()

	t.negotiationNeeded.Clear()
	t.iceRestart.Clear()
	t.track.Clear()
	t.dataChannel.Clear()

	if err := t.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("role", t.role.String()).Msg("close error")
	} else {
		log.Info().Str("module", "rtc").Str("role", t.role.String()).Msg("closed")
	}
	metrics.ActivePeerConnections.WithLabelValues(t.role.String()).Dec()
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
