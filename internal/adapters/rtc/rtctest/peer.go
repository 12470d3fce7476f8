// Package rtctest provides an in-memory peer connection for tests.
package rtctest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/voice-client/internal/core"
	"github.com/dkeye/voice-client/internal/domain"
	"github.com/pion/webrtc/v4"
)

var ErrClosed = errors.New("peer connection closed")

// PeerConnection records every call made on it. Descriptions are opaque
// strings, candidates are kept in the order they were applied.
type PeerConnection struct {
	mu sync.Mutex

	local  *webrtc.SessionDescription
	remote *webrtc.SessionDescription

	offers       int
	answers      int
	iceRestarts  int
	candidates   []webrtc.ICECandidateInit
	channels     []string
	tracks       []webrtc.TrackLocal
	removed      int
	closed       bool
	SetRemoteErr error

	onCandidate   func(*webrtc.ICECandidate)
	onState       func(webrtc.ICEConnectionState)
	onNegotiation func()
	onTrack       func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onChannel     func(*webrtc.DataChannel)
}

var _ core.PeerConnection = (*PeerConnection)(nil)

func New() *PeerConnection { return &PeerConnection{} }

func (p *PeerConnection) CreateOffer(opts *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}
	p.offers++
	if opts != nil && opts.ICERestart {
		p.iceRestarts++
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", p.offers)}, nil
}

func (p *PeerConnection) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}
	if p.remote == nil || p.remote.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	p.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", p.answers)}, nil
}

func (p *PeerConnection) SetLocalDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.local = &d
	return nil
}

func (p *PeerConnection) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.SetRemoteErr != nil {
		return p.SetRemoteErr
	}
	p.remote = &d
	return nil
}

func (p *PeerConnection) LocalDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

func (p *PeerConnection) RemoteDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *PeerConnection) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errors.New("remote description not set")
	}
	p.candidates = append(p.candidates, c)
	return nil
}

// CreateDataChannel records the label. It returns a nil channel.
func (p *PeerConnection) CreateDataChannel(label string, _ *webrtc.DataChannelInit) (*webrtc.DataChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, label)
	return nil, nil
}

func (p *PeerConnection) AddTrack(t webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, t)
	return &webrtc.RTPSender{}, nil
}

func (p *PeerConnection) RemoveTrack(*webrtc.RTPSender) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed++
	return nil
}

func (p *PeerConnection) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	p.mu.Lock()
	p.onCandidate = fn
	p.mu.Unlock()
}

func (p *PeerConnection) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *PeerConnection) OnNegotiationNeeded(fn func()) {
	p.mu.Lock()
	p.onNegotiation = fn
	p.mu.Unlock()
}

func (p *PeerConnection) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
}

func (p *PeerConnection) OnDataChannel(fn func(*webrtc.DataChannel)) {
	p.mu.Lock()
	p.onChannel = fn
	p.mu.Unlock()
}

func (p *PeerConnection) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// GatherCandidate fires the local candidate callback.
func (p *PeerConnection) GatherCandidate(c *webrtc.ICECandidate) {
	p.mu.Lock()
	fn := p.onCandidate
	p.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (p *PeerConnection) SetICEState(s webrtc.ICEConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (p *PeerConnection) NeedNegotiation() {
	p.mu.Lock()
	fn := p.onNegotiation
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Candidates returns the remote candidates applied so far.
func (p *PeerConnection) Candidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

func (p *PeerConnection) Channels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.channels...)
}

func (p *PeerConnection) Tracks() []webrtc.TrackLocal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), p.tracks...)
}

func (p *PeerConnection) Offers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offers
}

func (p *PeerConnection) ICERestarts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.iceRestarts
}

func (p *PeerConnection) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Peers creates fake peer connections and remembers them by role.
type Peers struct {
	mu  sync.Mutex
	pcs map[domain.Role][]*PeerConnection
}

// Factory has the shape of rtc.Factory.
func (p *Peers) Factory() func(domain.Role) (core.PeerConnection, error) {
	return func(role domain.Role) (core.PeerConnection, error) {
		pc := New()
		p.mu.Lock()
		if p.pcs == nil {
			p.pcs = make(map[domain.Role][]*PeerConnection)
		}
		p.pcs[role] = append(p.pcs[role], pc)
		p.mu.Unlock()
		return pc, nil
	}
}

// Last returns the most recent peer connection created for role.
func (p *Peers) Last(role domain.Role) *PeerConnection {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.pcs[role]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}
