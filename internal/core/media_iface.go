package core

import (
	"context"

	"github.com/dkeye/voice-client/internal/domain"
	"github.com/pion/webrtc/v4"
)

// PeerConnection is the subset of *webrtc.PeerConnection a transport drives.
type PeerConnection interface {
	CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(webrtc.ICECandidateInit) error
	CreateDataChannel(label string, options *webrtc.DataChannelInit) (*webrtc.DataChannel, error)
	AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error)
	RemoveTrack(*webrtc.RTPSender) error

	OnICECandidate(func(*webrtc.ICECandidate))
	OnICEConnectionStateChange(func(webrtc.ICEConnectionState))
	OnNegotiationNeeded(func())
	OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnDataChannel(func(*webrtc.DataChannel))

	Close() error
}

var _ PeerConnection = (*webrtc.PeerConnection)(nil)

// PublishTarget accepts local tracks. The publisher transport implements it.
type PublishTarget interface {
	AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error)
	RemoveTrack(*webrtc.RTPSender) error
}

// LocalStream is an owned capture handle (camera, microphone or display).
type LocalStream interface {
	ID() string
	Publish(target PublishTarget) error
	Unpublish() error
	Mute(kind domain.MediaKind) error
	Unmute(kind domain.MediaKind) error
	Tracks() []webrtc.TrackLocal
	// Stop unpublishes and releases the capture.
	Stop() error
}

// Capturer acquires local media. Display captures produce a screencast track.
type Capturer interface {
	GetUserMedia(ctx context.Context, c domain.Constraints) (LocalStream, error)
	GetDisplayMedia(ctx context.Context, c domain.Constraints) (LocalStream, error)
}
