package rtc

import (
	"fmt"

	"github.com/dkeye/voice-client/internal/core"
	"github.com/dkeye/voice-client/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// Factory creates the peer connection backing a transport of the given role.
type Factory func(role domain.Role) (core.PeerConnection, error)

func DefaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302", "stun:stun2.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: iceServers,
			},
		},
	}
}

var videoFeedback = []webrtc.RTCPFeedback{
	{Type: "goog-remb"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
}

func videoCodec(codec domain.Codec) (webrtc.RTPCodecParameters, error) {
	capability := webrtc.RTPCodecCapability{
		MimeType:     codec.MimeType(),
		ClockRate:    90000,
		RTCPFeedback: videoFeedback,
	}
	var pt webrtc.PayloadType
	switch codec {
	case domain.CodecVP8:
		pt = 96
	case domain.CodecVP9:
		pt = 98
		capability.SDPFmtpLine = "profile-id=0"
	case domain.CodecH264:
		pt = 102
		capability.SDPFmtpLine = "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"
	default:
		return webrtc.RTPCodecParameters{}, fmt.Errorf("%w: %q", domain.ErrUnknownCodec, codec)
	}
	return webrtc.RTPCodecParameters{RTPCodecCapability: capability, PayloadType: pt}, nil
}

// NewAPI builds a pion API with opus, the chosen video codec and the default interceptors.
func NewAPI(codec domain.Codec) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus: %w", err)
	}
	video, err := videoCodec(codec)
	if err != nil {
		return nil, err
	}
	if err := m.RegisterCodec(video, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register %s: %w", codec, err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(registry)), nil
}

// NewFactory returns a Factory creating peer connections from api with cfg.
func NewFactory(api *webrtc.API, cfg webrtc.Configuration) Factory {
	return func(domain.Role) (core.PeerConnection, error) {
		return api.NewPeerConnection(cfg)
	}
}
