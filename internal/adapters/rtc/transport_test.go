package rtc

import (
	"sync"
	"testing"

	"github.com/dkeye/voice-client/internal/adapters/rtc/rtctest"
	"github.com/dkeye/voice-client/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trickles struct {
	mu  sync.Mutex
	got []domain.Trickle
}

func (t *trickles) Trickle(tr domain.Trickle) error {
	t.mu.Lock()
	t.got = append(t.got, tr)
	t.mu.Unlock()
	return nil
}

func cand(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}

func TestTransport_BuffersCandidatesUntilRemoteDescription(t *testing.T) {
	pc := rtctest.New()
	tr, err := NewTransport(domain.RoleSubscriber, pc, &trickles{})
	require.NoError(t, err)

	require.NoError(t, tr.AddRemoteCandidate(cand("c1")))
	require.NoError(t, tr.AddRemoteCandidate(cand("c2")))
	assert.Equal(t, 2, tr.PendingCandidates())
	assert.Empty(t, pc.Candidates())

	require.NoError(t, tr.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote"}))
	assert.Equal(t, 0, tr.PendingCandidates())
	assert.Equal(t, []webrtc.ICECandidateInit{cand("c1"), cand("c2")}, pc.Candidates())

	require.NoError(t, tr.AddRemoteCandidate(cand("c3")))
	assert.Equal(t, 0, tr.PendingCandidates())
	assert.Equal(t, []webrtc.ICECandidateInit{cand("c1"), cand("c2"), cand("c3")}, pc.Candidates())
}

func TestTransport_FailedRemoteDescriptionKeepsBuffer(t *testing.T) {
	pc := rtctest.New()
	pc.SetRemoteErr = assert.AnError
	tr, err := NewTransport(domain.RolePublisher, pc, &trickles{})
	require.NoError(t, err)

	require.NoError(t, tr.AddRemoteCandidate(cand("c1")))
	require.ErrorIs(t, tr.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "x"}), assert.AnError)
	assert.Equal(t, 1, tr.PendingCandidates())
}

func TestTransport_FlushWithoutRemoteDescriptionIsEmpty(t *testing.T) {
	tr, err := NewTransport(domain.RoleSubscriber, rtctest.New(), &trickles{})
	require.NoError(t, err)
	assert.Equal(t, 0, tr.FlushPendingCandidates())
}

func TestTransport_PublisherOpensAPIChannel(t *testing.T) {
	pub := rtctest.New()
	_, err := NewTransport(domain.RolePublisher, pub, &trickles{})
	require.NoError(t, err)
	assert.Equal(t, []string{APIChannel}, pub.Channels())

	sub := rtctest.New()
	_, err = NewTransport(domain.RoleSubscriber, sub, &trickles{})
	require.NoError(t, err)
	assert.Empty(t, sub.Channels())
}

func TestTransport_TricklesLocalCandidatesWithRole(t *testing.T) {
	pc := rtctest.New()
	sig := &trickles{}
	_, err := NewTransport(domain.RoleSubscriber, pc, sig)
	require.NoError(t, err)

	pc.GatherCandidate(nil)
	pc.GatherCandidate(&webrtc.ICECandidate{
		Foundation: "1",
		Priority:   2130706431,
		Address:    "192.168.1.2",
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       50000,
		Typ:        webrtc.ICECandidateTypeHost,
		Component:  1,
	})

	sig.mu.Lock()
	defer sig.mu.Unlock()
	require.Len(t, sig.got, 1)
	assert.Equal(t, domain.RoleSubscriber, sig.got[0].Target)
	assert.Contains(t, sig.got[0].Candidate.Candidate, "192.168.1.2")
}

func TestTransport_ICEFailureRequestsRestart(t *testing.T) {
	pc := rtctest.New()
	tr, err := NewTransport(domain.RolePublisher, pc, &trickles{})
	require.NoError(t, err)

	restarts := 0
	tr.OnICERestart(func() { restarts++ })

	pc.SetICEState(webrtc.ICEConnectionStateConnected)
	pc.SetICEState(webrtc.ICEConnectionStateDisconnected)
	pc.SetICEState(webrtc.ICEConnectionStateFailed)
	assert.Equal(t, 2, restarts)

	tr.Close()
	pc.SetICEState(webrtc.ICEConnectionStateFailed)
	assert.Equal(t, 2, restarts)
}

func TestTransport_NegotiationNeededFansOut(t *testing.T) {
	pc := rtctest.New()
	tr, err := NewTransport(domain.RolePublisher, pc, &trickles{})
	require.NoError(t, err)

	pc.NeedNegotiation()
	calls := 0
	off := tr.OnNegotiationNeeded(func() { calls++ })
	pc.NeedNegotiation()
	off()
	pc.NeedNegotiation()
	assert.Equal(t, 1, calls)
}

func TestTransport_CreateOfferSetsLocalDescription(t *testing.T) {
	pc := rtctest.New()
	tr, err := NewTransport(domain.RolePublisher, pc, &trickles{})
	require.NoError(t, err)

	offer, err := tr.CreateOffer(false)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	require.NotNil(t, tr.LocalDescription())
	assert.Equal(t, offer, *tr.LocalDescription())

	_, err = tr.CreateOffer(true)
	require.NoError(t, err)
	assert.Equal(t, 1, pc.ICERestarts())
}

func TestTransport_CreateAnswerNeedsRemoteOffer(t *testing.T) {
	tr, err := NewTransport(domain.RoleSubscriber, rtctest.New(), &trickles{})
	require.NoError(t, err)

	_, err = tr.CreateAnswer()
	require.Error(t, err)

	require.NoError(t, tr.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote"}))
	answer, err := tr.CreateAnswer()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
}

func TestTransport_CloseIsIdempotent(t *testing.T) {
	pc := rtctest.New()
	tr, err := NewTransport(domain.RoleSubscriber, pc, &trickles{})
	require.NoError(t, err)
	require.NoError(t, tr.AddRemoteCandidate(cand("c1")))

	tr.Close()
	tr.Close()
	assert.True(t, tr.Closed())
	assert.True(t, pc.Closed())
	assert.Equal(t, 0, tr.PendingCandidates())
}

func TestNewAPI_Codecs(t *testing.T) {
	for _, c := range []domain.Codec{domain.CodecVP8, domain.CodecVP9, domain.CodecH264} {
		api, err := NewAPI(c)
		require.NoError(t, err, c)
		require.NotNil(t, api)
	}
	_, err := NewAPI("av2")
	require.ErrorIs(t, err, domain.ErrUnknownCodec)
}

func TestFactory_CreatesRealPeerConnection(t *testing.T) {
	api, err := NewAPI(domain.CodecVP8)
	require.NoError(t, err)
	pc, err := NewFactory(api, webrtc.Configuration{})(domain.RolePublisher)
	require.NoError(t, err)

	tr, err := NewTransport(domain.RolePublisher, pc, &trickles{})
	require.NoError(t, err)
	defer tr.Close()
	require.NotNil(t, tr.APIChannel())
	assert.Equal(t, APIChannel, tr.APIChannel().Label())

	offer, err := tr.CreateOffer(false)
	require.NoError(t, err)
	assert.Contains(t, offer.SDP, "application")
}

func TestDefaultWebRTCConfig(t *testing.T) {
	cfg := DefaultWebRTCConfig(nil)
	require.Len(t, cfg.ICEServers, 1)
	assert.Len(t, cfg.ICEServers[0].URLs, 2)

	cfg = DefaultWebRTCConfig([]string{"stun:example.org:3478"})
	assert.Equal(t, []string{"stun:example.org:3478"}, cfg.ICEServers[0].URLs)
}
