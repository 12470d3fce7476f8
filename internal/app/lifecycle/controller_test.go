package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/voice-client/internal/adapters/rtc/rtctest"
	"github.com/dkeye/voice-client/internal/adapters/signal/signaltest"
	"github.com/dkeye/voice-client/internal/app/voice"
	"github.com/dkeye/voice-client/internal/core"
	"github.com/dkeye/voice-client/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	mu          sync.Mutex
	id          string
	target      core.PublishTarget
	muted       map[domain.MediaKind]bool
	toggleErr   error
	unpublished int
	stopped     bool
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Publish(t core.PublishTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = t
	return nil
}

func (s *fakeStream) Unpublish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = nil
	s.unpublished++
	return nil
}

func (s *fakeStream) Mute(k domain.MediaKind) error   { return s.toggle(k, true) }
func (s *fakeStream) Unmute(k domain.MediaKind) error { return s.toggle(k, false) }

func (s *fakeStream) toggle(k domain.MediaKind, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.toggleErr != nil {
		return s.toggleErr
	}
	if s.muted == nil {
		s.muted = make(map[domain.MediaKind]bool)
	}
	s.muted[k] = muted
	return nil
}

func (s *fakeStream) Tracks() []webrtc.TrackLocal { return nil }

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.target = nil
	return nil
}

func (s *fakeStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeCapturer struct {
	mu         sync.Mutex
	userErr    error
	displayErr error
	requested  []domain.Constraints
	streams    []*fakeStream
}

func (f *fakeCapturer) capture(c domain.Constraints, err error, id string) (core.LocalStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, c)
	if err != nil {
		return nil, err
	}
	s := &fakeStream{id: id}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeCapturer) GetUserMedia(_ context.Context, c domain.Constraints) (core.LocalStream, error) {
	return f.capture(c, f.userErr, "user")
}

func (f *fakeCapturer) GetDisplayMedia(_ context.Context, c domain.Constraints) (core.LocalStream, error) {
	return f.capture(c, f.displayErr, "display")
}

type env struct {
	ctl   *Controller
	sig   *signaltest.Signaling
	peers *rtctest.Peers
	capt  *fakeCapturer
	loads int

	mu   sync.Mutex
	seen []Status
}

func respond(typ domain.CommandType, _ any) (core.Message, error) {
	switch typ {
	case domain.CommandConnect:
		return signaltest.Message{Body: []byte(`{"user_id":"me"}`)}, nil
	case domain.CommandJoin, domain.CommandOffer:
		return signaltest.Answer("A"), nil
	}
	return signaltest.Message{Body: []byte(`{}`)}, nil
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{peers: &rtctest.Peers{}, capt: &fakeCapturer{}}
	e.ctl = New(func() (*voice.Client, error) {
		e.loads++
		e.sig = signaltest.New()
		e.sig.SetRespond(respond)
		return voice.New(e.sig, e.peers.Factory()), nil
	}, e.capt, "ws://sfu.test", DefaultSettings())
	e.ctl.OnStatus(func(s Snapshot) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if len(e.seen) == 0 || e.seen[len(e.seen)-1] != s.Status {
			e.seen = append(e.seen, s.Status)
		}
	})
	return e
}

func (e *env) ready(t *testing.T) {
	t.Helper()
	require.NoError(t, e.ctl.LoadVoice())
	require.NoError(t, e.ctl.Connect(context.Background(), "token"))
	require.Equal(t, StatusReady, e.ctl.Status())
}

func (e *env) connected(t *testing.T) {
	t.Helper()
	e.ready(t)
	require.NoError(t, e.ctl.Join(context.Background(), "R1", ""))
	require.Equal(t, StatusConnected, e.ctl.Status())
}

// holdJoin makes the server sit on Join requests until release is called.
func (e *env) holdJoin(t *testing.T) {
	t.Helper()
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })
	e.sig.SetRespond(func(typ domain.CommandType, p any) (core.Message, error) {
		if typ == domain.CommandJoin {
			<-hold
		}
		return respond(typ, p)
	})
}

// joinPending starts a Join and waits until its request reached the server.
func (e *env) joinPending(t *testing.T) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- e.ctl.Join(context.Background(), "R1", "") }()
	require.Eventually(t, func() bool {
		return len(e.sig.RequestsOf(domain.CommandJoin)) == 1
	}, time.Second, 5*time.Millisecond)
	return done
}

func within(t *testing.T, d time.Duration, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("%s did not return within %s", what, d)
	}
}

func (e *env) userStream(t *testing.T) *fakeStream {
	t.Helper()
	s, ok := e.ctl.Stream(SourceUser)
	require.True(t, ok)
	return s.(*fakeStream)
}

func TestLoadVoice(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, StatusUnloaded, e.ctl.Status())

	require.NoError(t, e.ctl.LoadVoice())
	assert.Equal(t, StatusLoading, e.ctl.Status())
	assert.NotNil(t, e.ctl.Client())

	require.NoError(t, e.ctl.LoadVoice())
	assert.Equal(t, 1, e.loads)
}

func TestLoadVoice_FailureRevertsToUnloaded(t *testing.T) {
	ctl := New(func() (*voice.Client, error) { return nil, errors.New("boom") }, &fakeCapturer{}, "", DefaultSettings())

	require.Error(t, ctl.LoadVoice())
	assert.Equal(t, StatusUnloaded, ctl.Status())
	assert.Equal(t, "Failed to load voice library!", ctl.Error())
	assert.Nil(t, ctl.Client())
}

func TestConnect(t *testing.T) {
	e := newEnv(t)
	require.ErrorIs(t, e.ctl.Connect(context.Background(), "token"), domain.ErrInvalidState)

	e.ready(t)
	assert.Equal(t, []Status{StatusLoading, StatusConnecting, StatusReady}, e.seen)
	assert.Equal(t, domain.UserID("me"), e.ctl.Snapshot().UserID)
	assert.True(t, e.ctl.Snapshot().Connecting)

	reqs := e.sig.RequestsOf(domain.CommandConnect)
	require.Len(t, reqs, 1)
	assert.Equal(t, domain.ConnectRequest{Token: "token"}, reqs[0].Payload)
}

func TestConnect_FailureErrors(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.ctl.LoadVoice())
	e.sig.SetConnectErr(errors.New("dial refused"))

	require.Error(t, e.ctl.Connect(context.Background(), "token"))
	assert.Equal(t, StatusErrored, e.ctl.Status())
	assert.Contains(t, e.ctl.Error(), "dial refused")
}

func TestConnect_Unavailable(t *testing.T) {
	ctl := New(func() (*voice.Client, error) { return voice.New(signaltest.New(), nil), nil }, &fakeCapturer{}, "", DefaultSettings())
	require.NoError(t, ctl.LoadVoice())

	require.ErrorIs(t, ctl.Connect(context.Background(), "token"), domain.ErrUnsupported)
	assert.Equal(t, StatusUnavailable, ctl.Status())
}

func TestJoin_PublishesUserMedia(t *testing.T) {
	e := newEnv(t)
	e.connected(t)

	assert.Equal(t, []Status{StatusLoading, StatusConnecting, StatusReady, StatusRTCConnecting, StatusConnected}, e.seen)
	require.Len(t, e.capt.requested, 1)
	assert.Equal(t, domain.Constraints{Audio: true, Codec: domain.CodecVP8, Resolution: "hd"}, e.capt.requested[0])

	s := e.userStream(t)
	assert.Same(t, e.ctl.Client().Publisher(), s.target)

	snap := e.ctl.Snapshot()
	assert.Equal(t, domain.RoomID("R1"), snap.RoomID)
	assert.Equal(t, []string{SourceUser}, snap.Streams)
	assert.Equal(t, domain.UserID("me"), e.ctl.Client().UserID())
}

func TestJoin_MediaFailureDoesNotConnect(t *testing.T) {
	e := newEnv(t)
	e.ready(t)
	e.capt.userErr = errors.New("permission denied")

	err := e.ctl.Join(context.Background(), "R1", "U1")
	require.ErrorContains(t, err, "permission denied")

	assert.Equal(t, StatusReady, e.ctl.Status())
	assert.Contains(t, e.ctl.Error(), "failed to acquire media")
	assert.NotContains(t, e.seen, StatusConnected)
	assert.False(t, e.ctl.Client().Joined())
	assert.Len(t, e.sig.SentOf(domain.CommandLeave), 1)
	assert.True(t, e.peers.Last(domain.RolePublisher).Closed())
}

func TestJoin_ClientFailure(t *testing.T) {
	e := newEnv(t)
	e.ready(t)
	e.sig.SetRespond(func(domain.CommandType, any) (core.Message, error) {
		return nil, &domain.ProtocolError{Code: domain.ErrorTransportConnectionFailure}
	})

	require.Error(t, e.ctl.Join(context.Background(), "R1", "U1"))
	assert.Equal(t, StatusReady, e.ctl.Status())
	assert.Contains(t, e.ctl.Error(), "failed to join room")
	assert.Empty(t, e.capt.requested)
}

func TestJoin_RequiresReady(t *testing.T) {
	e := newEnv(t)
	require.ErrorIs(t, e.ctl.Join(context.Background(), "R1", "U1"), domain.ErrInvalidState)
	require.NoError(t, e.ctl.LoadVoice())
	require.ErrorIs(t, e.ctl.Join(context.Background(), "R1", "U1"), domain.ErrInvalidState)

	e = newEnv(t)
	e.connected(t)
	require.ErrorIs(t, e.ctl.Join(context.Background(), "R2", "U1"), domain.ErrInvalidState)
}

func TestJoin_ListenOnly(t *testing.T) {
	e := newEnv(t)
	audio := false
	_, err := e.ctl.UpdateSettings(SettingsPatch{Audio: &audio})
	require.NoError(t, err)

	e.connected(t)
	assert.Empty(t, e.capt.requested)
	_, ok := e.ctl.Stream(SourceUser)
	assert.False(t, ok)
}

func TestProducing(t *testing.T) {
	e := newEnv(t)
	assert.False(t, e.ctl.StartProducing(domain.MediaAudio))

	e.connected(t)
	s := e.userStream(t)

	assert.True(t, e.ctl.StopProducing(domain.MediaAudio))
	assert.True(t, s.muted[domain.MediaAudio])
	assert.False(t, e.ctl.Settings().Audio)

	assert.True(t, e.ctl.StartProducing(domain.MediaVideo))
	assert.False(t, s.muted[domain.MediaVideo])
	assert.True(t, e.ctl.Settings().Video)

	assert.False(t, e.ctl.StartProducing(domain.MediaScreencast))

	s.toggleErr = errors.New("no such track")
	assert.False(t, e.ctl.StartProducing(domain.MediaAudio))
	assert.False(t, e.ctl.Settings().Audio)
}

func TestDisplay(t *testing.T) {
	e := newEnv(t)
	e.ready(t)
	assert.False(t, e.ctl.StartDisplay(context.Background()))

	require.NoError(t, e.ctl.Join(context.Background(), "R1", "U1"))
	require.True(t, e.ctl.StartDisplay(context.Background()))
	assert.True(t, e.ctl.Settings().Screencast)
	assert.Equal(t, []string{SourceDisplay, SourceUser}, e.ctl.Snapshot().Streams)

	require.Len(t, e.capt.requested, 2)
	assert.True(t, e.capt.requested[1].Video)
	assert.True(t, e.capt.requested[1].Audio)

	d, _ := e.ctl.Stream(SourceDisplay)
	display := d.(*fakeStream)
	assert.Same(t, e.ctl.Client().Publisher(), display.target)

	// already sharing
	assert.True(t, e.ctl.StartDisplay(context.Background()))
	assert.Len(t, e.capt.requested, 2)

	require.True(t, e.ctl.StopDisplay())
	assert.True(t, display.isStopped())
	assert.Equal(t, 1, display.unpublished)
	assert.False(t, e.ctl.Settings().Screencast)
	assert.False(t, e.ctl.StopDisplay())
}

func TestDisplay_CaptureFailure(t *testing.T) {
	e := newEnv(t)
	e.connected(t)
	e.capt.displayErr = errors.New("cancelled by user")

	assert.False(t, e.ctl.StartDisplay(context.Background()))
	_, ok := e.ctl.Stream(SourceDisplay)
	assert.False(t, ok)
}

func TestLeave(t *testing.T) {
	e := newEnv(t)
	require.ErrorIs(t, e.ctl.Leave(), domain.ErrInvalidState)

	e.connected(t)
	s := e.userStream(t)

	require.NoError(t, e.ctl.Leave())
	assert.Equal(t, StatusReady, e.ctl.Status())
	assert.True(t, s.isStopped())
	assert.Len(t, e.sig.SentOf(domain.CommandLeave), 1)
	assert.True(t, e.sig.Connected())
	assert.Empty(t, e.ctl.Snapshot().RoomID)

	require.NoError(t, e.ctl.Join(context.Background(), "R2", "U1"))
	assert.Equal(t, StatusConnected, e.ctl.Status())
}

func TestDisconnect(t *testing.T) {
	e := newEnv(t)
	e.connected(t)
	s := e.userStream(t)
	first := e.sig

	e.ctl.Disconnect()
	assert.Equal(t, StatusUnloaded, e.ctl.Status())
	assert.True(t, s.isStopped())
	assert.False(t, first.Connected())
	assert.Empty(t, e.ctl.Snapshot().Streams)
	assert.Empty(t, e.ctl.Snapshot().Participants)

	// reload builds a new client
	require.NoError(t, e.ctl.LoadVoice())
	assert.Equal(t, 2, e.loads)
}

func TestServerCloseErrors(t *testing.T) {
	e := newEnv(t)
	e.connected(t)
	s := e.userStream(t)

	e.sig.ServerClose(&domain.CloseError{Code: domain.CloseUnauthorized, Reason: "token expired"})
	assert.Equal(t, StatusErrored, e.ctl.Status())
	assert.Contains(t, e.ctl.Error(), "token expired")
	assert.True(t, s.isStopped())
	assert.False(t, e.ctl.Client().Joined())
}

func TestRosterSync(t *testing.T) {
	e := newEnv(t)
	e.connected(t)

	var last Snapshot
	e.ctl.OnStatus(func(s Snapshot) { last = s })

	e.sig.Deliver(signaltest.Event(domain.EventAccept, `{"user_ids":["me","U2"]}`))
	assert.Len(t, last.Participants, 2)

	e.sig.Deliver(signaltest.Message{Type: string(domain.EventUserStartProduce), Sub: "audio", Body: []byte(`{"id":"U2"}`)})
	require.Len(t, last.Participants, 2)
	assert.Equal(t, domain.UserID("U2"), last.Participants[0].ID)
	assert.True(t, last.Participants[0].Audio)

	e.sig.Deliver(signaltest.Event(domain.EventUserLeft, `{"id":"U2"}`))
	assert.Len(t, e.ctl.Snapshot().Participants, 1)
}

func TestDeafen(t *testing.T) {
	e := newEnv(t)
	assert.False(t, e.ctl.StartDeafen())
	assert.False(t, e.ctl.IsDeaf())

	e.ready(t)
	assert.True(t, e.ctl.StartDeafen())
	assert.True(t, e.ctl.IsDeaf())
	assert.True(t, e.ctl.Snapshot().Deaf)
	assert.True(t, e.ctl.StopDeafen())
	assert.False(t, e.ctl.IsDeaf())
}

func TestUpdateSettings(t *testing.T) {
	e := newEnv(t)

	res, fhd := "fhd", domain.CodecH264
	s, err := e.ctl.UpdateSettings(SettingsPatch{Resolution: &res, Codec: &fhd})
	require.NoError(t, err)
	assert.Equal(t, "fhd", s.Resolution)
	assert.Equal(t, domain.CodecH264, e.ctl.Settings().Codec)

	bad := "8k"
	_, err = e.ctl.UpdateSettings(SettingsPatch{Resolution: &bad})
	require.ErrorIs(t, err, domain.ErrUnknownProfile)
	assert.Equal(t, "fhd", e.ctl.Settings().Resolution)

	codec := domain.Codec("av1")
	_, err = e.ctl.UpdateSettings(SettingsPatch{Codec: &codec})
	require.ErrorIs(t, err, domain.ErrUnknownCodec)
}

func TestStatus_Text(t *testing.T) {
	assert.Equal(t, "RTC_CONNECTING", StatusRTCConnecting.String())
	assert.Equal(t, Status(3), StatusLoading)
	assert.Equal(t, Status(5), StatusReady)

	b, err := StatusConnected.MarshalText()
	require.NoError(t, err)
	var s Status
	require.NoError(t, s.UnmarshalText(b))
	assert.Equal(t, StatusConnected, s)
	require.Error(t, s.UnmarshalText([]byte("BOGUS")))
	assert.Equal(t, "Status(42)", Status(42).String())
}

func TestDisconnect_DuringUnansweredJoin(t *testing.T) {
	e := newEnv(t)
	e.ready(t)
	e.holdJoin(t)
	joined := e.joinPending(t)
	require.Equal(t, StatusRTCConnecting, e.ctl.Status())

	within(t, 2*time.Second, "Disconnect", e.ctl.Disconnect)

	select {
	case err := <-joined:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pending Join was not rejected")
	}
	assert.Equal(t, StatusUnloaded, e.ctl.Status())
	assert.False(t, e.sig.Connected())
	assert.False(t, e.ctl.Client().Joined())
	assert.Empty(t, e.capt.requested, "no media after an aborted join")
}

func TestLeave_CancelsPendingJoin(t *testing.T) {
	e := newEnv(t)
	e.ready(t)
	e.holdJoin(t)
	joined := e.joinPending(t)

	within(t, 2*time.Second, "Leave", func() { assert.NoError(t, e.ctl.Leave()) })

	err := <-joined
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusReady, e.ctl.Status())
	assert.True(t, e.sig.Connected(), "leave keeps the socket")
	assert.False(t, e.ctl.Client().Joined())
}
