package media

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/voice-client/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTarget struct {
	pc      *webrtc.PeerConnection
	added   int
	removed int
}

func (r *recordingTarget) AddTrack(t webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	r.added++
	return r.pc.AddTrack(t)
}

func (r *recordingTarget) RemoveTrack(s *webrtc.RTPSender) error {
	r.removed++
	return r.pc.RemoveTrack(s)
}

func newTarget(t *testing.T) *recordingTarget {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	return &recordingTarget{pc: pc}
}

func TestLookupProfile(t *testing.T) {
	want := map[string][2]int{
		"qvga": {320, 180},
		"vga":  {640, 360},
		"shd":  {960, 540},
		"hd":   {1280, 720},
		"fhd":  {1920, 1080},
		"qhd":  {2560, 1440},
	}
	for name, dims := range want {
		p, err := LookupProfile(name)
		require.NoError(t, err, name)
		assert.Equal(t, dims[0], p.Width, name)
		assert.Equal(t, dims[1], p.Height, name)
	}
	assert.Len(t, Profiles(), 6)

	qvga, _ := LookupProfile("qvga")
	assert.Equal(t, uint64(150_000), qvga.Encoding.MaxBitrate)
	assert.Equal(t, 15, qvga.FrameRate)
	assert.Equal(t, 30, qvga.FrameRateMax)
	assert.Equal(t, float64(15), qvga.Encoding.MaxFramerate)

	hd, _ := LookupProfile("hd")
	assert.Equal(t, 60, hd.FrameRateMax)
	assert.Equal(t, float64(30), hd.Encoding.MaxFramerate)

	_, err := LookupProfile("8k")
	require.ErrorIs(t, err, domain.ErrUnknownProfile)
}

func TestGetUserMedia(t *testing.T) {
	c := NewCapturer()

	s, err := c.GetUserMedia(context.Background(), domain.Constraints{Audio: true})
	require.NoError(t, err)
	assert.Len(t, s.Tracks(), 1)
	assert.Equal(t, []domain.MediaKind{domain.MediaAudio}, s.(*Stream).Kinds())
	assert.Equal(t, DefaultProfile, s.(*Stream).Profile().Name)

	s, err = c.GetUserMedia(context.Background(), domain.Constraints{Audio: true, Video: true, Codec: domain.CodecH264, Resolution: "vga"})
	require.NoError(t, err)
	require.Len(t, s.Tracks(), 2)
	assert.Equal(t, "video", s.Tracks()[1].Kind().String())
	assert.Equal(t, s.ID(), s.Tracks()[0].StreamID())

	_, err = c.GetUserMedia(context.Background(), domain.Constraints{})
	require.ErrorIs(t, err, ErrNothingRequested)

	_, err = c.GetUserMedia(context.Background(), domain.Constraints{Audio: true, Resolution: "huge"})
	require.ErrorIs(t, err, domain.ErrUnknownProfile)

	_, err = c.GetUserMedia(context.Background(), domain.Constraints{Video: true, Codec: "av1"})
	require.ErrorIs(t, err, domain.ErrUnknownCodec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.GetUserMedia(ctx, domain.Constraints{Audio: true})
	require.ErrorIs(t, err, context.Canceled)
}

func TestGetDisplayMedia_TagsScreencast(t *testing.T) {
	s, err := NewCapturer().GetDisplayMedia(context.Background(), domain.Constraints{})
	require.NoError(t, err)
	assert.Equal(t, []domain.MediaKind{domain.MediaScreencast}, s.(*Stream).Kinds())
}

func TestStream_PublishMuteUnpublish(t *testing.T) {
	target := newTarget(t)
	ls, err := NewCapturer().GetUserMedia(context.Background(), domain.Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	s := ls.(*Stream)

	require.NoError(t, s.Mute(domain.MediaVideo))
	require.NoError(t, s.Publish(target))
	assert.Equal(t, 2, target.added)
	assert.True(t, s.Muted(domain.MediaVideo))
	require.ErrorIs(t, s.Publish(target), ErrAlreadyPublished)

	require.NoError(t, s.Unmute(domain.MediaVideo))
	assert.False(t, s.Muted(domain.MediaVideo))
	require.NoError(t, s.Mute(domain.MediaAudio))
	require.NoError(t, s.Mute(domain.MediaAudio))
	assert.True(t, s.Muted(domain.MediaAudio))

	require.ErrorIs(t, s.Mute(domain.MediaScreencast), ErrNoTrack)

	require.NoError(t, s.Unpublish())
	assert.Equal(t, 2, target.removed)
	require.NoError(t, s.Unpublish())
	assert.Equal(t, 2, target.removed)
}

func TestStream_StopReleases(t *testing.T) {
	target := newTarget(t)
	ls, err := NewCapturer().GetUserMedia(context.Background(), domain.Constraints{Audio: true})
	require.NoError(t, err)
	s := ls.(*Stream)

	require.NoError(t, s.WriteSample(domain.MediaAudio, media.Sample{Data: []byte{0xf8, 0xff, 0xfe}, Duration: 20 * time.Millisecond}))
	require.NoError(t, s.Publish(target))
	require.NoError(t, s.Stop())
	assert.True(t, s.Stopped())
	assert.Equal(t, 1, target.removed)

	require.ErrorIs(t, s.WriteSample(domain.MediaAudio, media.Sample{Data: []byte{0}, Duration: time.Millisecond}), ErrStopped)
	require.ErrorIs(t, s.Unmute(domain.MediaAudio), ErrStopped)
	require.ErrorIs(t, s.Publish(target), ErrStopped)
	require.ErrorIs(t, s.WriteSample(domain.MediaVideo, media.Sample{}), ErrStopped)
}
