package media

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/voice-client/internal/core"
	"github.com/dkeye/voice-client/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

var (
	ErrStopped          = errors.New("stream stopped")
	ErrAlreadyPublished = errors.New("stream already published")
	ErrNoTrack          = errors.New("stream has no track of this kind")
)

type track struct {
	local  *webrtc.TrackLocalStaticSample
	sender *webrtc.RTPSender
	muted  bool
}

// Stream is a local capture made of sample tracks. The capture source feeds
// it through WriteSample; what reaches the network depends on publish and mute state.
type Stream struct {
	id      string
	profile Profile

	mu      sync.Mutex
	order   []domain.MediaKind
	tracks  map[domain.MediaKind]*track
	target  core.PublishTarget
	stopped bool
}

var _ core.LocalStream = (*Stream)(nil)

func newStream(profile Profile) *Stream {
	return &Stream{
		id:      uuid.NewString(),
		profile: profile,
		tracks:  make(map[domain.MediaKind]*track),
	}
}

func (s *Stream) addTrack(kind domain.MediaKind, capability webrtc.RTPCodecCapability) error {
	local, err := webrtc.NewTrackLocalStaticSample(capability, uuid.NewString(), s.id)
	if err != nil {
		return fmt.Errorf("create %s track: %w", kind, err)
	}
	s.tracks[kind] = &track{local: local}
	s.order = append(s.order, kind)
	return nil
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Profile() Profile { return s.profile }

// Publish adds every track to target. Tracks muted beforehand are attached detached.
func (s *Stream) Publish(target core.PublishTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.target != nil {
		return ErrAlreadyPublished
	}
	for _, kind := range s.order {
		t := s.tracks[kind]
		sender, err := target.AddTrack(t.local)
		if err != nil {
			s.removeLocked(target)
			return fmt.Errorf("publish %s: %w", kind, err)
		}
		t.sender = sender
		if t.muted {
			if err := sender.ReplaceTrack(nil); err != nil {
				s.removeLocked(target)
				return fmt.Errorf("publish %s muted: %w", kind, err)
			}
		}
	}
	s.target = target
	return nil
}

func (s *Stream) Unpublish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.target == nil {
		return nil
	}
	err := s.removeLocked(s.target)
	s.target = nil
	return err
}

func (s *Stream) removeLocked(target core.PublishTarget) error {
	var errs []error
	for _, kind := range s.order {
		t := s.tracks[kind]
		if t.sender == nil {
			continue
		}
		if err := target.RemoveTrack(t.sender); err != nil {
			errs = append(errs, fmt.Errorf("unpublish %s: %w", kind, err))
		}
		t.sender = nil
	}
	return errors.Join(errs...)
}

func (s *Stream) Mute(kind domain.MediaKind) error   { return s.setMuted(kind, true) }
func (s *Stream) Unmute(kind domain.MediaKind) error { return s.setMuted(kind, false) }

func (s *Stream) setMuted(kind domain.MediaKind, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	t, ok := s.tracks[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoTrack, kind)
	}
	if t.muted == muted {
		return nil
	}
	if t.sender != nil {
		var next webrtc.TrackLocal
		if !muted {
			next = t.local
		}
		if err := t.sender.ReplaceTrack(next); err != nil {
			return err
		}
	}
	t.muted = muted
	return nil
}

func (s *Stream) Muted(kind domain.MediaKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracks[kind]
	return ok && t.muted
}

func (s *Stream) Kinds() []domain.MediaKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.MediaKind(nil), s.order...)
}

func (s *Stream) Tracks() []webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]webrtc.TrackLocal, 0, len(s.order))
	for _, kind := range s.order {
		out = append(out, s.tracks[kind].local)
	}
	return out
}

// WriteSample feeds one encoded sample into the track of the given kind.
func (s *Stream) WriteSample(kind domain.MediaKind, sample media.Sample) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	t, ok := s.tracks[kind]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoTrack, kind)
	}
	return t.local.WriteSample(sample)
}

func (s *Stream) Stop() error {
	err := s.Unpublish()
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return err
}

func (s *Stream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
