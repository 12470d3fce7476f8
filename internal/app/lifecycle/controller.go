// Package lifecycle owns the voice client and the local captures, and exposes
// one status value for presentation layers.
package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dkeye/voice-client/internal/app/voice"
	"github.com/dkeye/voice-client/internal/core"
	"github.com/dkeye/voice-client/internal/domain"
	"github.com/rs/zerolog/log"
)

// Logical names of the local captures.
const (
	SourceUser    = "user"
	SourceDisplay = "display"
)

// Loader builds a fresh voice client.
type Loader func() (*voice.Client, error)

// Snapshot is the read view of the controller.
type Snapshot struct {
	Status       Status               `json:"status"`
	Error        string               `json:"error,omitempty"`
	Connecting   bool                 `json:"connecting"`
	RoomID       domain.RoomID        `json:"room_id,omitempty"`
	UserID       domain.UserID        `json:"user_id,omitempty"`
	Participants []domain.Participant `json:"participants"`
	Settings     Settings             `json:"settings"`
	Deaf         bool                 `json:"deaf"`
	Streams      []string             `json:"streams"`
	Tracks       int                  `json:"tracks"`
}

type Controller struct {
	load     Loader
	capturer core.Capturer
	address  string

	// ops serializes the transitions; event handlers only take mu.
	ops sync.Mutex

	mu           sync.Mutex
	status       Status
	err          string
	client       *voice.Client
	connecting   bool
	identity     domain.UserID
	roomID       domain.RoomID
	participants []domain.Participant
	settings     Settings
	streams      map[string]core.LocalStream
	// joinCancel aborts the Join in flight, nil otherwise.
	joinCancel context.CancelFunc

	changed core.Emitter[Snapshot]
}

func New(load Loader, capturer core.Capturer, address string, settings Settings) *Controller {
	return &Controller{
		load:     load,
		capturer: capturer,
		address:  address,
		settings: settings,
		streams:  make(map[string]core.LocalStream),
	}
}

// LoadVoice builds the voice client. It is a no-op unless the status is UNLOADED.
func (c *Controller) LoadVoice() error {
	c.ops.Lock()
	defer c.ops.Unlock()

	if c.Status() != StatusUnloaded {
		return nil
	}
	c.setStatus(StatusLoading, "")

	client, err := c.load()
	if err != nil {
		log.Error().Err(err).Str("module", "lifecycle").Msg("Failed to load voice library!")
		c.setStatus(StatusUnloaded, "Failed to load voice library!")
		return err
	}

	client.OnReady(c.syncState)
	client.OnUserJoined(func(domain.UserID) { c.syncState() })
	client.OnUserLeft(func(domain.UserID) { c.syncState() })
	client.OnUserUpdated(func(domain.Participant) { c.syncState() })
	client.OnClose(c.onClose)
	client.OnError(func(err error) {
		log.Error().Err(err).Str("module", "lifecycle").Msg("voice client error")
	})

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	log.Info().Str("module", "lifecycle").Msg("voice loaded")
	return nil
}

// Connect opens and authenticates the signaling channel.
func (c *Controller) Connect(ctx context.Context, token string) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	client := c.Client()
	if client == nil {
		return fmt.Errorf("%w: voice not loaded", domain.ErrInvalidState)
	}
	switch c.Status() {
	case StatusConnecting, StatusRTCConnecting, StatusConnected:
		return fmt.Errorf("%w: %s", domain.ErrInvalidState, c.Status())
	}
	if !client.Supported() {
		c.setStatus(StatusUnavailable, domain.ErrUnsupported.Error())
		return domain.ErrUnsupported
	}

	c.mu.Lock()
	c.connecting = true
	c.mu.Unlock()
	c.setStatus(StatusConnecting, "")

	res, err := client.Connect(ctx, c.address, token)
	if err != nil {
		log.Error().Err(err).Str("module", "lifecycle").Str("address", c.address).Msg("connect failed")
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		c.setStatus(StatusErrored, err.Error())
		return err
	}

	c.mu.Lock()
	c.identity = res.UserID
	c.mu.Unlock()
	c.setStatus(StatusReady, "")
	c.syncState()
	return nil
}

// Join joins roomID, then captures and publishes the user media. The status
// only becomes CONNECTED once publishing succeeded; on failure the room is
// left again. An empty userID falls back to the authenticated identity.
func (c *Controller) Join(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	client := c.Client()
	if client == nil {
		return fmt.Errorf("%w: voice not loaded", domain.ErrInvalidState)
	}
	if s := c.Status(); s != StatusReady {
		return fmt.Errorf("%w: join from %s", domain.ErrInvalidState, s)
	}
	if userID == "" {
		c.mu.Lock()
		userID = c.identity
		c.mu.Unlock()
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.joinCancel = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.joinCancel = nil
		c.mu.Unlock()
		cancel()
	}()

	c.setStatus(StatusRTCConnecting, "")
	if err := client.Join(ctx, roomID, userID); err != nil {
		c.joinFailed(client, "failed to join room", err)
		return err
	}

	settings := c.Settings()
	if settings.Audio || settings.Video {
		stream, err := c.capturer.GetUserMedia(ctx, settings.constraints())
		if err != nil {
			c.leaveAfterFailure(client)
			c.joinFailed(client, "failed to acquire media", err)
			return fmt.Errorf("acquire media: %w", err)
		}
		if err := client.PublishTrack(stream); err != nil {
			if stopErr := stream.Stop(); stopErr != nil {
				log.Error().Err(stopErr).Str("module", "lifecycle").Msg("stop stream")
			}
			c.leaveAfterFailure(client)
			c.joinFailed(client, "failed to publish media", err)
			return fmt.Errorf("publish media: %w", err)
		}
		c.mu.Lock()
		c.streams[SourceUser] = stream
		c.mu.Unlock()
	}

	c.setStatus(StatusConnected, "")
	c.syncState()
	log.Info().Str("module", "lifecycle").Str("room", string(roomID)).Msg("connected")
	return nil
}

func (c *Controller) leaveAfterFailure(client *voice.Client) {
	if err := client.Leave(); err != nil {
		log.Warn().Err(err).Str("module", "lifecycle").Msg("leave after failed join")
	}
}

// joinFailed returns to READY while the socket is still up, ERRORED otherwise.
func (c *Controller) joinFailed(client *voice.Client, msg string, err error) {
	log.Error().Err(err).Str("module", "lifecycle").Msg(msg)
	status := StatusReady
	if !client.Connected() {
		status = StatusErrored
	}
	c.setStatus(status, msg+": "+err.Error())
	c.syncState()
}

// abortJoin cancels a Join still waiting on the server or the capturer.
func (c *Controller) abortJoin() {
	c.mu.Lock()
	cancel := c.joinCancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Disconnect closes everything and returns to UNLOADED. The socket is closed
// before waiting for a transition in flight, so a pending request is rejected
// instead of holding Disconnect.
func (c *Controller) Disconnect() {
	c.abortJoin()
	client := c.Client()
	if client != nil {
		client.Disconnect(nil, false)
	}

	c.ops.Lock()
	defer c.ops.Unlock()

	c.stopStreams()
	c.mu.Lock()
	c.connecting = false
	c.mu.Unlock()

	if client != nil {
		// a Connect may have reopened the socket in between
		client.Disconnect(nil, false)
	}
	c.setStatus(StatusUnloaded, "")
	c.syncState()
}

// Leave leaves the room and keeps the signaling connection. A Join in
// flight is cancelled first.
func (c *Controller) Leave() error {
	c.abortJoin()
	c.ops.Lock()
	defer c.ops.Unlock()

	client := c.Client()
	if client == nil || c.Status() < StatusReady {
		return fmt.Errorf("%w: not connected", domain.ErrInvalidState)
	}
	c.stopStreams()
	c.mu.Lock()
	c.connecting = false
	c.mu.Unlock()
	if err := client.Leave(); err != nil {
		log.Warn().Err(err).Str("module", "lifecycle").Msg("leave")
	}
	c.setStatus(StatusReady, "")
	c.syncState()
	return nil
}

// onClose handles a socket closed by the server. Local closes carry no cause.
func (c *Controller) onClose(cause *domain.CloseError) {
	if cause == nil {
		return
	}
	if c.Status() < StatusReady {
		return
	}
	log.Warn().Str("module", "lifecycle").Int("code", int(cause.Code)).Str("reason", cause.Reason).Msg("connection lost")
	c.stopStreams()
	c.mu.Lock()
	c.connecting = false
	c.mu.Unlock()
	c.setStatus(StatusErrored, cause.Error())
	c.syncState()
}

func (c *Controller) stopStreams() {
	c.mu.Lock()
	streams := c.streams
	c.streams = make(map[string]core.LocalStream)
	c.settings.Screencast = false
	c.mu.Unlock()

	for name, s := range streams {
		if err := s.Stop(); err != nil {
			log.Error().Err(err).Str("module", "lifecycle").Str("source", name).Msg("stop stream")
		}
	}
}

// StartProducing unmutes kind on the user capture.
func (c *Controller) StartProducing(kind domain.MediaKind) bool { return c.setProducing(kind, true) }

// StopProducing mutes kind on the user capture.
func (c *Controller) StopProducing(kind domain.MediaKind) bool { return c.setProducing(kind, false) }

func (c *Controller) setProducing(kind domain.MediaKind, on bool) bool {
	if kind != domain.MediaAudio && kind != domain.MediaVideo {
		log.Warn().Str("module", "lifecycle").Str("kind", string(kind)).Msg("not a user media kind")
		return false
	}
	c.mu.Lock()
	stream := c.streams[SourceUser]
	c.mu.Unlock()
	if stream == nil {
		return false
	}

	toggle := stream.Mute
	if on {
		toggle = stream.Unmute
	}
	if err := toggle(kind); err != nil {
		log.Error().Err(err).Str("module", "lifecycle").Str("kind", string(kind)).Bool("on", on).Msg("toggle producing")
		return false
	}

	c.mu.Lock()
	if kind == domain.MediaAudio {
		c.settings.Audio = on
	} else {
		c.settings.Video = on
	}
	c.mu.Unlock()
	c.notify()
	return true
}

// StartDisplay captures the screen and publishes it as a second stream.
func (c *Controller) StartDisplay(ctx context.Context) bool {
	c.ops.Lock()
	defer c.ops.Unlock()

	client := c.Client()
	if client == nil || !client.Joined() {
		return false
	}
	c.mu.Lock()
	_, active := c.streams[SourceDisplay]
	settings := c.settings
	c.mu.Unlock()
	if active {
		return true
	}

	stream, err := c.capturer.GetDisplayMedia(ctx, domain.Constraints{
		Audio:      true,
		Video:      true,
		Resolution: settings.Resolution,
		Codec:      settings.Codec,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "lifecycle").Msg("display capture")
		return false
	}
	if err := client.PublishTrack(stream); err != nil {
		log.Error().Err(err).Str("module", "lifecycle").Msg("publish display")
		_ = stream.Stop()
		return false
	}

	c.mu.Lock()
	c.streams[SourceDisplay] = stream
	c.settings.Screencast = true
	c.mu.Unlock()
	c.notify()
	return true
}

func (c *Controller) StopDisplay() bool {
	c.ops.Lock()
	defer c.ops.Unlock()

	c.mu.Lock()
	stream := c.streams[SourceDisplay]
	c.mu.Unlock()
	if stream == nil {
		return false
	}
	if err := stream.Unpublish(); err != nil {
		log.Error().Err(err).Str("module", "lifecycle").Msg("unpublish display")
		return false
	}
	if err := stream.Stop(); err != nil {
		log.Error().Err(err).Str("module", "lifecycle").Msg("stop display")
		return false
	}

	c.mu.Lock()
	delete(c.streams, SourceDisplay)
	c.settings.Screencast = false
	c.mu.Unlock()
	c.notify()
	return true
}

func (c *Controller) IsDeaf() bool {
	client := c.Client()
	return client != nil && client.IsDeaf()
}

func (c *Controller) StartDeafen() bool { return c.setDeaf(true) }
func (c *Controller) StopDeafen() bool  { return c.setDeaf(false) }

func (c *Controller) setDeaf(deaf bool) bool {
	client := c.Client()
	if client == nil {
		log.Warn().Str("module", "lifecycle").Msg("No client object")
		return false
	}
	if client.IsDeaf() != deaf {
		client.SetDeaf(deaf)
		c.syncState()
	}
	return true
}

func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// UpdateSettings validates and stores p. Capture flags take effect on the next join.
func (c *Controller) UpdateSettings(p SettingsPatch) (Settings, error) {
	c.mu.Lock()
	next := c.settings.apply(p)
	if err := next.Validate(); err != nil {
		c.mu.Unlock()
		return Settings{}, err
	}
	c.settings = next
	c.mu.Unlock()
	c.notify()
	return next, nil
}

// syncState copies the room and roster from the client.
func (c *Controller) syncState() {
	client := c.Client()
	if client == nil {
		return
	}
	room := client.RoomID()
	participants := client.Participants()

	c.mu.Lock()
	c.roomID = room
	c.participants = participants
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) setStatus(s Status, errMsg string) {
	c.mu.Lock()
	prev := c.status
	c.status = s
	c.err = errMsg
	c.mu.Unlock()
	if prev != s {
		log.Debug().Str("module", "lifecycle").Str("from", prev.String()).Str("to", s.String()).Msg("status")
	}
	c.notify()
}

func (c *Controller) notify() { c.changed.Emit(c.Snapshot()) }

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Error is the message of the last failure, empty after a successful transition.
func (c *Controller) Error() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) Client() *voice.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// Stream returns the local capture registered under name.
func (c *Controller) Stream(name string) (core.LocalStream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[name]
	return s, ok
}

func (c *Controller) Snapshot() Snapshot {
	client := c.Client()
	deaf, tracks := false, 0
	if client != nil {
		deaf = client.IsDeaf()
		tracks = len(client.Tracks())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	streams := make([]string, 0, len(c.streams))
	for name := range c.streams {
		streams = append(streams, name)
	}
	sort.Strings(streams)
	participants := append([]domain.Participant{}, c.participants...)
	return Snapshot{
		Status:       c.status,
		Error:        c.err,
		Connecting:   c.connecting,
		RoomID:       c.roomID,
		UserID:       c.identity,
		Participants: participants,
		Settings:     c.settings,
		Deaf:         deaf,
		Streams:      streams,
		Tracks:       tracks,
	}
}

// OnStatus subscribes to every change of the snapshot.
func (c *Controller) OnStatus(fn func(Snapshot)) (off func()) { return c.changed.On(fn) }

// Close disconnects if needed. It is used on process shutdown.
func (c *Controller) Close() error {
	if c.Client() == nil {
		return nil
	}
	c.Disconnect()
	return nil
}
