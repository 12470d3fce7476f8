package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dkeye/voice-client/internal/app/lifecycle"
	"github.com/dkeye/voice-client/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Voice is the part of the lifecycle controller the control API drives.
type Voice interface {
	Snapshot() lifecycle.Snapshot
	Connect(ctx context.Context, token string) error
	Join(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
	Leave() error
	Disconnect()
	StartProducing(kind domain.MediaKind) bool
	StopProducing(kind domain.MediaKind) bool
	StartDisplay(ctx context.Context) bool
	StopDisplay() bool
	StartDeafen() bool
	StopDeafen() bool
	UpdateSettings(p lifecycle.SettingsPatch) (lifecycle.Settings, error)
	OnStatus(fn func(lifecycle.Snapshot)) (off func())
}

var _ Voice = (*lifecycle.Controller)(nil)

type Options struct {
	Mode string
	// Secret signs the session cookie. A random one is used when empty.
	Secret string
	// Defaults used when neither the request nor the session name them.
	Token  string
	RoomID string
	UserID string
	// AttemptLimit caps connect and join calls per operator within AttemptInterval.
	AttemptLimit    int
	AttemptInterval time.Duration
}

const (
	sessionName  = "VoiceControl"
	sessionToken = "token"
	sessionRoom  = "room_id"
	sessionUser  = "user_id"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware tags every request with the operator cookie.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(opts Options, voice Voice) *gin.Engine {
	if opts.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	if opts.AttemptLimit <= 0 {
		opts.AttemptLimit = 10
	}
	if opts.AttemptInterval <= 0 {
		opts.AttemptInterval = 10 * time.Second
	}

	r := gin.New()
	if opts.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	secret := opts.Secret
	if secret == "" {
		secret = uuid.NewString()
	}
	store := cookie.NewStore([]byte(secret))
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := &handlers{opts: opts, voice: voice}
	api := r.Group("/api")
	api.GET("/status", h.status)
	api.GET("/events", h.events)
	limit := LimitAttempts(NewAttemptLimiter(opts.AttemptLimit, opts.AttemptInterval))
	api.POST("/connect", limit, h.connect)
	api.POST("/join", limit, h.join)
	api.POST("/leave", h.leave)
	api.POST("/disconnect", h.disconnect)
	api.POST("/produce/:kind", h.produce(true))
	api.DELETE("/produce/:kind", h.produce(false))
	api.POST("/display", h.display(true))
	api.DELETE("/display", h.display(false))
	api.POST("/deafen", h.deafen(true))
	api.DELETE("/deafen", h.deafen(false))
	api.PUT("/settings", h.settings)

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}

type handlers struct {
	opts  Options
	voice Voice
}

type connectRequest struct {
	Token string `json:"token"`
}

type joinRequest struct {
	RoomID domain.RoomID `json:"room_id"`
	UserID domain.UserID `json:"user_id"`
}

func (h *handlers) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.voice.Snapshot())
}

// events streams every snapshot change as server-sent events, starting with the current one.
func (h *handlers) events(c *gin.Context) {
	updates := make(chan lifecycle.Snapshot, 16)
	off := h.voice.OnStatus(func(s lifecycle.Snapshot) {
		select {
		case updates <- s:
		default:
			// slow reader, it will catch up with the next change
		}
	})
	defer off()

	c.SSEvent("status", h.voice.Snapshot())
	c.Writer.Flush()
	c.Stream(func(io.Writer) bool {
		select {
		case s := <-updates:
			c.SSEvent("status", s)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *handlers) connect(c *gin.Context) {
	var req connectRequest
	if !bindOptional(c, &req) {
		return
	}
	session := sessions.Default(c)
	token := firstOf(req.Token, sessionString(session, sessionToken), h.opts.Token)

	log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("connect requested")
	if err := h.voice.Connect(c.Request.Context(), token); err != nil {
		fail(c, err)
		return
	}
	session.Set(sessionToken, token)
	saveSession(session)
	c.JSON(http.StatusOK, h.voice.Snapshot())
}

func (h *handlers) join(c *gin.Context) {
	var req joinRequest
	if !bindOptional(c, &req) {
		return
	}
	session := sessions.Default(c)
	room := domain.RoomID(firstOf(string(req.RoomID), sessionString(session, sessionRoom), h.opts.RoomID))
	user := domain.UserID(firstOf(string(req.UserID), sessionString(session, sessionUser), h.opts.UserID))
	if err := domain.ValidateRoomID(room); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Str("room", string(room)).Msg("join requested")
	if err := h.voice.Join(c.Request.Context(), room, user); err != nil {
		fail(c, err)
		return
	}
	session.Set(sessionRoom, string(room))
	if user != "" {
		session.Set(sessionUser, string(user))
	}
	saveSession(session)
	c.JSON(http.StatusOK, h.voice.Snapshot())
}

func (h *handlers) leave(c *gin.Context) {
	if err := h.voice.Leave(); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.voice.Snapshot())
}

func (h *handlers) disconnect(c *gin.Context) {
	h.voice.Disconnect()
	c.JSON(http.StatusOK, h.voice.Snapshot())
}

func (h *handlers) produce(on bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		kind := domain.MediaKind(c.Param("kind"))
		if kind != domain.MediaAudio && kind != domain.MediaVideo {
			c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrUnknownMediaKind.Error()})
			return
		}
		if on {
			h.toggled(c, h.voice.StartProducing(kind))
			return
		}
		h.toggled(c, h.voice.StopProducing(kind))
	}
}

func (h *handlers) display(on bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if on {
			h.toggled(c, h.voice.StartDisplay(c.Request.Context()))
			return
		}
		h.toggled(c, h.voice.StopDisplay())
	}
}

func (h *handlers) deafen(on bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if on {
			h.toggled(c, h.voice.StartDeafen())
			return
		}
		h.toggled(c, h.voice.StopDeafen())
	}
}

func (h *handlers) toggled(c *gin.Context, ok bool) {
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "operation not possible in the current state", "state": h.voice.Snapshot()})
		return
	}
	c.JSON(http.StatusOK, h.voice.Snapshot())
}

func (h *handlers) settings(c *gin.Context) {
	var patch lifecycle.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, err := h.voice.UpdateSettings(patch)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s)
}

// bindOptional accepts an empty body.
func bindOptional(c *gin.Context, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	var pe *domain.ProtocolError
	var ce *domain.CloseError
	switch {
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, domain.ErrRoomIDEmpty), errors.Is(err, domain.ErrRoomIDTooLong),
		errors.Is(err, domain.ErrUserIDEmpty), errors.Is(err, domain.ErrUserIDTooLong):
		return http.StatusBadRequest
	case errors.As(err, &pe) && pe.Code == domain.ErrorNotFound:
		return http.StatusNotFound
	case errors.As(err, &ce) && ce.Code == domain.CloseUnauthorized:
		return http.StatusUnauthorized
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func sessionString(s sessions.Session, key string) string {
	v, _ := s.Get(key).(string)
	return v
}

func saveSession(s sessions.Session) {
	if err := s.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
	}
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
