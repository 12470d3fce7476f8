package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"

	router "github.com/dkeye/voice-client/internal/adapters/http"
	"github.com/dkeye/voice-client/internal/adapters/media"
	"github.com/dkeye/voice-client/internal/adapters/rtc"
	sig "github.com/dkeye/voice-client/internal/adapters/signal"
	"github.com/dkeye/voice-client/internal/app/lifecycle"
	"github.com/dkeye/voice-client/internal/app/voice"
	"github.com/dkeye/voice-client/internal/config"
	"github.com/dkeye/voice-client/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	fs := config.Flags()
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal().Err(err).Msg("bad arguments")
	}

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg)

	api, err := rtc.NewAPI(domain.Codec(cfg.Codec))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build webrtc api")
	}
	factory := rtc.NewFactory(api, rtc.DefaultWebRTCConfig(cfg.ICEServers))

	load := func() (*voice.Client, error) {
		ch := sig.NewChannel(sig.Options{
			ReadLimit:    cfg.ReadLimit,
			WriteTimeout: cfg.WriteTimeout,
			PingPeriod:   cfg.PingPeriod,
			SendQueue:    cfg.SendQueue,
			EventQueue:   cfg.EventQueue,
		})
		return voice.New(ch, factory), nil
	}

	settings := lifecycle.DefaultSettings()
	settings.Audio = cfg.Audio
	settings.Video = cfg.Video
	settings.Resolution = cfg.Resolution
	settings.Codec = domain.Codec(cfg.Codec)

	ctl := lifecycle.New(load, media.NewCapturer(), cfg.SignalingURL, settings)
	defer ctl.Close()

	if err := ctl.LoadVoice(); err != nil {
		log.Fatal().Err(err).Msg("failed to load voice client")
	}
	ctl.OnStatus(func(s lifecycle.Snapshot) {
		log.Info().Str("module", "main").Stringer("status", s.Status).Str("error", s.Error).Int("participants", len(s.Participants)).Msg("status")
	})

	if cfg.Token != "" {
		autoJoin(ctx, ctl, cfg)
	}

	if cfg.Listen == "" {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		return
	}

	r := router.SetupRouter(router.Options{
		Mode:   cfg.Mode,
		Secret: cfg.Secret,
		Token:  cfg.Token,
		RoomID: cfg.RoomID,
		UserID: cfg.UserID,
	}, ctl)
	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", cfg.Listen).Msg("Control API started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Client exited gracefully")
}

// autoJoin connects with the configured token and joins the configured room.
// Failures are logged, the control API can retry.
func autoJoin(ctx context.Context, ctl *lifecycle.Controller, cfg *config.Config) {
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := ctl.Connect(connectCtx, cfg.Token); err != nil {
		log.Error().Err(err).Str("url", cfg.SignalingURL).Msg("connect failed")
		return
	}
	if cfg.RoomID == "" {
		return
	}
	if err := ctl.Join(connectCtx, domain.RoomID(cfg.RoomID), domain.UserID(cfg.UserID)); err != nil {
		log.Error().Err(err).Str("room", cfg.RoomID).Msg("join failed")
	}
}

func setupLogging(cfg *config.Config) {
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.LogFile != "" {
		log.Logger = zerolog.New(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     14,
		}).With().Timestamp().Logger()
	}
}
