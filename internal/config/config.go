package config

import (
	"fmt"
	"os"
	"time"

	"github.com/dkeye/voice-client/internal/adapters/media"
	"github.com/dkeye/voice-client/internal/domain"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode   string `mapstructure:"mode"`
	Listen string `mapstructure:"listen"`
	Secret string `mapstructure:"secret"`

	SignalingURL string   `mapstructure:"signaling_url"`
	Token        string   `mapstructure:"token"`
	RoomID       string   `mapstructure:"room_id"`
	UserID       string   `mapstructure:"user_id"`
	ICEServers   []string `mapstructure:"ice_servers"`
	Codec        string   `mapstructure:"codec"`
	Resolution   string   `mapstructure:"resolution"`
	Audio        bool     `mapstructure:"audio"`
	Video        bool     `mapstructure:"video"`

	ReadLimit    int64         `mapstructure:"read_limit"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	SendQueue    int           `mapstructure:"send_queue"`
	EventQueue   int           `mapstructure:"event_queue"`

	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"signaling-url": "signaling_url",
	"token":         "token",
	"room":          "room_id",
	"user":          "user_id",
	"listen":        "listen",
	"codec":         "codec",
	"resolution":    "resolution",
	"audio":         "audio",
	"video":         "video",
	"log-level":     "log_level",
	"log-file":      "log_file",
}

// Flags declares the command line overrides understood by Load.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("voice-client", pflag.ContinueOnError)
	fs.String("signaling-url", "", "SFU signaling websocket url")
	fs.String("token", "", "authentication token")
	fs.String("room", "", "room to join after connecting")
	fs.String("user", "", "user id used to join")
	fs.String("listen", "", "control API address, empty disables it")
	fs.String("codec", "", "video codec: vp8, vp9 or h264")
	fs.String("resolution", "", "video resolution profile")
	fs.Bool("audio", true, "capture audio on join")
	fs.Bool("video", false, "capture video on join")
	fs.String("log-level", "", "log level")
	fs.String("log-file", "", "write JSON logs to this file instead of the console")
	return fs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("listen", "127.0.0.1:8090")
	v.SetDefault("secret", "")
	v.SetDefault("signaling_url", "ws://localhost:4000")
	v.SetDefault("token", "")
	v.SetDefault("room_id", "")
	v.SetDefault("user_id", "")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302", "stun:stun2.l.google.com:19302"})
	v.SetDefault("codec", string(domain.CodecVP8))
	v.SetDefault("resolution", media.DefaultProfile)
	v.SetDefault("audio", true)
	v.SetDefault("video", false)
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("ping_period", "25s")
	v.SetDefault("send_queue", 32)
	v.SetDefault("event_queue", 64)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
}

// Load reads config/config.<CONFIG_ENV>.yaml, then VOICE_* variables, then
// the flags in fs that were set explicitly. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)
	v.SetEnvPrefix("VOICE")
	v.AutomaticEnv()

	if fs != nil {
		for flag, key := range flagKeys {
			f := fs.Lookup(flag)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Fprintf(os.Stderr, "✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.SignalingURL == "" {
		return fmt.Errorf("signaling_url is required")
	}
	if err := domain.Codec(c.Codec).Validate(); err != nil {
		return fmt.Errorf("codec %q: %w", c.Codec, err)
	}
	if _, err := media.LookupProfile(c.Resolution); err != nil {
		return err
	}
	if c.RoomID != "" {
		if err := domain.ValidateRoomID(domain.RoomID(c.RoomID)); err != nil {
			return err
		}
	}
	if c.UserID != "" {
		if err := domain.ValidateUserID(domain.UserID(c.UserID)); err != nil {
			return err
		}
	}
	return nil
}
