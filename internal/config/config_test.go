package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	inTempDir(t)
	t.Setenv("CONFIG_ENV", "missing")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:4000", cfg.SignalingURL)
	assert.Equal(t, "vp8", cfg.Codec)
	assert.Equal(t, "hd", cfg.Resolution)
	assert.True(t, cfg.Audio)
	assert.False(t, cfg.Video)
	assert.Len(t, cfg.ICEServers, 2)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 25*time.Second, cfg.PingPeriod)
	assert.Equal(t, 32, cfg.SendQueue)
	assert.Equal(t, 64, cfg.EventQueue)
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), []byte(`
signaling_url: wss://sfu.example.org/ws
room_id: lobby
codec: vp9
ping_period: 10s
ice_servers:
  - stun:stun.example.org:3478
`), 0o644))
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("VOICE_TOKEN", "from-env")
	t.Setenv("VOICE_CODEC", "h264")

	fs := Flags()
	require.NoError(t, fs.Parse([]string{"--room", "standup", "--video"}))

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, "wss://sfu.example.org/ws", cfg.SignalingURL)
	assert.Equal(t, "from-env", cfg.Token)
	assert.Equal(t, "h264", cfg.Codec)
	assert.Equal(t, "standup", cfg.RoomID)
	assert.True(t, cfg.Video)
	assert.True(t, cfg.Audio)
	assert.Equal(t, 10*time.Second, cfg.PingPeriod)
	assert.Equal(t, []string{"stun:stun.example.org:3478"}, cfg.ICEServers)
}

func TestLoad_Invalid(t *testing.T) {
	inTempDir(t)
	t.Setenv("CONFIG_ENV", "missing")

	t.Setenv("VOICE_CODEC", "theora")
	_, err := Load(nil)
	require.Error(t, err)

	t.Setenv("VOICE_CODEC", "vp8")
	t.Setenv("VOICE_RESOLUTION", "8k")
	_, err = Load(nil)
	require.Error(t, err)
}
