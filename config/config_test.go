package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.MaxReconnects)
	assert.Equal(t, Duration(3*time.Second), cfg.ReconnectDelay)
	assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, "kick", cfg.Driver)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, "kickclient.yaml", `
listen: 127.0.0.1:9000
output_dir: /srv/captures
max_reconnects: 2
reconnect_delay: "00:00:05"
interrupt_grace: 4s
`)
	envFile := writeFile(t, ".env", "KICKCLIENT_TEST_ONLY_UNUSED=1\n")
	t.Setenv("KICKCLIENT_MAX_RECONNECTS", "7")
	t.Setenv("KICKCLIENT_RECONNECT_DELAY", "1500ms")

	cfg, err := Load(path, envFile)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, "/srv/captures", cfg.OutputDir)
	assert.Equal(t, 7, cfg.MaxReconnects)
	assert.Equal(t, Duration(1500*time.Millisecond), cfg.ReconnectDelay)
	assert.Equal(t, Duration(4*time.Second), cfg.InterruptGrace)
}

func TestLoad_DotEnv(t *testing.T) {
	envFile := writeFile(t, ".env", "KICKCLIENT_USER_AGENT=TestAgent/1.0\n")
	t.Setenv("KICKCLIENT_USER_AGENT", "")
	os.Unsetenv("KICKCLIENT_USER_AGENT")

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "TestAgent/1.0", cfg.UserAgent)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeFile(t, "bad.yaml", "listen: x\nnot_a_key: 1\n")
	_, err := Load(path, filepath.Join(t.TempDir(), "none.env"))
	assert.Error(t, err)
}

func TestLoad_BadEnvDuration(t *testing.T) {
	t.Setenv("KICKCLIENT_INTERRUPT_GRACE", "soon")
	_, err := Load("", filepath.Join(t.TempDir(), "none.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.FFmpegPath = " "
	cfg.MaxReconnects = -1
	cfg.InterruptGrace = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffmpeg path")
	assert.Contains(t, err.Error(), "max reconnects")
	assert.Contains(t, err.Error(), "interrupt grace")
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("KICKCLIENT_X", "12")
	assert.Equal(t, 12, GetEnvInt("KICKCLIENT_X", 1))
	t.Setenv("KICKCLIENT_X", "twelve")
	assert.Equal(t, 1, GetEnvInt("KICKCLIENT_X", 1))
}
