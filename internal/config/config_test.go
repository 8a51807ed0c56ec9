package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"HOST", "PORT", "MAX_SESSIONS", "SESSION_TIMEOUT_SECONDS", "DATA_DIR", "LOG_LEVEL"} {
		t.Setenv(envPrefix+k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", cfg.Host)
	require.Equal(t, 5679, cfg.Port)
	require.Equal(t, 10, cfg.MaxSessions)
	require.Equal(t, 3600, cfg.SessionTimeoutSeconds)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(envPrefix+"PORT", "9000")
	t.Setenv(envPrefix+"MAX_SESSIONS", "5")
	t.Setenv(envPrefix+"DATA_DIR", "/tmp/pb-data")
	t.Setenv(envPrefix+"LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, 5, cfg.MaxSessions)
	require.Equal(t, "/tmp/pb-data", cfg.DataDir)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadInvalidPort(t *testing.T) {
	clearEnv(t)
	t.Setenv(envPrefix+"PORT", "not-a-number")
	_, err := Load()
	require.Error(t, err)
}

func TestAddr(t *testing.T) {
	cfg := Config{Host: "0.0.0.0", Port: 5679}
	require.Equal(t, "0.0.0.0:5679", cfg.Addr())
}

func TestSessionTimeout(t *testing.T) {
	cfg := Config{SessionTimeoutSeconds: 120}
	require.Equal(t, 120e9, float64(cfg.SessionTimeout()))
}
