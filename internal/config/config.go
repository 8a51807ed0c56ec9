// Package config loads the broker's configuration from environment
// variables, per spec.md 6: prefix PYBUGGER_MCP_, one var per setting,
// with defaults applied when unset.
//
// Grounded on controller/remote/controller.go's getConfig (a flat
// struct populated from either a config file or, here, the
// environment) and its log-level parsing via logrus.ParseLevel.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

const envPrefix = "PYBUGGER_MCP_"

// Config is the broker's full runtime configuration.
type Config struct {
	Host                 string
	Port                 int
	MaxSessions           int
	SessionTimeoutSeconds int
	DataDir               string
	LogLevel              string
}

// SessionTimeout is SessionTimeoutSeconds as a time.Duration.
func (c Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSeconds) * time.Second
}

// Load reads Config from the environment, applying spec.md 6's
// defaults: HOST 127.0.0.1, PORT 5679, MAX_SESSIONS 10,
// SESSION_TIMEOUT_SECONDS 3600, DATA_DIR ~/.polybugger-mcp, LOG_LEVEL
// info.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	cfg := Config{
		Host:                  getenv("HOST", "127.0.0.1"),
		Port:                  5679,
		MaxSessions:           10,
		SessionTimeoutSeconds: 3600,
		DataDir:               filepath.Join(home, ".polybugger-mcp"),
		LogLevel:              getenv("LOG_LEVEL", "info"),
	}

	if v := os.Getenv(envPrefix + "PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, errors.Wrapf(err, "invalid %sPORT %q", envPrefix, v)
		}
		cfg.Port = n
	}
	if v := os.Getenv(envPrefix + "MAX_SESSIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, errors.Wrapf(err, "invalid %sMAX_SESSIONS %q", envPrefix, v)
		}
		cfg.MaxSessions = n
	}
	if v := os.Getenv(envPrefix + "SESSION_TIMEOUT_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, errors.Wrapf(err, "invalid %sSESSION_TIMEOUT_SECONDS %q", envPrefix, v)
		}
		cfg.SessionTimeoutSeconds = n
	}
	if v := os.Getenv(envPrefix + "DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	return cfg, nil
}

func getenv(suffix, def string) string {
	if v := os.Getenv(envPrefix + suffix); v != "" {
		return v
	}
	return def
}

// Addr returns host:port for http.Server.Addr.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
