package domain

import (
	"strings"
	"time"
)

// DispatchMode selects how requests are mapped onto transports.
type DispatchMode string

const (
	// ModeShared serves every request with one transport created at startup.
	ModeShared DispatchMode = "shared"
	// ModeSession keeps one transport per Mcp-Session-Id.
	ModeSession DispatchMode = "session"
)

func NormalizeMode(mode DispatchMode) DispatchMode {
	switch DispatchMode(strings.ToLower(strings.TrimSpace(string(mode)))) {
	case ModeShared:
		return ModeShared
	case ModeSession, "":
		return ModeSession
	default:
		return DispatchMode(strings.ToLower(strings.TrimSpace(string(mode))))
	}
}

func (m DispatchMode) Valid() bool {
	return m == ModeShared || m == ModeSession
}

// DefaultListenAddress returns the historical port for a mode.
func (m DispatchMode) DefaultListenAddress() string {
	if m == ModeShared {
		return DefaultSharedListenAddress
	}
	return DefaultSessionListenAddress
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type EventStoreConfig struct {
	Enabled  bool `json:"enabled"`
	MaxBytes int  `json:"maxBytes"`
}

type HTTPConfig struct {
	Addr            string           `json:"addr"`
	Path            string           `json:"path"`
	AllowedOrigins  []string         `json:"allowedOrigins,omitempty"`
	MaxBodyBytes    int64            `json:"maxBodyBytes"`
	ShutdownTimeout time.Duration    `json:"shutdownTimeout"`
	EventStore      EventStoreConfig `json:"eventStore"`
}

type SessionConfig struct {
	IdleTimeout   time.Duration `json:"idleTimeout"`
	SweepInterval time.Duration `json:"sweepInterval"`
	MaxSessions   int           `json:"maxSessions"`
}

type ObservabilityConfig struct {
	ListenAddress string `json:"listenAddress"`
	Metrics       bool   `json:"metrics"`
	Healthz       bool   `json:"healthz"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Config is the normalized process configuration.
type Config struct {
	Mode          DispatchMode        `json:"mode"`
	Server        ServerInfo          `json:"server"`
	HTTP          HTTPConfig          `json:"http"`
	Sessions      SessionConfig       `json:"sessions"`
	Observability ObservabilityConfig `json:"observability"`
	Log           LogConfig           `json:"log"`
}

// LiveSettings are the parts of Config that can change without a restart.
type LiveSettings struct {
	LogLevel    string
	IdleTimeout time.Duration
	MaxSessions int
}

func (c Config) Live() LiveSettings {
	return LiveSettings{
		LogLevel:    c.Log.Level,
		IdleTimeout: c.Sessions.IdleTimeout,
		MaxSessions: c.Sessions.MaxSessions,
	}
}
