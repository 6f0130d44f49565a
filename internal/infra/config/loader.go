// Package config loads the process configuration from defaults, an optional
// YAML file and SALESMCP_* environment variables.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"salesmcp/internal/domain"
)

// EnvPrefix namespaces environment overrides, e.g. SALESMCP_SESSIONS_MAXSESSIONS.
const EnvPrefix = "SALESMCP"

type Loader struct {
	logger    *zap.Logger
	overrides map[string]any
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger.Named("config")}
}

// WithOverrides returns a loader that applies values on top of the file and
// environment on every load, so command-line flags survive hot reloads.
// Keys use the dotted config names, e.g. "sessions.maxSessions".
func (l *Loader) WithOverrides(overrides map[string]any) *Loader {
	merged := make(map[string]any, len(l.overrides)+len(overrides))
	for key, value := range l.overrides {
		merged[key] = value
	}
	for key, value := range overrides {
		merged[key] = value
	}
	return &Loader{logger: l.logger, overrides: merged}
}

type rawConfig struct {
	Mode          string           `mapstructure:"mode"`
	Server        rawServer        `mapstructure:"server"`
	HTTP          rawHTTP          `mapstructure:"http"`
	Sessions      rawSessions      `mapstructure:"sessions"`
	Observability rawObservability `mapstructure:"observability"`
	Log           rawLog           `mapstructure:"log"`
}

type rawServer struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

type rawHTTP struct {
	Addr            string        `mapstructure:"addr"`
	Path            string        `mapstructure:"path"`
	AllowedOrigins  []string      `mapstructure:"allowedOrigins"`
	MaxBodyBytes    int64         `mapstructure:"maxBodyBytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	EventStore      rawEventStore `mapstructure:"eventStore"`
}

type rawEventStore struct {
	Enabled  bool `mapstructure:"enabled"`
	MaxBytes int  `mapstructure:"maxBytes"`
}

type rawSessions struct {
	IdleTimeout   time.Duration `mapstructure:"idleTimeout"`
	SweepInterval time.Duration `mapstructure:"sweepInterval"`
	MaxSessions   int           `mapstructure:"maxSessions"`
}

type rawObservability struct {
	ListenAddress string `mapstructure:"listenAddress"`
	Metrics       bool   `mapstructure:"metrics"`
	Healthz       bool   `mapstructure:"healthz"`
}

type rawLog struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	// No default: an unset list lets the mode pick its CORS policy.
	_ = v.BindEnv("http.allowedOrigins")
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(domain.DefaultMode))
	v.SetDefault("server.name", domain.DefaultServerName)
	v.SetDefault("server.version", domain.DefaultServerVersion)
	v.SetDefault("http.addr", "")
	v.SetDefault("http.path", domain.DefaultHTTPPath)
	v.SetDefault("http.maxBodyBytes", domain.DefaultMaxBodyBytes)
	v.SetDefault("http.shutdownTimeout", domain.DefaultShutdownTimeout)
	v.SetDefault("http.eventStore.enabled", false)
	v.SetDefault("http.eventStore.maxBytes", domain.DefaultEventStoreMaxBytes)
	v.SetDefault("sessions.idleTimeout", domain.DefaultSessionIdleTimeout)
	v.SetDefault("sessions.sweepInterval", domain.DefaultSessionSweepInterval)
	v.SetDefault("sessions.maxSessions", domain.DefaultMaxSessions)
	v.SetDefault("observability.listenAddress", domain.DefaultObservabilityListenAddr)
	v.SetDefault("observability.metrics", false)
	v.SetDefault("observability.healthz", false)
	v.SetDefault("log.level", domain.DefaultLogLevel)
	v.SetDefault("log.format", domain.DefaultLogFormat)
}

// Load reads path, or only defaults and environment when path is empty.
func (l *Loader) Load(ctx context.Context, path string) (domain.Config, error) {
	var data []byte
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return domain.Config{}, fmt.Errorf("read config: %w", err)
		}
		data = raw
	}
	cfg, err := l.Parse(data)
	if err != nil {
		return domain.Config{}, err
	}
	return cfg, ctx.Err()
}

// Parse decodes a YAML document layered over defaults and environment.
func (l *Loader) Parse(data []byte) (domain.Config, error) {
	v := newViper()
	if len(bytes.TrimSpace(data)) > 0 {
		expanded, missing, err := expandEnv(data)
		if err != nil {
			return domain.Config{}, err
		}
		if len(missing) > 0 {
			l.logger.Warn("missing environment variables in config", zap.Strings("missing", missing))
		}
		if err := v.ReadConfig(bytes.NewReader(expanded)); err != nil {
			return domain.Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	for key, value := range l.overrides {
		v.Set(key, value)
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return domain.Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg, errs := normalize(raw, v.IsSet("http.allowedOrigins"))
	if len(errs) > 0 {
		return domain.Config{}, errors.New(strings.Join(errs, "; "))
	}
	return cfg, nil
}
