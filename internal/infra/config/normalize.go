package config

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/mod/semver"

	"salesmcp/internal/domain"
	"salesmcp/internal/infra/telemetry"
)

func normalize(raw rawConfig, originsSet bool) (domain.Config, []string) {
	var errs []string

	mode := domain.NormalizeMode(domain.DispatchMode(raw.Mode))
	if !mode.Valid() {
		errs = append(errs, fmt.Sprintf("mode must be %q or %q, got %q", domain.ModeShared, domain.ModeSession, raw.Mode))
	}

	server := domain.ServerInfo{
		Name:    strings.TrimSpace(raw.Server.Name),
		Version: strings.TrimSpace(raw.Server.Version),
	}
	if server.Name == "" {
		errs = append(errs, "server.name is required")
	}
	if !validVersion(server.Version) {
		errs = append(errs, fmt.Sprintf("server.version must be a semantic version, got %q", raw.Server.Version))
	}

	httpCfg := domain.HTTPConfig{
		Addr:            strings.TrimSpace(raw.HTTP.Addr),
		Path:            strings.TrimSpace(raw.HTTP.Path),
		AllowedOrigins:  normalizeOrigins(raw.HTTP.AllowedOrigins),
		MaxBodyBytes:    raw.HTTP.MaxBodyBytes,
		ShutdownTimeout: raw.HTTP.ShutdownTimeout,
		EventStore: domain.EventStoreConfig{
			Enabled:  raw.HTTP.EventStore.Enabled,
			MaxBytes: raw.HTTP.EventStore.MaxBytes,
		},
	}
	if httpCfg.Addr == "" && mode.Valid() {
		httpCfg.Addr = mode.DefaultListenAddress()
	}
	if !originsSet && mode == domain.ModeSession {
		httpCfg.AllowedOrigins = []string{"*"}
	}
	if !strings.HasPrefix(httpCfg.Path, "/") {
		errs = append(errs, fmt.Sprintf("http.path must start with \"/\", got %q", raw.HTTP.Path))
	}
	if httpCfg.MaxBodyBytes <= 0 {
		errs = append(errs, "http.maxBodyBytes must be > 0")
	}
	if httpCfg.ShutdownTimeout <= 0 {
		errs = append(errs, "http.shutdownTimeout must be > 0")
	}
	if httpCfg.EventStore.MaxBytes < 0 {
		errs = append(errs, "http.eventStore.maxBytes must be >= 0")
	}

	sessions := domain.SessionConfig{
		IdleTimeout:   raw.Sessions.IdleTimeout,
		SweepInterval: raw.Sessions.SweepInterval,
		MaxSessions:   raw.Sessions.MaxSessions,
	}
	if sessions.IdleTimeout < 0 {
		errs = append(errs, "sessions.idleTimeout must be >= 0")
	}
	if sessions.SweepInterval < 0 {
		errs = append(errs, "sessions.sweepInterval must be >= 0")
	}
	if sessions.MaxSessions < 0 {
		errs = append(errs, "sessions.maxSessions must be >= 0")
	}

	observability := domain.ObservabilityConfig{
		ListenAddress: strings.TrimSpace(raw.Observability.ListenAddress),
		Metrics:       raw.Observability.Metrics,
		Healthz:       raw.Observability.Healthz,
	}
	if observability.ListenAddress == "" && (observability.Metrics || observability.Healthz) {
		errs = append(errs, "observability.listenAddress is required when metrics or healthz is enabled")
	}

	logCfg := domain.LogConfig{
		Level:  strings.ToLower(strings.TrimSpace(raw.Log.Level)),
		Format: strings.ToLower(strings.TrimSpace(raw.Log.Format)),
	}
	if _, err := telemetry.ParseLevel(logCfg.Level); err != nil {
		errs = append(errs, fmt.Sprintf("log.level: %v", err))
	}
	switch logCfg.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format must be \"json\" or \"console\", got %q", raw.Log.Format))
	}

	return domain.Config{
		Mode:          mode,
		Server:        server,
		HTTP:          httpCfg,
		Sessions:      sessions,
		Observability: observability,
		Log:           logCfg,
	}, errs
}

func validVersion(version string) bool {
	if version == "" {
		return false
	}
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	return semver.IsValid(version)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return nil
	}
	out := make([]string, 0, len(origins))
	seen := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if _, ok := seen[origin]; ok {
			continue
		}
		seen[origin] = struct{}{}
		out = append(out, origin)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// RestartRequired lists the keys that differ between prev and next and
// cannot be applied to a running process.
func RestartRequired(prev, next domain.Config) []string {
	var keys []string
	add := func(changed bool, key string) {
		if changed {
			keys = append(keys, key)
		}
	}
	add(prev.Mode != next.Mode, "mode")
	add(prev.Server != next.Server, "server")
	add(prev.HTTP.Addr != next.HTTP.Addr, "http.addr")
	add(prev.HTTP.Path != next.HTTP.Path, "http.path")
	add(!slices.Equal(prev.HTTP.AllowedOrigins, next.HTTP.AllowedOrigins), "http.allowedOrigins")
	add(prev.HTTP.MaxBodyBytes != next.HTTP.MaxBodyBytes, "http.maxBodyBytes")
	add(prev.HTTP.ShutdownTimeout != next.HTTP.ShutdownTimeout, "http.shutdownTimeout")
	add(prev.HTTP.EventStore != next.HTTP.EventStore, "http.eventStore")
	add(prev.Sessions.SweepInterval != next.Sessions.SweepInterval, "sessions.sweepInterval")
	add(prev.Observability != next.Observability, "observability")
	add(prev.Log.Format != next.Log.Format, "log.format")
	return keys
}
