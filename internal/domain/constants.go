package domain

import "time"

const (
	DefaultServerName    = "sales-mcp-http"
	DefaultServerVersion = "1.0.0"

	DefaultHTTPPath                  = "/mcp"
	DefaultSharedListenAddress       = ":3001"
	DefaultSessionListenAddress      = ":3002"
	DefaultMaxBodyBytes              = 4 * 1024 * 1024
	DefaultShutdownTimeout           = 5 * time.Second
	DefaultSessionIdleTimeout        = 30 * time.Minute
	DefaultSessionSweepInterval      = time.Minute
	DefaultMaxSessions               = 1024
	DefaultEventStoreMaxBytes        = 10 << 20
	DefaultObservabilityListenAddr   = "127.0.0.1:9090"
	DefaultLogLevel                  = "info"
	DefaultLogFormat                 = "json"
	DefaultConfigReloadDebounce      = 200 * time.Millisecond
	DefaultMode                      = ModeSession
	DefaultInitializeProtocolVersion = "2025-03-26"
)

const (
	// HeaderSessionID carries the session identifier on requests and responses.
	HeaderSessionID = "Mcp-Session-Id"
	// HeaderProtocolVersion carries the negotiated protocol version.
	HeaderProtocolVersion = "Mcp-Protocol-Version"
	// HeaderLastEventID is used by clients to resume an SSE stream.
	HeaderLastEventID = "Last-Event-ID"
)
