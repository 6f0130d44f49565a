package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Session binds one streamable transport to one MCP server session.
type Session struct {
	id        string
	transport *mcp.StreamableServerTransport
	conn      *mcp.ServerSession
	createdAt time.Time
	lastSeen  atomic.Int64
	inFlight  atomic.Int32
	closeOnce sync.Once
	closeErr  error
}

// ConnectOptions configures a new session.
type ConnectOptions struct {
	EventStore mcp.EventStore
	// State seeds the MCP session when the client skipped initialize.
	State *mcp.ServerSessionState
	Now   time.Time
}

// Open creates a transport for id and connects it to server.
func Open(ctx context.Context, server *mcp.Server, id string, opts ConnectOptions) (*Session, error) {
	if server == nil {
		return nil, errors.New("mcp server is required")
	}
	if id == "" {
		return nil, errors.New("session id is required")
	}
	transport := &mcp.StreamableServerTransport{
		SessionID:  id,
		EventStore: opts.EventStore,
	}
	var sessionOpts *mcp.ServerSessionOptions
	if opts.State != nil {
		sessionOpts = &mcp.ServerSessionOptions{State: opts.State}
	}
	// The session outlives the request that created it.
	conn, err := server.Connect(context.WithoutCancel(ctx), transport, sessionOpts)
	if err != nil {
		return nil, fmt.Errorf("connect session %s: %w", id, err)
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	s := &Session{
		id:        id,
		transport: transport,
		conn:      conn,
		createdAt: now,
	}
	s.lastSeen.Store(now.UnixNano())
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

// Transport returns the handle serving this session. It never changes.
func (s *Session) Transport() *mcp.StreamableServerTransport {
	return s.transport
}

func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

// ServeHTTP delegates framing and tool dispatch to the transport. The
// session counts as busy until the response, or the SSE stream, ends.
func (s *Session) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	s.transport.ServeHTTP(w, r)
}

// Busy reports whether a request or stream is being served.
func (s *Session) Busy() bool {
	return s.inFlight.Load() > 0
}

// Initialized reports whether the session has initialize parameters, either
// from the client handshake or from seeded state.
func (s *Session) Initialized() bool {
	return s.conn.InitializeParams() != nil
}

// Wait blocks until the MCP session ends.
func (s *Session) Wait() error {
	return s.conn.Wait()
}

// Close ends the MCP session. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
