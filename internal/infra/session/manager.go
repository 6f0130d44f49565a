package session

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"salesmcp/internal/domain"
	"salesmcp/internal/infra/telemetry"
)

const janitorLoopName = "session-janitor"

type Options struct {
	// IdleTimeout closes sessions not seen for this long. Zero disables it.
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	// MaxSessions caps live sessions; the least recently used one is closed
	// when a new session would exceed it. Zero means unbounded.
	MaxSessions int
	EventStore  mcp.EventStore
	Logger      *zap.Logger
	Metrics     domain.Metrics
	Health      *telemetry.HealthTracker
	Now         func() time.Time
}

// Manager owns the session id to transport mapping.
type Manager struct {
	server     *mcp.Server
	eventStore mcp.EventStore
	logger     *zap.Logger
	metrics    domain.Metrics
	health     *telemetry.HealthTracker
	now        func() time.Time

	mu          sync.Mutex
	sessions    *simplelru.LRU[string, *Session]
	evicted     []*Session
	idleTimeout time.Duration
	sweep       time.Duration
	maxSessions int
	closed      bool
}

type removal struct {
	session *Session
	reason  domain.EvictionReason
}

func NewManager(server *mcp.Server, opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NoopMetrics{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = domain.DefaultSessionSweepInterval
	}

	m := &Manager{
		server:      server,
		eventStore:  opts.EventStore,
		logger:      logger.Named("sessions"),
		metrics:     metrics,
		health:      opts.Health,
		now:         now,
		idleTimeout: opts.IdleTimeout,
		sweep:       sweep,
		maxSessions: opts.MaxSessions,
	}
	sessions, err := simplelru.NewLRU[string, *Session](lruSize(opts.MaxSessions), m.onEvict)
	if err != nil {
		return nil, err
	}
	m.sessions = sessions
	return m, nil
}

func lruSize(maxSessions int) int {
	if maxSessions <= 0 {
		return math.MaxInt32
	}
	return maxSessions
}

// onEvict runs under m.mu for every entry leaving the LRU.
func (m *Manager) onEvict(_ string, s *Session) {
	m.evicted = append(m.evicted, s)
}

func (m *Manager) drainLocked(reason domain.EvictionReason) []removal {
	if len(m.evicted) == 0 {
		return nil
	}
	out := make([]removal, 0, len(m.evicted))
	for _, s := range m.evicted {
		out = append(out, removal{session: s, reason: reason})
	}
	m.evicted = nil
	return out
}

// GetOrCreate returns the session for id, creating and connecting it when
// absent. Concurrent callers with the same id always observe one session.
func (m *Manager) GetOrCreate(ctx context.Context, id string, state *mcp.ServerSessionState) (*Session, bool, error) {
	const op = "session.get_or_create"

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, false, domain.E(domain.CodeUnavailable, op, "", domain.ErrSessionClosed)
	}
	if s, ok := m.sessions.Get(id); ok {
		s.touch(m.now())
		m.mu.Unlock()
		return s, false, nil
	}

	s, err := Open(ctx, m.server, id, ConnectOptions{
		EventStore: m.eventStore,
		State:      state,
		Now:        m.now(),
	})
	if err != nil {
		m.mu.Unlock()
		return nil, false, domain.Wrap(domain.CodeInternal, op, err)
	}
	m.sessions.Add(id, s)
	removed := m.drainLocked(domain.EvictionCapacity)
	count := m.sessions.Len()
	m.mu.Unlock()

	m.metrics.ObserveSessionCreated()
	fields := []zap.Field{telemetry.EventField(telemetry.EventSessionCreated), telemetry.SessionIDField(id)}
	if state != nil {
		fields = append(fields, zap.Bool("seeded", true))
	}
	telemetry.LoggerWithRequest(ctx, m.logger).Info("session created", fields...)

	go m.watch(s)
	m.finish(removed, count)
	return s, true, nil
}

// Get returns a live session and marks it as recently used.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions.Get(id)
	if ok {
		s.touch(m.now())
	}
	return s, ok
}

// Touch refreshes the idle clock of a session without reordering.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions.Peek(id); ok {
		s.touch(m.now())
	}
}

// Remove closes and forgets a session. It reports whether id was live.
func (m *Manager) Remove(id string, reason domain.EvictionReason) bool {
	m.mu.Lock()
	ok := m.sessions.Remove(id)
	removed := m.drainLocked(reason)
	count := m.sessions.Len()
	m.mu.Unlock()

	m.finish(removed, count)
	return ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions.Len()
}

// IDs lists live session ids from least to most recently used.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions.Keys()
}

// SetLimits applies new eviction settings to the running manager.
func (m *Manager) SetLimits(idleTimeout time.Duration, maxSessions int) {
	m.mu.Lock()
	m.idleTimeout = idleTimeout
	m.maxSessions = maxSessions
	m.sessions.Resize(lruSize(maxSessions))
	removed := m.drainLocked(domain.EvictionCapacity)
	count := m.sessions.Len()
	m.mu.Unlock()

	m.logger.Info("session limits updated",
		zap.Duration("idle_timeout", idleTimeout),
		zap.Int("max_sessions", maxSessions),
	)
	m.finish(removed, count)
}

// Sweep closes sessions idle for longer than the idle timeout and returns
// how many were removed. Busy sessions are never idle.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	if m.idleTimeout <= 0 {
		m.mu.Unlock()
		return 0
	}
	cutoff := m.now().Add(-m.idleTimeout)
	for _, id := range m.sessions.Keys() {
		s, ok := m.sessions.Peek(id)
		if ok && !s.Busy() && s.LastSeen().Before(cutoff) {
			m.sessions.Remove(id)
		}
	}
	removed := m.drainLocked(domain.EvictionIdle)
	count := m.sessions.Len()
	m.mu.Unlock()

	m.finish(removed, count)
	return len(removed)
}

// Run sweeps idle sessions until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	var beat *telemetry.Heartbeat
	if m.health != nil {
		beat = m.health.Register(janitorLoopName, m.sweep)
		defer m.health.Unregister(janitorLoopName)
	}
	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Debug("idle sweep", zap.Int("closed", n))
			}
			beat.Beat()
		}
	}
}

// Close closes every session and rejects further creation.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.sessions.Purge()
	removed := m.drainLocked(domain.EvictionShutdown)
	m.mu.Unlock()

	m.finish(removed, 0)
}

// watch forgets a session that ended on its own.
func (m *Manager) watch(s *Session) {
	_ = s.Wait()

	m.mu.Lock()
	var removed []removal
	if current, ok := m.sessions.Peek(s.id); ok && current == s {
		m.sessions.Remove(s.id)
		removed = m.drainLocked(domain.EvictionClosed)
	}
	count := m.sessions.Len()
	m.mu.Unlock()

	if len(removed) > 0 {
		m.finish(removed, count)
	}
}

func (m *Manager) finish(removed []removal, count int) {
	for _, r := range removed {
		if err := r.session.Close(); err != nil {
			m.logger.Debug("session close error", telemetry.SessionIDField(r.session.id), zap.Error(err))
		}
		m.metrics.ObserveSessionEvicted(r.reason)
		m.logger.Info("session removed",
			telemetry.EventField(telemetry.EventSessionEvicted),
			telemetry.SessionIDField(r.session.id),
			telemetry.ReasonField(string(r.reason)),
		)
	}
	m.metrics.SetActiveSessions(count)
}
