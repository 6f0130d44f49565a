package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"salesmcp/internal/domain"
	"salesmcp/internal/infra/session"
	"salesmcp/internal/infra/telemetry"
)

const (
	methodInitialize        = "initialize"
	notificationInitialized = "notifications/initialized"
)

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Mode         domain.DispatchMode
	Server       *mcp.Server
	Sessions     *session.Manager
	EventStore   mcp.EventStore
	MaxBodyBytes int64
	Logger       *zap.Logger
	Metrics      domain.Metrics
	NewID        func() string
}

// Dispatcher maps HTTP requests onto streamable transports, either one shared
// transport or one transport per Mcp-Session-Id.
type Dispatcher struct {
	mode     domain.DispatchMode
	sessions *session.Manager
	shared   *session.Session
	maxBody  int64
	logger   *zap.Logger
	metrics  domain.Metrics
	newID    func() string
}

// NewDispatcher builds a dispatcher. In shared mode the single transport is
// created and connected here.
func NewDispatcher(ctx context.Context, opts DispatcherOptions) (*Dispatcher, error) {
	mode := domain.NormalizeMode(opts.Mode)
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown dispatch mode %q", opts.Mode)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NoopMetrics{}
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = domain.DefaultMaxBodyBytes
	}

	d := &Dispatcher{
		mode:    mode,
		maxBody: maxBody,
		logger:  logger.Named("dispatcher"),
		metrics: metrics,
		newID:   newID,
	}
	switch mode {
	case domain.ModeShared:
		shared, err := session.Open(ctx, opts.Server, newID(), session.ConnectOptions{EventStore: opts.EventStore})
		if err != nil {
			return nil, err
		}
		d.shared = shared
		d.logger.Info("shared transport ready", telemetry.SessionIDField(shared.ID()))
	case domain.ModeSession:
		if opts.Sessions == nil {
			return nil, errors.New("session mode requires a session manager")
		}
		d.sessions = opts.Sessions
	}
	return d, nil
}

func (d *Dispatcher) Mode() domain.DispatchMode {
	return d.mode
}

// SharedSessionID returns the id of the shared transport, or "" in session
// mode.
func (d *Dispatcher) SharedSessionID() string {
	if d.shared == nil {
		return ""
	}
	return d.shared.ID()
}

// Close ends every session reachable from the dispatcher.
func (d *Dispatcher) Close() error {
	if d.sessions != nil {
		d.sessions.Close()
	}
	if d.shared == nil {
		return nil
	}
	return d.shared.Close()
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, meta := telemetry.EnsureRequestMeta(r.Context(), telemetry.RequestIDFromHTTP(r))
	r = r.WithContext(ctx)
	w.Header().Set(telemetry.RequestIDHeader, meta.RequestID)

	rec := &responseRecorder{ResponseWriter: w}
	var failure error
	defer func() {
		if p := recover(); p != nil {
			if p == http.ErrAbortHandler {
				panic(p)
			}
			failure = domain.E(domain.CodeInternal, "dispatch", "internal error", fmt.Errorf("panic: %v", p))
			telemetry.LoggerWithRequest(r.Context(), d.logger).Error("dispatch panic",
				telemetry.EventField(telemetry.EventDispatchPanic),
				zap.Any("panic", p),
				zap.Stack("stack"),
			)
			if !rec.wroteHeader {
				writeError(rec, failure)
			}
		}
		d.observe(r, rec, failure, time.Since(start))
	}()

	if err := d.dispatch(rec, r); err != nil {
		failure = err
		status := writeError(rec, err)
		logger := telemetry.LoggerWithRequest(r.Context(), d.logger)
		fields := []zap.Field{
			telemetry.EventField(telemetry.EventDispatchError),
			telemetry.MethodField(r.Method),
			zap.Int("status", status),
			zap.Error(err),
		}
		if status >= http.StatusInternalServerError {
			logger.Error("dispatch failed", fields...)
		} else {
			logger.Info("dispatch rejected", fields...)
		}
	}
}

func (d *Dispatcher) observe(r *http.Request, rec *responseRecorder, failure error, elapsed time.Duration) {
	metric := domain.DispatchMetric{
		Mode:     d.mode,
		Method:   r.Method,
		Status:   domain.DispatchStatusSuccess,
		Duration: elapsed,
	}
	if failure != nil {
		metric.Status = domain.DispatchStatusError
		metric.Code, _ = domain.CodeFrom(failure)
		if metric.Code == "" {
			metric.Code = domain.CodeInternal
		}
	} else if rec.status >= http.StatusBadRequest {
		// Rejected by the transport itself.
		metric.Status = domain.DispatchStatusError
	}
	d.metrics.ObserveDispatch(metric)
}

// dispatch returns an error only before the request reaches a transport.
func (d *Dispatcher) dispatch(w http.ResponseWriter, r *http.Request) error {
	if d.mode == domain.ModeShared {
		return d.dispatchShared(w, r)
	}
	return d.dispatchSession(w, r)
}

func (d *Dispatcher) dispatchShared(w http.ResponseWriter, r *http.Request) error {
	const op = "dispatch.shared"

	switch r.Method {
	case http.MethodPost:
		if err := checkAccept(r); err != nil {
			return domain.Wrap(domain.CodeInvalidArgument, op, err)
		}
		body, err := d.readBody(w, r)
		if err != nil {
			return domain.Wrap(domain.CodeInvalidArgument, op, err)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		r = r.WithContext(telemetry.WithSessionID(r.Context(), d.shared.ID()))
		w.Header().Set(domain.HeaderSessionID, d.shared.ID())
		d.shared.ServeHTTP(w, r)
		return nil
	default:
		// One shared stream cannot serve several clients, and the shared
		// session is not closable by clients.
		w.Header().Set("Allow", http.MethodPost)
		return domain.E(domain.CodeMethodNotAllowed, op,
			fmt.Sprintf("method %s is not supported in shared mode", r.Method), domain.ErrMethodNotAllowed)
	}
}

func (d *Dispatcher) dispatchSession(w http.ResponseWriter, r *http.Request) error {
	const op = "dispatch.session"

	id := strings.TrimSpace(r.Header.Get(domain.HeaderSessionID))
	switch r.Method {
	case http.MethodPost:
		return d.postSession(w, r, id)
	case http.MethodGet:
		if err := checkAccept(r); err != nil {
			return domain.Wrap(domain.CodeInvalidArgument, op, err)
		}
		if id == "" {
			return domain.E(domain.CodeInvalidArgument, op, "GET requires an Mcp-Session-Id header", domain.ErrInvalidRequest)
		}
		s, ok := d.sessions.Get(id)
		if !ok {
			return domain.E(domain.CodeNotFound, op, "session not found", domain.ErrSessionNotFound)
		}
		r = r.WithContext(telemetry.WithSessionID(r.Context(), id))
		w.Header().Set(domain.HeaderSessionID, id)
		s.ServeHTTP(w, r)
		d.sessions.Touch(id)
		return nil
	case http.MethodDelete:
		if id == "" {
			return domain.E(domain.CodeInvalidArgument, op, "DELETE requires an Mcp-Session-Id header", domain.ErrInvalidRequest)
		}
		if !d.sessions.Remove(id, domain.EvictionClient) {
			return domain.E(domain.CodeNotFound, op, "session not found", domain.ErrSessionNotFound)
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	default:
		w.Header().Set("Allow", strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodDelete}, ", "))
		return domain.E(domain.CodeMethodNotAllowed, op,
			fmt.Sprintf("method %s is not supported", r.Method), domain.ErrMethodNotAllowed)
	}
}

func (d *Dispatcher) postSession(w http.ResponseWriter, r *http.Request, id string) error {
	const op = "dispatch.session"

	if err := checkAccept(r); err != nil {
		return domain.Wrap(domain.CodeInvalidArgument, op, err)
	}
	body, err := d.readBody(w, r)
	if err != nil {
		return domain.Wrap(domain.CodeInvalidArgument, op, err)
	}
	if id == "" {
		id = d.newID()
	}
	ctx := telemetry.WithSessionID(r.Context(), id)

	s, ok := d.sessions.Get(id)
	created := false
	if !ok {
		if len(requestMethods(body)) == 0 {
			return domain.E(domain.CodeInvalidArgument, op,
				"a new session must start with a JSON-RPC request", domain.ErrInvalidRequest)
		}
		state := seedState(body, r.Header.Get(domain.HeaderProtocolVersion))
		if state != nil {
			telemetry.LoggerWithRequest(ctx, d.logger).Debug("seeding session state",
				telemetry.EventField(telemetry.EventSessionSeeded))
		}
		s, created, err = d.sessions.GetOrCreate(ctx, id, state)
		if err != nil {
			return domain.Wrap(domain.CodeInternal, op, err)
		}
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	w.Header().Set(domain.HeaderSessionID, id)
	if !created {
		s.ServeHTTP(w, r.WithContext(ctx))
		d.sessions.Touch(id)
		return nil
	}

	// A session whose first request the transport rejects is never handed
	// to the client.
	rec := &responseRecorder{ResponseWriter: w, rejectHeader: domain.HeaderSessionID}
	s.ServeHTTP(rec, r.WithContext(ctx))
	if rec.status >= http.StatusBadRequest || !s.Initialized() {
		d.sessions.Remove(id, domain.EvictionRejected)
		telemetry.LoggerWithRequest(ctx, d.logger).Info("discarded rejected session",
			telemetry.EventField(telemetry.EventSessionRejected),
			zap.Int("status", rec.status),
		)
		return nil
	}
	d.sessions.Touch(id)
	return nil
}

func (d *Dispatcher) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	const op = "dispatch.read_body"
	if r.Body == nil {
		return nil, domain.E(domain.CodeInvalidArgument, op, "POST requires a non-empty body", domain.ErrInvalidRequest)
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, d.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, domain.E(domain.CodePayloadTooLarge, op,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), err)
		}
		return nil, domain.E(domain.CodeInvalidArgument, op, "failed to read body", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, domain.E(domain.CodeInvalidArgument, op, "POST requires a non-empty body", domain.ErrInvalidRequest)
	}
	return body, nil
}

// checkAccept mirrors the streamable HTTP content negotiation rules: POST
// must accept JSON and SSE, GET must accept SSE.
func checkAccept(r *http.Request) error {
	var jsonOK, streamOK bool
	for _, part := range strings.Split(strings.Join(r.Header.Values("Accept"), ","), ",") {
		mediaType, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		switch strings.TrimSpace(mediaType) {
		case "application/json", "application/*":
			jsonOK = true
		case "text/event-stream", "text/*":
			streamOK = true
		case "*/*":
			jsonOK, streamOK = true, true
		}
	}
	if r.Method == http.MethodGet {
		if !streamOK {
			return fmt.Errorf("%w: Accept must contain 'text/event-stream' for GET requests", domain.ErrInvalidRequest)
		}
		return nil
	}
	if !jsonOK || !streamOK {
		return fmt.Errorf("%w: Accept must contain both 'application/json' and 'text/event-stream'", domain.ErrInvalidRequest)
	}
	return nil
}

// seedState returns the state for a brand-new session whose first body does
// not initialize it, so that the request is served instead of rejected.
// It returns nil when the body starts a normal handshake.
func seedState(body []byte, protocolVersion string) *mcp.ServerSessionState {
	var hasInitialize, hasInitialized bool
	for _, method := range requestMethods(body) {
		switch method {
		case methodInitialize:
			hasInitialize = true
		case notificationInitialized:
			hasInitialized = true
		}
	}
	if hasInitialize {
		return nil
	}
	if protocolVersion == "" {
		protocolVersion = domain.DefaultInitializeProtocolVersion
	}
	state := &mcp.ServerSessionState{
		InitializeParams: &mcp.InitializeParams{ProtocolVersion: protocolVersion},
		LogLevel:         "info",
	}
	if !hasInitialized {
		state.InitializedParams = new(mcp.InitializedParams)
	}
	return state
}

// requestMethods lists the request and notification methods in a single
// message or batch. Malformed bodies yield nothing; the transport reports them.
func requestMethods(body []byte) []string {
	trimmed := bytes.TrimSpace(body)
	var raws []json.RawMessage
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil
		}
	} else {
		raws = []json.RawMessage{trimmed}
	}
	methods := make([]string, 0, len(raws))
	for _, raw := range raws {
		msg, err := jsonrpc.DecodeMessage(raw)
		if err != nil {
			continue
		}
		if req, ok := msg.(*jsonrpc.Request); ok {
			methods = append(methods, req.Method)
		}
	}
	return methods
}

// responseRecorder tracks the status for metrics and panic recovery. It keeps
// http.Flusher available for SSE streams. When rejectHeader is set, that
// header is dropped from error responses.
type responseRecorder struct {
	http.ResponseWriter
	status       int
	wroteHeader  bool
	rejectHeader string
}

func (r *responseRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
		if r.rejectHeader != "" && status >= http.StatusBadRequest {
			r.Header().Del(r.rejectHeader)
		}
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.status = http.StatusOK
		r.wroteHeader = true
	}
	return r.ResponseWriter.Write(p)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
