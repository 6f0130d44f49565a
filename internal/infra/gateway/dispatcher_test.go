package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"salesmcp/internal/dataset"
	"salesmcp/internal/domain"
	"salesmcp/internal/infra/session"
	"salesmcp/internal/infra/tools"
)

const initializeBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"raw","version":"1.0.0"}}}`

type dispatchRecorder struct {
	domain.NoopMetrics
	mu       sync.Mutex
	created  int
	dispatch []domain.DispatchMetric
}

func (r *dispatchRecorder) ObserveSessionCreated() {
	r.mu.Lock()
	r.created++
	r.mu.Unlock()
}

func (r *dispatchRecorder) ObserveDispatch(metric domain.DispatchMetric) {
	r.mu.Lock()
	r.dispatch = append(r.dispatch, metric)
	r.mu.Unlock()
}

func (r *dispatchRecorder) createdCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.created
}

type harness struct {
	url        string
	sessions   *session.Manager
	dispatcher *Dispatcher
	metrics    *dispatchRecorder
}

type harnessOptions struct {
	mode         domain.DispatchMode
	maxBodyBytes int64
	maxSessions  int
	origins      []string
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	ctx := context.Background()

	data, err := dataset.Sample()
	require.NoError(t, err)
	registry := tools.NewRegistry(zap.NewNop(), nil)
	require.NoError(t, tools.RegisterBuiltins(registry, data))
	server := NewMCPServer(domain.ServerInfo{Name: domain.DefaultServerName, Version: domain.DefaultServerVersion}, registry, nil)

	metrics := &dispatchRecorder{}
	var sessions *session.Manager
	if opts.mode == domain.ModeSession {
		sessions, err = session.NewManager(server, session.Options{Metrics: metrics, MaxSessions: opts.maxSessions})
		require.NoError(t, err)
	}
	dispatcher, err := NewDispatcher(ctx, DispatcherOptions{
		Mode:         opts.mode,
		Server:       server,
		Sessions:     sessions,
		MaxBodyBytes: opts.maxBodyBytes,
		Metrics:      metrics,
	})
	require.NoError(t, err)

	httpServer := NewHTTPServer(domain.HTTPConfig{Path: "/mcp", AllowedOrigins: opts.origins}, dispatcher, nil)
	ts := httptest.NewServer(httpServer.Handler())
	t.Cleanup(func() {
		_ = dispatcher.Close()
		ts.Close()
	})
	return &harness{
		url:        ts.URL + "/mcp",
		sessions:   sessions,
		dispatcher: dispatcher,
		metrics:    metrics,
	}
}

func (h *harness) connect(t *testing.T) *mcp.ClientSession {
	t.Helper()
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	cs, err := client.Connect(context.Background(), &mcp.StreamableClientTransport{Endpoint: h.url}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func (h *harness) post(t *testing.T, sessionID, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set(domain.HeaderSessionID, sessionID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) do(t *testing.T, method, sessionID string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, h.url, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set(domain.HeaderSessionID, sessionID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// firstSSEData returns the first data payload of an SSE response.
func firstSSEData(t *testing.T, resp *http.Response) json.RawMessage {
	t.Helper()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			return json.RawMessage(data)
		}
	}
	t.Fatalf("no SSE data in response: %v", scanner.Err())
	return nil
}

func decodeError(t *testing.T, resp *http.Response) errorEnvelope {
	t.Helper()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	assert.Equal(t, "2.0", env.JSONRPC)
	assert.Nil(t, env.ID)
	return env
}

func toolsCallBody(id int, name string, args string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"tools/call","params":{"name":%q,"arguments":%s}}`, id, name, args)
}

func TestSessionMode_ClientCallsTools(t *testing.T) {
	h := newHarness(t, harnessOptions{mode: domain.ModeSession})
	cs := h.connect(t)
	ctx := context.Background()

	listed, err := cs.ListTools(ctx, &mcp.ListToolsParams{})
	require.NoError(t, err)
	names := make([]string, 0, len(listed.Tools))
	for _, tool := range listed.Tools {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"getCustomers", "getSales"}, names)

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "getSales",
		Arguments: map[string]any{"startDate": "2025-09-01", "endDate": "2025-09-30"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)

	var report tools.SalesReport
	require.NoError(t, json.Unmarshal([]byte(text.Text), &report))
	want := tools.SalesReport{
		StartDate: "2025-09-01",
		EndDate:   "2025-09-30",
		Sales:     []dataset.Sale{{Date: "2025-09-01", Total: 1500}, {Date: "2025-09-02", Total: 2000}},
	}
	if diff := cmp.Diff(want, report); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}
	assert.NotNil(t, res.StructuredContent)

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: "getCustomers"})
	require.NoError(t, err)
	text, ok = res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.JSONEq(t, `[{"id":1,"name":"Alice","email":"alice@example.com"},{"id":2,"name":"Bob","email":"bob@example.com"}]`, text.Text)

	assert.Equal(t, 1, h.sessions.Len())
	_, live := h.sessions.Get(cs.ID())
	assert.True(t, live)
}

func TestSessionMode_MissingRequiredFieldIsInvalidParams(t *testing.T) {
	h := newHarness(t, harnessOptions{mode: domain.ModeSession})
	cs := h.connect(t)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "getSales",
		Arguments: map[string]any{"endDate": "2025-09-30"},
	})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "startDate")

	// The session survives the rejected call.
	_, err = cs.CallTool(context.Background(), &mcp.CallToolParams{Name: "getCustomers"})
	require.NoError(t, err)
}

func TestSessionMode_MissingRequiredFieldRawResponse(t *testing.T) {
	h := newHarness(t, harnessOptions{mode: domain.ModeSession})

	resp := h.post(t, "", toolsCallBody(7, "getSales", `{"endDate":"2025-09-30"}`))
	var msg struct {
		ID    int `json:"id"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	require.NoError(t, json.Unmarshal(firstSSEData(t, resp), &msg))
	assert.Equal(t, 7, msg.ID)
	require.NotNil(t, msg.Error)
	assert.Equal(t, -32602, msg.Error.Code)
	assert.Empty(t, msg.Result)
}

func TestSessionMode_GeneratedIDAddressesSameTransport(t *testing.T) {
	h := newHarness(t, harnessOptions{mode: domain.ModeSession})

	first := h.post(t, "", initializeBody)
	id := first.Header.Get(domain.HeaderSessionID)
	require.NotEmpty(t, id)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	_ = firstSSEData(t, first)

	s1, ok := h.sessions.Get(id)
	require.True(t, ok)

	second := h.post(t, id, toolsCallBody(2, "getCustomers", `{}`))
	assert.Equal(t, id, second.Header.Get(domain.HeaderSessionID))
	_ = firstSSEData(t, second)

	s2, ok := h.sessions.Get(id)
	require.True(t, ok)
	assert.Same(t, s1.Transport(), s2.Transport())
	assert.Equal(t, 1, h.sessions.Len())
}

func TestSessionMode_DistinctClientsGetDistinctIDs(t *testing.T) {
	h := newHarness(t, harnessOptions{mode: domain.ModeSession})
	a := h.connect(t)
	b := h.connect(t)

	assert.NotEmpty(t, a.ID())
	assert.NotEmpty(t, b.ID())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, h.sessions.Len())
}

func TestSessionMode_UnseenClientIDIsServed(t *testing.T) {
	h := newHarness(t, harnessOptions{mode: domain.ModeSession})

	resp := h.post(t, "client-chosen-id", toolsCallBody(3, "getCustomers", `{}`))
	assert.Equal(t, "client-chosen-id", resp.Header.Get(domain.HeaderSessionID))

	var msg struct {
		Result struct {
			Content []json.RawMessage `json:"content"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(firstSSEData(t, resp), &msg))
	require.Len(t, msg.Result.Content, 1)
	_, ok := h.sessions.Get("client-chosen-id")
	assert.True(t, ok)
}

func TestSessionMode_ConcurrentFirstRequestsShareTransport(t *testing.T) {
	h := newHarness(t, harnessOptions{mode: domain.ModeSession})
	const workers = 16

	var wg sync.WaitGroup
	statuses := make([]int, workers)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			req, err := http.NewRequest(http.MethodPost, h.url, strings.NewReader(toolsCallBody(i+1, "getCustomers", `{}`)))
			if !assert.NoError(t, err) {
				return
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Accept", "application/json, text/event-stream")
			req.Header.Set(domain.HeaderSessionID, "racy-id")
			resp, err := http.DefaultClient.Do(req)
			if !assert.NoError(t, err) {
				return
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	close(start)
	wg.Wait()

	for _, status := range statuses {
		assert.Equal(t, http.StatusOK, status)
	}
	assert.Equal(t, 1, h.sessions.Len())
	assert.Equal(t, 1, h.metrics.createdCount())
}

func TestSessionMode_Delete(t *testing.T) {
	h := newHarness(t, harnessOptions{mode: domain.ModeSession})

	resp := h.post(t, "", initializeBody)
	id := resp.Header.Get(domain.HeaderSessionID)
	_ = firstSSEData(t, resp)

	del := h.do(t, http.MethodDelete, id)
	assert.Equal(t, http.StatusNoContent, del.StatusCode)
	assert.Zero(t, h.sessions.Len())

	again := h.do(t, http.MethodDelete, id)
	require.Equal(t, http.StatusNotFound, again.StatusCode)
	env := decodeError(t, again)
	assert.Equal(t, domain.CodeNotFound, env.Error.Data.Code)
}

func TestSessionMode_StructuredErrors(t *testing.T) {
	h := newHarness(t, harnessOptions{mode: domain.ModeSession, maxBodyBytes: 64})

	cases := []struct {
		name   string
		req    func() *http.Response
		status int
		code   domain.ErrorCode
	}{
		{
			name:   "get without session",
			req:    func() *http.Response { return h.do(t, http.MethodGet, "") },
			status: http.StatusBadRequest,
			code:   domain.CodeInvalidArgument,
		},
		{
			name:   "get unknown session",
			req:    func() *http.Response { return h.do(t, http.MethodGet, "nope") },
			status: http.StatusNotFound,
			code:   domain.CodeNotFound,
		},
		{
			name:   "delete without session",
			req:    func() *http.Response { return h.do(t, http.MethodDelete, "") },
			status: http.StatusBadRequest,
			code:   domain.CodeInvalidArgument,
		},
		{
			name:   "unsupported method",
			req:    func() *http.Response { return h.do(t, http.MethodPut, "") },
			status: http.StatusMethodNotAllowed,
			code:   domain.CodeMethodNotAllowed,
		},
		{
			name:   "body too large",
			req:    func() *http.Response { return h.post(t, "", initializeBody) },
			status: http.StatusRequestEntityTooLarge,
			code:   domain.CodePayloadTooLarge,
		},
		{
			name:   "empty body",
			req:    func() *http.Response { return h.post(t, "", "  ") },
			status: http.StatusBadRequest,
			code:   domain.CodeInvalidArgument,
		},
		{
			name: "missing accept",
			req: func() *http.Response {
				resp, err := http.Post(h.url, "application/json", strings.NewReader(`{}`))
				require.NoError(t, err)
				t.Cleanup(func() { resp.Body.Close() })
				return resp
			},
			status: http.StatusBadRequest,
			code:   domain.CodeInvalidArgument,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := tc.req()
			require.Equal(t, tc.status, resp.StatusCode)
			env := decodeError(t, resp)
			assert.Equal(t, tc.code, env.Error.Data.Code)
			assert.NotEmpty(t, env.Error.Message)
			assert.NotZero(t, env.Error.Code)
		})
	}
	assert.Zero(t, h.sessions.Len())

	put := h.do(t, http.MethodPut, "")
	assert.Equal(t, "GET, POST, DELETE", put.Header.Get("Allow"))
}

func TestSessionMode_RejectedFirstRequestLeavesNoSession(t *testing.T) {
	cases := []struct {
		name string
		body string
		code domain.ErrorCode
	}{
		{name: "malformed json", body: `{not json`, code: domain.CodeInvalidArgument},
		{name: "response only", body: `{"jsonrpc":"2.0","id":1,"result":{}}`, code: domain.CodeInvalidArgument},
		{name: "unknown method", body: `{"jsonrpc":"2.0","id":1,"method":"sales/unknown","params":{}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, harnessOptions{mode: domain.ModeSession})

			resp := h.post(t, "", tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Empty(t, resp.Header.Get(domain.HeaderSessionID))
			if tc.code != "" {
				assert.Equal(t, tc.code, decodeError(t, resp).Error.Data.Code)
			}
			require.Eventually(t, func() bool { return h.sessions.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
		})
	}
}

func TestSessionMode_RejectedRequestsDoNotEvictLiveSessions(t *testing.T) {
	h := newHarness(t, harnessOptions{mode: domain.ModeSession, maxSessions: 2})

	resp := h.post(t, "", initializeBody)
	id := resp.Header.Get(domain.HeaderSessionID)
	require.NotEmpty(t, id)
	_ = firstSSEData(t, resp)

	for _, body := range []string{`garbage`, `{"jsonrpc":"2.0","id":2,"method":"sales/unknown"}`, `[1,2]`} {
		rejected := h.post(t, "", body)
		assert.Equal(t, http.StatusBadRequest, rejected.StatusCode, body)
	}
	require.Eventually(t, func() bool { return h.sessions.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, ok := h.sessions.Get(id)
	assert.True(t, ok)
	follow := h.post(t, id, toolsCallBody(3, "getCustomers", `{}`))
	assert.Equal(t, id, follow.Header.Get(domain.HeaderSessionID))
	_ = firstSSEData(t, follow)
}

func TestSessionMode_CORS(t *testing.T) {
	h := newHarness(t, harnessOptions{mode: domain.ModeSession, origins: []string{"*"}})

	req, err := http.NewRequest(http.MethodOptions, h.url, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Expose-Headers"), domain.HeaderSessionID)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), domain.HeaderSessionID)

	post := h.post(t, "", initializeBody)
	assert.Equal(t, "*", post.Header.Get("Access-Control-Allow-Origin"))
}

func TestSharedMode_EveryRequestUsesOneTransport(t *testing.T) {
	h := newHarness(t, harnessOptions{mode: domain.ModeShared})
	sharedID := h.dispatcher.SharedSessionID()
	require.NotEmpty(t, sharedID)

	first := h.post(t, "", initializeBody)
	assert.Equal(t, sharedID, first.Header.Get(domain.HeaderSessionID))
	_ = firstSSEData(t, first)

	second := h.post(t, "ignored", toolsCallBody(2, "getCustomers", `{}`))
	assert.Equal(t, sharedID, second.Header.Get(domain.HeaderSessionID))
	_ = firstSSEData(t, second)

	del := h.do(t, http.MethodDelete, sharedID)
	require.Equal(t, http.StatusMethodNotAllowed, del.StatusCode)
	assert.Equal(t, domain.CodeMethodNotAllowed, decodeError(t, del).Error.Data.Code)
}

func TestSharedMode_Clients(t *testing.T) {
	h := newHarness(t, harnessOptions{mode: domain.ModeShared})
	a := h.connect(t)
	b := h.connect(t)
	assert.Equal(t, a.ID(), b.ID())

	for _, cs := range []*mcp.ClientSession{a, b} {
		res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
			Name:      "getSales",
			Arguments: map[string]any{"startDate": "x", "endDate": "y"},
		})
		require.NoError(t, err)
		require.False(t, res.IsError)
	}
}

func TestDispatcher_RecoversPanics(t *testing.T) {
	metrics := &dispatchRecorder{}
	// A session dispatcher without a manager panics on lookup.
	d := &Dispatcher{
		mode:    domain.ModeSession,
		maxBody: 1024,
		logger:  zap.NewNop(),
		metrics: metrics,
		newID:   uuid.NewString,
	}
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(domain.HeaderSessionID, "boom")
	rec := httptest.NewRecorder()

	require.NotPanics(t, func() { d.ServeHTTP(rec, req) })
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, domain.CodeInternal, env.Error.Data.Code)
	assert.Equal(t, "internal error", env.Error.Message)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	require.Len(t, metrics.dispatch, 1)
	assert.Equal(t, domain.DispatchStatusError, metrics.dispatch[0].Status)
}

func TestNewDispatcher_Validates(t *testing.T) {
	_, err := NewDispatcher(context.Background(), DispatcherOptions{Mode: "bogus"})
	require.Error(t, err)

	_, err = NewDispatcher(context.Background(), DispatcherOptions{Mode: domain.ModeSession})
	require.Error(t, err)
}

func TestSeedState(t *testing.T) {
	assert.Nil(t, seedState([]byte(initializeBody), ""))

	state := seedState([]byte(toolsCallBody(1, "getSales", `{}`)), "")
	require.NotNil(t, state)
	assert.Equal(t, domain.DefaultInitializeProtocolVersion, state.InitializeParams.ProtocolVersion)
	assert.NotNil(t, state.InitializedParams)

	batch := `[{"jsonrpc":"2.0","method":"notifications/initialized"},` + toolsCallBody(2, "getSales", `{}`) + `]`
	state = seedState([]byte(batch), "2025-06-18")
	require.NotNil(t, state)
	assert.Equal(t, "2025-06-18", state.InitializeParams.ProtocolVersion)
	assert.Nil(t, state.InitializedParams)

	assert.NotNil(t, seedState([]byte("not json"), ""))
}

func TestCheckAccept(t *testing.T) {
	cases := []struct {
		method string
		accept []string
		ok     bool
	}{
		{http.MethodPost, []string{"application/json, text/event-stream"}, true},
		{http.MethodPost, []string{"application/json", "text/event-stream"}, true},
		{http.MethodPost, []string{"*/*"}, true},
		{http.MethodPost, []string{"application/json"}, false},
		{http.MethodGet, []string{"text/event-stream"}, true},
		{http.MethodGet, []string{"application/json"}, false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, "/mcp", nil)
		for _, v := range tc.accept {
			req.Header.Add("Accept", v)
		}
		err := checkAccept(req)
		assert.Equal(t, tc.ok, err == nil, "%s %v", tc.method, tc.accept)
	}
}
