package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/soyeahso/shopassist/internal/agent"
	"github.com/soyeahso/shopassist/internal/config"
	"github.com/soyeahso/shopassist/internal/domain"
	"github.com/soyeahso/shopassist/internal/hooks"
	"github.com/soyeahso/shopassist/internal/logging"
	"github.com/soyeahso/shopassist/internal/metrics"
	"github.com/soyeahso/shopassist/internal/toolservice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChat struct {
	mu   sync.Mutex
	reqs []domain.ChatRequest
	resp *domain.ChatResponse
	err  error
	wait bool
}

func (f *fakeChat) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.wait {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeChat) requests() []domain.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ChatRequest(nil), f.reqs...)
}

type fakeService struct {
	name  string
	state toolservice.State
}

func (f fakeService) Name() string             { return f.name }
func (f fakeService) State() toolservice.State { return f.state }

func okChat() *fakeChat {
	return &fakeChat{resp: &domain.ChatResponse{
		StructuredResponse: domain.StructuredResponse{Message: "Here are some kettles", Type: domain.ResponseProductList},
		Context:            map[string]any{"sessionId": "s1"},
	}}
}

func testServer(t *testing.T, opts ...ServerOption) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Defaults()
	raw := map[string]any{
		"gateway": map[string]any{"port": 18790, "bind": "loopback"},
		"session": map[string]any{"historyLimit": 6},
		"llm":     map[string]any{"apiKey": "sk-secret"},
	}

	opts = append([]ServerOption{WithConfigRaw(raw)}, opts...)
	srv := New(cfg.Gateway, logging.New(nil, "silent"), opts...)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postChat(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url+"/chat", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := testServer(t, WithServices(
		fakeService{name: "shop", state: toolservice.StateConnected},
		fakeService{name: "orders", state: toolservice.StateDisconnected},
	))

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, map[string]string{"shop": "connected", "orders": "disconnected"}, health.Services)
	// Public endpoint carries no version or client count.
	assert.Empty(t, health.Version)
}

func TestNotFoundEndpoint(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/nonexistent")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestChatEndpoint(t *testing.T) {
	chat := okChat()
	_, ts := testServer(t, WithChat(chat))

	resp, body := postChat(t, ts.URL, `{"message":"kettles please","swContextToken":"tok-1","shopUrl":"https://shop.example"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{
		"message": "Here are some kettles",
		"type": "product_list",
		"suggestions": null,
		"data": null,
		"context": {"sessionId": "s1"}
	}`, string(body))

	reqs := chat.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "kettles please", reqs[0].Message)
	assert.Equal(t, "tok-1", reqs[0].SessionToken)
	assert.Equal(t, "https://shop.example", reqs[0].ShopURL)
}

func TestChatEndpointTrailingSlash(t *testing.T) {
	_, ts := testServer(t, WithChat(okChat()))

	resp, err := http.Post(ts.URL+"/chat/", "application/json", strings.NewReader(`{"message":"hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestChatEndpointRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		errPart string
	}{
		{"empty body", ``, http.StatusBadRequest, "empty"},
		{"invalid json", `{"message":`, http.StatusBadRequest, "invalid JSON"},
		{"missing message", `{"swContextToken":"t"}`, http.StatusBadRequest, "message is required"},
		{"blank message", `{"message":"   "}`, http.StatusBadRequest, "message is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := okChat()
			_, ts := testServer(t, WithChat(chat))

			resp, body := postChat(t, ts.URL, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Contains(t, string(body), tt.errPart)
			assert.Empty(t, chat.requests())
		})
	}
}

func TestChatEndpointWithoutChatService(t *testing.T) {
	_, ts := testServer(t)

	resp, _ := postChat(t, ts.URL, `{"message":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestChatEndpointFailureReturnsApology(t *testing.T) {
	_, ts := testServer(t, WithChat(&fakeChat{err: errors.New("session store down")}))

	resp, body := postChat(t, ts.URL, `{"message":"hi","swContextToken":"tok-9"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var out domain.ChatResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, agent.ApologyMessage, out.Message)
	assert.Equal(t, domain.ResponseText, out.Type)
	assert.Equal(t, "tok-9", out.Context["sessionId"])
	assert.NotContains(t, string(body), "session store down")
}

// brokenEngine fails every turn, as the engine does when the model is down.
type brokenEngine struct{}

func (brokenEngine) Run(context.Context, agent.TurnInput) (*agent.TurnOutput, error) {
	return nil, errors.New("first exchange: llm down")
}

func failingRunner() (*agent.Runner, *agent.MemorySessionStore) {
	sessions := agent.NewMemorySessionStore()
	return agent.NewRunner(agent.RunnerConfig{}, brokenEngine{}, sessions, logging.New(nil, "silent")), sessions
}

func TestChatEndpointEngineFailureIs500(t *testing.T) {
	runner, sessions := failingRunner()
	_, ts := testServer(t, WithChat(runner))

	resp, body := postChat(t, ts.URL, `{"message":"kettles","swContextToken":"tok-3","shopUrl":"https://shop.example"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var out domain.ChatResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, agent.ApologyMessage, out.Message)
	assert.Equal(t, domain.ResponseText, out.Type)
	assert.Equal(t, "tok-3", out.Context["sessionId"])
	assert.Equal(t, "https://shop.example", out.Context["shopUrl"])
	assert.NotContains(t, string(body), "llm down")

	sess, err := sessions.GetOrCreate(context.Background(), "tok-3")
	require.NoError(t, err)
	require.Len(t, sess.History, 1, "no assistant turn after a failure")
}

func TestChatSendEngineFailureIsChatFailed(t *testing.T) {
	runner, _ := failingRunner()
	_, ts := testServer(t, WithChat(runner))
	conn, _ := connectWS(t, ts)

	res, _ := rpc(t, conn, "c1", "chat.send", domain.ChatRequest{Message: "hi", SessionToken: "tok-4"})
	require.NotNil(t, res.Error)
	assert.Equal(t, CodeChatFailed, res.Error.Code)
	assert.Equal(t, agent.ApologyMessage, res.Error.Message)
	assert.True(t, res.Error.Retryable)

	details, ok := res.Error.Details.(map[string]any)
	require.True(t, ok, "details carry the apology response")
	assert.Equal(t, "text", details["type"])
	ctx, ok := details["context"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "tok-4", ctx["sessionId"])
}

func TestChatEndpointTimeout(t *testing.T) {
	_, ts := testServer(t, WithChat(&fakeChat{wait: true}), WithChatTimeout(20*time.Millisecond))

	resp, body := postChat(t, ts.URL, `{"message":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(body), agent.ApologyMessage)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.SetSessions(3)
	_, ts := testServer(t, WithMetrics(m))

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "shopassist_sessions 3")

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET /health", "200")))
}

func TestMetricsEndpointDisabled(t *testing.T) {
	off := false
	cfg := config.Defaults().Gateway
	cfg.Metrics = &off
	srv := New(cfg, logging.New(nil, "silent"), WithMetrics(metrics.New()))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// --- WebSocket ---

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	return conn
}

// connectWS completes the handshake as a storefront widget.
func connectWS(t *testing.T, ts *httptest.Server) (*websocket.Conn, HelloOK) {
	t.Helper()
	return connectAs(t, ts, ClientInfo{ID: "widget", Version: "1.0.0", Platform: "web", Mode: "widget"})
}

func connectAs(t *testing.T, ts *httptest.Server, info ClientInfo) (*websocket.Conn, HelloOK) {
	t.Helper()
	conn := dialWS(t, ts)

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))
	require.Equal(t, EventConnectChallenge, challenge.Event)

	req, err := NewRequest("connect-1", MethodConnect, ConnectParams{
		MinProtocol: 1,
		MaxProtocol: 1,
		Client:      info,
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var res Frame
	require.NoError(t, conn.ReadJSON(&res))
	require.NotNil(t, res.OK)
	require.True(t, *res.OK)

	var hello HelloOK
	require.NoError(t, json.Unmarshal(res.Payload, &hello))
	return conn, hello
}

// rpc sends a request and returns its response, collecting events seen on the way.
func rpc(t *testing.T, conn *websocket.Conn, id, method string, params any) (Frame, []Frame) {
	t.Helper()
	req, err := NewRequest(id, method, params)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	var events []Frame
	for {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == FrameTypeEvent {
			events = append(events, f)
			continue
		}
		require.Equal(t, id, f.ID)
		return f, events
	}
}

func TestWebSocketHandshakeSuccess(t *testing.T) {
	_, ts := testServer(t)
	_, hello := connectWS(t, ts)

	assert.Equal(t, ProtocolVersion, hello.Protocol)
	assert.NotEmpty(t, hello.Server.ConnID)
	assert.Equal(t, []string{"chat.send", "config.get", "health"}, hello.Features.Methods)
	assert.Contains(t, hello.Features.Events, "chat.received")
	assert.Contains(t, hello.Features.Events, EventShutdown)
	assert.Equal(t, maxPayload, hello.Policy.MaxPayload)
	assert.Equal(t, int(defaultChatTimeout/time.Millisecond), hello.Policy.ChatTimeoutMs)
}

func TestWebSocketMalformedFrameKeepsConnection(t *testing.T) {
	_, ts := testServer(t)
	conn, _ := connectWS(t, ts)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"req","id":"x1"}`)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	require.NotNil(t, f.Error)
	assert.Equal(t, CodeProtocol, f.Error.Code)
	assert.Equal(t, "x1", f.ID)

	res, _ := rpc(t, conn, "h1", MethodHealth, nil)
	assert.True(t, *res.OK)
}

func TestChatSendUsesConnectionStore(t *testing.T) {
	chat := okChat()
	_, ts := testServer(t, WithChat(chat))
	conn, _ := connectAs(t, ts, ClientInfo{ID: "widget", Mode: "widget", Store: "eu"})

	_, _ = rpc(t, conn, "c1", MethodChatSend, domain.ChatRequest{Message: "kettles"})
	_, _ = rpc(t, conn, "c2", MethodChatSend, domain.ChatRequest{Message: "mugs", Store: "us"})

	reqs := chat.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "eu", reqs[0].Store)
	assert.Equal(t, "us", reqs[1].Store)
}

func TestWebSocketHandshakeRejectsNonConnect(t *testing.T) {
	_, ts := testServer(t)
	conn := dialWS(t, ts)

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))

	req, err := NewRequest("r1", "health", nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var res Frame
	require.NoError(t, conn.ReadJSON(&res))
	require.NotNil(t, res.OK)
	assert.False(t, *res.OK)
	require.NotNil(t, res.Error)
	assert.Equal(t, CodeProtocol, res.Error.Code)
}

func TestWebSocketHandshakeRejectsUnsupportedProtocol(t *testing.T) {
	_, ts := testServer(t)
	conn := dialWS(t, ts)

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))

	req, err := NewRequest("c1", "connect", ConnectParams{MinProtocol: ProtocolVersion + 1, MaxProtocol: ProtocolVersion + 2})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var res Frame
	require.NoError(t, conn.ReadJSON(&res))
	require.NotNil(t, res.Error)
	assert.Equal(t, CodeProtocol, res.Error.Code)
}

func TestWebSocketRPCHealth(t *testing.T) {
	srv, ts := testServer(t, WithServices(fakeService{name: "shop", state: toolservice.StateConnecting}))
	conn, _ := connectWS(t, ts)

	res, _ := rpc(t, conn, "h1", "health", nil)
	require.True(t, *res.OK)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(res.Payload, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, srv.version, health.Version)
	assert.Equal(t, 1, health.Clients)
	assert.Equal(t, map[string]string{"shop": "connecting"}, health.Services)
}

func TestWebSocketRPCUnknownMethod(t *testing.T) {
	_, ts := testServer(t)
	conn, _ := connectWS(t, ts)

	res, _ := rpc(t, conn, "u1", "sessions.list", nil)
	require.NotNil(t, res.Error)
	assert.Equal(t, CodeMethodNotFound, res.Error.Code)
	assert.Contains(t, res.Error.Message, "sessions.list")
}

func TestChatSendRPC(t *testing.T) {
	chat := okChat()
	_, ts := testServer(t, WithChat(chat))
	conn, _ := connectWS(t, ts)

	res, events := rpc(t, conn, "c1", "chat.send", domain.ChatRequest{Message: "kettles", SessionToken: "tok-1"})
	require.True(t, *res.OK)

	var out domain.ChatResponse
	require.NoError(t, json.Unmarshal(res.Payload, &out))
	assert.Equal(t, "Here are some kettles", out.Message)
	assert.Equal(t, domain.ResponseProductList, out.Type)

	require.Len(t, events, 1)
	assert.Equal(t, "chat.received", events[0].Event)
	assert.Positive(t, events[0].Seq)

	// A follow-up without a token stays on the connection's session.
	res, _ = rpc(t, conn, "c2", "chat.send", domain.ChatRequest{Message: "the first one"})
	require.True(t, *res.OK)

	reqs := chat.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "tok-1", reqs[0].SessionToken)
	assert.Equal(t, "tok-1", reqs[1].SessionToken)
}

func TestChatSendNoChatService(t *testing.T) {
	_, ts := testServer(t)
	conn, _ := connectWS(t, ts)

	res, _ := rpc(t, conn, "c1", "chat.send", domain.ChatRequest{Message: "hi"})
	require.NotNil(t, res.Error)
	assert.Equal(t, "unavailable", res.Error.Code)
}

func TestChatSendEmptyMessage(t *testing.T) {
	chat := okChat()
	_, ts := testServer(t, WithChat(chat))
	conn, _ := connectWS(t, ts)

	res, _ := rpc(t, conn, "c1", "chat.send", map[string]any{"message": ""})
	require.NotNil(t, res.Error)
	assert.Equal(t, "invalid_params", res.Error.Code)
	assert.Empty(t, chat.requests())
}

func TestChatSendFailure(t *testing.T) {
	_, ts := testServer(t, WithChat(&fakeChat{err: errors.New("boom")}))
	conn, _ := connectWS(t, ts)

	res, _ := rpc(t, conn, "c1", "chat.send", domain.ChatRequest{Message: "hi"})
	require.NotNil(t, res.Error)
	assert.Equal(t, CodeChatFailed, res.Error.Code)
	assert.Equal(t, agent.ApologyMessage, res.Error.Message)
	assert.True(t, res.Error.Retryable)
}

func TestWebSocketOriginCheck(t *testing.T) {
	check := checkWebSocketOrigin([]string{"https://shop.example"})

	r := httptest.NewRequest("GET", "/ws", nil)
	assert.True(t, check(r), "non-browser clients send no origin")

	r.Header.Set("Origin", "https://shop.example")
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(r))
}

func TestResolveBindAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:18790", resolveBindAddr(config.GatewayConfig{Port: 18790}))
	assert.Equal(t, "0.0.0.0:18790", resolveBindAddr(config.GatewayConfig{Port: 18790, Bind: "lan"}))
}

func TestServeLifecycle(t *testing.T) {
	var mu sync.Mutex
	var events []string
	hm := hooks.NewManager(logging.New(nil, "silent"))
	for _, ev := range []string{hooks.EventGatewayStart, hooks.EventGatewayStop} {
		hm.On(ev, "test", func(_ context.Context, p hooks.Payload) error {
			mu.Lock()
			events = append(events, p.Event)
			mu.Unlock()
			return nil
		})
	}

	srv := New(config.Defaults().Gateway, logging.New(nil, "silent"), WithHooks(hm))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, ln.Addr().String(), srv.Addr())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{hooks.EventGatewayStart, hooks.EventGatewayStop}, events)
}
