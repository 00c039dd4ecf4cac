package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/shopassist/internal/config"
	"github.com/soyeahso/shopassist/internal/domain"
	"github.com/soyeahso/shopassist/internal/hooks"
	"github.com/soyeahso/shopassist/internal/logging"
	"github.com/soyeahso/shopassist/internal/metrics"
	"github.com/soyeahso/shopassist/internal/toolservice"
	"github.com/soyeahso/shopassist/internal/version"
)

var ErrClientClosed = errors.New("client connection closed")

// defaultChatTimeout bounds one chat turn served by the gateway.
const defaultChatTimeout = 5 * time.Minute

// maxPayload is the largest frame or request body accepted.
const maxPayload = 1 << 20

// ChatService answers one chat turn. *agent.Runner implements it. A
// failed turn may still return the response to show the user.
type ChatService interface {
	Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error)
}

// ServiceStatus reports a tool service connection state.
// *toolservice.Manager implements it.
type ServiceStatus interface {
	Name() string
	State() toolservice.State
}

// Server is the shopassist HTTP + WebSocket gateway.
type Server struct {
	cfg         config.GatewayConfig
	log         *logging.Logger
	clients     *ClientRegistry
	handlers    map[string]RequestHandler
	version     string
	eventSeq    atomic.Int64
	chatTimeout time.Duration

	chat      ChatService
	services  []ServiceStatus
	hooks     *hooks.Manager
	metrics   *metrics.Metrics
	configRaw map[string]any

	startedAt  time.Time
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithChat sets the service answering POST /chat and chat.send.
func WithChat(c ChatService) ServerOption {
	return func(s *Server) { s.chat = c }
}

// WithServices reports tool service states on the health endpoints.
func WithServices(svcs ...ServiceStatus) ServerOption {
	return func(s *Server) { s.services = append(s.services, svcs...) }
}

// WithHooks sets the hook manager for lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) { s.hooks = hm }
}

// WithMetrics serves GET /metrics from m.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithConfigRaw exposes the raw config map to the config.get method.
func WithConfigRaw(raw map[string]any) ServerOption {
	return func(s *Server) { s.configRaw = raw }
}

// WithChatTimeout bounds each chat turn.
func WithChatTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.chatTimeout = d }
}

// New creates a new gateway server.
func New(cfg config.GatewayConfig, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		log:         log.Sub("gateway"),
		clients:     NewClientRegistry(log.Sub("clients")),
		handlers:    make(map[string]RequestHandler),
		version:     version.Version,
		chatTimeout: defaultChatTimeout,
		configRaw:   make(map[string]any),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerRPCHandlers()
	return s
}

// checkWebSocketOrigin applies the CORS allowlist to upgrades. Clients
// that send no Origin are not browsers and are let through.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	origins := newOriginSet(allowed)
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origins.allows(origin)
	}
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the registered RPC method names, sorted.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// serviceStates maps each tool service to its connection state name.
func (s *Server) serviceStates() map[string]string {
	out := make(map[string]string, len(s.services))
	for _, svc := range s.services {
		out[svc.Name()] = svc.State().String()
	}
	return out
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "lan":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(metricsMiddleware(mux, s.metrics), s.log, s.cfg.AllowedOrigins)
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.startedAt = time.Now()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Bind).
		Int("methods", len(s.handlers)).
		Int("services", len(s.services)).
		Msg("gateway server ready")

	s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{
		"addr": ln.Addr().String(),
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		s.log.Info().Int("clients", s.clients.Count()).Msg("shutting down gateway server")
		s.hooks.Emit(context.WithoutCancel(ctx), hooks.EventGatewayStop, nil)
		s.clients.Broadcast(EventShutdown, map[string]any{"reason": "server stopping"}, s.eventSeq.Add(1))
		s.clients.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}
