package gateway

import (
	"net/http"
	"strings"

	"github.com/soyeahso/shopassist/internal/config"
	"github.com/soyeahso/shopassist/internal/domain"
)

// readableConfigPrefixes lists config paths the config.get method may
// read. Sections holding credentials are never exposed.
var readableConfigPrefixes = []string{
	"gateway",
	"session",
	"tools",
	"crossSell",
	"logging",
}

func isReadableConfigPath(key string) bool {
	for _, prefix := range readableConfigPrefixes {
		if key == prefix || strings.HasPrefix(key, prefix+".") {
			return true
		}
	}
	return false
}

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /chat/", s.handleChat)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.metrics != nil && s.cfg.MetricsEnabled() {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up all WebSocket method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle(MethodHealth, s.rpcHealth)
	s.Handle(MethodChatSend, s.rpcChatSend)
	s.Handle(MethodConfigGet, s.rpcConfigGet)
}

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(HealthResponse{
		Status:   "ok",
		Services: s.serviceStates(),
		Version:  s.version,
		Clients:  s.clients.Count(),
	})
}

func (s *Server) rpcChatSend(rc *RequestContext) {
	if s.chat == nil {
		rc.RespondError(CodeUnavailable, "chat is not configured")
		return
	}

	var req domain.ChatRequest
	if err := rc.Params(&req); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		rc.RespondError(CodeInvalidParams, "message is required")
		return
	}

	seq := s.eventSeq.Add(1)
	rc.Client.SendEvent(EventChatReceived, map[string]any{"requestId": rc.Frame.ID}, seq)

	req.SessionToken = rc.Client.StickySession(req.SessionToken)
	if req.Store == "" {
		req.Store = rc.Client.Info.Store
	}

	resp, err := s.runChat(rc.Ctx, req)
	if err != nil {
		s.log.Error().Err(err).Str("connId", rc.Client.ConnID).Msg("chat.send failed")
		reply := failedReply(req, resp)
		rc.Client.RespondError(rc.Frame.ID, ErrorShape{
			Code:      CodeChatFailed,
			Message:   reply.Message,
			Details:   reply,
			Retryable: true,
		})
		return
	}
	rc.Respond(resp)
}

type configGetParams struct {
	Key string `json:"key"`
}

func (s *Server) rpcConfigGet(rc *RequestContext) {
	var p configGetParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if p.Key == "" {
		rc.RespondError(CodeInvalidParams, "key is required")
		return
	}
	if !isReadableConfigPath(p.Key) {
		rc.RespondError(CodeForbidden, "access denied for config path: "+p.Key)
		return
	}

	path, err := config.ParseConfigPath(p.Key)
	if err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	val, ok := config.GetValueAtPath(s.configRaw, path)
	if !ok {
		rc.RespondError(CodeNotFound, "key not found: "+p.Key)
		return
	}
	rc.Respond(map[string]any{"key": p.Key, "value": val})
}
