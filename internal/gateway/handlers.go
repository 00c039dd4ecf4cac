package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/soyeahso/shopassist/internal/agent"
	"github.com/soyeahso/shopassist/internal/domain"
)

// HealthResponse is returned by the health endpoints. Services maps each
// tool service to its connection state.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
	Version  string            `json:"version,omitempty"`
	Clients  int               `json:"clients,omitempty"`
}

// handleHealth returns the gateway status plus each tool service state.
// The gateway stays "ok" while services are disconnected; they reconnect
// on the next call.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Services: s.serviceStates()})
}

// handleChat serves POST /chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}

	var req domain.ChatRequest
	body := http.MaxBytesReader(w, r.Body, maxPayload)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "request body is empty")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	resp, err := s.runChat(r.Context(), req)
	if err != nil {
		s.log.Error().Err(err).Str("requestId", requestIDFrom(r.Context())).Msg("chat request failed")
		writeJSON(w, http.StatusInternalServerError, failedReply(req, resp))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) runChat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.chatTimeout)
	defer cancel()
	return s.chat.Chat(ctx, req)
}

// failedReply is what a caller receives for a failed turn: the runner's
// own apology when it produced one, else one built from the request.
func failedReply(req domain.ChatRequest, resp *domain.ChatResponse) domain.ChatResponse {
	if resp != nil {
		return *resp
	}
	return apology(req)
}

// apology is the response for a turn that failed before the runner could
// build one.
func apology(req domain.ChatRequest) domain.ChatResponse {
	ctx := req.ContextFields()
	if req.SessionToken != "" {
		ctx["sessionId"] = req.SessionToken
	}
	return domain.ChatResponse{
		StructuredResponse: domain.StructuredResponse{Message: agent.ApologyMessage, Type: domain.ResponseText},
		Context:            ctx,
	}
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// RequestHandler processes an incoming RPC request frame from a client.
type RequestHandler func(rc *RequestContext)

// RequestContext carries everything a handler needs.
type RequestContext struct {
	Ctx    context.Context
	Client *Client
	Frame  Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{
		Code:    code,
		Message: message,
	})
}

// Params unmarshals the request params into the given target.
func (rc *RequestContext) Params(target any) error {
	if rc.Frame.Params == nil {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, target)
}
