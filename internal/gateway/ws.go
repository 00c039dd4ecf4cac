package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/shopassist/internal/version"
)

const handshakeTimeout = 10 * time.Second

// handleWebSocket upgrades GET /ws and serves the connection until the
// peer goes away or the server shuts down.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayload)

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		conn.Close()
		return
	}

	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()
	s.readLoop(r.Context(), client)
}

// handshake sends connect.challenge, waits for the connect request and
// answers it with HelloOK. Any other first frame ends the connection.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	challenge, err := NewEvent(EventConnectChallenge, map[string]any{
		"nonce": uuid.NewString(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}
	frame, err := ParseFrame(msg)
	if err != nil {
		rejectHandshake(conn, frame.ID, CodeProtocol, err.Error())
		return nil, err
	}
	if frame.Type != FrameTypeRequest || frame.Method != MethodConnect {
		rejectHandshake(conn, frame.ID, CodeProtocol, "expected connect request")
		return nil, fmt.Errorf("first frame was %s %q, not connect", frame.Type, frame.Method)
	}

	var params ConnectParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		rejectHandshake(conn, frame.ID, CodeInvalidParams, "invalid connect params")
		return nil, fmt.Errorf("decoding connect params: %w", err)
	}
	if params.MinProtocol > ProtocolVersion || (params.MaxProtocol != 0 && params.MaxProtocol < ProtocolVersion) {
		rejectHandshake(conn, frame.ID, CodeProtocol, "unsupported protocol version")
		return nil, fmt.Errorf("client speaks protocol %d..%d, server needs %d",
			params.MinProtocol, params.MaxProtocol, ProtocolVersion)
	}

	client := NewClient(conn, params.Client, s.log.Sub("ws"))
	hello, err := NewResponse(frame.ID, HelloOK{
		Protocol: ProtocolVersion,
		Server:   ServerInfo{Version: s.version, Commit: version.Commit, ConnID: client.ConnID},
		Features: Features{
			Methods: s.Methods(),
			Events:  []string{EventConnectChallenge, EventChatReceived, EventShutdown},
		},
		Policy: ServerPolicy{
			MaxPayload:    maxPayload,
			ChatTimeoutMs: int(s.chatTimeout / time.Millisecond),
		},
	})
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(hello); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}
	return client, nil
}

// readLoop dispatches request frames in arrival order. A malformed frame
// is answered with protocol_error and the connection stays open.
func (s *Server) readLoop(ctx context.Context, client *Client) {
	log := s.log.With("connId", client.ConnID)
	for {
		_, msg, err := client.Socket.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Msg("client closed connection")
			} else {
				log.Warn().Err(err).Msg("read error")
			}
			return
		}

		frame, err := ParseFrame(msg)
		if err != nil {
			client.RespondError(frame.ID, ErrorShape{Code: CodeProtocol, Message: err.Error()})
			continue
		}
		if frame.Type != FrameTypeRequest {
			log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}
		s.dispatch(ctx, client, frame)
	}
}

func (s *Server) dispatch(ctx context.Context, client *Client, frame Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, ErrorShape{
			Code:    CodeMethodNotFound,
			Message: "unknown method: " + frame.Method,
		})
		return
	}
	handler(&RequestContext{Ctx: ctx, Client: client, Frame: frame, Server: s})
}

func rejectHandshake(conn *websocket.Conn, reqID, code, message string) {
	conn.WriteJSON(NewErrorResponse(reqID, ErrorShape{Code: code, Message: message}))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message))
}
