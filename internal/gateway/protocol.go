package gateway

import (
	"encoding/json"
	"fmt"
)

// Protocol version supported by this server.
const ProtocolVersion = 1

// Frame types for the WebSocket protocol.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// RPC method names.
const (
	MethodConnect   = "connect"
	MethodHealth    = "health"
	MethodChatSend  = "chat.send"
	MethodConfigGet = "config.get"
)

// Event names pushed to clients.
const (
	EventConnectChallenge = "connect.challenge"
	EventChatReceived     = "chat.received"
	EventShutdown         = "shutdown"
)

// Error codes carried in ErrorShape.Code.
const (
	CodeProtocol       = "protocol_error"
	CodeInvalidParams  = "invalid_params"
	CodeMethodNotFound = "method_not_found"
	CodeUnavailable    = "unavailable"
	CodeChatFailed     = "chat_failed"
	CodeForbidden      = "forbidden"
	CodeNotFound       = "not_found"
	CodeInternal       = "internal"
)

// Frame is the single envelope every WebSocket message travels in. Type
// selects which of the optional groups below are populated.
type Frame struct {
	Type string `json:"type"`

	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`

	Event string `json:"event,omitempty"`
	Seq   int64  `json:"seq,omitempty"`
}

// ErrorShape describes a failed request. Retryable marks failures where
// sending the same chat message again may succeed.
type ErrorShape struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ConnectParams open a session on a new socket.
type ConnectParams struct {
	MinProtocol int        `json:"minProtocol"`
	MaxProtocol int        `json:"maxProtocol"`
	Client      ClientInfo `json:"client"`
}

// ClientInfo describes the widget or terminal on the other end. Store,
// when set, is the store profile used for chat.send requests that do not
// name one.
type ClientInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Mode     string `json:"mode"` // "widget" | "cli"
	Store    string `json:"store,omitempty"`
}

// HelloOK answers a successful connect.
type HelloOK struct {
	Protocol int          `json:"protocol"`
	Server   ServerInfo   `json:"server"`
	Features Features     `json:"features"`
	Policy   ServerPolicy `json:"policy"`
}

type ServerInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	ConnID  string `json:"connId"`
}

// Features lists what the connection may call. chat.send takes a
// ChatRequest as params and answers with a ChatResponse payload.
type Features struct {
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

// ServerPolicy carries per-connection limits.
type ServerPolicy struct {
	MaxPayload    int `json:"maxPayload"`
	ChatTimeoutMs int `json:"chatTimeoutMs"`
}

func rawJSON(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding frame payload: %w", err)
	}
	return raw, nil
}

// NewRequest builds a "req" frame calling method with params.
func NewRequest(id, method string, params any) (Frame, error) {
	raw, err := rawJSON(params)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeRequest, ID: id, Method: method, Params: raw}, nil
}

// NewResponse builds a successful "res" frame answering request id.
func NewResponse(id string, payload any) (Frame, error) {
	raw, err := rawJSON(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeResponse, ID: id, OK: boolPtr(true), Payload: raw}, nil
}

// NewErrorResponse builds a failed "res" frame answering request id.
func NewErrorResponse(id string, shape ErrorShape) Frame {
	return Frame{Type: FrameTypeResponse, ID: id, OK: boolPtr(false), Error: &shape}
}

// NewEvent builds a server-pushed event frame.
func NewEvent(event string, payload any, seq int64) (Frame, error) {
	raw, err := rawJSON(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeEvent, Event: event, Payload: raw, Seq: seq}, nil
}

func boolPtr(b bool) *bool { return &b }

// ParseFrame decodes one WebSocket message and checks the fields its
// type requires.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decoding frame: %w", err)
	}
	switch f.Type {
	case FrameTypeRequest:
		if f.ID == "" || f.Method == "" {
			return f, fmt.Errorf("request frame needs id and method")
		}
	case FrameTypeResponse:
		if f.ID == "" {
			return f, fmt.Errorf("response frame needs id")
		}
	case FrameTypeEvent:
		if f.Event == "" {
			return f, fmt.Errorf("event frame needs event")
		}
	default:
		return f, fmt.Errorf("unknown frame type %q", f.Type)
	}
	return f, nil
}
