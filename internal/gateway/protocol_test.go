package gateway

import (
	"encoding/json"
	"testing"

	"github.com/soyeahso/shopassist/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatSendRequestFrame(t *testing.T) {
	frame, err := NewRequest("c1", MethodChatSend, domain.ChatRequest{
		Message:      "show me kettles",
		SessionToken: "tok-1",
		Focus:        &domain.FocusContext{EntityID: "p-kettle", EntityName: "Steel Kettle"},
	})
	require.NoError(t, err)

	data, err := json.Marshal(frame)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "req",
		"id": "c1",
		"method": "chat.send",
		"params": {
			"message": "show me kettles",
			"swContextToken": "tok-1",
			"focus": {"entityId": "p-kettle", "entityName": "Steel Kettle"}
		}
	}`, string(data))
}

func TestResponseFrames(t *testing.T) {
	ok, err := NewResponse("c1", domain.ChatResponse{
		StructuredResponse: domain.StructuredResponse{Message: "Found 2 kettles", Type: domain.ResponseProductList},
		Context:            map[string]any{"sessionId": "tok-1"},
	})
	require.NoError(t, err)
	require.NotNil(t, ok.OK)
	assert.True(t, *ok.OK)
	assert.Nil(t, ok.Error)

	var resp domain.ChatResponse
	require.NoError(t, json.Unmarshal(ok.Payload, &resp))
	assert.Equal(t, "Found 2 kettles", resp.Message)
	assert.Equal(t, "tok-1", resp.Context["sessionId"])

	failed := NewErrorResponse("c2", ErrorShape{Code: CodeChatFailed, Message: "sorry", Retryable: true})
	require.NotNil(t, failed.OK)
	assert.False(t, *failed.OK)
	assert.Empty(t, failed.Payload)

	data, err := json.Marshal(failed)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "res",
		"id": "c2",
		"ok": false,
		"error": {"code": "chat_failed", "message": "sorry", "retryable": true}
	}`, string(data))
}

func TestEventFrame(t *testing.T) {
	frame, err := NewEvent(EventChatReceived, map[string]string{"requestId": "c1"}, 7)
	require.NoError(t, err)

	data, err := json.Marshal(frame)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"event","event":"chat.received","payload":{"requestId":"c1"},"seq":7}`, string(data))
}

func TestUnencodablePayload(t *testing.T) {
	_, err := NewResponse("r1", make(chan int))
	assert.Error(t, err)
	_, err = NewEvent("x", func() {}, 1)
	assert.Error(t, err)
}

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
		wantID  string
	}{
		{name: "request", raw: `{"type":"req","id":"1","method":"health"}`, wantID: "1"},
		{name: "response", raw: `{"type":"res","id":"2","ok":true}`, wantID: "2"},
		{name: "event", raw: `{"type":"event","event":"shutdown"}`},
		{name: "not json", raw: `chat please`, wantErr: "decoding frame"},
		{name: "request without method", raw: `{"type":"req","id":"3"}`, wantErr: "needs id and method", wantID: "3"},
		{name: "request without id", raw: `{"type":"req","method":"health"}`, wantErr: "needs id and method"},
		{name: "response without id", raw: `{"type":"res"}`, wantErr: "needs id"},
		{name: "event without name", raw: `{"type":"event"}`, wantErr: "needs event"},
		{name: "unknown type", raw: `{"type":"ping","id":"4"}`, wantErr: `unknown frame type "ping"`, wantID: "4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFrame([]byte(tt.raw))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantID, f.ID)
		})
	}
}

func TestConnectParamsWire(t *testing.T) {
	raw := `{
		"minProtocol": 1,
		"maxProtocol": 1,
		"client": {"id": "storefront", "name": "Storefront widget", "version": "2.3.0", "platform": "web", "mode": "widget", "store": "eu"}
	}`
	var p ConnectParams
	require.NoError(t, json.Unmarshal([]byte(raw), &p))

	assert.Equal(t, 1, p.MaxProtocol)
	assert.Equal(t, ClientInfo{
		ID:       "storefront",
		Name:     "Storefront widget",
		Version:  "2.3.0",
		Platform: "web",
		Mode:     "widget",
		Store:    "eu",
	}, p.Client)
}

func TestHelloOKWire(t *testing.T) {
	hello := HelloOK{
		Protocol: ProtocolVersion,
		Server:   ServerInfo{Version: "0.4.0", ConnID: "conn-9"},
		Features: Features{Methods: []string{MethodChatSend}, Events: []string{EventChatReceived}},
		Policy:   ServerPolicy{MaxPayload: maxPayload, ChatTimeoutMs: 1500},
	}
	data, err := json.Marshal(hello)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"protocol": 1,
		"server": {"version": "0.4.0", "connId": "conn-9"},
		"features": {"methods": ["chat.send"], "events": ["chat.received"]},
		"policy": {"maxPayload": 1048576, "chatTimeoutMs": 1500}
	}`, string(data))
}
