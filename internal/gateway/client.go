package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/shopassist/internal/logging"
)

// Client is one connected chat widget or CLI over WebSocket.
type Client struct {
	ConnID      string
	Info        ClientInfo
	Socket      *websocket.Conn
	ConnectedAt time.Time

	// mu serializes writes to Socket and guards the fields below.
	mu           sync.Mutex
	closed       bool
	sessionToken string
	log          *logging.Logger
}

// NewClient wraps a socket that finished the connect handshake.
func NewClient(conn *websocket.Conn, info ClientInfo, log *logging.Logger) *Client {
	return &Client{
		ConnID:      uuid.NewString(),
		Info:        info,
		Socket:      conn,
		ConnectedAt: time.Now(),
		log:         log,
	}
}

// StickySession returns the session token to use for a chat.send. A
// non-empty token becomes the connection's session; an empty one reuses
// the last token seen on this connection.
func (c *Client) StickySession(token string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token != "" {
		c.sessionToken = token
	}
	return c.sessionToken
}

// Send writes frame unless the connection is already closed.
func (c *Client) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return c.Socket.WriteJSON(frame)
}

func (c *Client) SendEvent(event string, payload any, seq int64) error {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// Respond answers request reqID with payload.
func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		c.log.Error().Err(err).Str("reqId", reqID).Msg("encoding response")
		return c.Send(NewErrorResponse(reqID, ErrorShape{Code: CodeInternal, Message: "response could not be encoded"}))
	}
	return c.Send(f)
}

func (c *Client) RespondError(reqID string, shape ErrorShape) error {
	return c.Send(NewErrorResponse(reqID, shape))
}

// Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.Socket.Close()
}

// ClientRegistry indexes live connections by ConnID.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *logging.Logger
}

func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{clients: map[string]*Client{}, log: log}
}

func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	r.clients[c.ConnID] = c
	n := len(r.clients)
	r.mu.Unlock()

	r.log.Info().
		Str("connId", c.ConnID).
		Str("client", c.Info.ID).
		Str("mode", c.Info.Mode).
		Str("store", c.Info.Store).
		Int("connected", n).
		Msg("client connected")
}

func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	_, existed := r.clients[connID]
	delete(r.clients, connID)
	r.mu.Unlock()

	if existed {
		r.log.Info().Str("connId", connID).Msg("client disconnected")
	}
}

func (r *ClientRegistry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Broadcast pushes an event to every connection. Send failures are
// logged and skipped.
func (r *ClientRegistry) Broadcast(event string, payload any, seq int64) {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if err := c.SendEvent(event, payload, seq); err != nil {
			r.log.Warn().Err(err).Str("connId", c.ConnID).Str("event", event).Msg("broadcast send failed")
		}
	}
}

// CloseAll closes and forgets every connection.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	targets := r.clients
	r.clients = map[string]*Client{}
	r.mu.Unlock()

	for _, c := range targets {
		c.Close()
	}
}
