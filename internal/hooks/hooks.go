// Package hooks lets operators run code when a chat turn, tool call or
// cross-sell happens, or when the gateway starts and stops.
package hooks

import (
	"context"
	"slices"
	"sync"

	"github.com/soyeahso/shopassist/internal/logging"
)

const (
	EventChatReceived  = "chat_received"
	EventChatCompleted = "chat_completed"
	EventToolCalled    = "tool_called"
	EventCrossSell     = "cross_sell"
	EventGatewayStart  = "gateway_start"
	EventGatewayStop   = "gateway_stop"
)

// AllEvents is every event the engine and gateway emit, in the order
// they occur during a turn.
var AllEvents = []string{
	EventGatewayStart,
	EventChatReceived,
	EventToolCalled,
	EventCrossSell,
	EventChatCompleted,
	EventGatewayStop,
}

// Payload is what a handler receives. Command hooks get it as JSON on stdin.
type Payload struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler reacts to one event. Errors are logged and never reach the
// code that emitted the event.
type Handler func(ctx context.Context, p Payload) error

type registration struct {
	name string
	fn   Handler
}

// Manager fans events out to registered handlers. A nil *Manager accepts
// Emit and EmitAsync and does nothing.
type Manager struct {
	mu      sync.RWMutex
	byEvent map[string][]registration
	log     *logging.Logger
	running sync.WaitGroup
}

func NewManager(log *logging.Logger) *Manager {
	return &Manager{byEvent: map[string][]registration{}, log: log.Sub("hooks")}
}

// On adds handler for event under name. Names need not be unique; Off
// removes every handler sharing one.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	m.byEvent[event] = append(m.byEvent[event], registration{name: name, fn: handler})
	m.mu.Unlock()
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byEvent[event] = slices.DeleteFunc(slices.Clone(m.byEvent[event]), func(r registration) bool {
		return r.name == name
	})
}

// Emit runs the handlers for event one after another, in registration
// order, before returning.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	p := Payload{Event: event, Data: data}
	for _, r := range m.handlersFor(event) {
		m.call(ctx, r, p)
	}
}

// EmitAsync starts every handler for event in its own goroutine and
// returns at once. Handlers keep running after ctx is cancelled; use Wait
// to let them finish on shutdown.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) {
	regs := m.handlersFor(event)
	if len(regs) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	p := Payload{Event: event, Data: data}
	for _, r := range regs {
		m.running.Add(1)
		go func() {
			defer m.running.Done()
			m.call(ctx, r, p)
		}()
	}
}

// Wait blocks until handlers started by EmitAsync return or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	if m == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		m.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) call(ctx context.Context, r registration, p Payload) {
	if err := r.fn(ctx, p); err != nil {
		m.log.Warn().Err(err).Str("event", p.Event).Str("handler", r.name).Msg("hook failed")
	}
}

func (m *Manager) handlersFor(event string) []registration {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.byEvent[event])
}

// Count reports how many handlers are registered for event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byEvent[event])
}

// Events lists, sorted, the events that have at least one handler.
func (m *Manager) Events() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for event, regs := range m.byEvent {
		if len(regs) > 0 {
			out = append(out, event)
		}
	}
	slices.Sort(out)
	return out
}
