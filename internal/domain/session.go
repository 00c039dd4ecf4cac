package domain

import "time"

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is a single entry in a session's history.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ActiveEntity is the one item (usually a product) the user is focused on.
type ActiveEntity struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// SessionContext holds per-session state that is not conversation history.
type SessionContext struct {
	ActiveEntity *ActiveEntity `json:"activeEntity"`
}

// Session tracks one caller's conversation and focus.
type Session struct {
	ID        string         `json:"id"`
	History   []Turn         `json:"history,omitempty"`
	Context   SessionContext `json:"context"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Window returns the last n turns, oldest first. The result is a copy.
func (s *Session) Window(n int) []Turn {
	if n <= 0 || len(s.History) == 0 {
		return nil
	}
	start := max(len(s.History)-n, 0)
	out := make([]Turn, len(s.History)-start)
	copy(out, s.History[start:])
	return out
}

// Clone returns a deep copy safe to hand out of a store.
func (s *Session) Clone() *Session {
	c := *s
	c.History = make([]Turn, len(s.History))
	copy(c.History, s.History)
	if s.Context.ActiveEntity != nil {
		e := *s.Context.ActiveEntity
		c.Context.ActiveEntity = &e
	}
	return &c
}
