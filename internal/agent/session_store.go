package agent

import (
	"context"
	"sync"
	"time"

	"github.com/soyeahso/shopassist/internal/domain"
)

// SessionStore manages conversation sessions. Sessions are created on
// first use and never removed.
type SessionStore interface {
	// GetOrCreate returns the session for id, creating an empty one on miss.
	GetOrCreate(ctx context.Context, id string) (*domain.Session, error)

	// AppendTurn adds a turn to the end of the session's history.
	AppendTurn(ctx context.Context, id string, turn domain.Turn) error

	// SetActiveEntity replaces the session's focus. nil clears it.
	SetActiveEntity(ctx context.Context, id string, entity *domain.ActiveEntity) error

	// Window returns the last n turns, oldest first.
	Window(ctx context.Context, id string, n int) ([]domain.Turn, error)

	// Count returns the number of sessions.
	Count(ctx context.Context) (int, error)
}

// MemorySessionStore is an in-memory SessionStore implementation.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewMemorySessionStore creates an in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*domain.Session)}
}

func (s *MemorySessionStore) GetOrCreate(_ context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(id).Clone(), nil
}

func (s *MemorySessionStore) getOrCreateLocked(id string) *domain.Session {
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	now := time.Now()
	sess := &domain.Session{ID: id, CreatedAt: now, UpdatedAt: now}
	s.sessions[id] = sess
	return sess
}

func (s *MemorySessionStore) AppendTurn(_ context.Context, id string, turn domain.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getOrCreateLocked(id)
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	sess.History = append(sess.History, turn)
	sess.UpdatedAt = time.Now()
	return nil
}

func (s *MemorySessionStore) SetActiveEntity(_ context.Context, id string, entity *domain.ActiveEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getOrCreateLocked(id)
	if entity != nil {
		e := *entity
		entity = &e
	}
	sess.Context.ActiveEntity = entity
	sess.UpdatedAt = time.Now()
	return nil
}

func (s *MemorySessionStore) Window(_ context.Context, id string, n int) ([]domain.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return sess.Window(n), nil
}

func (s *MemorySessionStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}
