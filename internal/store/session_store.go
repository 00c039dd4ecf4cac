package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/soyeahso/shopassist/internal/domain"
)

const timeLayout = time.RFC3339Nano

// SQLiteSessionStore implements agent.SessionStore backed by SQLite.
// Sessions and their turns survive restarts.
type SQLiteSessionStore struct {
	db *DB
}

// NewSQLiteSessionStore creates a session store using the given database.
func NewSQLiteSessionStore(db *DB) *SQLiteSessionStore {
	return &SQLiteSessionStore{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func ensureSession(ctx context.Context, ex execer, id string, now time.Time) error {
	ts := now.UTC().Format(timeLayout)
	_, err := ex.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)`,
		id, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("creating session %s: %w", id, err)
	}
	return nil
}

// GetOrCreate returns the session with its full history.
func (s *SQLiteSessionStore) GetOrCreate(ctx context.Context, id string) (*domain.Session, error) {
	if err := ensureSession(ctx, s.db.sql, id, time.Now()); err != nil {
		return nil, err
	}

	sess := &domain.Session{ID: id}
	var createdAt, updatedAt, entityName string
	var entityID sql.NullString
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT created_at, updated_at, active_entity_id, active_entity_name
		 FROM sessions WHERE id = ?`, id,
	).Scan(&createdAt, &updatedAt, &entityID, &entityName)
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	sess.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	sess.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	if entityID.Valid {
		sess.Context.ActiveEntity = &domain.ActiveEntity{ID: entityID.String, Name: entityName}
	}

	sess.History, err = s.queryTurns(ctx,
		`SELECT role, content, timestamp FROM turns WHERE session_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// AppendTurn adds a turn, creating the session if needed.
func (s *SQLiteSessionStore) AppendTurn(ctx context.Context, id string, turn domain.Turn) error {
	now := time.Now()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}

	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if err := ensureSession(ctx, tx, id, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns (session_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
		id, string(turn.Role), turn.Content, turn.Timestamp.UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("appending turn to %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`,
		now.UTC().Format(timeLayout), id,
	); err != nil {
		return fmt.Errorf("touching session %s: %w", id, err)
	}
	return tx.Commit()
}

// SetActiveEntity replaces the session focus. nil clears it.
func (s *SQLiteSessionStore) SetActiveEntity(ctx context.Context, id string, entity *domain.ActiveEntity) error {
	var entityID sql.NullString
	var entityName string
	if entity != nil {
		entityID = sql.NullString{String: entity.ID, Valid: true}
		entityName = entity.Name
	}
	ts := time.Now().UTC().Format(timeLayout)

	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, updated_at, active_entity_id, active_entity_name)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			active_entity_id = excluded.active_entity_id,
			active_entity_name = excluded.active_entity_name,
			updated_at = excluded.updated_at`,
		id, ts, ts, entityID, entityName,
	)
	if err != nil {
		return fmt.Errorf("setting active entity on %s: %w", id, err)
	}
	return nil
}

// Window returns the last n turns, oldest first.
func (s *SQLiteSessionStore) Window(ctx context.Context, id string, n int) ([]domain.Turn, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.queryTurns(ctx,
		`SELECT role, content, timestamp FROM (
			SELECT id, role, content, timestamp FROM turns
			WHERE session_id = ? ORDER BY id DESC LIMIT ?
		 ) ORDER BY id`, id, n)
}

// Count returns the number of sessions.
func (s *SQLiteSessionStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	return n, nil
}

func (s *SQLiteSessionStore) queryTurns(ctx context.Context, query string, args ...any) ([]domain.Turn, error) {
	rows, err := s.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading turns: %w", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var role, ts string
		if err := rows.Scan(&role, &t.Content, &ts); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		t.Role = domain.Role(role)
		t.Timestamp, _ = time.Parse(timeLayout, ts)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading turns: %w", err)
	}
	return turns, nil
}
