package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/parley-ai/parley/internal/idgen"
)

// ChatSession is an ephemeral conversation not attached to any agent.
// Sessions never participate in shared context.
type ChatSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Store) CreateSession(ctx context.Context, userID, title string) (ChatSession, error) {
	if strings.TrimSpace(userID) == "" {
		return ChatSession{}, fmt.Errorf("session user id is required")
	}
	session := ChatSession{
		ID:        idgen.New(),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	session.UpdatedAt = session.CreatedAt
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, user_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, session.ID, session.UserID, nullString(session.Title),
		session.CreatedAt.Format(time.RFC3339Nano), session.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return ChatSession{}, fmt.Errorf("insert session: %w", err)
	}
	return session, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (ChatSession, error) {
	var session ChatSession
	var title sql.NullString
	var createdAtStr, updatedAtStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, created_at, updated_at FROM chat_sessions WHERE id = ?
	`, id).Scan(&session.ID, &session.UserID, &title, &createdAtStr, &updatedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return ChatSession{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ChatSession{}, fmt.Errorf("get session: %w", err)
	}
	session.Title = title.String
	session.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	session.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAtStr)
	return session, nil
}

// DeleteSession removes a session and, by cascade, its turns.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}
