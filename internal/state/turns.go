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

// Turn is one role-tagged message in a conversation. Exactly one of
// AgentID and SessionID is set.
type Turn struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// TurnRef names the parent of a turn: an agent or an ephemeral session.
type TurnRef struct {
	AgentID   string `json:"agent_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (r TurnRef) validate() error {
	hasAgent := strings.TrimSpace(r.AgentID) != ""
	hasSession := strings.TrimSpace(r.SessionID) != ""
	if hasAgent == hasSession {
		return ErrInvalidParent
	}
	return nil
}

type TurnInput struct {
	UserID  string  `json:"user_id"`
	Parent  TurnRef `json:"parent"`
	Role    Role    `json:"role"`
	Content string  `json:"content"`
}

// InsertTurn stores a turn after checking the exactly-one-parent invariant.
// The schema carries a matching CHECK constraint for writers that bypass
// this method.
func (s *Store) InsertTurn(ctx context.Context, input TurnInput) (Turn, error) {
	if err := input.Parent.validate(); err != nil {
		return Turn{}, err
	}
	if !input.Role.Valid() {
		return Turn{}, fmt.Errorf("invalid role %q", input.Role)
	}
	if input.Content == "" {
		return Turn{}, fmt.Errorf("turn content is required")
	}
	turn := Turn{
		ID:        idgen.New(),
		UserID:    input.UserID,
		AgentID:   input.Parent.AgentID,
		SessionID: input.Parent.SessionID,
		Role:      input.Role,
		Content:   input.Content,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (id, user_id, agent_id, session_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, turn.ID, turn.UserID, nullString(turn.AgentID), nullString(turn.SessionID),
		string(turn.Role), turn.Content, turn.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Turn{}, fmt.Errorf("insert turn: %w", err)
	}
	return turn, nil
}

func (s *Store) GetTurn(ctx context.Context, id string) (Turn, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, agent_id, session_id, role, content, created_at
		FROM turns WHERE id = ?
	`, id)
	turn, err := scanTurn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Turn{}, fmt.Errorf("turn %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Turn{}, fmt.Errorf("get turn: %w", err)
	}
	return turn, nil
}

// ListTurns returns a parent's turns in chronological order. Offset and
// limit page from the start of the ordered history; limit <= 0 means 50.
func (s *Store) ListTurns(ctx context.Context, parent TurnRef, limit, offset int) ([]Turn, error) {
	if err := parent.validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	column, id := parentColumn(parent)
	query := fmt.Sprintf(`
		SELECT id, user_id, agent_id, session_id, role, content, created_at
		FROM turns WHERE %s = ? ORDER BY created_at ASC, rowid ASC LIMIT ? OFFSET ?
	`, column)
	rows, err := s.db.QueryContext(ctx, query, id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()
	return collectTurns(rows)
}

// ListRecentTurns returns a parent's most recent turns in chronological
// order (the last `limit` turns of the history).
func (s *Store) ListRecentTurns(ctx context.Context, parent TurnRef, limit int) ([]Turn, error) {
	if err := parent.validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	column, id := parentColumn(parent)
	query := fmt.Sprintf(`
		SELECT id, user_id, agent_id, session_id, role, content, created_at
		FROM turns WHERE %s = ? ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, column)
	rows, err := s.db.QueryContext(ctx, query, id, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent turns: %w", err)
	}
	defer rows.Close()
	turns, err := collectTurns(rows)
	if err != nil {
		return nil, err
	}
	reverseTurns(turns)
	return turns, nil
}

// ListRecentTurnsByAgents returns the most recent turns authored under any
// of the given agents, newest first. Ties on timestamp preserve storage
// order, newest row first.
func (s *Store) ListRecentTurnsByAgents(ctx context.Context, agentIDs []string, limit int) ([]Turn, error) {
	if len(agentIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(agentIDs)), ",")
	query := fmt.Sprintf(`
		SELECT id, user_id, agent_id, session_id, role, content, created_at
		FROM turns WHERE agent_id IN (%s) ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, placeholders)
	args := make([]any, 0, len(agentIDs)+1)
	for _, id := range agentIDs {
		args = append(args, id)
	}
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recent agent turns: %w", err)
	}
	defer rows.Close()
	return collectTurns(rows)
}

func (s *Store) CountTurns(ctx context.Context, parent TurnRef) (int, error) {
	if err := parent.validate(); err != nil {
		return 0, err
	}
	column, id := parentColumn(parent)
	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM turns WHERE %s = ?`, column)
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return count, nil
}

// DeleteTurn removes one turn. Its embedding record, if any, is removed by
// foreign-key cascade.
func (s *Store) DeleteTurn(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete turn: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete turn: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("turn %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteTurns clears a parent's history and returns how many turns were
// removed. Embeddings for the removed turns cascade away with them.
func (s *Store) DeleteTurns(ctx context.Context, parent TurnRef) (int, error) {
	if err := parent.validate(); err != nil {
		return 0, err
	}
	column, id := parentColumn(parent)
	query := fmt.Sprintf(`DELETE FROM turns WHERE %s = ?`, column)
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return 0, fmt.Errorf("delete turns: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete turns: %w", err)
	}
	return int(affected), nil
}

func parentColumn(parent TurnRef) (string, string) {
	if parent.AgentID != "" {
		return "agent_id", parent.AgentID
	}
	return "session_id", parent.SessionID
}

func collectTurns(rows *sql.Rows) ([]Turn, error) {
	var out []Turn
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return out, nil
}

func scanTurn(row rowScanner) (Turn, error) {
	var turn Turn
	var agentID, sessionID sql.NullString
	var role, createdAtStr string
	if err := row.Scan(&turn.ID, &turn.UserID, &agentID, &sessionID, &role, &turn.Content, &createdAtStr); err != nil {
		return Turn{}, err
	}
	turn.AgentID = agentID.String
	turn.SessionID = sessionID.String
	turn.Role = Role(role)
	turn.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	return turn, nil
}

func reverseTurns(turns []Turn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}
