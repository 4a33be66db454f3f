// Package state persists projects, agents, chat sessions, and conversation
// turns in SQLite. It is the conversation and project/agent store the
// context engine draws from.
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

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidParent is returned when a turn does not name exactly one
	// parent (agent or session).
	ErrInvalidParent = errors.New("turn must have exactly one parent")
)

// RetrievalMode selects how shared context is retrieved for a project.
type RetrievalMode string

const (
	RetrievalRecent   RetrievalMode = "recent"
	RetrievalSemantic RetrievalMode = "semantic"
)

// Normalize maps unrecognized or legacy values to the recency default.
func (m RetrievalMode) Normalize() RetrievalMode {
	if m == RetrievalSemantic {
		return RetrievalSemantic
	}
	return RetrievalRecent
}

// Role tags one conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Label returns the display form used in shared-context chunks.
func (r Role) Label() string {
	if r == RoleUser {
		return "User"
	}
	return "Assistant"
}

type Project struct {
	ID              string        `json:"id"`
	UserID          string        `json:"user_id"`
	Name            string        `json:"name"`
	Description     string        `json:"description,omitempty"`
	HasInstructions bool          `json:"has_instructions"`
	Instructions    string        `json:"instructions,omitempty"`
	SharingEnabled  bool          `json:"sharing_enabled"`
	RetrievalMode   RetrievalMode `json:"retrieval_mode"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

type ProjectInput struct {
	UserID          string        `json:"user_id"`
	Name            string        `json:"name"`
	Description     string        `json:"description"`
	HasInstructions bool          `json:"has_instructions"`
	Instructions    string        `json:"instructions"`
	SharingEnabled  bool          `json:"sharing_enabled"`
	RetrievalMode   RetrievalMode `json:"retrieval_mode"`
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateProject(ctx context.Context, input ProjectInput) (Project, error) {
	if strings.TrimSpace(input.Name) == "" {
		return Project{}, fmt.Errorf("project name is required")
	}
	if strings.TrimSpace(input.UserID) == "" {
		return Project{}, fmt.Errorf("project user id is required")
	}
	project := Project{
		ID:              idgen.New(),
		UserID:          input.UserID,
		Name:            input.Name,
		Description:     input.Description,
		HasInstructions: input.HasInstructions,
		Instructions:    input.Instructions,
		SharingEnabled:  input.SharingEnabled,
		RetrievalMode:   input.RetrievalMode.Normalize(),
		CreatedAt:       time.Now().UTC(),
	}
	project.UpdatedAt = project.CreatedAt
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, user_id, name, description, has_instructions, instructions, sharing_enabled, retrieval_mode, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, project.ID, project.UserID, project.Name, nullString(project.Description), boolInt(project.HasInstructions),
		nullString(project.Instructions), boolInt(project.SharingEnabled), string(project.RetrievalMode),
		project.CreatedAt.Format(time.RFC3339Nano), project.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Project{}, fmt.Errorf("insert project: %w", err)
	}
	return project, nil
}

func (s *Store) GetProject(ctx context.Context, id string) (Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, description, has_instructions, instructions, sharing_enabled, retrieval_mode, created_at, updated_at
		FROM projects WHERE id = ?
	`, id)
	project, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Project{}, fmt.Errorf("get project: %w", err)
	}
	return project, nil
}

func (s *Store) ListProjects(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, description, has_instructions, instructions, sharing_enabled, retrieval_mode, created_at, updated_at
		FROM projects WHERE user_id = ? ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateProject(ctx context.Context, id string, input ProjectInput) (Project, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET name = ?, description = ?, has_instructions = ?, instructions = ?, sharing_enabled = ?, retrieval_mode = ?, updated_at = ?
		WHERE id = ?
	`, input.Name, nullString(input.Description), boolInt(input.HasInstructions), nullString(input.Instructions),
		boolInt(input.SharingEnabled), string(input.RetrievalMode.Normalize()), now.Format(time.RFC3339Nano), id)
	if err != nil {
		return Project{}, fmt.Errorf("update project: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Project{}, fmt.Errorf("update project: %w", err)
	}
	if affected == 0 {
		return Project{}, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return s.GetProject(ctx, id)
}

// DeleteProject removes a project. Agents, turns, and embeddings owned by
// the project are removed by foreign-key cascade.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (Project, error) {
	var project Project
	var description, instructions sql.NullString
	var hasInstructions, sharing int
	var mode, createdAtStr, updatedAtStr string
	if err := row.Scan(&project.ID, &project.UserID, &project.Name, &description, &hasInstructions,
		&instructions, &sharing, &mode, &createdAtStr, &updatedAtStr); err != nil {
		return Project{}, err
	}
	project.Description = description.String
	project.HasInstructions = hasInstructions != 0
	project.Instructions = instructions.String
	project.SharingEnabled = sharing != 0
	project.RetrievalMode = RetrievalMode(mode)
	project.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	project.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAtStr)
	return project, nil
}
