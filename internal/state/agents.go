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

type Agent struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	// ProjectID is empty for standalone agents.
	ProjectID       string    `json:"project_id,omitempty"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	HasInstructions bool      `json:"has_instructions"`
	Instructions    string    `json:"instructions,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type AgentInput struct {
	UserID          string `json:"user_id"`
	ProjectID       string `json:"project_id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	HasInstructions bool   `json:"has_instructions"`
	Instructions    string `json:"instructions"`
}

func (s *Store) CreateAgent(ctx context.Context, input AgentInput) (Agent, error) {
	if strings.TrimSpace(input.Name) == "" {
		return Agent{}, fmt.Errorf("agent name is required")
	}
	if strings.TrimSpace(input.UserID) == "" {
		return Agent{}, fmt.Errorf("agent user id is required")
	}
	if input.ProjectID != "" {
		if _, err := s.GetProject(ctx, input.ProjectID); err != nil {
			return Agent{}, err
		}
	}
	agent := Agent{
		ID:              idgen.New(),
		UserID:          input.UserID,
		ProjectID:       input.ProjectID,
		Name:            input.Name,
		Description:     input.Description,
		HasInstructions: input.HasInstructions,
		Instructions:    input.Instructions,
		CreatedAt:       time.Now().UTC(),
	}
	agent.UpdatedAt = agent.CreatedAt
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, user_id, project_id, name, description, has_instructions, instructions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, agent.ID, agent.UserID, nullString(agent.ProjectID), agent.Name, nullString(agent.Description),
		boolInt(agent.HasInstructions), nullString(agent.Instructions),
		agent.CreatedAt.Format(time.RFC3339Nano), agent.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Agent{}, fmt.Errorf("insert agent: %w", err)
	}
	return agent, nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, project_id, name, description, has_instructions, instructions, created_at, updated_at
		FROM agents WHERE id = ?
	`, id)
	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Agent{}, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Agent{}, fmt.Errorf("get agent: %w", err)
	}
	return agent, nil
}

func (s *Store) ListAgents(ctx context.Context, userID string) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, project_id, name, description, has_instructions, instructions, created_at, updated_at
		FROM agents WHERE user_id = ? ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()
	return collectAgents(rows)
}

// ListProjectAgents lists the agents in a project, excluding excludeID when
// non-empty. Shared-context retrieval uses this to find an agent's peers.
func (s *Store) ListProjectAgents(ctx context.Context, projectID, excludeID string) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, project_id, name, description, has_instructions, instructions, created_at, updated_at
		FROM agents WHERE project_id = ? AND (? = '' OR id != ?) ORDER BY created_at ASC
	`, projectID, excludeID, excludeID)
	if err != nil {
		return nil, fmt.Errorf("list project agents: %w", err)
	}
	defer rows.Close()
	return collectAgents(rows)
}

func (s *Store) UpdateAgent(ctx context.Context, id string, input AgentInput) (Agent, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET name = ?, description = ?, has_instructions = ?, instructions = ?, updated_at = ?
		WHERE id = ?
	`, input.Name, nullString(input.Description), boolInt(input.HasInstructions), nullString(input.Instructions),
		now.Format(time.RFC3339Nano), id)
	if err != nil {
		return Agent{}, fmt.Errorf("update agent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Agent{}, fmt.Errorf("update agent: %w", err)
	}
	if affected == 0 {
		return Agent{}, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return s.GetAgent(ctx, id)
}

// DeleteAgent removes an agent. Its turns and embeddings are removed by
// foreign-key cascade.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return nil
}

func collectAgents(rows *sql.Rows) ([]Agent, error) {
	var out []Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return out, nil
}

func scanAgent(row rowScanner) (Agent, error) {
	var agent Agent
	var projectID, description, instructions sql.NullString
	var hasInstructions int
	var createdAtStr, updatedAtStr string
	if err := row.Scan(&agent.ID, &agent.UserID, &projectID, &agent.Name, &description,
		&hasInstructions, &instructions, &createdAtStr, &updatedAtStr); err != nil {
		return Agent{}, err
	}
	agent.ProjectID = projectID.String
	agent.Description = description.String
	agent.HasInstructions = hasInstructions != 0
	agent.Instructions = instructions.String
	agent.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	agent.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAtStr)
	return agent, nil
}
