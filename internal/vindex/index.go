// Package vindex maintains the embedding index backing semantic
// shared-context retrieval. Each indexed conversation turn gets at most one
// record: a vector, the original text for display, and its project/agent
// scope. Records live in SQLite next to the conversation store, with the
// vector JSON-encoded in a TEXT column; nearest-neighbour queries rank the
// scoped rows by cosine distance in-process.
package vindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/parley-ai/parley/internal/embed"
	"github.com/parley-ai/parley/internal/idgen"
)

// Record is one indexed turn.
type Record struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	TurnID    string    `json:"turn_id"`
	AgentID   string    `json:"agent_id"`
	Content   string    `json:"content"`
	Vector    []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

type Index struct {
	db        *sql.DB
	generator embed.Generator
}

func New(db *sql.DB, generator embed.Generator) *Index {
	return &Index{db: db, generator: generator}
}

// Upsert indexes a turn, embedding its text. It is idempotent on turn id: a
// second call returns the existing record without re-embedding. Concurrent
// upserts for the same turn are resolved by the unique turn_id constraint.
func (ix *Index) Upsert(ctx context.Context, turnID, agentID, projectID, text string) (Record, error) {
	if turnID == "" {
		return Record{}, fmt.Errorf("turn id is required")
	}
	if ix.generator == nil {
		return Record{}, fmt.Errorf("no embedding generator configured")
	}

	existing, err := ix.getByTurn(ctx, turnID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("check existing embedding: %w", err)
	}

	vector, err := ix.generator.Embed(ctx, text)
	if err != nil {
		return Record{}, fmt.Errorf("embed turn %s: %w", turnID, err)
	}
	vectorJSON, err := json.Marshal(vector)
	if err != nil {
		return Record{}, fmt.Errorf("encode vector: %w", err)
	}

	record := Record{
		ID:        idgen.New(),
		ProjectID: projectID,
		TurnID:    turnID,
		AgentID:   agentID,
		Content:   text,
		Vector:    vector,
		CreatedAt: time.Now().UTC(),
	}
	res, err := ix.db.ExecContext(ctx, `
		INSERT INTO embeddings (id, project_id, turn_id, agent_id, content, vector, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(turn_id) DO NOTHING
	`, record.ID, record.ProjectID, record.TurnID, record.AgentID, record.Content,
		string(vectorJSON), record.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Record{}, fmt.Errorf("insert embedding: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Record{}, fmt.Errorf("insert embedding: %w", err)
	}
	if affected == 0 {
		// Lost a race with another upsert for the same turn.
		winner, err := ix.getByTurn(ctx, turnID)
		if err != nil {
			return Record{}, fmt.Errorf("load winning embedding: %w", err)
		}
		return winner, nil
	}
	return record, nil
}

// QueryNearest returns up to limit records in the project, excluding those
// authored under excludeAgentID, ordered by ascending cosine distance to
// queryVector. Distance ties preserve storage order.
func (ix *Index) QueryNearest(ctx context.Context, projectID, excludeAgentID string, queryVector []float32, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := ix.db.QueryContext(ctx, `
		SELECT id, project_id, turn_id, agent_id, content, vector, created_at
		FROM embeddings
		WHERE project_id = ? AND (? = '' OR agent_id != ?)
		ORDER BY rowid ASC
	`, projectID, excludeAgentID, excludeAgentID)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	type scored struct {
		record   Record
		distance float64
	}
	var candidates []scored
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		candidates = append(candidates, scored{
			record:   record,
			distance: embed.CosineDistance(queryVector, record.Vector),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]Record, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.record)
	}
	return out, nil
}

// GetByTurn returns the record indexing a turn, or ErrNoRecord.
func (ix *Index) GetByTurn(ctx context.Context, turnID string) (Record, error) {
	record, err := ix.getByTurn(ctx, turnID)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNoRecord
	}
	if err != nil {
		return Record{}, fmt.Errorf("get embedding: %w", err)
	}
	return record, nil
}

// ErrNoRecord is returned when no embedding exists for a turn.
var ErrNoRecord = errors.New("no embedding record")

// DeleteByTurn removes the record indexing a turn. It reports whether a
// record existed.
func (ix *Index) DeleteByTurn(ctx context.Context, turnID string) (bool, error) {
	res, err := ix.db.ExecContext(ctx, `DELETE FROM embeddings WHERE turn_id = ?`, turnID)
	if err != nil {
		return false, fmt.Errorf("delete embedding: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete embedding: %w", err)
	}
	return affected > 0, nil
}

// CountByProject reports how many turns are indexed for a project.
func (ix *Index) CountByProject(ctx context.Context, projectID string) (int, error) {
	var count int
	if err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings WHERE project_id = ?`, projectID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return count, nil
}

func (ix *Index) getByTurn(ctx context.Context, turnID string) (Record, error) {
	row := ix.db.QueryRowContext(ctx, `
		SELECT id, project_id, turn_id, agent_id, content, vector, created_at
		FROM embeddings WHERE turn_id = ?
	`, turnID)
	return scanRecord(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var record Record
	var vectorJSON, createdAtStr string
	if err := row.Scan(&record.ID, &record.ProjectID, &record.TurnID, &record.AgentID,
		&record.Content, &vectorJSON, &createdAtStr); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(vectorJSON), &record.Vector); err != nil {
		return Record{}, fmt.Errorf("decode vector for turn %s: %w", record.TurnID, err)
	}
	record.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	return record, nil
}
