// Package indexer queues conversation turns for embedding and drains the
// queue into the vector index in the background. Jobs are keyed by turn id,
// so retries and duplicate enqueues collapse onto one job and the index
// upsert stays idempotent end to end.
package indexer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/parley-ai/parley/internal/idgen"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Job struct {
	ID        string    `json:"id"`
	TurnID    string    `json:"turn_id"`
	AgentID   string    `json:"agent_id"`
	ProjectID string    `json:"project_id"`
	Content   string    `json:"content"`
	Status    Status    `json:"status"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Queue struct {
	db    *sql.DB
	nowFn func() time.Time
}

func NewQueue(db *sql.DB) *Queue {
	return &Queue{db: db, nowFn: func() time.Time { return time.Now().UTC() }}
}

// Enqueue queues a turn for indexing. A turn already queued (or already
// processed) keeps its existing job; the duplicate enqueue is a no-op.
func (q *Queue) Enqueue(ctx context.Context, turnID, agentID, projectID, content string) (Job, error) {
	if turnID == "" {
		return Job{}, fmt.Errorf("turn id is required")
	}
	now := q.nowFn()
	job := Job{
		ID:        idgen.New(),
		TurnID:    turnID,
		AgentID:   agentID,
		ProjectID: projectID,
		Content:   content,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO index_jobs (id, turn_id, agent_id, project_id, content, status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(turn_id) DO NOTHING
	`, job.ID, job.TurnID, job.AgentID, job.ProjectID, job.Content, string(job.Status),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return Job{}, fmt.Errorf("insert index job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Job{}, fmt.Errorf("insert index job: %w", err)
	}
	if affected == 0 {
		return q.GetByTurn(ctx, turnID)
	}
	return job, nil
}

// ClaimQueued atomically moves up to limit queued jobs to running and
// returns them, oldest first.
func (q *Queue) ClaimQueued(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 1
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, turn_id, agent_id, project_id, content, status, attempts, error, created_at, updated_at
		FROM index_jobs
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?
	`, StatusQueued, limit)
	if err != nil {
		return nil, fmt.Errorf("query queued jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit empty claim: %w", err)
		}
		return nil, nil
	}

	updatedAt := q.nowFn().Format(time.RFC3339Nano)
	claimed := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		res, err := tx.ExecContext(ctx, `
			UPDATE index_jobs SET status = ?, attempts = attempts + 1, updated_at = ?
			WHERE id = ? AND status = ?
		`, StatusRunning, updatedAt, job.ID, StatusQueued)
		if err != nil {
			return nil, fmt.Errorf("mark running: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("mark running: %w", err)
		}
		if affected == 0 {
			continue
		}
		job.Status = StatusRunning
		job.Attempts++
		claimed = append(claimed, job)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return claimed, nil
}

func (q *Queue) Complete(ctx context.Context, id string) error {
	return q.setStatus(ctx, id, StatusCompleted, "")
}

func (q *Queue) Fail(ctx context.Context, id, message string) error {
	return q.setStatus(ctx, id, StatusFailed, message)
}

// Requeue flips failed jobs back to queued so a later drain retries them.
// It returns how many jobs were requeued.
func (q *Queue) Requeue(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE index_jobs SET status = ?, error = NULL, updated_at = ? WHERE status = ?
	`, StatusQueued, q.nowFn().Format(time.RFC3339Nano), StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("requeue failed jobs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue failed jobs: %w", err)
	}
	return int(affected), nil
}

func (q *Queue) GetByTurn(ctx context.Context, turnID string) (Job, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, turn_id, agent_id, project_id, content, status, attempts, error, created_at, updated_at
		FROM index_jobs WHERE turn_id = ?
	`, turnID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("index job for turn %s: not found", turnID)
	}
	if err != nil {
		return Job{}, fmt.Errorf("get index job: %w", err)
	}
	return job, nil
}

func (q *Queue) CountByStatus(ctx context.Context, status Status) (int, error) {
	var count int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM index_jobs WHERE status = ?`, string(status)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count index jobs: %w", err)
	}
	return count, nil
}

func (q *Queue) setStatus(ctx context.Context, id string, status Status, message string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE index_jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, string(status), nullString(message), q.nowFn().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update index job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update index job: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("index job %s: not found", id)
	}
	return nil
}

func collectJobs(rows *sql.Rows) ([]Job, error) {
	defer rows.Close()
	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan index job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate index jobs: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var job Job
	var errMsg sql.NullString
	var status, createdAtStr, updatedAtStr string
	if err := row.Scan(&job.ID, &job.TurnID, &job.AgentID, &job.ProjectID, &job.Content,
		&status, &job.Attempts, &errMsg, &createdAtStr, &updatedAtStr); err != nil {
		return Job{}, err
	}
	job.Status = Status(status)
	job.Error = errMsg.String
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	job.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAtStr)
	return job, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
