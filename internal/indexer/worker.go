package indexer

import (
	"context"
	"log/slog"
	"time"

	"github.com/parley-ai/parley/internal/eventbus"
	"github.com/parley-ai/parley/internal/vindex"
)

// Worker drains the index-job queue into the embedding index. Failures
// mark the job failed and move on; the conversation turn is already stored
// and a later Requeue pass can retry.
type Worker struct {
	Queue    *Queue
	Index    *vindex.Index
	Bus      *eventbus.Bus
	Log      *slog.Logger
	Interval time.Duration
	Batch    int
}

// Run drains the queue every Interval until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce claims and processes one batch. It returns how many jobs
// completed successfully.
func (w *Worker) RunOnce(ctx context.Context) int {
	batch := w.Batch
	if batch <= 0 {
		batch = 16
	}
	jobs, err := w.Queue.ClaimQueued(ctx, batch)
	if err != nil {
		w.logger().Error("claim index jobs", "error", err)
		return 0
	}

	completed := 0
	for _, job := range jobs {
		record, err := w.Index.Upsert(ctx, job.TurnID, job.AgentID, job.ProjectID, job.Content)
		if err != nil {
			w.logger().Warn("index turn", "turn_id", job.TurnID, "error", err)
			if err := w.Queue.Fail(ctx, job.ID, err.Error()); err != nil {
				w.logger().Error("mark job failed", "job_id", job.ID, "error", err)
			}
			continue
		}
		if err := w.Queue.Complete(ctx, job.ID); err != nil {
			w.logger().Error("mark job completed", "job_id", job.ID, "error", err)
			continue
		}
		completed++
		if w.Bus != nil {
			_, _ = w.Bus.Push(ctx, eventbus.EventInput{
				Stream:    eventbus.StreamIndexing,
				ScopeType: "project",
				ScopeID:   job.ProjectID,
				Subject:   "turn indexed",
				Body:      "indexed turn " + job.TurnID,
				Payload: map[string]any{
					"turn_id":   job.TurnID,
					"agent_id":  job.AgentID,
					"record_id": record.ID,
				},
			})
		}
	}
	return completed
}

func (w *Worker) logger() *slog.Logger {
	if w.Log != nil {
		return w.Log
	}
	return slog.Default()
}
