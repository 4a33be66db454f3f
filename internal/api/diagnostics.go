package api

import (
	"net/http"
	"time"

	"github.com/parley-ai/parley/internal/indexer"
)

// DiagnosticsInfo is static build/config information shown by the
// diagnostics endpoint.
type DiagnosticsInfo struct {
	Version       string `json:"version"`
	DBPath        string `json:"db_path"`
	ChatEnabled   bool   `json:"chat_enabled"`
	IndexEnabled  bool   `json:"index_enabled"`
	RetrievalInfo string `json:"retrieval_info,omitempty"`
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	payload := map[string]any{
		"info":   s.Info,
		"uptime": time.Since(s.StartedAt).Round(time.Second).String(),
		"time":   time.Now().UTC(),
	}
	if s.Bus != nil {
		payload["subscribers"] = s.Bus.SubscriberCount()
	}
	if s.Queue != nil {
		counts := map[string]int{}
		for _, status := range []indexer.Status{
			indexer.StatusQueued, indexer.StatusRunning, indexer.StatusCompleted, indexer.StatusFailed,
		} {
			n, err := s.Queue.CountByStatus(r.Context(), status)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			counts[string(status)] = n
		}
		payload["index_jobs"] = counts
	}
	writeJSON(w, http.StatusOK, payload)
}
