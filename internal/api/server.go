// Package api exposes the chat platform over HTTP: project and agent CRUD,
// chat turns, history, assembled-context previews, and event streams.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/parley-ai/parley/internal/chat"
	"github.com/parley-ai/parley/internal/contextmgr"
	"github.com/parley-ai/parley/internal/eventbus"
	"github.com/parley-ai/parley/internal/indexer"
	"github.com/parley-ai/parley/internal/state"
)

type Server struct {
	Store     *state.Store
	Manager   *contextmgr.Manager
	Chat      *chat.Service
	Queue     *indexer.Queue
	Bus       *eventbus.Bus
	StartedAt time.Time
	Info      DiagnosticsInfo
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/projects", s.handleProjects)
	mux.HandleFunc("/api/projects/", s.handleProjectItem)
	mux.HandleFunc("/api/agents", s.handleAgents)
	mux.HandleFunc("/api/agents/", s.handleAgentItem)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionItem)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/streams/subscribe", s.handleStreamSubscribe)
	mux.HandleFunc("/api/streams/ws", s.handleStreamWS)
	mux.HandleFunc("/api/diagnostics", s.handleDiagnostics)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		projects, err := s.Store.ListProjects(r.Context(), r.URL.Query().Get("user"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, projects)
	case http.MethodPost:
		var input state.ProjectInput
		if err := decodeJSON(r.Body, &input); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		project, err := s.Store.CreateProject(r.Context(), input)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, project)
	default:
		writeMethodNotAllowed(w)
	}
}

func (s *Server) handleProjectItem(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r.URL.Path, "/api/projects/")
	if len(segments) == 0 {
		writeError(w, http.StatusNotFound, errNotFound("project"))
		return
	}
	projectID := segments[0]

	if len(segments) == 2 && segments[1] == "agents" {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		agents, err := s.Store.ListProjectAgents(r.Context(), projectID, "")
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, agents)
		return
	}
	if len(segments) != 1 {
		writeError(w, http.StatusNotFound, errNotFound("project resource"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		project, err := s.Store.GetProject(r.Context(), projectID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, project)
	case http.MethodPut:
		var input state.ProjectInput
		if err := decodeJSON(r.Body, &input); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		project, err := s.Store.UpdateProject(r.Context(), projectID, input)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, project)
	case http.MethodDelete:
		if err := s.Store.DeleteProject(r.Context(), projectID); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": projectID})
	default:
		writeMethodNotAllowed(w)
	}
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		agents, err := s.Store.ListAgents(r.Context(), r.URL.Query().Get("user"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, agents)
	case http.MethodPost:
		var input state.AgentInput
		if err := decodeJSON(r.Body, &input); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		agent, err := s.Store.CreateAgent(r.Context(), input)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, agent)
	default:
		writeMethodNotAllowed(w)
	}
}

func (s *Server) handleAgentItem(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r.URL.Path, "/api/agents/")
	if len(segments) == 0 {
		writeError(w, http.StatusNotFound, errNotFound("agent"))
		return
	}
	agentID := segments[0]

	if len(segments) == 2 {
		switch segments[1] {
		case "chat":
			s.handleAgentChat(w, r, agentID)
			return
		case "history":
			s.handleHistory(w, r, state.TurnRef{AgentID: agentID})
			return
		case "context":
			s.handleAgentContext(w, r, agentID)
			return
		}
	}
	if len(segments) != 1 {
		writeError(w, http.StatusNotFound, errNotFound("agent resource"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		agent, err := s.Store.GetAgent(r.Context(), agentID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, agent)
	case http.MethodPut:
		var input state.AgentInput
		if err := decodeJSON(r.Body, &input); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		agent, err := s.Store.UpdateAgent(r.Context(), agentID, input)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, agent)
	case http.MethodDelete:
		if err := s.Store.DeleteAgent(r.Context(), agentID); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": agentID})
	default:
		writeMethodNotAllowed(w)
	}
}

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleAgentChat(w http.ResponseWriter, r *http.Request, agentID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if s.Chat == nil {
		writeError(w, http.StatusNotImplemented, errNotFound("chat backend"))
		return
	}
	var req chatRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, errEmptyMessage)
		return
	}

	if r.URL.Query().Get("stream") == "true" {
		s.streamChat(w, r, func(onDelta func(string)) (chat.Turn, error) {
			return s.Chat.AgentTurn(r.Context(), agentID, req.Message, onDelta)
		})
		return
	}

	turn, err := s.Chat.AgentTurn(r.Context(), agentID, req.Message, nil)
	if err != nil {
		if contextmgr.IsNotFound(err) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

// streamChat emits reply deltas as SSE events, then a final "turn" event
// with the recorded turns.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, run func(onDelta func(string)) (chat.Turn, error)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errNotFound("streaming support"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeSSE := func(event string, payload any) {
		data, _ := json.Marshal(payload)
		_, _ = w.Write([]byte("event: " + event + "\ndata: "))
		_, _ = w.Write(data)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}

	turn, err := run(func(delta string) {
		writeSSE("delta", map[string]string{"content": delta})
	})
	if err != nil {
		writeSSE("error", map[string]string{"error": err.Error()})
		return
	}
	writeSSE("turn", turn)
}

func (s *Server) handleAgentContext(w http.ResponseWriter, r *http.Request, agentID string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	messages, err := s.Manager.AssembleTurn(r.Context(), agentID, r.URL.Query().Get("message"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, parent state.TurnRef) {
	switch r.Method {
	case http.MethodGet:
		limit := parseInt(r.URL.Query().Get("limit"), 100)
		offset := parseInt(r.URL.Query().Get("offset"), 0)
		turns, err := s.Store.ListTurns(r.Context(), parent, limit, offset)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, turns)
	case http.MethodDelete:
		removed, err := s.Manager.ClearHistory(r.Context(), parent)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": removed})
	default:
		writeMethodNotAllowed(w)
	}
}

type sessionRequest struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req sessionRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	session, err := s.Store.CreateSession(r.Context(), req.UserID, req.Title)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleSessionItem(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r.URL.Path, "/api/sessions/")
	if len(segments) == 0 {
		writeError(w, http.StatusNotFound, errNotFound("session"))
		return
	}
	sessionID := segments[0]

	if len(segments) == 2 {
		switch segments[1] {
		case "chat":
			s.handleSessionChat(w, r, sessionID)
			return
		case "history":
			s.handleHistory(w, r, state.TurnRef{SessionID: sessionID})
			return
		}
	}
	if len(segments) != 1 {
		writeError(w, http.StatusNotFound, errNotFound("session resource"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		session, err := s.Store.GetSession(r.Context(), sessionID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	case http.MethodDelete:
		if err := s.Store.DeleteSession(r.Context(), sessionID); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": sessionID})
	default:
		writeMethodNotAllowed(w)
	}
}

func (s *Server) handleSessionChat(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if s.Chat == nil {
		writeError(w, http.StatusNotImplemented, errNotFound("chat backend"))
		return
	}
	var req chatRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, errEmptyMessage)
		return
	}

	if r.URL.Query().Get("stream") == "true" {
		s.streamChat(w, r, func(onDelta func(string)) (chat.Turn, error) {
			return s.Chat.SessionTurn(r.Context(), sessionID, req.Message, onDelta)
		})
		return
	}

	turn, err := s.Chat.SessionTurn(r.Context(), sessionID, req.Message, nil)
	if err != nil {
		if contextmgr.IsNotFound(err) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if s.Bus == nil {
		writeError(w, http.StatusInternalServerError, errNotFound("event bus"))
		return
	}
	stream := r.URL.Query().Get("stream")
	if stream == "" {
		stream = eventbus.StreamTurns
	}
	events, err := s.Bus.List(r.Context(), stream, eventbus.ListOptions{
		Limit:     parseInt(r.URL.Query().Get("limit"), 50),
		ScopeType: r.URL.Query().Get("scope_type"),
		ScopeID:   r.URL.Query().Get("scope_id"),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleStreamSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if s.Bus == nil {
		writeError(w, http.StatusInternalServerError, errNotFound("event bus"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errNotFound("streaming support"))
		return
	}

	streamList := splitComma(r.URL.Query().Get("streams"))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	_, _ = w.Write([]byte(":ok\n\n"))
	flusher.Flush()

	ctx := r.Context()
	sub := s.Bus.Subscribe(ctx, streamList)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			payload, _ := json.Marshal(evt)
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}

func pathSegments(path, prefix string) []string {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func writeStoreError(w http.ResponseWriter, err error) {
	if contextmgr.IsNotFound(err) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func decodeJSON(body io.Reader, dest any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitComma(value string) []string {
	parts := strings.Split(value, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

var errEmptyMessage = errors.New("message is required")

type notFoundError struct {
	msg string
}

func (e notFoundError) Error() string { return e.msg }

func errNotFound(target string) error {
	return notFoundError{msg: target + " not found"}
}
