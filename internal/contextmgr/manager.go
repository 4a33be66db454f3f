package contextmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/parley-ai/parley/internal/embed"
	"github.com/parley-ai/parley/internal/eventbus"
	"github.com/parley-ai/parley/internal/indexer"
	"github.com/parley-ai/parley/internal/state"
	"github.com/parley-ai/parley/internal/vindex"
)

// Limits bounds how much history and shared context a turn assembles.
// Zero values fall back to the defaults.
type Limits struct {
	History  int
	Recency  int
	Semantic int
}

const defaultHistoryLimit = 50

// Manager is the engine's single entry point. It selects the retrieval
// strategy from project configuration, drives turn assembly through the
// composer, and records turns with best-effort asynchronous indexing.
type Manager struct {
	store    *state.Store
	index    *vindex.Index
	queue    *indexer.Queue
	bus      *eventbus.Bus
	composer *Composer
	recency  Provider
	semantic Provider
	limits   Limits
	log      *slog.Logger
}

// NewManager wires the engine. index, generator, queue, and bus may be nil:
// without index and generator the semantic strategy is unavailable and
// projects configured for it fall back to recency; without queue no turns
// are enqueued for indexing; without bus no activity events are published.
func NewManager(store *state.Store, index *vindex.Index, queue *indexer.Queue, bus *eventbus.Bus, generator embed.Generator, limits Limits, log *slog.Logger) *Manager {
	m := &Manager{
		store:    store,
		index:    index,
		queue:    queue,
		bus:      bus,
		composer: NewComposer(store, log),
		recency:  NewRecencyProvider(store),
		limits:   limits,
		log:      log,
	}
	if index != nil && generator != nil {
		m.semantic = NewSemanticProvider(store, index, generator, log)
	}
	if m.limits.History <= 0 {
		m.limits.History = defaultHistoryLimit
	}
	if m.limits.Recency <= 0 {
		m.limits.Recency = DefaultRecencyLimit
	}
	if m.limits.Semantic <= 0 {
		m.limits.Semantic = DefaultSemanticLimit
	}
	return m
}

// Composer exposes the prompt composer for callers that only need preamble
// or message assembly.
func (m *Manager) Composer() *Composer {
	return m.composer
}

// SelectStrategy maps a project's retrieval mode to a provider. Unrecognized
// modes fall back to recency, as does semantic when no embedding backend is
// configured.
func (m *Manager) SelectStrategy(mode state.RetrievalMode) Provider {
	if mode.Normalize() == state.RetrievalSemantic && m.semantic != nil {
		return m.semantic
	}
	return m.recency
}

// AssembleTurn loads the agent's recent history, appends newUserText as the
// latest user entry, and returns the full ordered message list for the
// turn. Shared context is included only when the agent belongs to a project
// with sharing enabled; retrieval failures degrade to no shared block.
func (m *Manager) AssembleTurn(ctx context.Context, agentID, newUserText string) ([]Message, error) {
	agent, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	turns, err := m.store.ListRecentTurns(ctx, state.TurnRef{AgentID: agentID}, m.limits.History)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	liveTurns := turnsToMessages(turns)
	if newUserText != "" {
		liveTurns = append(liveTurns, Message{Role: state.RoleUser, Content: newUserText})
	}

	var provider Provider
	maxItems := 0
	if agent.ProjectID != "" {
		project, err := m.store.GetProject(ctx, agent.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("load project %s: %w", agent.ProjectID, err)
		}
		if project.SharingEnabled {
			provider = m.SelectStrategy(project.RetrievalMode)
			maxItems = m.limits.Recency
			if provider.Mode() == state.RetrievalSemantic {
				maxItems = m.limits.Semantic
			}
		}
	}

	return m.composer.AssembleMessages(ctx, agentID, liveTurns, provider, maxItems)
}

// AssembleSessionTurn is the ephemeral-chat variant: session history plus
// the new user entry, with no preamble and no shared context.
func (m *Manager) AssembleSessionTurn(ctx context.Context, sessionID, newUserText string) ([]Message, error) {
	if _, err := m.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	turns, err := m.store.ListRecentTurns(ctx, state.TurnRef{SessionID: sessionID}, m.limits.History)
	if err != nil {
		return nil, fmt.Errorf("load session history: %w", err)
	}
	messages := turnsToMessages(turns)
	if newUserText != "" {
		messages = append(messages, Message{Role: state.RoleUser, Content: newUserText})
	}
	return messages, nil
}

// RecordTurn persists a conversation turn under the given parent. The turn
// write is the source of truth: it fails loudly. Everything after it is
// best-effort. Agent turns in sharing-enabled semantic projects are handed
// to the index queue; the queue's worker embeds them off the request path.
func (m *Manager) RecordTurn(ctx context.Context, parent state.TurnRef, role state.Role, text string) (state.Turn, error) {
	userID, agent, project, err := m.resolveParent(ctx, parent)
	if err != nil {
		return state.Turn{}, err
	}

	turn, err := m.store.InsertTurn(ctx, state.TurnInput{
		UserID:  userID,
		Parent:  parent,
		Role:    role,
		Content: text,
	})
	if err != nil {
		return state.Turn{}, err
	}

	m.publishTurn(ctx, turn)

	if m.queue != nil && project != nil && project.SharingEnabled && project.RetrievalMode.Normalize() == state.RetrievalSemantic {
		if _, err := m.queue.Enqueue(ctx, turn.ID, agent.ID, project.ID, turn.Content); err != nil {
			m.logger().Warn("failed to enqueue turn for indexing",
				"turn_id", turn.ID, "agent_id", agent.ID, "error", err)
		}
	}
	return turn, nil
}

// DeleteTurn removes a turn and its embedding record, if any.
func (m *Manager) DeleteTurn(ctx context.Context, turnID string) error {
	if err := m.store.DeleteTurn(ctx, turnID); err != nil {
		return err
	}
	if m.index != nil {
		if _, err := m.index.DeleteByTurn(ctx, turnID); err != nil {
			m.logger().Warn("failed to delete embedding for turn", "turn_id", turnID, "error", err)
		}
	}
	return nil
}

// ClearHistory deletes all turns under a parent and returns how many were
// removed. Embedding records go with their turns.
func (m *Manager) ClearHistory(ctx context.Context, parent state.TurnRef) (int, error) {
	return m.store.DeleteTurns(ctx, parent)
}

// resolveParent loads the turn's owner. project is nil for standalone
// agents and for session turns.
func (m *Manager) resolveParent(ctx context.Context, parent state.TurnRef) (string, *state.Agent, *state.Project, error) {
	switch {
	case parent.AgentID != "":
		agent, err := m.store.GetAgent(ctx, parent.AgentID)
		if err != nil {
			return "", nil, nil, err
		}
		if agent.ProjectID == "" {
			return agent.UserID, &agent, nil, nil
		}
		project, err := m.store.GetProject(ctx, agent.ProjectID)
		if err != nil {
			return "", nil, nil, fmt.Errorf("load project %s: %w", agent.ProjectID, err)
		}
		return agent.UserID, &agent, &project, nil
	case parent.SessionID != "":
		session, err := m.store.GetSession(ctx, parent.SessionID)
		if err != nil {
			return "", nil, nil, err
		}
		return session.UserID, nil, nil, nil
	default:
		return "", nil, nil, state.ErrInvalidParent
	}
}

func (m *Manager) publishTurn(ctx context.Context, turn state.Turn) {
	if m.bus == nil {
		return
	}
	scopeType, scopeID := "agent", turn.AgentID
	if turn.SessionID != "" {
		scopeType, scopeID = "session", turn.SessionID
	}
	_, err := m.bus.Push(ctx, eventbus.EventInput{
		Stream:    eventbus.StreamTurns,
		ScopeType: scopeType,
		ScopeID:   scopeID,
		Subject:   turn.ID,
		Body:      fmt.Sprintf("%s turn recorded", turn.Role),
	})
	if err != nil {
		m.logger().Warn("failed to publish turn event", "turn_id", turn.ID, "error", err)
	}
}

// IsNotFound reports whether err means a referenced entity does not exist,
// so transport layers can map it to a 404.
func IsNotFound(err error) bool {
	return errors.Is(err, state.ErrNotFound)
}

func (m *Manager) logger() *slog.Logger {
	if m.log != nil {
		return m.log
	}
	return slog.Default()
}
