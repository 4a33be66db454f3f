package contextmgr

import (
	"context"
	"fmt"

	"github.com/parley-ai/parley/internal/state"
)

// recencyTruncateRunes caps each recency chunk to bound prompt size. The
// cap is a hard rune count, not token-aware.
const recencyTruncateRunes = 200

// RecencyProvider draws shared context from the most recent conversation
// turns of the requesting agent's peers, returned oldest first.
type RecencyProvider struct {
	store *state.Store
}

func NewRecencyProvider(store *state.Store) *RecencyProvider {
	return &RecencyProvider{store: store}
}

func (p *RecencyProvider) Mode() state.RetrievalMode {
	return state.RetrievalRecent
}

func (p *RecencyProvider) SharedContext(ctx context.Context, projectID, requestingAgentID, query string, maxItems int) ([]Chunk, error) {
	if maxItems <= 0 {
		maxItems = DefaultRecencyLimit
	}
	peers, err := p.store.ListProjectAgents(ctx, projectID, requestingAgentID)
	if err != nil {
		return nil, fmt.Errorf("list peer agents: %w", err)
	}
	if len(peers) == 0 {
		return nil, nil
	}

	names := make(map[string]string, len(peers))
	ids := make([]string, 0, len(peers))
	for _, peer := range peers {
		names[peer.ID] = peer.Name
		ids = append(ids, peer.ID)
	}

	turns, err := p.store.ListRecentTurnsByAgents(ctx, ids, maxItems)
	if err != nil {
		return nil, fmt.Errorf("list peer turns: %w", err)
	}

	// Turns arrive newest first; the chunks read oldest first.
	chunks := make([]Chunk, 0, len(turns))
	for i := len(turns) - 1; i >= 0; i-- {
		turn := turns[i]
		chunks = append(chunks, Chunk{
			AgentName: names[turn.AgentID],
			Role:      turn.Role,
			Text:      truncateRunes(turn.Content, recencyTruncateRunes),
		})
	}
	return chunks, nil
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
