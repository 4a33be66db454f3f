package contextmgr

import (
	"context"
	"log/slog"

	"github.com/parley-ai/parley/internal/embed"
	"github.com/parley-ai/parley/internal/state"
	"github.com/parley-ai/parley/internal/vindex"
)

// SemanticProvider draws shared context from the embedding index, ranked by
// ascending cosine distance to the query. It never substitutes recency for a
// missing query and never raises for backend failures: embedding or index
// errors are logged and reported as "no shared context".
type SemanticProvider struct {
	store     *state.Store
	index     *vindex.Index
	generator embed.Generator
	log       *slog.Logger
}

func NewSemanticProvider(store *state.Store, index *vindex.Index, generator embed.Generator, log *slog.Logger) *SemanticProvider {
	return &SemanticProvider{store: store, index: index, generator: generator, log: log}
}

func (p *SemanticProvider) Mode() state.RetrievalMode {
	return state.RetrievalSemantic
}

func (p *SemanticProvider) SharedContext(ctx context.Context, projectID, requestingAgentID, query string, maxItems int) ([]Chunk, error) {
	if query == "" {
		return nil, nil
	}
	if maxItems <= 0 {
		maxItems = DefaultSemanticLimit
	}

	vector, err := p.generator.Embed(ctx, query)
	if err != nil {
		p.logger().Warn("query embedding failed, skipping shared context",
			"project_id", projectID, "agent_id", requestingAgentID, "error", err)
		return nil, nil
	}
	records, err := p.index.QueryNearest(ctx, projectID, requestingAgentID, vector, maxItems)
	if err != nil {
		p.logger().Warn("embedding index query failed, skipping shared context",
			"project_id", projectID, "agent_id", requestingAgentID, "error", err)
		return nil, nil
	}
	if len(records) == 0 {
		return nil, nil
	}

	peers, err := p.store.ListProjectAgents(ctx, projectID, requestingAgentID)
	if err != nil {
		p.logger().Warn("listing peer agents failed, skipping shared context",
			"project_id", projectID, "error", err)
		return nil, nil
	}
	names := make(map[string]string, len(peers))
	for _, peer := range peers {
		names[peer.ID] = peer.Name
	}

	chunks := make([]Chunk, 0, len(records))
	for _, record := range records {
		name, ok := names[record.AgentID]
		if !ok {
			continue
		}
		// Indexed units are single turns already, so the text is not
		// truncated here.
		chunks = append(chunks, Chunk{AgentName: name, Text: record.Content})
	}
	return chunks, nil
}

func (p *SemanticProvider) logger() *slog.Logger {
	if p.log != nil {
		return p.log
	}
	return slog.Default()
}
