package contextmgr

import (
	"context"

	"github.com/parley-ai/parley/internal/state"
)

// Default chunk limits per strategy.
const (
	DefaultRecencyLimit  = 20
	DefaultSemanticLimit = 10
)

// Provider retrieves shared context from other agents in a project. A nil
// or empty chunk slice means "no shared context" and is not an error:
// providers return an error only for real backend failures, and callers
// degrade to an omitted block rather than propagating it.
type Provider interface {
	// Mode reports which retrieval mode this provider implements.
	Mode() state.RetrievalMode
	// SharedContext returns up to maxItems chunks drawn from agents in the
	// project other than requestingAgentID.
	SharedContext(ctx context.Context, projectID, requestingAgentID, query string, maxItems int) ([]Chunk, error)
}
