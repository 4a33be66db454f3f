package contextmgr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parley-ai/parley/internal/prompt"
	"github.com/parley-ai/parley/internal/state"
)

const (
	projectContextLabel = "PROJECT CONTEXT:"
	agentRoleLabel      = "AGENT ROLE:"
	sharedContextHeader = "SHARED CONTEXT FROM OTHER AGENTS IN PROJECT:"
)

// Composer builds the system preamble and merges it with shared context and
// live turns into the final ordered message list.
type Composer struct {
	store *state.Store
	log   *slog.Logger
}

func NewComposer(store *state.Store, log *slog.Logger) *Composer {
	return &Composer{store: store, log: log}
}

// BuildSystemPreamble concatenates the owning project's instructions, then
// the agent's own instructions, each under its label and joined by a blank
// line. The second return is false when neither exists, so callers can tell
// "no system content" from empty content.
func (c *Composer) BuildSystemPreamble(ctx context.Context, agentID string) (string, bool, error) {
	agent, err := c.store.GetAgent(ctx, agentID)
	if err != nil {
		return "", false, err
	}
	return c.buildPreamble(ctx, agent)
}

func (c *Composer) buildPreamble(ctx context.Context, agent state.Agent) (string, bool, error) {
	builder := prompt.NewBuilder()
	if agent.ProjectID != "" {
		project, err := c.store.GetProject(ctx, agent.ProjectID)
		if err != nil {
			return "", false, fmt.Errorf("load project %s: %w", agent.ProjectID, err)
		}
		if project.HasInstructions {
			builder.Add(prompt.Block{
				ID:       "project",
				Priority: 2,
				Content:  label(projectContextLabel, project.Instructions),
			})
		}
	}
	if agent.HasInstructions {
		builder.Add(prompt.Block{
			ID:       "agent",
			Priority: 1,
			Content:  label(agentRoleLabel, agent.Instructions),
		})
	}
	if builder.Len() == 0 {
		return "", false, nil
	}
	return builder.Build(), true, nil
}

func label(heading, body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	return heading + "\n" + body
}

// AssembleMessages returns, in order: the system preamble if any, the
// shared-context block if provider is non-nil and retrieval yields chunks,
// then liveTurns verbatim. The retrieval query is the most recent user-role
// entry found by scanning liveTurns from the end; without one the shared
// block is omitted.
func (c *Composer) AssembleMessages(ctx context.Context, agentID string, liveTurns []Message, provider Provider, maxItems int) ([]Message, error) {
	agent, err := c.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	preamble, ok, err := c.buildPreamble(ctx, agent)
	if err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(liveTurns)+2)
	if ok {
		messages = append(messages, Message{Role: state.RoleSystem, Content: preamble})
	}
	if provider != nil {
		if block, ok := c.sharedBlock(ctx, agent, liveTurns, provider, maxItems); ok {
			messages = append(messages, Message{Role: state.RoleSystem, Content: block})
		}
	}
	return append(messages, liveTurns...), nil
}

func (c *Composer) sharedBlock(ctx context.Context, agent state.Agent, liveTurns []Message, provider Provider, maxItems int) (string, bool) {
	if agent.ProjectID == "" {
		return "", false
	}
	query := lastUserContent(liveTurns)
	if query == "" {
		return "", false
	}

	chunks, err := provider.SharedContext(ctx, agent.ProjectID, agent.ID, query, maxItems)
	if err != nil {
		c.logger().Warn("shared context retrieval failed, proceeding without it",
			"agent_id", agent.ID, "mode", provider.Mode(), "error", err)
		return "", false
	}
	if len(chunks) == 0 {
		return "", false
	}

	semantic := provider.Mode() == state.RetrievalSemantic
	var sb strings.Builder
	sb.WriteString(sharedContextHeader)
	if semantic {
		sb.WriteString(" (semantic search)")
	}
	for _, chunk := range chunks {
		sb.WriteString("\n")
		if semantic {
			fmt.Fprintf(&sb, "[%s]: %s", chunk.AgentName, chunk.Text)
		} else {
			fmt.Fprintf(&sb, "[%s - %s]: %s", chunk.AgentName, chunk.Role.Label(), chunk.Text)
		}
	}
	return sb.String(), true
}

func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == state.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func (c *Composer) logger() *slog.Logger {
	if c.log != nil {
		return c.log
	}
	return slog.Default()
}
