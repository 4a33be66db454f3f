// Package contextmgr assembles the prompt context for a chat turn. It
// selects a retrieval strategy from the owning project's configuration,
// pulls shared context from peer agents through that strategy, composes the
// system preamble from project and agent instructions, and orders everything
// with the live conversation turns into the message list handed to the
// model. Retrieval and indexing are best-effort: their failures degrade to
// "no shared context" and never fail the turn itself.
package contextmgr

import "github.com/parley-ai/parley/internal/state"

// Message is one role-tagged entry in an assembled prompt.
type Message struct {
	Role    state.Role `json:"role"`
	Content string     `json:"content"`
}

// Chunk is one piece of shared context attributed to a peer agent.
type Chunk struct {
	AgentName string     `json:"agent_name"`
	Role      state.Role `json:"role,omitempty"`
	Text      string     `json:"text"`
}

func turnsToMessages(turns []state.Turn) []Message {
	messages := make([]Message, 0, len(turns))
	for _, turn := range turns {
		messages = append(messages, Message{Role: turn.Role, Content: turn.Content})
	}
	return messages
}
