package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/parley-ai/parley/internal/contextmgr"
	"github.com/parley-ai/parley/internal/state"
)

// Turn is the outcome of one completed chat exchange.
type Turn struct {
	UserTurn      state.Turn `json:"user_turn"`
	AssistantTurn state.Turn `json:"assistant_turn"`
	Reply         string     `json:"reply"`
}

// Service drives a full chat turn: assemble context, call the responder,
// then record the user and assistant turns. The user's message is persisted
// even when the responder fails, so nothing typed is lost.
type Service struct {
	manager   *contextmgr.Manager
	responder Responder
	log       *slog.Logger
}

func NewService(manager *contextmgr.Manager, responder Responder, log *slog.Logger) *Service {
	return &Service{manager: manager, responder: responder, log: log}
}

// AgentTurn runs one exchange with an agent.
func (s *Service) AgentTurn(ctx context.Context, agentID, userText string, onDelta func(string)) (Turn, error) {
	if s.responder == nil {
		return Turn{}, fmt.Errorf("no chat backend configured")
	}
	messages, err := s.manager.AssembleTurn(ctx, agentID, userText)
	if err != nil {
		return Turn{}, err
	}
	return s.exchange(ctx, state.TurnRef{AgentID: agentID}, userText, messages, onDelta)
}

// SessionTurn runs one exchange in an ephemeral session.
func (s *Service) SessionTurn(ctx context.Context, sessionID, userText string, onDelta func(string)) (Turn, error) {
	if s.responder == nil {
		return Turn{}, fmt.Errorf("no chat backend configured")
	}
	messages, err := s.manager.AssembleSessionTurn(ctx, sessionID, userText)
	if err != nil {
		return Turn{}, err
	}
	return s.exchange(ctx, state.TurnRef{SessionID: sessionID}, userText, messages, onDelta)
}

func (s *Service) exchange(ctx context.Context, parent state.TurnRef, userText string, messages []contextmgr.Message, onDelta func(string)) (Turn, error) {
	reply, respondErr := s.responder.Respond(ctx, messages, onDelta)

	userTurn, err := s.manager.RecordTurn(ctx, parent, state.RoleUser, userText)
	if err != nil {
		return Turn{}, fmt.Errorf("record user turn: %w", err)
	}
	if respondErr != nil {
		return Turn{UserTurn: userTurn}, fmt.Errorf("generate reply: %w", respondErr)
	}

	assistantTurn, err := s.manager.RecordTurn(ctx, parent, state.RoleAssistant, reply)
	if err != nil {
		return Turn{}, fmt.Errorf("record assistant turn: %w", err)
	}
	return Turn{UserTurn: userTurn, AssistantTurn: assistantTurn, Reply: reply}, nil
}
