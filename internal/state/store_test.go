package state_test

import (
	"context"
	"errors"
	"testing"

	"github.com/parley-ai/parley/internal/state"
	"github.com/parley-ai/parley/internal/testutil"
)

func TestProjectCRUD(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	store := state.NewStore(db)
	ctx := context.Background()

	project, err := store.CreateProject(ctx, state.ProjectInput{
		UserID:         "u1",
		Name:           "research",
		SharingEnabled: true,
		RetrievalMode:  "semantic",
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if project.RetrievalMode != state.RetrievalSemantic {
		t.Fatalf("unexpected retrieval mode: %s", project.RetrievalMode)
	}

	got, err := store.GetProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if got.Name != "research" || !got.SharingEnabled {
		t.Fatalf("unexpected project: %+v", got)
	}

	updated, err := store.UpdateProject(ctx, project.ID, state.ProjectInput{
		Name:          "research",
		RetrievalMode: "legacy-mode",
	})
	if err != nil {
		t.Fatalf("update project: %v", err)
	}
	if updated.RetrievalMode != state.RetrievalRecent {
		t.Fatalf("unrecognized mode should normalize to recent, got %s", updated.RetrievalMode)
	}
	if updated.SharingEnabled {
		t.Fatalf("sharing should be disabled after update")
	}

	if err := store.DeleteProject(ctx, project.ID); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	if _, err := store.GetProject(ctx, project.ID); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAgentCRUDAndPeers(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	store := state.NewStore(db)
	ctx := context.Background()

	project, err := store.CreateProject(ctx, state.ProjectInput{UserID: "u1", Name: "p", SharingEnabled: true})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	a, err := store.CreateAgent(ctx, state.AgentInput{UserID: "u1", ProjectID: project.ID, Name: "alpha"})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	b, err := store.CreateAgent(ctx, state.AgentInput{UserID: "u1", ProjectID: project.ID, Name: "beta"})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}

	peers, err := store.ListProjectAgents(ctx, project.ID, a.ID)
	if err != nil {
		t.Fatalf("list peers: %v", err)
	}
	if len(peers) != 1 || peers[0].ID != b.ID {
		t.Fatalf("expected only beta as peer, got %+v", peers)
	}

	if _, err := store.CreateAgent(ctx, state.AgentInput{UserID: "u1", ProjectID: "missing", Name: "x"}); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing project, got %v", err)
	}

	standalone, err := store.CreateAgent(ctx, state.AgentInput{UserID: "u1", Name: "solo"})
	if err != nil {
		t.Fatalf("create standalone agent: %v", err)
	}
	if standalone.ProjectID != "" {
		t.Fatalf("standalone agent should have no project")
	}
}

func TestTurnParentExclusivity(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	store := state.NewStore(db)
	ctx := context.Background()

	agent, err := store.CreateAgent(ctx, state.AgentInput{UserID: "u1", Name: "solo"})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	session, err := store.CreateSession(ctx, "u1", "scratch")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	_, err = store.InsertTurn(ctx, state.TurnInput{
		UserID:  "u1",
		Parent:  state.TurnRef{AgentID: agent.ID, SessionID: session.ID},
		Role:    state.RoleUser,
		Content: "hi",
	})
	if !errors.Is(err, state.ErrInvalidParent) {
		t.Fatalf("expected ErrInvalidParent for both parents, got %v", err)
	}

	_, err = store.InsertTurn(ctx, state.TurnInput{
		UserID:  "u1",
		Role:    state.RoleUser,
		Content: "hi",
	})
	if !errors.Is(err, state.ErrInvalidParent) {
		t.Fatalf("expected ErrInvalidParent for no parent, got %v", err)
	}

	turn, err := store.InsertTurn(ctx, state.TurnInput{
		UserID:  "u1",
		Parent:  state.TurnRef{AgentID: agent.ID},
		Role:    state.RoleUser,
		Content: "hi",
	})
	if err != nil {
		t.Fatalf("insert turn: %v", err)
	}
	if turn.AgentID != agent.ID || turn.SessionID != "" {
		t.Fatalf("unexpected turn parents: %+v", turn)
	}
}

func TestTurnOrderingAndClear(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	store := state.NewStore(db)
	ctx := context.Background()

	agent, err := store.CreateAgent(ctx, state.AgentInput{UserID: "u1", Name: "solo"})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	parent := state.TurnRef{AgentID: agent.ID}
	for _, content := range []string{"one", "two", "three"} {
		if _, err := store.InsertTurn(ctx, state.TurnInput{UserID: "u1", Parent: parent, Role: state.RoleUser, Content: content}); err != nil {
			t.Fatalf("insert turn: %v", err)
		}
	}

	turns, err := store.ListTurns(ctx, parent, 10, 0)
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	if len(turns) != 3 || turns[0].Content != "one" || turns[2].Content != "three" {
		t.Fatalf("unexpected chronological order: %+v", turns)
	}

	recent, err := store.ListRecentTurns(ctx, parent, 2)
	if err != nil {
		t.Fatalf("list recent turns: %v", err)
	}
	if len(recent) != 2 || recent[0].Content != "two" || recent[1].Content != "three" {
		t.Fatalf("expected last two turns chronologically, got %+v", recent)
	}

	count, err := store.CountTurns(ctx, parent)
	if err != nil {
		t.Fatalf("count turns: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 turns, got %d", count)
	}

	deleted, err := store.DeleteTurns(ctx, parent)
	if err != nil {
		t.Fatalf("delete turns: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected 3 deleted, got %d", deleted)
	}
}

func TestAgentDeleteCascadesTurns(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	store := state.NewStore(db)
	ctx := context.Background()

	agent, err := store.CreateAgent(ctx, state.AgentInput{UserID: "u1", Name: "solo"})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	turn, err := store.InsertTurn(ctx, state.TurnInput{UserID: "u1", Parent: state.TurnRef{AgentID: agent.ID}, Role: state.RoleUser, Content: "hi"})
	if err != nil {
		t.Fatalf("insert turn: %v", err)
	}
	if err := store.DeleteAgent(ctx, agent.ID); err != nil {
		t.Fatalf("delete agent: %v", err)
	}
	if _, err := store.GetTurn(ctx, turn.ID); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected turn gone after agent delete, got %v", err)
	}
}
