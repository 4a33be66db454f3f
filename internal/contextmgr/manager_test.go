package contextmgr_test

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/parley-ai/parley/internal/contextmgr"
	"github.com/parley-ai/parley/internal/embed"
	"github.com/parley-ai/parley/internal/indexer"
	"github.com/parley-ai/parley/internal/state"
	"github.com/parley-ai/parley/internal/testutil"
	"github.com/parley-ai/parley/internal/vindex"
)

func newTestManager(t *testing.T, db *sql.DB, generator embed.Generator) (*contextmgr.Manager, *state.Store, *indexer.Queue) {
	t.Helper()
	store := state.NewStore(db)
	queue := indexer.NewQueue(db)
	var index *vindex.Index
	if generator != nil {
		index = vindex.New(db, generator)
	}
	manager := contextmgr.NewManager(store, index, queue, nil, generator, contextmgr.Limits{}, nil)
	return manager, store, queue
}

func unitGenerator() embed.Generator {
	return embed.GeneratorFunc(func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1, 0}, nil
	})
}

func TestSelectStrategyDefaultsToRecency(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	manager, _, _ := newTestManager(t, db, unitGenerator())

	cases := []struct {
		mode state.RetrievalMode
		want state.RetrievalMode
	}{
		{state.RetrievalRecent, state.RetrievalRecent},
		{state.RetrievalSemantic, state.RetrievalSemantic},
		{"", state.RetrievalRecent},
		{"legacy-hybrid", state.RetrievalRecent},
	}
	for _, tc := range cases {
		if got := manager.SelectStrategy(tc.mode).Mode(); got != tc.want {
			t.Fatalf("SelectStrategy(%q) = %v, want %v", tc.mode, got, tc.want)
		}
	}
}

func TestSelectStrategyFallsBackWithoutEmbeddings(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	manager, _, _ := newTestManager(t, db, nil)
	if got := manager.SelectStrategy(state.RetrievalSemantic).Mode(); got != state.RetrievalRecent {
		t.Fatalf("expected recency fallback without an embedding backend, got %v", got)
	}
}

func TestAssembleTurnSharingDisabledNeverSharesContext(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	manager, store, _ := newTestManager(t, db, unitGenerator())
	ctx := context.Background()

	for _, mode := range []state.RetrievalMode{state.RetrievalRecent, state.RetrievalSemantic} {
		project, _ := store.CreateProject(ctx, state.ProjectInput{
			UserID: "u1", Name: "p-" + string(mode), SharingEnabled: false, RetrievalMode: mode,
		})
		agentX, _ := store.CreateAgent(ctx, state.AgentInput{UserID: "u1", ProjectID: project.ID, Name: "X"})
		agentY, _ := store.CreateAgent(ctx, state.AgentInput{UserID: "u1", ProjectID: project.ID, Name: "Y"})
		if _, err := manager.RecordTurn(ctx, state.TurnRef{AgentID: agentY.ID}, state.RoleUser, "peer data"); err != nil {
			t.Fatalf("record peer turn: %v", err)
		}

		messages, err := manager.AssembleTurn(ctx, agentX.ID, "what do you know?")
		if err != nil {
			t.Fatalf("assemble (%s): %v", mode, err)
		}
		for _, msg := range messages {
			if strings.Contains(msg.Content, "SHARED CONTEXT") {
				t.Fatalf("mode %s: shared context leaked with sharing disabled: %q", mode, msg.Content)
			}
		}
	}
}

func TestAssembleTurnStandaloneAgent(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	manager, store, _ := newTestManager(t, db, unitGenerator())
	ctx := context.Background()

	agent, _ := store.CreateAgent(ctx, state.AgentInput{
		UserID: "u1", Name: "solo",
		HasInstructions: true, Instructions: "Be terse.",
	})

	messages, err := manager.AssembleTurn(ctx, agent.ID, "hi")
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected preamble and user turn, got %d messages", len(messages))
	}
	if messages[0].Role != state.RoleSystem || messages[0].Content != "AGENT ROLE:\nBe terse." {
		t.Fatalf("unexpected preamble %+v", messages[0])
	}
	if messages[1].Role != state.RoleUser || messages[1].Content != "hi" {
		t.Fatalf("unexpected live turn %+v", messages[1])
	}
}

func TestAssembleTurnNotFound(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	manager, _, _ := newTestManager(t, db, unitGenerator())
	_, err := manager.AssembleTurn(context.Background(), "no-such-agent", "hi")
	if !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !contextmgr.IsNotFound(err) {
		t.Fatalf("IsNotFound should report true for %v", err)
	}
}

func TestAssembleTurnEndToEndRecency(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	manager, store, _ := newTestManager(t, db, unitGenerator())
	ctx := context.Background()

	project, _ := store.CreateProject(ctx, state.ProjectInput{
		UserID: "u1", Name: "shared", SharingEnabled: true, RetrievalMode: state.RetrievalRecent,
		HasInstructions: true, Instructions: "Collaborate.",
	})
	agentX, _ := store.CreateAgent(ctx, state.AgentInput{UserID: "u1", ProjectID: project.ID, Name: "X"})
	agentY, _ := store.CreateAgent(ctx, state.AgentInput{UserID: "u1", ProjectID: project.ID, Name: "Y"})

	if _, err := manager.RecordTurn(ctx, state.TurnRef{AgentID: agentY.ID}, state.RoleAssistant, "Hello from Y"); err != nil {
		t.Fatalf("record Y's turn: %v", err)
	}

	messages, err := manager.AssembleTurn(ctx, agentX.ID, "What did Y say?")
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected preamble, shared block, user turn; got %d: %+v", len(messages), messages)
	}
	if messages[0].Content != "PROJECT CONTEXT:\nCollaborate." {
		t.Fatalf("unexpected preamble %q", messages[0].Content)
	}
	wantBlock := "SHARED CONTEXT FROM OTHER AGENTS IN PROJECT:\n[Y - Assistant]: Hello from Y"
	if messages[1].Content != wantBlock {
		t.Fatalf("shared block = %q, want %q", messages[1].Content, wantBlock)
	}
	last := messages[len(messages)-1]
	if last.Role != state.RoleUser || last.Content != "What did Y say?" {
		t.Fatalf("live turns should end with the new user text, got %+v", last)
	}
}

func TestRecordTurnEnqueuesOnlyForSemanticSharing(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	manager, store, queue := newTestManager(t, db, unitGenerator())
	ctx := context.Background()

	semantic, _ := store.CreateProject(ctx, state.ProjectInput{
		UserID: "u1", Name: "sem", SharingEnabled: true, RetrievalMode: state.RetrievalSemantic,
	})
	recent, _ := store.CreateProject(ctx, state.ProjectInput{
		UserID: "u1", Name: "rec", SharingEnabled: true, RetrievalMode: state.RetrievalRecent,
	})
	unshared, _ := store.CreateProject(ctx, state.ProjectInput{
		UserID: "u1", Name: "off", SharingEnabled: false, RetrievalMode: state.RetrievalSemantic,
	})

	semAgent, _ := store.CreateAgent(ctx, state.AgentInput{UserID: "u1", ProjectID: semantic.ID, Name: "s"})
	recAgent, _ := store.CreateAgent(ctx, state.AgentInput{UserID: "u1", ProjectID: recent.ID, Name: "r"})
	offAgent, _ := store.CreateAgent(ctx, state.AgentInput{UserID: "u1", ProjectID: unshared.ID, Name: "o"})

	semTurn, err := manager.RecordTurn(ctx, state.TurnRef{AgentID: semAgent.ID}, state.RoleUser, "index me")
	if err != nil {
		t.Fatalf("record semantic turn: %v", err)
	}
	if _, err := manager.RecordTurn(ctx, state.TurnRef{AgentID: recAgent.ID}, state.RoleUser, "skip me"); err != nil {
		t.Fatalf("record recency turn: %v", err)
	}
	if _, err := manager.RecordTurn(ctx, state.TurnRef{AgentID: offAgent.ID}, state.RoleUser, "skip me too"); err != nil {
		t.Fatalf("record unshared turn: %v", err)
	}

	queued, err := queue.CountByStatus(ctx, indexer.StatusQueued)
	if err != nil {
		t.Fatalf("count queued: %v", err)
	}
	if queued != 1 {
		t.Fatalf("expected exactly the semantic turn queued, got %d jobs", queued)
	}
	job, err := queue.GetByTurn(ctx, semTurn.ID)
	if err != nil {
		t.Fatalf("semantic turn not queued: %v", err)
	}
	if job.ProjectID != semantic.ID || job.Content != "index me" {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestRecordTurnSessionParent(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	manager, store, queue := newTestManager(t, db, unitGenerator())
	ctx := context.Background()

	session, err := store.CreateSession(ctx, "u1", "scratch")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	turn, err := manager.RecordTurn(ctx, state.TurnRef{SessionID: session.ID}, state.RoleUser, "hello")
	if err != nil {
		t.Fatalf("record session turn: %v", err)
	}
	if turn.SessionID != session.ID || turn.UserID != "u1" {
		t.Fatalf("unexpected turn %+v", turn)
	}

	queued, _ := queue.CountByStatus(ctx, indexer.StatusQueued)
	if queued != 0 {
		t.Fatalf("session turns must never be indexed, got %d jobs", queued)
	}

	messages, err := manager.AssembleSessionTurn(ctx, session.ID, "and again")
	if err != nil {
		t.Fatalf("assemble session turn: %v", err)
	}
	if len(messages) != 2 || messages[0].Content != "hello" || messages[1].Content != "and again" {
		t.Fatalf("unexpected session messages %+v", messages)
	}
}

func TestDeleteTurnRemovesEmbedding(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	generator := unitGenerator()
	store := state.NewStore(db)
	queue := indexer.NewQueue(db)
	index := vindex.New(db, generator)
	manager := contextmgr.NewManager(store, index, queue, nil, generator, contextmgr.Limits{}, nil)
	ctx := context.Background()

	project, _ := store.CreateProject(ctx, state.ProjectInput{
		UserID: "u1", Name: "p", SharingEnabled: true, RetrievalMode: state.RetrievalSemantic,
	})
	agent, _ := store.CreateAgent(ctx, state.AgentInput{UserID: "u1", ProjectID: project.ID, Name: "a"})

	turn, err := manager.RecordTurn(ctx, state.TurnRef{AgentID: agent.ID}, state.RoleUser, "remember this")
	if err != nil {
		t.Fatalf("record turn: %v", err)
	}
	worker := &indexer.Worker{Queue: queue, Index: index}
	if completed := worker.RunOnce(ctx); completed != 1 {
		t.Fatalf("expected the turn to be indexed, got %d completions", completed)
	}

	if err := manager.DeleteTurn(ctx, turn.ID); err != nil {
		t.Fatalf("delete turn: %v", err)
	}
	if _, err := index.GetByTurn(ctx, turn.ID); !errors.Is(err, vindex.ErrNoRecord) {
		t.Fatalf("embedding should be gone with its turn, got %v", err)
	}
	if _, err := store.GetTurn(ctx, turn.ID); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("turn should be deleted, got %v", err)
	}
}

func TestClearHistoryDeletesTurnsAndEmbeddings(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	generator := unitGenerator()
	store := state.NewStore(db)
	queue := indexer.NewQueue(db)
	index := vindex.New(db, generator)
	manager := contextmgr.NewManager(store, index, queue, nil, generator, contextmgr.Limits{}, nil)
	ctx := context.Background()

	project, _ := store.CreateProject(ctx, state.ProjectInput{
		UserID: "u1", Name: "p", SharingEnabled: true, RetrievalMode: state.RetrievalSemantic,
	})
	agent, _ := store.CreateAgent(ctx, state.AgentInput{UserID: "u1", ProjectID: project.ID, Name: "a"})

	for _, text := range []string{"one", "two"} {
		if _, err := manager.RecordTurn(ctx, state.TurnRef{AgentID: agent.ID}, state.RoleUser, text); err != nil {
			t.Fatalf("record turn: %v", err)
		}
	}
	worker := &indexer.Worker{Queue: queue, Index: index}
	worker.RunOnce(ctx)

	removed, err := manager.ClearHistory(ctx, state.TurnRef{AgentID: agent.ID})
	if err != nil {
		t.Fatalf("clear history: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 turns removed, got %d", removed)
	}
	count, err := index.CountByProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("count embeddings: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no embeddings after clear, got %d", count)
	}
}
