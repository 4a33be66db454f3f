package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/parley-ai/parley/internal/testutil"
)

func TestBusPushAndList(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	bus := NewBus(db)
	ctx := context.Background()

	first, err := bus.Push(ctx, EventInput{Stream: StreamTurns, ScopeType: "agent", ScopeID: "a1", Subject: "user turn", Body: "hello"})
	if err != nil {
		t.Fatalf("push first: %v", err)
	}
	second, err := bus.Push(ctx, EventInput{Stream: StreamTurns, ScopeType: "agent", ScopeID: "a2", Subject: "user turn", Body: "hi"})
	if err != nil {
		t.Fatalf("push second: %v", err)
	}

	items, err := bus.List(ctx, StreamTurns, ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 events, got %d", len(items))
	}
	if items[0].ID != second.ID {
		t.Fatalf("expected newest first")
	}

	scoped, err := bus.List(ctx, StreamTurns, ListOptions{ScopeType: "agent", ScopeID: "a1"})
	if err != nil {
		t.Fatalf("list scoped: %v", err)
	}
	if len(scoped) != 1 || scoped[0].ID != first.ID {
		t.Fatalf("expected only a1 events, got %+v", scoped)
	}

	if _, err := bus.Push(ctx, EventInput{Stream: "", Body: "x"}); err == nil {
		t.Fatalf("expected error for missing stream")
	}
}

func TestBusSubscribe(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	bus := NewBus(db)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := bus.Subscribe(ctx, []string{StreamIndexing})

	if _, err := bus.Push(ctx, EventInput{Stream: StreamTurns, Body: "ignored"}); err != nil {
		t.Fatalf("push turns: %v", err)
	}
	pushed, err := bus.Push(ctx, EventInput{Stream: StreamIndexing, Body: "indexed turn"})
	if err != nil {
		t.Fatalf("push indexing: %v", err)
	}

	select {
	case event := <-sub:
		if event.ID != pushed.ID {
			t.Fatalf("expected indexing event, got %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
	}

	cancel()
	deadline := time.After(time.Second)
	for bus.SubscriberCount() != 0 {
		select {
		case <-deadline:
			t.Fatalf("subscriber not removed after cancel")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
