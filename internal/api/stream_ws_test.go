package api

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/parley-ai/parley/internal/eventbus"
	"github.com/parley-ai/parley/internal/testutil"
)

type captureWriter struct {
	messages chan []byte
}

func (c *captureWriter) Write(ctx context.Context, msgType websocket.MessageType, data []byte) error {
	c.messages <- data
	return nil
}

func TestStreamEventsForwardsSubscribedStreams(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	bus := eventbus.NewBus(db)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writer := &captureWriter{messages: make(chan []byte, 4)}
	done := make(chan error, 1)
	go func() {
		done <- streamEvents(ctx, bus, []string{eventbus.StreamIndexing}, writer)
	}()

	// Wait for the subscriber to register before pushing.
	deadline := time.After(2 * time.Second)
	for bus.SubscriberCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("subscriber never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, err := bus.Push(ctx, eventbus.EventInput{Stream: eventbus.StreamTurns, Body: "ignored"}); err != nil {
		t.Fatalf("push turns event: %v", err)
	}
	if _, err := bus.Push(ctx, eventbus.EventInput{Stream: eventbus.StreamIndexing, Body: "turn indexed"}); err != nil {
		t.Fatalf("push indexing event: %v", err)
	}

	select {
	case data := <-writer.messages:
		var evt eventbus.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if evt.Stream != eventbus.StreamIndexing || evt.Body != "turn indexed" {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event forwarded")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && err != context.Canceled {
			t.Fatalf("stream ended with %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("streamEvents did not stop on cancel")
	}
}
