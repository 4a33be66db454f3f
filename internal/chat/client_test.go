package chat_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/parley-ai/parley/internal/chat"
	"github.com/parley-ai/parley/internal/contextmgr"
	"github.com/parley-ai/parley/internal/state"
)

func TestClientRespond(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"hi there"}}]}`)
	}))
	defer server.Close()

	client, err := chat.NewClient(chat.Config{BaseURL: server.URL, APIKey: "test-key", Model: "test-model"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	reply, err := client.Respond(context.Background(), []contextmgr.Message{
		{Role: state.RoleUser, Content: "hello"},
	}, nil)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if reply != "hi there" {
		t.Fatalf("reply = %q, want %q", reply, "hi there")
	}
}

func TestClientRespondStreaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client, err := chat.NewClient(chat.Config{BaseURL: server.URL, Model: "test-model"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	var deltas []string
	reply, err := client.Respond(context.Background(), []contextmgr.Message{
		{Role: state.RoleUser, Content: "hello"},
	}, func(delta string) {
		deltas = append(deltas, delta)
	})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if reply != "hello" {
		t.Fatalf("reply = %q, want %q", reply, "hello")
	}
	if strings.Join(deltas, "") != "hello" {
		t.Fatalf("deltas %v do not assemble the reply", deltas)
	}
}

func TestClientRespondErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer server.Close()

	client, err := chat.NewClient(chat.Config{BaseURL: server.URL, Model: "test-model"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Respond(context.Background(), []contextmgr.Message{
		{Role: state.RoleUser, Content: "hello"},
	}, nil)
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected rate limited error, got %v", err)
	}
}
