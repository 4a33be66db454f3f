// Package eventbus records platform activity (chat turns, indexing) in a
// durable stream table and fans events out to in-process subscribers.
package eventbus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Streams published by the platform.
const (
	StreamTurns    = "turns"
	StreamIndexing = "indexing"
)

type Event struct {
	ID        string         `json:"id"`
	Stream    string         `json:"stream"`
	ScopeType string         `json:"scope_type"`
	ScopeID   string         `json:"scope_id"`
	Subject   string         `json:"subject,omitempty"`
	Body      string         `json:"body"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type EventInput struct {
	Stream    string
	ScopeType string
	ScopeID   string
	Subject   string
	Body      string
	Payload   map[string]any
}

type ListOptions struct {
	Limit     int
	ScopeType string
	ScopeID   string
}

type Bus struct {
	db *sql.DB

	mu   sync.RWMutex
	subs map[string]*subscriber
}

type subscriber struct {
	streams map[string]struct{}
	ch      chan Event
}

func NewBus(db *sql.DB) *Bus {
	return &Bus{db: db, subs: map[string]*subscriber{}}
}

func (b *Bus) Push(ctx context.Context, input EventInput) (Event, error) {
	if strings.TrimSpace(input.Stream) == "" {
		return Event{}, fmt.Errorf("stream is required")
	}
	if strings.TrimSpace(input.Body) == "" {
		return Event{}, fmt.Errorf("body is required")
	}
	scopeType := input.ScopeType
	scopeID := input.ScopeID
	if scopeType == "" {
		scopeType = "global"
	}
	if scopeID == "" {
		scopeID = "*"
	}

	event := Event{
		ID:        ulid.Make().String(),
		Stream:    input.Stream,
		ScopeType: scopeType,
		ScopeID:   scopeID,
		Subject:   input.Subject,
		Body:      input.Body,
		Payload:   input.Payload,
		CreatedAt: time.Now().UTC(),
	}
	payloadJSON, err := encodeJSON(input.Payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode payload: %w", err)
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO events (id, stream, scope_type, scope_id, subject, body, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.Stream, event.ScopeType, event.ScopeID, nullString(event.Subject),
		event.Body, payloadJSON, event.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}

	b.broadcast(event)
	return event, nil
}

// List returns a stream's most recent events, newest first.
func (b *Bus) List(ctx context.Context, stream string, opts ListOptions) ([]Event, error) {
	if strings.TrimSpace(stream) == "" {
		return nil, fmt.Errorf("stream is required")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	where := "WHERE stream = ?"
	args := []any{stream}
	if opts.ScopeType != "" {
		where += " AND scope_type = ?"
		args = append(args, opts.ScopeType)
	}
	if opts.ScopeID != "" {
		where += " AND scope_id = ?"
		args = append(args, opts.ScopeID)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, stream, scope_type, scope_id, subject, body, payload, created_at
		FROM events %s ORDER BY created_at DESC LIMIT ?
	`, where)
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var event Event
		var subject, payloadStr sql.NullString
		var createdAtStr string
		if err := rows.Scan(&event.ID, &event.Stream, &event.ScopeType, &event.ScopeID,
			&subject, &event.Body, &payloadStr, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.Subject = subject.String
		event.Payload = decodeJSONMap(payloadStr.String)
		event.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Subscribe returns a channel of live events for the given streams (all
// streams when empty). The channel closes when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, streams []string) <-chan Event {
	ch := make(chan Event, 64)
	streamSet := map[string]struct{}{}
	for _, s := range streams {
		if s == "" {
			continue
		}
		streamSet[s] = struct{}{}
	}
	id := ulid.Make().String()

	sub := &subscriber{streams: streamSet, ch: ch}
	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if len(sub.streams) > 0 {
			if _, ok := sub.streams[event.Stream]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- event:
		default:
			// Drop if subscriber is slow.
		}
	}
}

func encodeJSON(v map[string]any) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeJSONMap(v string) map[string]any {
	if v == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return nil
	}
	return out
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
