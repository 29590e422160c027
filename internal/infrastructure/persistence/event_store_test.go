package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cnrmurphy/sentinel/internal/domain/entity"
)

func userEvent(agent, text string) *entity.ObservabilityEvent {
	name := agent
	return &entity.ObservabilityEvent{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Agent:     &name,
		Payload:   entity.Payload{UserMessage: &entity.UserMessage{Text: text}},
	}
}

func responseEvent(agent string) *entity.ObservabilityEvent {
	name := agent
	text := "done"
	return &entity.ObservabilityEvent{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Agent:     &name,
		Payload: entity.Payload{AssistantResponse: &entity.AssistantResponse{
			Streaming: true,
			Text:      &text,
		}},
	}
}

// === Monotone sequence numbers ===

func TestEventStore_SeqMonotone(t *testing.T) {
	store := NewEventStore(testDB(t), testLogger())
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		ev := userEvent("swift-fox", "hello")
		if err := store.Insert(ctx, ev); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if ev.Seq <= last {
			t.Errorf("seq not increasing: %d after %d", ev.Seq, last)
		}
		last = ev.Seq
	}
}

// === Recent events, descending ===

func TestEventStore_RecentEvents(t *testing.T) {
	store := NewEventStore(testDB(t), testLogger())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := store.Insert(ctx, userEvent("swift-fox", "msg")); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	events, err := store.RecentEvents(ctx, 3, nil)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i-1].Seq <= events[i].Seq {
			t.Errorf("not descending: %d then %d", events[i-1].Seq, events[i].Seq)
		}
	}
}

func TestEventStore_RecentEventsKindFilter(t *testing.T) {
	store := NewEventStore(testDB(t), testLogger())
	ctx := context.Background()

	if err := store.Insert(ctx, userEvent("swift-fox", "ask")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Insert(ctx, responseEvent("swift-fox")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	kind := entity.PayloadAssistantResponse
	events, err := store.RecentEvents(ctx, 10, &kind)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(events) != 1 || events[0].Payload.AssistantResponse == nil {
		t.Errorf("filter failed: got %d events", len(events))
	}
}

// === Agent events, ascending for replay ===

func TestEventStore_AgentEvents(t *testing.T) {
	store := NewEventStore(testDB(t), testLogger())
	ctx := context.Background()

	if err := store.Insert(ctx, userEvent("swift-fox", "first")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Insert(ctx, userEvent("blue-owl", "other")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Insert(ctx, userEvent("swift-fox", "second")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	events, err := store.AgentEvents(ctx, "swift-fox", 10)
	if err != nil {
		t.Fatalf("AgentEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Seq >= events[1].Seq {
		t.Error("agent replay should be ascending")
	}
	if events[0].Payload.UserMessage.Text != "first" {
		t.Errorf("first replay event: got %q", events[0].Payload.UserMessage.Text)
	}
}

// === Payload round trip ===

func TestEventStore_PayloadRoundTrip(t *testing.T) {
	store := NewEventStore(testDB(t), testLogger())
	ctx := context.Background()

	topic := "Fix auth bug"
	session := "sess_1"
	in := responseEvent("swift-fox")
	in.SessionID = &session
	in.Topic = &topic

	if err := store.Insert(ctx, in); err != nil {
		t.Fatalf("insert: %v", err)
	}

	events, err := store.RecentEvents(ctx, 1, nil)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	out := events[0]

	if out.Seq != in.Seq || out.ID != in.ID {
		t.Errorf("identity mismatch: %d/%s vs %d/%s", out.Seq, out.ID, in.Seq, in.ID)
	}
	if out.Topic == nil || *out.Topic != topic {
		t.Errorf("topic: got %v", out.Topic)
	}
	if out.SessionID == nil || *out.SessionID != session {
		t.Errorf("session: got %v", out.SessionID)
	}
	ar := out.Payload.AssistantResponse
	if ar == nil || !ar.Streaming || ar.Text == nil || *ar.Text != "done" {
		t.Errorf("payload: got %+v", out.Payload)
	}
}
