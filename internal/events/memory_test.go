package events

import (
	"context"
	"testing"

	"adforge/internal/domain"
)

func TestMemoryPublishOrderAndCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Publish(ctx, Event{Type: TypeJobSubmitted, JobID: "a"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := m.Publish(ctx, Event{Type: TypeStageStarted, JobID: "a", Stage: domain.StageVariant, Attempt: 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := m.Events()
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != TypeJobSubmitted || got[1].Type != TypeStageStarted {
		t.Fatalf("unexpected order: %v, %v", got[0].Type, got[1].Type)
	}
	if got[0].At.IsZero() {
		t.Fatal("expected At to be stamped")
	}

	got[0].JobID = "mutated"
	if m.Events()[0].JobID != "a" {
		t.Fatal("Events must return a copy")
	}
}
