package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
)

func TestGetCreatesIdleSession(t *testing.T) {
	store := NewSessionStore(4)
	s, err := store.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if s.State != domain.StateIdle || s.ActiveIndex != domain.NoActiveEntry || s.Queue == nil {
		t.Fatalf("unexpected session %+v", s)
	}
	if store.Len() != 1 {
		t.Fatalf("expected the session to be stored")
	}
}

func TestUpdateMergesPatchShallowly(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(4)

	state := domain.StateAwaitingTags
	queue := []domain.QueueEntry{{ID: "e1"}}
	index := 0
	scratch := domain.Scratch{ConfirmedCategory: "Documentos"}
	if err := store.Update(ctx, "u1", domain.SessionPatch{State: &state, Queue: &queue, ActiveIndex: &index, Scratch: &scratch}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	next := domain.StateAwaitingComments
	if err := store.Update(ctx, "u1", domain.SessionPatch{State: &next}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	s, _ := store.Get(ctx, "u1")
	if s.State != next || len(s.Queue) != 1 || s.ActiveIndex != 0 || s.Scratch.ConfirmedCategory != "Documentos" {
		t.Fatalf("unexpected merged session %+v", s)
	}
}

func TestSnapshotsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(1)

	queue := []domain.QueueEntry{{ID: "e1"}}
	scratch := domain.Scratch{Tags: []string{"a"}}
	_ = store.Update(ctx, "u1", domain.SessionPatch{Queue: &queue, Scratch: &scratch})
	queue[0].ID = "mutated"
	scratch.Tags[0] = "mutated"

	s, _ := store.Get(ctx, "u1")
	s.Queue[0].OriginalName = "changed by reader"
	s.Scratch.Tags[0] = "changed by reader"

	again, _ := store.Get(ctx, "u1")
	if again.Queue[0].ID != "e1" || again.Queue[0].OriginalName != "" || again.Scratch.Tags[0] != "a" {
		t.Fatalf("store leaked references: %+v", again)
	}
}

func TestConcurrentUsers(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(8)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i)
			state := domain.StateAwaitingFileUpload
			_ = store.Update(ctx, user, domain.SessionPatch{State: &state})
			_, _ = store.Get(ctx, user)
		}(i)
	}
	wg.Wait()
	if store.Len() != 50 {
		t.Fatalf("expected 50 sessions, got %d", store.Len())
	}
}

func TestRejectsEmptyUser(t *testing.T) {
	store := NewSessionStore(0)
	if _, err := store.Get(context.Background(), " "); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
