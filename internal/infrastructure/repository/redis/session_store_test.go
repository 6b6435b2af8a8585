package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
)

func TestSessionKey(t *testing.T) {
	if got := sessionKey("5215550001"); got != "intake:session:5215550001" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestDecodeNormalizesQueue(t *testing.T) {
	s, err := decode([]byte(`{"user_id":"u1","state":"IDLE","queue":null,"active_index":-1}`))
	if err != nil {
		t.Fatalf("decode() error = %v", err)
	}
	if s.Queue == nil || s.ActiveIndex != domain.NoActiveEntry {
		t.Fatalf("unexpected session %+v", s)
	}
	if _, err := decode([]byte("{")); err == nil {
		t.Fatalf("expected error for broken json")
	}
}

func TestRejectsEmptyUser(t *testing.T) {
	store := NewSessionStore(nil, 0)
	if _, err := store.Get(context.Background(), ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	state := domain.StateIdle
	if err := store.Update(context.Background(), "", domain.SessionPatch{State: &state}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

// Runs against a real server when REDIS_TEST_URL is set.
func TestSessionStoreRoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	ctx := context.Background()
	client, err := Open(ctx, url)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer client.Close()

	store := NewSessionStore(client, time.Minute)
	user := "test-" + uuid.NewString()
	defer client.Del(ctx, sessionKey(user))

	s, err := store.Get(ctx, user)
	if err != nil || s.State != domain.StateIdle {
		t.Fatalf("Get() = %+v, %v", s, err)
	}

	state := domain.StateMediaReceived
	queue := []domain.QueueEntry{{ID: "e1", OriginalName: "a.jpg"}}
	index := 0
	if err := store.Update(ctx, user, domain.SessionPatch{State: &state, Queue: &queue, ActiveIndex: &index}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, err := store.Get(ctx, user)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.State != state || got.ActiveIndex != 0 || len(got.Queue) != 1 || got.Queue[0].OriginalName != "a.jpg" {
		t.Fatalf("unexpected session %+v", got)
	}
}
