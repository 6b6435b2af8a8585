package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
)

var fixedNow = time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC)

func newRepoWithMock(t *testing.T) (*SessionRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	repo := NewSessionRepository(db)
	repo.now = func() time.Time { return fixedNow }
	return repo, mock, func() { _ = db.Close() }
}

func TestGetDecodesStoredSession(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	rows := sqlmock.NewRows([]string{"user_id", "state", "queue", "active_index", "scratch", "created_at", "updated_at"}).
		AddRow("u1", "AWAITING_TAGS",
			[]byte(`[{"id":"e1","original_name":"a.pdf","mime_type":"application/pdf","content_key":"e1"}]`),
			0,
			[]byte(`{"confirmed_category":"Documentos","tags":["x"]}`),
			fixedNow, fixedNow)
	mock.ExpectQuery("SELECT user_id, state, queue").WithArgs("u1").WillReturnRows(rows)

	s, err := repo.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if s.State != domain.StateAwaitingTags || s.ActiveIndex != 0 || len(s.Queue) != 1 || s.Queue[0].OriginalName != "a.pdf" {
		t.Fatalf("unexpected session %+v", s)
	}
	if s.Scratch.ConfirmedCategory != "Documentos" || len(s.Scratch.Tags) != 1 {
		t.Fatalf("unexpected scratch %+v", s.Scratch)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetCreatesIdleSessionWhenMissing(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT user_id, state, queue").WithArgs("u2").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "state", "queue", "active_index", "scratch", "created_at", "updated_at"}))
	mock.ExpectExec("INSERT INTO intake_sessions").
		WithArgs("u2", "IDLE", int64(domain.NoActiveEntry), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s, err := repo.Get(context.Background(), "u2")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if s.State != domain.StateIdle || s.ActiveIndex != domain.NoActiveEntry || s.Queue == nil || len(s.Queue) != 0 {
		t.Fatalf("unexpected fresh session %+v", s)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdatePassesOnlyPatchedFields(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	state := domain.StateAwaitingComments
	mock.ExpectExec("INSERT INTO intake_sessions").
		WithArgs("u1", "AWAITING_COMMENTS", nil, nil, nil, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Update(context.Background(), "u1", domain.SessionPatch{State: &state}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	queue := []domain.QueueEntry{}
	index := domain.NoActiveEntry
	scratch := domain.Scratch{}
	mock.ExpectExec("INSERT INTO intake_sessions").
		WithArgs("u1", nil, "[]", int64(-1), "{}", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Update(context.Background(), "u1", domain.SessionPatch{Queue: &queue, ActiveIndex: &index, Scratch: &scratch}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateErrorsAreTemporary(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	state := domain.StateIdle
	mock.ExpectExec("INSERT INTO intake_sessions").WillReturnError(errors.New("connection reset"))

	err := repo.Update(context.Background(), "u1", domain.SessionPatch{State: &state})
	if !errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if err := repo.Update(context.Background(), "", domain.SessionPatch{State: &state}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(int64(2026101401)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS intake_sessions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
