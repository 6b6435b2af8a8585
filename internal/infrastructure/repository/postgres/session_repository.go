package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
)

// SessionRepository keeps one row per chat user with the queue and scratch
// stored as JSONB.
type SessionRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *SessionRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101401)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS intake_sessions (
	user_id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	queue JSONB NOT NULL DEFAULT '[]'::jsonb,
	active_index INTEGER NOT NULL DEFAULT -1,
	scratch JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_intake_sessions_updated_at ON intake_sessions(updated_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, userID string) (domain.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Session{}, domain.WrapError(domain.ErrInvalidInput, "get session", errors.New("user id is empty"))
	}

	row := r.db.QueryRowContext(ctx, `
SELECT user_id, state, queue, active_index, scratch, created_at, updated_at
FROM intake_sessions
WHERE user_id = $1
`, userID)

	var s domain.Session
	var state string
	var queueRaw, scratchRaw []byte
	err := row.Scan(&s.UserID, &state, &queueRaw, &s.ActiveIndex, &scratchRaw, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r.create(ctx, userID)
	}
	if err != nil {
		return domain.Session{}, domain.WrapError(domain.ErrTemporary, "scan session", err)
	}

	s.State = domain.State(state)
	if err := json.Unmarshal(queueRaw, &s.Queue); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal queue: %w", err)
	}
	if s.Queue == nil {
		s.Queue = []domain.QueueEntry{}
	}
	if err := json.Unmarshal(scratchRaw, &s.Scratch); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal scratch: %w", err)
	}
	return s, nil
}

func (r *SessionRepository) create(ctx context.Context, userID string) (domain.Session, error) {
	s := domain.NewSession(userID, r.now())
	_, err := r.db.ExecContext(ctx, `
INSERT INTO intake_sessions (user_id, state, queue, active_index, scratch, created_at, updated_at)
VALUES ($1, $2, '[]'::jsonb, $3, '{}'::jsonb, $4, $4)
ON CONFLICT (user_id) DO NOTHING
`, s.UserID, string(s.State), s.ActiveIndex, s.CreatedAt)
	if err != nil {
		return domain.Session{}, domain.WrapError(domain.ErrTemporary, "insert session", err)
	}
	return s, nil
}

// Update upserts the row; NULL parameters keep the stored column.
func (r *SessionRepository) Update(ctx context.Context, userID string, patch domain.SessionPatch) error {
	if strings.TrimSpace(userID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "update session", errors.New("user id is empty"))
	}
	if patch.Empty() {
		return nil
	}

	var state, queue, index, scratch any
	if patch.State != nil {
		state = string(*patch.State)
	}
	if patch.Queue != nil {
		entries := *patch.Queue
		if entries == nil {
			entries = []domain.QueueEntry{}
		}
		raw, err := json.Marshal(entries)
		if err != nil {
			return fmt.Errorf("marshal queue: %w", err)
		}
		queue = string(raw)
	}
	if patch.ActiveIndex != nil {
		index = int64(*patch.ActiveIndex)
	}
	if patch.Scratch != nil {
		raw, err := json.Marshal(patch.Scratch)
		if err != nil {
			return fmt.Errorf("marshal scratch: %w", err)
		}
		scratch = string(raw)
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO intake_sessions (user_id, state, queue, active_index, scratch, created_at, updated_at)
VALUES ($1, COALESCE($2, 'IDLE'), COALESCE($3::jsonb, '[]'::jsonb), COALESCE($4, -1), COALESCE($5::jsonb, '{}'::jsonb), $6, $6)
ON CONFLICT (user_id) DO UPDATE SET
	state = COALESCE($2, intake_sessions.state),
	queue = COALESCE($3::jsonb, intake_sessions.queue),
	active_index = COALESCE($4, intake_sessions.active_index),
	scratch = COALESCE($5::jsonb, intake_sessions.scratch),
	updated_at = $6
`, userID, state, queue, index, scratch, r.now())
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "update session", err)
	}
	return nil
}
