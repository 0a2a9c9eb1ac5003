package postgres

import (
	"context"

	"ktrdr/internal/storage"
)

// sessionDDL creates the training_sessions table. Idempotent.
const sessionDDL = `
	CREATE TABLE IF NOT EXISTS training_sessions (
		session_id    TEXT PRIMARY KEY,
		strategy_name TEXT NOT NULL,
		status        TEXT NOT NULL,
		progress      DOUBLE PRECISION NOT NULL DEFAULT 0,
		result_json   JSONB,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

// Migrate creates the session table if it does not exist.
func Migrate(ctx context.Context, pool *Pool) error {
	_, err := pool.Exec(ctx, sessionDDL)
	return err
}

// SessionStore is a PostgreSQL implementation of storage.SessionStore.
type SessionStore struct {
	pool *Pool
}

// NewSessionStore creates a new PostgreSQL session store.
func NewSessionStore(pool *Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SessionStore = (*SessionStore)(nil)

// Create adds a new session.
func (s *SessionStore) Create(ctx context.Context, sess *storage.Session) error {
	if sess == nil || sess.SessionID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO training_sessions (session_id, strategy_name, status, progress)
		VALUES ($1, $2, $3, $4)
	`, sess.SessionID, sess.StrategyName, sess.Status, sess.Progress)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return err
	}
	return nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*storage.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, strategy_name, status, progress, result_json, created_at, updated_at
		FROM training_sessions
		WHERE session_id = $1
	`, sessionID)

	var sess storage.Session
	err := row.Scan(&sess.SessionID, &sess.StrategyName, &sess.Status, &sess.Progress,
		&sess.ResultJSON, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

// UpdateStatus sets status and progress. A cancelled session keeps its
// status: progress updates racing a cancel must not revive the run.
func (s *SessionStore) UpdateStatus(ctx context.Context, sessionID, status string, progress float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE training_sessions
		SET status = CASE WHEN status = 'cancelled' THEN status ELSE $2 END,
		    progress = $3, updated_at = NOW()
		WHERE session_id = $1
	`, sessionID, status, progress)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// StoreResult attaches the final result payload verbatim.
func (s *SessionStore) StoreResult(ctx context.Context, sessionID, status string, resultJSON []byte) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE training_sessions
		SET status = $2, result_json = $3, updated_at = NOW()
		WHERE session_id = $1
	`, sessionID, status, resultJSON)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
