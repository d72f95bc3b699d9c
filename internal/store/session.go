package store

import (
	"database/sql"
	"errors"
	"time"
)

// Session outcomes.
const (
	OutcomeRunning   = "running"
	OutcomeCaptured  = "captured"
	OutcomeStopped   = "stopped"
	OutcomeExhausted = "exhausted"
)

// Session is one scanning run from Start to capture or stop.
type Session struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Outcome   string     `json:"outcome"`
}

// SessionRepository provides CRUD operations for sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Create inserts a new running session.
func (r *SessionRepository) Create(sess *Session) error {
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}
	if sess.Outcome == "" {
		sess.Outcome = OutcomeRunning
	}

	_, err := r.db.Exec(
		`INSERT INTO sessions (id, started_at, outcome) VALUES (?, ?, ?)`,
		sess.ID, sess.StartedAt, sess.Outcome,
	)
	return err
}

// Ensure creates the session if it is not archived yet.
func (r *SessionRepository) Ensure(id string, startedAt time.Time) error {
	_, err := r.db.Exec(
		`INSERT OR IGNORE INTO sessions (id, started_at, outcome) VALUES (?, ?, ?)`,
		id, startedAt, OutcomeRunning,
	)
	return err
}

// End records the outcome of a running session. Ending an unknown or
// already ended session returns ErrNotFound.
func (r *SessionRepository) End(id, outcome string) error {
	result, err := r.db.Exec(
		`UPDATE sessions SET ended_at = ?, outcome = ? WHERE id = ? AND outcome = ?`,
		time.Now(), outcome, id, OutcomeRunning,
	)
	if err != nil {
		return err
	}
	return affected(result)
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	sess := &Session{}
	var ended sql.NullTime

	err := r.db.QueryRow(
		`SELECT id, started_at, ended_at, outcome FROM sessions WHERE id = ?`,
		id,
	).Scan(&sess.ID, &sess.StartedAt, &ended, &sess.Outcome)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if ended.Valid {
		sess.EndedAt = &ended.Time
	}
	return sess, nil
}

// List retrieves the most recent sessions, newest first.
func (r *SessionRepository) List(limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(
		`SELECT id, started_at, ended_at, outcome
		 FROM sessions ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess := &Session{}
		var ended sql.NullTime
		if err := rows.Scan(&sess.ID, &sess.StartedAt, &ended, &sess.Outcome); err != nil {
			return nil, err
		}
		if ended.Valid {
			sess.EndedAt = &ended.Time
		}
		sessions = append(sessions, sess)
	}

	return sessions, rows.Err()
}

// Delete removes a session and everything recorded for it.
func (r *SessionRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return affected(result)
}
