package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ayusman/cardsnap/internal/geometry"
)

// Attempt is one archived quality-gate evaluation.
type Attempt struct {
	ID        int64                `json:"id"`
	SessionID string               `json:"session_id"`
	Sharpness float64              `json:"sharpness"`
	HasGlare  bool                 `json:"has_glare"`
	Accepted  bool                 `json:"accepted"`
	Rect      geometry.RotatedRect `json:"rect"`
	CreatedAt time.Time            `json:"created_at"`
}

// AttemptRepository provides operations for attempts.
type AttemptRepository struct {
	db *sql.DB
}

// Attempts returns the attempt repository for this store.
func (s *Store) Attempts() *AttemptRepository {
	return &AttemptRepository{db: s.db}
}

// Create appends an attempt. The session must exist.
func (r *AttemptRepository) Create(a *Attempt) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	rect, err := json.Marshal(a.Rect)
	if err != nil {
		return fmt.Errorf("failed to encode rect: %w", err)
	}

	result, err := r.db.Exec(
		`INSERT INTO attempts (session_id, sharpness, has_glare, accepted, rect, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.SessionID, a.Sharpness, a.HasGlare, a.Accepted, string(rect), a.CreatedAt,
	)
	if err != nil {
		return err
	}

	a.ID, err = result.LastInsertId()
	return err
}

// ListBySession returns a session's attempts in the order they happened.
func (r *AttemptRepository) ListBySession(sessionID string) ([]*Attempt, error) {
	rows, err := r.db.Query(
		`SELECT id, session_id, sharpness, has_glare, accepted, rect, created_at
		 FROM attempts WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		a := &Attempt{}
		var rect string
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Sharpness, &a.HasGlare, &a.Accepted, &rect, &a.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(rect), &a.Rect); err != nil {
			return nil, fmt.Errorf("failed to decode rect: %w", err)
		}
		attempts = append(attempts, a)
	}

	return attempts, rows.Err()
}

// CountBySession returns how many attempts a session made.
func (r *AttemptRepository) CountBySession(sessionID string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM attempts WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}
