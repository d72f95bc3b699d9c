package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayusman/cardsnap/internal/detector"
	"github.com/ayusman/cardsnap/internal/geometry"
)

// Capture is an archived card capture. CardJPEG and FaceJPEG are only
// populated by GetByID; List leaves them nil.
type Capture struct {
	ID         string               `json:"id"`
	SessionID  string               `json:"session_id"`
	CardJPEG   []byte               `json:"-"`
	FaceJPEG   []byte               `json:"-"`
	FaceBox    *detector.FaceBox    `json:"face_box,omitempty"`
	CardWidth  int                  `json:"card_width"`
	CardHeight int                  `json:"card_height"`
	Sharpness  float64              `json:"sharpness"`
	HasGlare   bool                 `json:"has_glare"`
	Rect       geometry.RotatedRect `json:"rect"`
	Attempts   int                  `json:"attempts"`
	CapturedAt time.Time            `json:"captured_at"`
}

// HasFace reports whether a face crop was archived.
func (c *Capture) HasFace() bool {
	return c.FaceBox != nil
}

// CaptureRepository provides CRUD operations for captures.
type CaptureRepository struct {
	db *sql.DB
}

// Captures returns the capture repository for this store.
func (s *Store) Captures() *CaptureRepository {
	return &CaptureRepository{db: s.db}
}

// Create inserts a capture. The session must exist.
func (r *CaptureRepository) Create(c *Capture) error {
	if len(c.CardJPEG) == 0 {
		return errors.New("capture has no card image")
	}
	if c.CapturedAt.IsZero() {
		c.CapturedAt = time.Now()
	}

	rect, err := json.Marshal(c.Rect)
	if err != nil {
		return fmt.Errorf("failed to encode rect: %w", err)
	}

	var faceBox, faceJPEG any
	if c.FaceBox != nil {
		b, err := json.Marshal(c.FaceBox)
		if err != nil {
			return fmt.Errorf("failed to encode face box: %w", err)
		}
		faceBox = string(b)
		faceJPEG = c.FaceJPEG
	}

	_, err = r.db.Exec(
		`INSERT INTO captures (id, session_id, card_jpeg, face_jpeg, face_box, card_width, card_height,
			sharpness, has_glare, rect, attempts, captured_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.CardJPEG, faceJPEG, faceBox, c.CardWidth, c.CardHeight,
		c.Sharpness, c.HasGlare, string(rect), c.Attempts, c.CapturedAt,
	)
	return err
}

// GetByID retrieves a capture including its images.
func (r *CaptureRepository) GetByID(id string) (*Capture, error) {
	c := &Capture{}
	var rect string
	var faceBox sql.NullString

	err := r.db.QueryRow(
		`SELECT id, session_id, card_jpeg, face_jpeg, face_box, card_width, card_height,
			sharpness, has_glare, rect, attempts, captured_at
		 FROM captures WHERE id = ?`,
		id,
	).Scan(&c.ID, &c.SessionID, &c.CardJPEG, &c.FaceJPEG, &faceBox, &c.CardWidth, &c.CardHeight,
		&c.Sharpness, &c.HasGlare, &rect, &c.Attempts, &c.CapturedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := decodeMeta(c, rect, faceBox); err != nil {
		return nil, err
	}
	return c, nil
}

// List retrieves capture metadata, newest first. A non-positive limit
// returns everything.
func (r *CaptureRepository) List(limit int) ([]*Capture, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(
		`SELECT id, session_id, face_box, card_width, card_height,
			sharpness, has_glare, rect, attempts, captured_at
		 FROM captures ORDER BY captured_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var captures []*Capture
	for rows.Next() {
		c := &Capture{}
		var rect string
		var faceBox sql.NullString

		err := rows.Scan(&c.ID, &c.SessionID, &faceBox, &c.CardWidth, &c.CardHeight,
			&c.Sharpness, &c.HasGlare, &rect, &c.Attempts, &c.CapturedAt)
		if err != nil {
			return nil, err
		}
		if err := decodeMeta(c, rect, faceBox); err != nil {
			return nil, err
		}
		captures = append(captures, c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return captures, nil
}

// Latest returns the most recent capture including its images.
func (r *CaptureRepository) Latest() (*Capture, error) {
	var id string
	err := r.db.QueryRow(`SELECT id FROM captures ORDER BY captured_at DESC LIMIT 1`).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r.GetByID(id)
}

// Delete removes a capture by its ID.
func (r *CaptureRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM captures WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return affected(result)
}

func decodeMeta(c *Capture, rect string, faceBox sql.NullString) error {
	if err := json.Unmarshal([]byte(rect), &c.Rect); err != nil {
		return fmt.Errorf("failed to decode rect: %w", err)
	}
	if faceBox.Valid {
		c.FaceBox = &detector.FaceBox{}
		if err := json.Unmarshal([]byte(faceBox.String), c.FaceBox); err != nil {
			return fmt.Errorf("failed to decode face box: %w", err)
		}
	}
	return nil
}
