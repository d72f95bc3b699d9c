package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// One row per Start; outcome is filled in when the session ends.
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			outcome TEXT NOT NULL DEFAULT 'running'
				CHECK(outcome IN ('running', 'captured', 'stopped', 'exhausted'))
		)`,

		// Quality-gate evaluations of armed frames
		`CREATE TABLE IF NOT EXISTS attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			sharpness REAL NOT NULL,
			has_glare INTEGER NOT NULL,
			accepted INTEGER NOT NULL,
			rect TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL
		)`,

		// Final captures with encoded card and optional face crops
		`CREATE TABLE IF NOT EXISTS captures (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			card_jpeg BLOB NOT NULL,
			face_jpeg BLOB,
			face_box TEXT,
			card_width INTEGER NOT NULL,
			card_height INTEGER NOT NULL,
			sharpness REAL NOT NULL,
			has_glare INTEGER NOT NULL,
			rect TEXT NOT NULL DEFAULT '{}',
			attempts INTEGER NOT NULL DEFAULT 0,
			captured_at DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_attempts_session_id ON attempts(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_captures_session_id ON captures(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_captures_captured_at ON captures(captured_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
