package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// One row per dispatched action
		`CREATE TABLE IF NOT EXISTS action_results (
			id TEXT PRIMARY KEY,
			mapping TEXT NOT NULL DEFAULT '',
			gesture TEXT NOT NULL DEFAULT '',
			hand TEXT NOT NULL DEFAULT '',
			entity_id TEXT NOT NULL DEFAULT '',
			service TEXT NOT NULL DEFAULT '',
			success INTEGER NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			error_kind TEXT NOT NULL DEFAULT '',
			status_code INTEGER NOT NULL DEFAULT 0,
			duration TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_action_results_created_at ON action_results(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
