package sqlite

import (
	"database/sql"
	"fmt"
)

// migration represents a single database migration
type migration struct {
	version int
	name    string
	up      string
}

// migrations is the ordered list of all database migrations.
// Each migration should be idempotent and safe to run multiple times.
var migrations = []migration{
	{
		version: 1,
		name:    "create_cache_records_table",
		up: `
			CREATE TABLE IF NOT EXISTS cache_records (
				url TEXT PRIMARY KEY,
				local_path TEXT NOT NULL,
				timestamp_ms INTEGER NOT NULL,
				size_bytes INTEGER NOT NULL,
				mime_type TEXT NOT NULL DEFAULT '',
				digest TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX IF NOT EXISTS idx_cache_records_timestamp
			ON cache_records(timestamp_ms);
		`,
	},
	{
		version: 2,
		name:    "create_posts_table",
		up: `
			CREATE TABLE IF NOT EXISTS posts (
				id TEXT PRIMARY KEY,
				author_id TEXT NOT NULL,
				book_id TEXT NOT NULL DEFAULT '',
				title TEXT NOT NULL,
				body TEXT NOT NULL,
				body_html TEXT NOT NULL DEFAULT '',
				snippet TEXT NOT NULL DEFAULT '',
				image_url TEXT NOT NULL DEFAULT '',
				comment_count INTEGER NOT NULL DEFAULT 0,
				sync_state TEXT NOT NULL,
				revision INTEGER NOT NULL DEFAULT 1,
				created_at_ms INTEGER NOT NULL,
				updated_at_ms INTEGER NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_posts_sync_state
			ON posts(sync_state)
			WHERE sync_state != 'synced';

			CREATE INDEX IF NOT EXISTS idx_posts_created_at
			ON posts(created_at_ms DESC);
		`,
	},
	{
		version: 3,
		name:    "create_comments_table",
		up: `
			CREATE TABLE IF NOT EXISTS comments (
				id TEXT PRIMARY KEY,
				post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
				author_id TEXT NOT NULL,
				content TEXT NOT NULL,
				sync_state TEXT NOT NULL,
				revision INTEGER NOT NULL DEFAULT 1,
				created_at_ms INTEGER NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_comments_sync_state
			ON comments(sync_state)
			WHERE sync_state != 'synced';

			CREATE INDEX IF NOT EXISTS idx_comments_post_created
			ON comments(post_id, created_at_ms);
		`,
	},
}

// runMigrations executes all pending migrations
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	currentVersion := 0
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return err
		}
	}

	return nil
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %d: %w", m.version, err)
	}

	if _, err := tx.Exec(m.up); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to execute migration %d (%s): %w", m.version, m.name, err)
	}

	_, err = tx.Exec(
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
		m.version,
		m.name,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record migration %d: %w", m.version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
	}
	return nil
}
