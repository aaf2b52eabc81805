package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
//
// Times are stored as unix nanoseconds. Positions are not constrained unique
// at the SQL level because shifting a column rewrites them one row at a time;
// the engine's per-column lock keeps them unique per (board, column).
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL,
		identifier TEXT NOT NULL,
		kind TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL,
		status TEXT NOT NULL,
		column_name TEXT NOT NULL,
		position INTEGER NOT NULL,
		parent_id TEXT REFERENCES tasks(id),
		required_capabilities TEXT NOT NULL DEFAULT '[]',
		claimant_id TEXT,
		claimed_at INTEGER,
		claim_expires_at INTEGER,
		review_status TEXT NOT NULL DEFAULT '',
		review_notes TEXT NOT NULL DEFAULT '',
		reviewer_id TEXT NOT NULL DEFAULT '',
		reviewed_at INTEGER,
		completion TEXT,
		completed_at INTEGER,
		completed_by TEXT NOT NULL DEFAULT '',
		pending_hook TEXT NOT NULL DEFAULT '',
		pending_hook_deadline INTEGER,
		version INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (board_id, identifier)
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_board_column
		ON tasks(board_id, column_name, position);

	CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_id);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		task_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		ord INTEGER NOT NULL,
		PRIMARY KEY (task_id, depends_on_id),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE,
		FOREIGN KEY (depends_on_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_dependencies_depends_on
		ON task_dependencies(depends_on_id);

	CREATE TABLE IF NOT EXISTS completion_records (
		task_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		payload TEXT NOT NULL,
		submitted_at INTEGER NOT NULL,
		PRIMARY KEY (task_id, seq),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS identifier_sequences (
		board_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		last_value INTEGER NOT NULL,
		PRIMARY KEY (board_id, kind)
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
