// Package persistence is the SQLite-backed task store.
//
// Every state change runs inside WithTx, which opens a serializable
// (BEGIN IMMEDIATE) transaction. Row updates are conditional on the row's
// version, so a write based on a stale read fails with task.ErrConflict
// instead of silently overwriting.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/cheezy/kanban/internal/task"
)

// Store defines the persistence interface for tasks, dependency edges and
// completion history.
type Store interface {
	// WithTx runs fn in one serializable transaction. The transaction commits
	// when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasks(ctx context.Context, boardID string) ([]*task.Task, error)
	Completions(ctx context.Context, taskID string) ([]task.CompletionRecord, error)
	// ListStale returns Doing tasks, across boards, whose claim expired or
	// whose blocking hook gate passed its deadline at now.
	ListStale(ctx context.Context, now time.Time) ([]*task.Task, error)

	Close() error
}

// Tx is the set of reads and writes available inside a transaction.
type Tx interface {
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasks(ctx context.Context, boardID string) ([]*task.Task, error)
	ListColumn(ctx context.Context, boardID string, col task.Column) ([]*task.Task, error)
	Children(ctx context.Context, parentID string) ([]*task.Task, error)

	NextIdentifier(ctx context.Context, boardID string, kind task.Kind) (string, error)
	MaxPosition(ctx context.Context, boardID string, col task.Column) (int, error)
	ShiftPositions(ctx context.Context, boardID string, col task.Column, from int, excludeID string) error

	InsertTask(ctx context.Context, t *task.Task) error
	UpdateTask(ctx context.Context, t *task.Task) error
	AddDependency(ctx context.Context, taskID, dependsOnID string) error
	RemoveDependency(ctx context.Context, taskID, dependsOnID string) error
	AppendCompletion(ctx context.Context, taskID string, rec *task.CompletionRecord) error
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// modernc.org/sqlite only honours pragmas passed as _pragma parameters.
	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)

	return open(ctx, db)
}

// NewMemoryStore creates an in-memory SQLite store for testing. Each call
// gets its own database.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_txlock=immediate", uuid.NewString())
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}
	// A shared-cache memory database reports SQLITE_LOCKED instead of waiting
	// when two connections write, so all access goes through one connection.
	db.SetMaxOpenConns(1)

	return open(ctx, db)
}

func open(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WithTx implements Store.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{q: tx}); err != nil {
		return classify(err)
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// GetTask implements Store.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*task.Task, error) {
	return (&sqlTx{q: s.db}).GetTask(ctx, id)
}

// ListTasks implements Store.
func (s *SQLiteStore) ListTasks(ctx context.Context, boardID string) ([]*task.Task, error) {
	return (&sqlTx{q: s.db}).ListTasks(ctx, boardID)
}

// Completions implements Store.
func (s *SQLiteStore) Completions(ctx context.Context, taskID string) ([]task.CompletionRecord, error) {
	return (&sqlTx{q: s.db}).completions(ctx, taskID)
}

// ListStale implements Store.
func (s *SQLiteStore) ListStale(ctx context.Context, now time.Time) ([]*task.Task, error) {
	n := toNanos(now)
	return (&sqlTx{q: s.db}).query(ctx, `
		WHERE column_name = ?
		AND ((claim_expires_at IS NOT NULL AND claim_expires_at <= ?)
			OR (pending_hook != '' AND pending_hook_deadline IS NOT NULL AND pending_hook_deadline < ?))
		ORDER BY board_id, position`, string(task.ColumnDoing), n, n)
}

// classify maps SQLite lock contention onto task.ErrConflict so callers
// retry it like a lost compare-and-set.
func classify(err error) error {
	if err == nil || errors.Is(err, task.ErrConflict) {
		return err
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%v: %w", err, task.ErrConflict)
		}
	}
	return err
}
