package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cheezy/kanban/internal/task"
)

const taskColumns = `
	id, board_id, identifier, kind, title, description, priority, status,
	column_name, position, parent_id, required_capabilities,
	claimant_id, claimed_at, claim_expires_at,
	review_status, review_notes, reviewer_id, reviewed_at,
	completion, completed_at, completed_by,
	pending_hook, pending_hook_deadline, version, created_at, updated_at`

// sqlTx implements Tx over a *sql.Tx, or over the *sql.DB for the
// read-only Store methods.
type sqlTx struct {
	q querier
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t                                       task.Task
		parentID, claimantID, completion        sql.NullString
		claimedAt, expiresAt, reviewedAt        sql.NullInt64
		completedAt, hookDeadline               sql.NullInt64
		caps                                    string
		createdAt, updatedAt                    int64
		kind, priority, status, col, reviewStat string
	)
	err := row.Scan(
		&t.ID, &t.BoardID, &t.Identifier, &kind, &t.Title, &t.Description, &priority, &status,
		&col, &t.Position, &parentID, &caps,
		&claimantID, &claimedAt, &expiresAt,
		&reviewStat, &t.ReviewNotes, &t.ReviewerID, &reviewedAt,
		&completion, &completedAt, &t.CompletedBy,
		&t.PendingHook, &hookDeadline, &t.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Kind = task.Kind(kind)
	t.Priority = task.Priority(priority)
	t.Status = task.Status(status)
	t.Column = task.Column(col)
	t.ReviewStatus = task.ReviewStatus(reviewStat)
	t.ParentID = parentID.String
	t.CreatedAt = fromNanos(createdAt)
	t.UpdatedAt = fromNanos(updatedAt)
	t.ReviewedAt = nullTime(reviewedAt)
	t.CompletedAt = nullTime(completedAt)
	t.PendingHookDeadline = nullTime(hookDeadline)

	if err := json.Unmarshal([]byte(caps), &t.RequiredCapabilities); err != nil {
		return nil, fmt.Errorf("failed to decode capabilities of %s: %w", t.ID, err)
	}
	if claimantID.Valid && claimantID.String != "" {
		t.Claim = &task.Claim{
			ClaimantID: claimantID.String,
			ClaimedAt:  fromNanos(claimedAt.Int64),
			ExpiresAt:  fromNanos(expiresAt.Int64),
		}
	}
	if completion.Valid && completion.String != "" {
		var rec task.CompletionRecord
		if err := json.Unmarshal([]byte(completion.String), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode completion of %s: %w", t.ID, err)
		}
		t.CompletionRecord = &rec
	}
	return &t, nil
}

// GetTask retrieves a task by ID, including its dependencies.
func (x *sqlTx) GetTask(ctx context.Context, id string) (*task.Task, error) {
	t, err := scanTask(x.q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, task.NotFoundf("task %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	deps, err := x.dependencies(ctx, `WHERE task_id = ?`, id)
	if err != nil {
		return nil, err
	}
	t.Dependencies = deps[t.ID]
	return t, nil
}

// ListTasks returns all tasks of a board with their dependencies.
func (x *sqlTx) ListTasks(ctx context.Context, boardID string) ([]*task.Task, error) {
	tasks, err := x.query(ctx, `WHERE board_id = ? ORDER BY column_name, position`, boardID)
	if err != nil {
		return nil, err
	}
	deps, err := x.dependencies(ctx, `WHERE task_id IN (SELECT id FROM tasks WHERE board_id = ?)`, boardID)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		t.Dependencies = deps[t.ID]
	}
	return tasks, nil
}

// ListColumn returns the tasks of one column ordered by position.
func (x *sqlTx) ListColumn(ctx context.Context, boardID string, col task.Column) ([]*task.Task, error) {
	return x.query(ctx, `WHERE board_id = ? AND column_name = ? ORDER BY position`, boardID, string(col))
}

// Children returns the tasks whose parent is parentID.
func (x *sqlTx) Children(ctx context.Context, parentID string) ([]*task.Task, error) {
	return x.query(ctx, `WHERE parent_id = ? ORDER BY identifier`, parentID)
}

// query loads task rows without dependencies. Rows are fully drained before
// returning so the caller may issue further statements on the same connection.
func (x *sqlTx) query(ctx context.Context, where string, args ...any) ([]*task.Task, error) {
	rows, err := x.q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

func (x *sqlTx) dependencies(ctx context.Context, where string, args ...any) (map[string][]string, error) {
	rows, err := x.q.QueryContext(ctx, `SELECT task_id, depends_on_id FROM task_dependencies `+where+` ORDER BY task_id, ord`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	deps := make(map[string][]string)
	for rows.Next() {
		var taskID, depID string
		if err := rows.Scan(&taskID, &depID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps[taskID] = append(deps[taskID], depID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}
	return deps, nil
}

// NextIdentifier allocates the next per-board, per-kind identifier, e.g. W12.
func (x *sqlTx) NextIdentifier(ctx context.Context, boardID string, kind task.Kind) (string, error) {
	var next int
	err := x.q.QueryRowContext(ctx, `
		INSERT INTO identifier_sequences (board_id, kind, last_value)
		VALUES (?, ?, 1)
		ON CONFLICT(board_id, kind) DO UPDATE SET last_value = last_value + 1
		RETURNING last_value
	`, boardID, string(kind)).Scan(&next)
	if err != nil {
		return "", fmt.Errorf("failed to allocate identifier: %w", err)
	}
	return fmt.Sprintf("%s%d", kind.Prefix(), next), nil
}

// MaxPosition returns the highest position in a column, or 0 when it is empty.
func (x *sqlTx) MaxPosition(ctx context.Context, boardID string, col task.Column) (int, error) {
	var max sql.NullInt64
	err := x.q.QueryRowContext(ctx, `
		SELECT MAX(position) FROM tasks WHERE board_id = ? AND column_name = ?
	`, boardID, string(col)).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to query max position: %w", err)
	}
	return int(max.Int64), nil
}

// ShiftPositions moves every task in the column at or after from down by one,
// except excludeID. Shifted tasks get a new version so a copy read before the
// shift fails its compare-and-set.
func (x *sqlTx) ShiftPositions(ctx context.Context, boardID string, col task.Column, from int, excludeID string) error {
	_, err := x.q.ExecContext(ctx, `
		UPDATE tasks SET position = position + 1, version = version + 1
		WHERE board_id = ? AND column_name = ? AND position >= ? AND id != ?
	`, boardID, string(col), from, excludeID)
	if err != nil {
		return fmt.Errorf("failed to shift positions: %w", err)
	}
	return nil
}

// InsertTask stores a new task and its dependency edges. Version starts at 1.
func (x *sqlTx) InsertTask(ctx context.Context, t *task.Task) error {
	args, err := taskArgs(t)
	if err != nil {
		return err
	}
	t.Version = 1
	_, err = x.q.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, append([]any{t.ID}, append(args, t.Version, toNanos(t.CreatedAt), toNanos(t.UpdatedAt))...)...)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	for i, depID := range t.Dependencies {
		if err := x.insertEdge(ctx, t.ID, depID, i); err != nil {
			return err
		}
	}
	return nil
}

// UpdateTask writes t if the stored version still equals t.Version and bumps
// it. A mismatch returns task.ErrConflict. Dependency edges are not touched.
func (x *sqlTx) UpdateTask(ctx context.Context, t *task.Task) error {
	args, err := taskArgs(t)
	if err != nil {
		return err
	}
	res, err := x.q.ExecContext(ctx, `
		UPDATE tasks SET
			board_id = ?, identifier = ?, kind = ?, title = ?, description = ?, priority = ?, status = ?,
			column_name = ?, position = ?, parent_id = ?, required_capabilities = ?,
			claimant_id = ?, claimed_at = ?, claim_expires_at = ?,
			review_status = ?, review_notes = ?, reviewer_id = ?, reviewed_at = ?,
			completion = ?, completed_at = ?, completed_by = ?,
			pending_hook = ?, pending_hook_deadline = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, append(args, toNanos(t.UpdatedAt), t.ID, t.Version)...)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("task %s changed since version %d: %w", t.ID, t.Version, task.ErrConflict)
	}
	t.Version++
	return nil
}

// taskArgs returns the column values of t from board_id through
// pending_hook_deadline, in taskColumns order.
func taskArgs(t *task.Task) ([]any, error) {
	caps := t.RequiredCapabilities
	if caps == nil {
		caps = []string{}
	}
	capsJSON, err := json.Marshal(caps)
	if err != nil {
		return nil, fmt.Errorf("failed to encode capabilities: %w", err)
	}
	var completion sql.NullString
	if t.CompletionRecord != nil {
		b, err := json.Marshal(t.CompletionRecord)
		if err != nil {
			return nil, fmt.Errorf("failed to encode completion: %w", err)
		}
		completion = sql.NullString{String: string(b), Valid: true}
	}
	var claimant sql.NullString
	var claimedAt, expiresAt sql.NullInt64
	if t.Claim != nil {
		claimant = sql.NullString{String: t.Claim.ClaimantID, Valid: true}
		claimedAt = sql.NullInt64{Int64: toNanos(t.Claim.ClaimedAt), Valid: true}
		expiresAt = sql.NullInt64{Int64: toNanos(t.Claim.ExpiresAt), Valid: true}
	}
	return []any{
		t.BoardID, t.Identifier, string(t.Kind), t.Title, t.Description, string(t.Priority), string(t.Status),
		string(t.Column), t.Position, nullString(t.ParentID), string(capsJSON),
		claimant, claimedAt, expiresAt,
		string(t.ReviewStatus), t.ReviewNotes, t.ReviewerID, timeArg(t.ReviewedAt),
		completion, timeArg(t.CompletedAt), t.CompletedBy,
		t.PendingHook, timeArg(t.PendingHookDeadline),
	}, nil
}

// AddDependency records that taskID depends on dependsOnID, appended after
// any existing dependencies.
func (x *sqlTx) AddDependency(ctx context.Context, taskID, dependsOnID string) error {
	var ord int
	err := x.q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(ord) + 1, 0) FROM task_dependencies WHERE task_id = ?
	`, taskID).Scan(&ord)
	if err != nil {
		return fmt.Errorf("failed to query dependency order: %w", err)
	}
	return x.insertEdge(ctx, taskID, dependsOnID, ord)
}

func (x *sqlTx) insertEdge(ctx context.Context, taskID, dependsOnID string, ord int) error {
	var exists int
	err := x.q.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, dependsOnID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return task.NotFoundf("dependency task %s", dependsOnID)
	}
	if err != nil {
		return fmt.Errorf("failed to check dependency existence: %w", err)
	}
	_, err = x.q.ExecContext(ctx, `
		INSERT INTO task_dependencies (task_id, depends_on_id, ord)
		VALUES (?, ?, ?)
		ON CONFLICT(task_id, depends_on_id) DO NOTHING
	`, taskID, dependsOnID, ord)
	if err != nil {
		return fmt.Errorf("failed to insert dependency %s -> %s: %w", taskID, dependsOnID, err)
	}
	return nil
}

// RemoveDependency deletes one edge. Removing an absent edge is not found.
func (x *sqlTx) RemoveDependency(ctx context.Context, taskID, dependsOnID string) error {
	res, err := x.q.ExecContext(ctx, `
		DELETE FROM task_dependencies WHERE task_id = ? AND depends_on_id = ?
	`, taskID, dependsOnID)
	if err != nil {
		return fmt.Errorf("failed to delete dependency: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return task.NotFoundf("dependency %s -> %s", taskID, dependsOnID)
	}
	return nil
}

// AppendCompletion stores rec as the next completion sequence of taskID and
// sets rec.Sequence. Earlier records are never rewritten.
func (x *sqlTx) AppendCompletion(ctx context.Context, taskID string, rec *task.CompletionRecord) error {
	var seq int
	err := x.q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM completion_records WHERE task_id = ?
	`, taskID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("failed to query completion sequence: %w", err)
	}
	rec.Sequence = seq
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode completion: %w", err)
	}
	_, err = x.q.ExecContext(ctx, `
		INSERT INTO completion_records (task_id, seq, payload, submitted_at)
		VALUES (?, ?, ?, ?)
	`, taskID, seq, string(payload), toNanos(rec.SubmittedAt))
	if err != nil {
		return fmt.Errorf("failed to insert completion record: %w", err)
	}
	return nil
}

func (x *sqlTx) completions(ctx context.Context, taskID string) ([]task.CompletionRecord, error) {
	rows, err := x.q.QueryContext(ctx, `
		SELECT payload FROM completion_records WHERE task_id = ? ORDER BY seq
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query completion records: %w", err)
	}
	defer rows.Close()

	var recs []task.CompletionRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan completion record: %w", err)
		}
		var rec task.CompletionRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode completion record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating completion records: %w", err)
	}
	return recs, nil
}

func toNanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromNanos(v.Int64)
	return &t
}

func timeArg(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
