package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/listwatch/listwatch/internal/monitor"
)

// leaseNextSQL picks one pending task of an enabled group and leases it in a
// single atomic statement. SKIP LOCKED keeps concurrent workers from blocking
// on each other's candidate rows; least-served tasks go first so every group
// makes progress.
const leaseNextSQL = `
WITH next_task AS (
    SELECT t.id
    FROM tasks t
    JOIN groups g ON g.name = t.group_name
    WHERE t.status = 'pending' AND g.enabled
    ORDER BY t.success_count ASC, t.created_at ASC
    LIMIT 1
    FOR UPDATE OF t SKIP LOCKED
)
UPDATE tasks
SET status = 'in_progress', locked_by = $1, locked_at = now()
FROM next_task, groups g
WHERE tasks.id = next_task.id AND g.name = tasks.group_name
RETURNING tasks.id, tasks.group_name, tasks.url, tasks.search_query,
    tasks.status, tasks.attempts, tasks.success_count, tasks.created_at,
    g.scope, g.destinations, g.min_price, g.max_price`

// TaskStore implements monitor.TaskBacklog on Postgres.
type TaskStore struct {
	pool        Pool
	maxAttempts int
}

// NewTaskStore builds a task store over an existing pool. maxAttempts is the
// retry ceiling baked into the counting-retry statement.
func NewTaskStore(pool Pool, maxAttempts int) (*TaskStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if maxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be positive, got %d", maxAttempts)
	}
	return &TaskStore{pool: pool, maxAttempts: maxAttempts}, nil
}

// LeaseNext leases the most eligible pending task for holder. Returns
// (nil, nil) when no task is eligible.
func (s *TaskStore) LeaseNext(ctx context.Context, holder string) (*monitor.Task, error) {
	if holder == "" {
		return nil, fmt.Errorf("holder is required")
	}
	var t monitor.Task
	err := s.pool.QueryRow(ctx, leaseNextSQL, holder).Scan(
		&t.ID, &t.GroupName, &t.URL, &t.SearchQuery,
		&t.Status, &t.Attempts, &t.SuccessCount, &t.CreatedAt,
		&t.Scope, &t.Destinations, &t.MinPrice, &t.MaxPrice,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease task: %w", err)
	}
	return &t, nil
}

// Complete marks the task completed and clears the lease. The cooldown sweep
// in RecycleCompleted returns it to pending later.
func (s *TaskStore) Complete(ctx context.Context, taskID int64, holder string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE tasks
SET status = 'completed', attempts = 0, success_count = success_count + 1,
    completed_at = now(), locked_by = NULL, locked_at = NULL
WHERE id = $1 AND locked_by = $2`, taskID, holder)
	if err != nil {
		return fmt.Errorf("complete task %d: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return monitor.ErrLeaseConflict
	}
	return nil
}

// Retry returns the task to pending and consumes one attempt; the row flips
// to failed in the same statement once the ceiling is reached.
func (s *TaskStore) Retry(ctx context.Context, taskID int64, holder string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE tasks
SET attempts = attempts + 1,
    status = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE 'pending' END,
    locked_by = NULL, locked_at = NULL
WHERE id = $1 AND locked_by = $2`, taskID, holder, s.maxAttempts)
	if err != nil {
		return fmt.Errorf("retry task %d: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return monitor.ErrLeaseConflict
	}
	return nil
}

// RetryNoCount returns the task to pending without touching the attempt
// counter. Used for proxy-class faults, which are not the task's fault.
func (s *TaskStore) RetryNoCount(ctx context.Context, taskID int64, holder string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE tasks
SET status = 'pending', locked_by = NULL, locked_at = NULL
WHERE id = $1 AND locked_by = $2`, taskID, holder)
	if err != nil {
		return fmt.Errorf("retry task %d without count: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return monitor.ErrLeaseConflict
	}
	return nil
}

// Fail marks the task failed regardless of remaining budget.
func (s *TaskStore) Fail(ctx context.Context, taskID int64, holder string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE tasks
SET status = 'failed', attempts = attempts + 1,
    locked_by = NULL, locked_at = NULL
WHERE id = $1 AND locked_by = $2`, taskID, holder)
	if err != nil {
		return fmt.Errorf("fail task %d: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return monitor.ErrLeaseConflict
	}
	return nil
}

// Release clears the lease and returns the task to pending. Releasing a task
// the holder does not hold is a no-op, so shutdown paths can call it blindly.
func (s *TaskStore) Release(ctx context.Context, taskID int64, holder string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE tasks
SET status = 'pending', locked_by = NULL, locked_at = NULL
WHERE id = $1 AND locked_by = $2 AND status = 'in_progress'`, taskID, holder)
	if err != nil {
		return fmt.Errorf("release task %d: %w", taskID, err)
	}
	return nil
}

// ReclaimExpired clears leases older than maxAge without touching status,
// making crashed workers' rows leasable again.
func (s *TaskStore) ReclaimExpired(ctx context.Context, maxAgeSeconds int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE tasks
SET locked_by = NULL, locked_at = NULL
WHERE locked_at IS NOT NULL AND locked_at < now() - make_interval(secs => $1)`, maxAgeSeconds)
	if err != nil {
		return 0, fmt.Errorf("reclaim tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RepairOrphaned returns in-progress tasks with no holder to pending. Such
// rows only exist after a reclaim cleared a stale lease mid-flight.
func (s *TaskStore) RepairOrphaned(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE tasks
SET status = 'pending'
WHERE status = 'in_progress' AND locked_by IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("repair orphaned tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RecycleCompleted returns completed tasks to pending once the cooldown has
// passed, making each target a recurring fetch.
func (s *TaskStore) RecycleCompleted(ctx context.Context, cooldownSeconds int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE tasks
SET status = 'pending', completed_at = NULL
WHERE status = 'completed' AND completed_at < now() - make_interval(secs => $1)`, cooldownSeconds)
	if err != nil {
		return 0, fmt.Errorf("recycle completed tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ResetFailed returns every failed task to pending with a fresh attempt
// budget. Operator action, not part of the automatic lifecycle.
func (s *TaskStore) ResetFailed(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE tasks
SET status = 'pending', attempts = 0
WHERE status = 'failed'`)
	if err != nil {
		return 0, fmt.Errorf("reset failed tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertTasks adds fetch targets for a group, skipping duplicates.
func (s *TaskStore) InsertTasks(ctx context.Context, group string, urls []string, searchQuery string) (int64, error) {
	if group == "" {
		return 0, fmt.Errorf("group is required")
	}
	tag, err := s.pool.Exec(ctx, `
INSERT INTO tasks (group_name, url, search_query)
SELECT $1, unnest($2::text[]), $3
ON CONFLICT (group_name, url) DO NOTHING`, group, urls, searchQuery)
	if err != nil {
		return 0, fmt.Errorf("insert tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountByStatus reports how many tasks sit in each lifecycle state.
func (s *TaskStore) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	return counts, nil
}
