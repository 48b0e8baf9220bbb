package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/hpsync/internal/core"
	"github.com/JonMunkholm/hpsync/internal/queue"
)

// TaskStore is the durable task queue, implemented on hps_tasks.
type TaskStore struct {
	db DBTX
}

var _ queue.Repository = (*TaskStore)(nil)

func NewTaskStore(db DBTX) *TaskStore {
	return &TaskStore{db: db}
}

func (s *TaskStore) Enqueue(ctx context.Context, kind core.CommandKind, payload []byte, maxAttempts int) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.db.Exec(ctx, `
		INSERT INTO hps_tasks (id, kind, payload, status, max_attempts)
		VALUES ($1, $2, $3, 'queued', $4)`,
		ToPgUUID(id), string(kind), payload, int32(maxAttempts))
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert task: %w", err)
	}
	return id, nil
}

// ClaimNext locks the oldest queued task, or a running task whose lease has
// expired, and marks it running under a new lease. Concurrent claimers skip
// locked rows, so a task is handed to one worker at a time.
func (s *TaskStore) ClaimNext(ctx context.Context, lease time.Duration) (*queue.Task, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE hps_tasks
		SET status = 'running',
		    attempts = attempts + 1,
		    heartbeat_at = NOW(),
		    lease_expires_at = NOW() + make_interval(secs => $1),
		    updated_at = NOW()
		WHERE id = (
			SELECT id FROM hps_tasks
			WHERE status = 'queued'
			   OR (status = 'running' AND lease_expires_at < NOW())
			ORDER BY created_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, kind, payload, status, attempts, max_attempts, error_message, created_at`,
		lease.Seconds())

	var (
		t        queue.Task
		id       pgtype.UUID
		kind     string
		status   string
		attempts int32
		maxTries int32
		errMsg   pgtype.Text
	)
	err := row.Scan(&id, &kind, &t.Payload, &status, &attempts, &maxTries, &errMsg, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}

	t.ID = uuid.UUID(id.Bytes)
	t.Kind = core.CommandKind(kind)
	t.Status = queue.Status(status)
	t.Attempts = int(attempts)
	t.MaxAttempts = int(maxTries)
	t.ErrorMessage = FromPgText(errMsg)
	return &t, nil
}

func (s *TaskStore) Heartbeat(ctx context.Context, id uuid.UUID, lease time.Duration) error {
	return s.update(ctx, "heartbeat", id, `
		UPDATE hps_tasks
		SET heartbeat_at = NOW(),
		    lease_expires_at = NOW() + make_interval(secs => $2),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'running'`, lease.Seconds())
}

func (s *TaskStore) Complete(ctx context.Context, id uuid.UUID) error {
	return s.update(ctx, "complete", id, `
		UPDATE hps_tasks
		SET status = 'succeeded',
		    error_message = NULL,
		    lease_expires_at = NULL,
		    finished_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1`)
}

func (s *TaskStore) Requeue(ctx context.Context, id uuid.UUID, reason string) error {
	return s.update(ctx, "requeue", id, `
		UPDATE hps_tasks
		SET status = 'queued',
		    error_message = $2,
		    lease_expires_at = NULL,
		    updated_at = NOW()
		WHERE id = $1`, ToPgText(reason))
}

func (s *TaskStore) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	return s.update(ctx, "fail", id, `
		UPDATE hps_tasks
		SET status = 'failed',
		    error_message = $2,
		    lease_expires_at = NULL,
		    finished_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1`, ToPgText(reason))
}

// CountByStatus returns the number of tasks in each status.
func (s *TaskStore) CountByStatus(ctx context.Context) (map[queue.Status]int, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM hps_tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	out := make(map[queue.Status]int)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[queue.Status(status)] = int(n)
	}
	return out, rows.Err()
}

func (s *TaskStore) update(ctx context.Context, op string, id uuid.UUID, query string, args ...any) error {
	tag, err := s.db.Exec(ctx, query, append([]any{ToPgUUID(id)}, args...)...)
	if err != nil {
		return fmt.Errorf("%s task %s: %w", op, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s task %s: %w", op, id, queue.ErrTaskNotFound)
	}
	return nil
}
