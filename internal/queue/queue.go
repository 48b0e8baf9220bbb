package queue

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/hpsync/internal/core"
	"github.com/JonMunkholm/hpsync/internal/logging"
)

// Queue places commands in a Repository.
type Queue struct {
	repo        Repository
	maxAttempts int
}

var _ core.Enqueuer = (*Queue)(nil)

// New creates a Queue. A non-positive maxAttempts uses DefaultMaxAttempts.
func New(repo Repository, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Queue{repo: repo, maxAttempts: maxAttempts}
}

func (q *Queue) Enqueue(ctx context.Context, cmd core.Command) error {
	kind, payload, err := core.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	id, err := q.repo.Enqueue(ctx, kind, payload, q.maxAttempts)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", kind, err)
	}
	logging.FromContext(ctx).Debug("task enqueued", "task_kind", kind, "task_id", id)
	return nil
}

// Inline runs every command as soon as it is enqueued, in the caller's
// goroutine. It serves deployments without a worker.
type Inline struct {
	handler Handler
}

var _ core.Enqueuer = (*Inline)(nil)

// NewInline creates an Inline queue. handler is usually Service.Execute.
func NewInline(handler Handler) *Inline {
	return &Inline{handler: handler}
}

// Enqueue round-trips cmd through its queue encoding before running it, so
// inline and durable execution see identical commands.
func (q *Inline) Enqueue(ctx context.Context, cmd core.Command) error {
	kind, payload, err := core.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	decoded, err := core.DecodeCommand(kind, payload)
	if err != nil {
		return err
	}
	if err := q.handler(ctx, decoded); err != nil {
		return fmt.Errorf("run %s: %w", kind, err)
	}
	return nil
}
