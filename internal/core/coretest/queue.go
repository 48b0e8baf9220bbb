package coretest

import (
	"context"
	"sync"

	"github.com/JonMunkholm/hpsync/internal/core"
)

// Queue records enqueued commands without running them.
type Queue struct {
	mu       sync.Mutex
	commands []core.Command

	// Err, when set, is returned by Enqueue.
	Err error
}

var _ core.Enqueuer = (*Queue)(nil)

func (q *Queue) Enqueue(_ context.Context, cmd core.Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return q.Err
	}
	q.commands = append(q.commands, cmd)
	return nil
}

// Commands returns the commands enqueued so far.
func (q *Queue) Commands() []core.Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]core.Command(nil), q.commands...)
}

// Drain runs and removes every queued command in order, including commands
// enqueued while draining. It stops at the first error.
func (q *Queue) Drain(ctx context.Context, exec func(context.Context, core.Command) error) error {
	for {
		q.mu.Lock()
		if len(q.commands) == 0 {
			q.mu.Unlock()
			return nil
		}
		cmd := q.commands[0]
		q.commands = q.commands[1:]
		q.mu.Unlock()

		if err := exec(ctx, cmd); err != nil {
			return err
		}
	}
}
