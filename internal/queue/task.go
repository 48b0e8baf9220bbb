// Package queue runs deferred sync commands outside the request that
// created them.
//
// Commands are stored as tasks in a Repository. Workers claim a task under a
// lease, extend the lease with heartbeats while the command runs, and then
// complete, requeue or fail it. A task whose lease expires is claimable
// again, so a crashed worker never loses work.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/hpsync/internal/core"
)

// DefaultMaxAttempts is the number of times a task runs before it fails.
const DefaultMaxAttempts = 5

// ErrTaskNotFound is returned when a task id is unknown.
var ErrTaskNotFound = errors.New("task not found")

// Status is the lifecycle state of a task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Task is one queued command.
type Task struct {
	ID           uuid.UUID        `json:"id"`
	Kind         core.CommandKind `json:"kind"`
	Payload      []byte           `json:"payload"`
	Status       Status           `json:"status"`
	Attempts     int              `json:"attempts"`
	MaxAttempts  int              `json:"max_attempts"`
	ErrorMessage string           `json:"error_message,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Repository stores tasks.
type Repository interface {
	Enqueue(ctx context.Context, kind core.CommandKind, payload []byte, maxAttempts int) (uuid.UUID, error)
	// ClaimNext marks the oldest claimable task running and increments its
	// attempts. It returns nil when no task is available.
	ClaimNext(ctx context.Context, lease time.Duration) (*Task, error)
	Heartbeat(ctx context.Context, id uuid.UUID, lease time.Duration) error
	Complete(ctx context.Context, id uuid.UUID) error
	Requeue(ctx context.Context, id uuid.UUID, reason string) error
	Fail(ctx context.Context, id uuid.UUID, reason string) error
}

// Handler runs a decoded command.
type Handler func(ctx context.Context, cmd core.Command) error
