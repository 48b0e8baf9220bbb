package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/hpsync/internal/core"
)

// MemoryRepository keeps tasks in process memory. Tasks do not survive a
// restart.
type MemoryRepository struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*memTask
	seq   int64
	now   func() time.Time
}

type memTask struct {
	Task
	seq        int64
	leaseUntil time.Time
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tasks: make(map[uuid.UUID]*memTask),
		now:   time.Now,
	}
}

func (r *MemoryRepository) Enqueue(_ context.Context, kind core.CommandKind, payload []byte, maxAttempts int) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New()
	r.seq++
	r.tasks[id] = &memTask{seq: r.seq, Task: Task{
		ID:          id,
		Kind:        kind,
		Payload:     append([]byte(nil), payload...),
		Status:      StatusQueued,
		MaxAttempts: maxAttempts,
		CreatedAt:   r.now(),
	}}
	return id, nil
}

func (r *MemoryRepository) ClaimNext(_ context.Context, lease time.Duration) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var next *memTask
	for _, t := range r.tasks {
		claimable := t.Status == StatusQueued || (t.Status == StatusRunning && now.After(t.leaseUntil))
		if !claimable {
			continue
		}
		if next == nil || t.seq < next.seq {
			next = t
		}
	}
	if next == nil {
		return nil, nil
	}

	next.Status = StatusRunning
	next.Attempts++
	next.leaseUntil = now.Add(lease)
	claimed := next.Task
	return &claimed, nil
}

func (r *MemoryRepository) Heartbeat(_ context.Context, id uuid.UUID, lease time.Duration) error {
	return r.update(id, func(t *memTask) {
		t.leaseUntil = r.now().Add(lease)
	})
}

func (r *MemoryRepository) Complete(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(t *memTask) {
		t.Status = StatusSucceeded
		t.ErrorMessage = ""
	})
}

func (r *MemoryRepository) Requeue(_ context.Context, id uuid.UUID, reason string) error {
	return r.update(id, func(t *memTask) {
		t.Status = StatusQueued
		t.ErrorMessage = reason
		t.leaseUntil = time.Time{}
	})
}

func (r *MemoryRepository) Fail(_ context.Context, id uuid.UUID, reason string) error {
	return r.update(id, func(t *memTask) {
		t.Status = StatusFailed
		t.ErrorMessage = reason
	})
}

// Tasks returns a snapshot of every task, oldest first.
func (r *MemoryRepository) Tasks() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	ordered := make([]*memTask, 0, len(r.tasks))
	for _, t := range r.tasks {
		ordered = append(ordered, t)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })

	out := make([]Task, len(ordered))
	for i, t := range ordered {
		out[i] = t.Task
	}
	return out
}

func (r *MemoryRepository) update(id uuid.UUID, fn func(*memTask)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	fn(t)
	return nil
}
