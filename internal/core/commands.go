package core

// commands.go defines the typed units of deferred work.
//
// A command is serialized to JSON when it is placed on the durable queue and
// decoded back by kind when a worker claims it. Service.Execute is the single
// entry point workers call.

import (
	"context"
	"encoding/json"
	"fmt"
)

// CommandKind names a command type on the queue.
type CommandKind string

const (
	KindReconcileRow       CommandKind = "reconcile_row"
	KindPromotePendingUser CommandKind = "promote_pending_user"
)

// Command is a unit of deferred work.
type Command interface {
	Kind() CommandKind
}

// ReconcileRowCommand synchronizes one import row.
type ReconcileRowCommand struct {
	Row                ImportRow `json:"row"`
	RemoveOtherCohorts bool      `json:"removecohorts"`
	RemoveOtherGroups  bool      `json:"removegroups"`
	ActorID            int64     `json:"actorid"`
}

func (ReconcileRowCommand) Kind() CommandKind { return KindReconcileRow }

// PromotePendingUserCommand binds a newly created user to their pending rows.
type PromotePendingUserCommand struct {
	UserID  int64 `json:"relateduserid"`
	ActorID int64 `json:"actorid"`
}

func (PromotePendingUserCommand) Kind() CommandKind { return KindPromotePendingUser }

// EncodeCommand serializes cmd for the queue.
func EncodeCommand(cmd Command) (CommandKind, []byte, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", cmd.Kind(), err)
	}
	return cmd.Kind(), payload, nil
}

// DecodeCommand restores a command from its queue representation.
func DecodeCommand(kind CommandKind, payload []byte) (Command, error) {
	switch kind {
	case KindReconcileRow:
		var cmd ReconcileRowCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return cmd, nil
	case KindPromotePendingUser:
		var cmd PromotePendingUserCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return cmd, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, kind)
}

// Execute runs a command. Workers call it for every claimed task.
func (s *Service) Execute(ctx context.Context, cmd Command) error {
	switch c := cmd.(type) {
	case ReconcileRowCommand:
		return s.executeReconcile(ctx, c)
	case *ReconcileRowCommand:
		return s.executeReconcile(ctx, *c)
	case PromotePendingUserCommand:
		return s.PromotePendingUser(ctx, c.UserID, c.ActorID)
	case *PromotePendingUserCommand:
		return s.PromotePendingUser(ctx, c.UserID, c.ActorID)
	}
	return fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
}
