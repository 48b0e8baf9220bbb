package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/hpsync/internal/logging"
)

// EventHandler receives LMS notifications the sync reacts to.
type EventHandler interface {
	OnUserCreated(ctx context.Context, userID int64) error
	OnUserEnrolled(ctx context.Context, userID, courseID int64) error
}

var _ EventHandler = (*Service)(nil)

// OnUserCreated queues the promotion of the new user's pending rows when
// new-user sync is enabled.
func (s *Service) OnUserCreated(ctx context.Context, userID int64) error {
	settings, err := s.Settings(ctx)
	if err != nil {
		return err
	}
	if !settings.SyncNewUsersEnabled {
		return nil
	}
	if s.queue == nil {
		return ErrNoQueue
	}

	cmd := PromotePendingUserCommand{UserID: userID, ActorID: s.systemActorID}
	if err := s.queue.Enqueue(ctx, cmd); err != nil {
		return fmt.Errorf("enqueue promotion of user %d: %w", userID, err)
	}
	logging.FromContext(ctx).Info("pending user promotion queued", "user_id", userID)
	return nil
}

// PromotePendingUser binds a new user to every PENDING row declaring their
// identity and reconciles those rows synchronously. Rows are handled one by
// one; failures are logged and returned together after all rows were tried.
func (s *Service) PromotePendingUser(ctx context.Context, userID, actorID int64) error {
	user, err := s.dir.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user %d: %w", userID, err)
	}

	rows, err := s.store.PendingRowsFor(ctx, user)
	if err != nil {
		return fmt.Errorf("find pending rows for user %d: %w", userID, err)
	}

	log := logging.WithFields(ctx, "user_id", userID)
	var errs []error
	for _, row := range rows {
		if err := s.promoteRow(ctx, row, userID, actorID); err != nil {
			log.Error("failed to promote pending row", "row_id", row.ID, "import_id", row.ImportID, "error", err)
			errs = append(errs, err)
		}
	}

	log.Info("pending rows promoted", "rows", len(rows), "failed", len(errs))
	return errors.Join(errs...)
}

// promoteRow reconciles one pending row for its new user. When the
// reconcile fails the row returns to PENDING, so a retried promotion
// finds it again.
func (s *Service) promoteRow(ctx context.Context, row ImportRow, userID, actorID int64) error {
	if err := s.store.BindUser(ctx, row.ID, userID, actorID); err != nil {
		return fmt.Errorf("bind row %d: %w", row.ID, err)
	}
	if err := s.store.SetStatus(ctx, row.ID, StatusInited, actorID); err != nil {
		return fmt.Errorf("reset row %d: %w", row.ID, err)
	}

	res, err := s.RunImport(ctx, RunRequest{
		ImportID: row.ImportID,
		RowID:    row.ID,
		ActorID:  actorID,
	})
	if errors.Is(err, ErrImportNotFound) {
		// A concurrent run selected the row first and completes it.
		logging.FromContext(ctx).Info("pending row taken by another run", "row_id", row.ID)
		return s.appendHistory(ctx, row.ID, MsgPendingUserCreated, actorID)
	}
	if err == nil && res.Failed > 0 {
		err = fmt.Errorf("reconcile row %d failed", row.ID)
	}
	if err != nil {
		if serr := s.store.SetStatus(ctx, row.ID, StatusPending, actorID); serr != nil {
			logging.FromContext(ctx).Error("failed to restore pending status", "row_id", row.ID, "error", serr)
		}
		return err
	}

	if err := s.appendHistory(ctx, row.ID, MsgPendingUserCreated, actorID); err != nil {
		return err
	}
	if err := s.store.SetStatus(ctx, row.ID, StatusDone, actorID); err != nil {
		return fmt.Errorf("mark row %d done: %w", row.ID, err)
	}
	return nil
}

// OnUserEnrolled flushes the group joins that were waiting for the user to
// be enrolled in the course. Failures are logged and never returned.
func (s *Service) OnUserEnrolled(ctx context.Context, userID, courseID int64) error {
	log := logging.WithFields(ctx, "user_id", userID, "course_id", courseID)

	joins, err := s.store.DeferredJoinsFor(ctx, userID, courseID)
	if err != nil {
		log.Error("failed to load deferred group joins", "error", err)
		return nil
	}

	for _, join := range joins {
		if err := s.flushJoin(ctx, join); err != nil {
			log.Error("failed to flush deferred group join", "join_id", join.ID, "group_id", join.TargetGroupID, "error", err)
		}
	}
	if len(joins) > 0 {
		log.Info("deferred group joins flushed", "joins", len(joins))
	}
	return nil
}

func (s *Service) flushJoin(ctx context.Context, join DeferredGroupJoin) error {
	if err := s.dir.AddGroupMember(ctx, join.TargetGroupID, join.UserID); err != nil {
		return fmt.Errorf("add user %d to group %d: %w", join.UserID, join.TargetGroupID, err)
	}

	g, err := s.dir.GetCourseGroup(ctx, join.CourseID, join.TargetGroupID)
	if err != nil {
		return fmt.Errorf("get group %d: %w", join.TargetGroupID, err)
	}
	if err := s.appendHistory(ctx, join.OriginatingRowID, msgAddedGroup(g), s.systemActorID); err != nil {
		if !errors.Is(err, ErrRowNotFound) {
			return err
		}
		logging.FromContext(ctx).Warn("deferred join outlived its import row", "join_id", join.ID, "row_id", join.OriginatingRowID)
	}

	if err := s.store.DeleteDeferredJoin(ctx, join.ID); err != nil {
		return fmt.Errorf("delete deferred join %d: %w", join.ID, err)
	}
	return nil
}
