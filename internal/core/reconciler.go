package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/hpsync/internal/logging"
)

// Reconcile synchronizes the cohort and group memberships of one row's user.
//
// Membership changes are idempotent: a second run with the same flags adds
// and removes nothing, although history entries for enrolment checks and
// group adds are appended again.
func (s *Service) Reconcile(ctx context.Context, row ImportRow, removeOtherCohorts, removeOtherGroups bool, actorID int64) error {
	if row.UserID == 0 {
		return fmt.Errorf("row %d has no user", row.ID)
	}
	if row.CohortID == 0 {
		return fmt.Errorf("row %d has no cohort", row.ID)
	}

	if err := s.assignCohort(ctx, row, removeOtherCohorts, actorID); err != nil {
		return err
	}
	return s.assignGroups(ctx, row, removeOtherGroups, actorID)
}

func (s *Service) assignCohort(ctx context.Context, row ImportRow, removeOthers bool, actorID int64) error {
	added, err := s.dir.AddCohortMember(ctx, row.CohortID, row.UserID)
	if err != nil {
		return fmt.Errorf("add user %d to cohort %d: %w", row.UserID, row.CohortID, err)
	}
	if added {
		cohort, err := s.dir.GetCohort(ctx, row.CohortID)
		if err != nil {
			return fmt.Errorf("get cohort %d: %w", row.CohortID, err)
		}
		if err := s.appendHistory(ctx, row.ID, msgAddedCohort(cohort), actorID); err != nil {
			return err
		}
	}

	if !removeOthers {
		return nil
	}

	current, err := s.dir.ListUserCohorts(ctx, row.UserID)
	if err != nil {
		return fmt.Errorf("list cohorts of user %d: %w", row.UserID, err)
	}
	for _, cohort := range current {
		if cohort.ID == row.CohortID {
			continue
		}
		if err := s.dir.RemoveCohortMember(ctx, cohort.ID, row.UserID); err != nil {
			return fmt.Errorf("remove user %d from cohort %d: %w", row.UserID, cohort.ID, err)
		}
		if err := s.appendHistory(ctx, row.ID, msgRemovedCohort(cohort), actorID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) assignGroups(ctx context.Context, row ImportRow, removeOthers bool, actorID int64) error {
	tokens := splitGroupsCSV(row.GroupsCSV)
	if len(tokens) == 0 {
		return nil
	}

	targets, err := s.dir.FindSyncedGroups(ctx, row.CohortID, tokens)
	if err != nil {
		return fmt.Errorf("find synced groups for cohort %d: %w", row.CohortID, err)
	}

	if removeOthers && len(targets) > 0 {
		if err := s.removeUntargetedGroups(ctx, row, targets, actorID); err != nil {
			return err
		}
	}

	for _, g := range targets {
		enrolled, err := s.dir.IsEnrolled(ctx, g.CourseID, row.UserID)
		if err != nil {
			return fmt.Errorf("check enrolment of user %d in course %d: %w", row.UserID, g.CourseID, err)
		}

		if !enrolled {
			if err := s.appendHistory(ctx, row.ID, msgNotEnrolled(g), actorID); err != nil {
				return err
			}
			_, err := s.store.AddDeferredJoin(ctx, DeferredGroupJoin{
				CourseID:         g.CourseID,
				UserID:           row.UserID,
				TargetGroupID:    g.GroupID,
				OriginatingRowID: row.ID,
				CreatedByID:      actorID,
				CreatedAt:        s.now(),
			})
			if err != nil {
				return fmt.Errorf("defer join of group %d: %w", g.GroupID, err)
			}
			continue
		}

		if err := s.dir.AddGroupMember(ctx, g.GroupID, row.UserID); err != nil {
			return fmt.Errorf("add user %d to group %d: %w", row.UserID, g.GroupID, err)
		}
		if err := s.appendHistory(ctx, row.ID, msgAddedGroup(g), actorID); err != nil {
			return err
		}
	}
	return nil
}

// removeUntargetedGroups drops the user from groups of the targeted courses
// that are not themselves targeted.
func (s *Service) removeUntargetedGroups(ctx context.Context, row ImportRow, targets []CourseGroup, actorID int64) error {
	keep := make(map[int64]bool, len(targets))
	var courseIDs []int64
	seenCourse := make(map[int64]bool)
	for _, g := range targets {
		keep[g.GroupID] = true
		if !seenCourse[g.CourseID] {
			seenCourse[g.CourseID] = true
			courseIDs = append(courseIDs, g.CourseID)
		}
	}

	current, err := s.dir.ListUserGroups(ctx, row.UserID, courseIDs)
	if err != nil {
		return fmt.Errorf("list groups of user %d: %w", row.UserID, err)
	}
	for _, g := range current {
		if keep[g.GroupID] {
			continue
		}
		if err := s.dir.RemoveGroupMember(ctx, g.GroupID, row.UserID); err != nil {
			return fmt.Errorf("remove user %d from group %d: %w", row.UserID, g.GroupID, err)
		}
		if err := s.appendHistory(ctx, row.ID, msgRemovedGroup(g), actorID); err != nil {
			return err
		}
	}
	return nil
}

// executeReconcile is the task body of a ReconcileRowCommand: reconcile, then
// mark the row DONE. A failure is recorded on the row, which goes back to
// INITED so a later run can select it, and is returned so the queue can
// retry it.
func (s *Service) executeReconcile(ctx context.Context, cmd ReconcileRowCommand) error {
	row := cmd.Row
	log := logging.WithFields(ctx, "import_id", row.ImportID, "row_id", row.ID, "line", row.LineID)

	if err := s.Reconcile(ctx, row, cmd.RemoveOtherCohorts, cmd.RemoveOtherGroups, cmd.ActorID); err != nil {
		log.Error("reconcile failed", "error", err)
		if herr := s.appendHistory(ctx, row.ID, msgProcessingFailed(err), cmd.ActorID); herr != nil {
			log.Error("failed to record reconcile failure", "error", herr)
		}
		if serr := s.store.SetStatus(ctx, row.ID, StatusInited, cmd.ActorID); serr != nil {
			log.Error("failed to reset row status", "error", serr)
		}
		return err
	}

	if err := s.store.SetStatus(ctx, row.ID, StatusDone, cmd.ActorID); err != nil {
		return fmt.Errorf("mark row %d done: %w", row.ID, err)
	}
	if err := s.appendHistory(ctx, row.ID, MsgProcessingDone, cmd.ActorID); err != nil {
		return err
	}

	log.Debug("row reconciled")
	return nil
}

func splitGroupsCSV(csv string) []string {
	var tokens []string
	for _, t := range strings.Split(csv, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}
