package core

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/hpsync/internal/logging"
)

// RunRequest selects the rows of an import to reconcile.
type RunRequest struct {
	ImportID           int64
	RemoveOtherCohorts bool
	RemoveOtherGroups  bool

	// Deferred places one command per row on the queue instead of
	// reconciling on the calling goroutine.
	Deferred bool

	// RowID narrows the run to a single row when non-zero.
	RowID int64

	ActorID int64
}

// RunResult counts what a run did with the selected rows.
type RunResult struct {
	Selected   int `json:"selected"`
	Dispatched int `json:"dispatched"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// RunImport reconciles the INITED rows of an import. A failure on one row is
// logged and counted, never stopping the remaining rows.
func (s *Service) RunImport(ctx context.Context, req RunRequest) (RunResult, error) {
	var result RunResult

	if req.Deferred && s.queue == nil {
		return result, ErrNoQueue
	}

	rows, err := s.store.RowsByStatus(ctx, req.ImportID, StatusInited, req.RowID)
	if err != nil {
		return result, fmt.Errorf("select rows of import %d: %w", req.ImportID, err)
	}
	if len(rows) == 0 {
		return result, fmt.Errorf("%w: %d", ErrImportNotFound, req.ImportID)
	}
	result.Selected = len(rows)

	log := logging.WithFields(ctx, "import_id", req.ImportID, "deferred", req.Deferred)
	log.Info("run started", "rows", len(rows))

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if row.UserID == 0 {
			result.Skipped++
			continue
		}

		if err := s.appendHistory(ctx, row.ID, MsgProcessingStart, req.ActorID); err != nil {
			log.Error("failed to start row", "row_id", row.ID, "error", err)
			result.Failed++
			continue
		}

		cmd := ReconcileRowCommand{
			Row:                row,
			RemoveOtherCohorts: req.RemoveOtherCohorts,
			RemoveOtherGroups:  req.RemoveOtherGroups,
			ActorID:            req.ActorID,
		}

		if req.Deferred {
			if err := s.enqueueRow(ctx, cmd); err != nil {
				log.Error("failed to enqueue row", "row_id", row.ID, "error", err)
				result.Failed++
				continue
			}
		} else if err := s.executeReconcile(ctx, cmd); err != nil {
			result.Failed++
			continue
		}
		result.Dispatched++
	}

	log.Info("run completed",
		"dispatched", result.Dispatched,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}

// enqueueRow marks the row PROCESSING before handing it to the queue so a
// concurrent run does not pick it up again. The mark is undone when the
// queue rejects the command.
func (s *Service) enqueueRow(ctx context.Context, cmd ReconcileRowCommand) error {
	if err := s.store.SetStatus(ctx, cmd.Row.ID, StatusProcessing, cmd.ActorID); err != nil {
		return fmt.Errorf("mark row %d processing: %w", cmd.Row.ID, err)
	}
	if err := s.queue.Enqueue(ctx, cmd); err != nil {
		if rerr := s.store.SetStatus(ctx, cmd.Row.ID, StatusInited, cmd.ActorID); rerr != nil {
			logging.FromContext(ctx).Error("failed to reset row status", "row_id", cmd.Row.ID, "error", rerr)
		}
		return err
	}
	return nil
}

// RunUnprocessed dispatches every import that still has INITED rows.
func (s *Service) RunUnprocessed(ctx context.Context, req RunRequest) (map[int64]RunResult, error) {
	imports, err := s.store.UnprocessedImports(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed imports: %w", err)
	}

	results := make(map[int64]RunResult, len(imports))
	for _, imp := range imports {
		r := req
		r.ImportID = imp.ImportID
		r.RowID = 0
		res, err := s.RunImport(ctx, r)
		if err != nil {
			logging.FromContext(ctx).Error("run failed", "import_id", imp.ImportID, "error", err)
		}
		results[imp.ImportID] = res
	}
	return results, nil
}
