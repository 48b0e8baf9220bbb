package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/hpsync/internal/core"
)

// Store implements core.Store and core.SettingsStore on Postgres.
type Store struct {
	pool *pgxpool.Pool
	q    *Queries
}

var (
	_ core.Store         = (*Store)(nil)
	_ core.SettingsStore = (*Store)(nil)
)

// NewStore creates a Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, q: New(pool)}
}

func (s *Store) NextImportID(ctx context.Context) (int64, error) {
	id, err := s.q.NextImportID(ctx)
	if err != nil {
		return 0, fmt.Errorf("next import id: %w", err)
	}
	return id, nil
}

// InsertRows writes rows with COPY inside one transaction.
func (s *Store) InsertRows(ctx context.Context, rows []core.ImportRow) error {
	if len(rows) == 0 {
		return nil
	}

	values, err := copyRowValues(rows, time.Now())
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"hps_log"}, logCopyColumns, pgx.CopyFromRows(values))
	if err != nil {
		return fmt.Errorf("copy import rows: %w", err)
	}
	if n != int64(len(rows)) {
		return fmt.Errorf("copy import rows: wrote %d of %d", n, len(rows))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) CreateBatch(ctx context.Context, batch core.ImportBatch) error {
	if err := s.q.UpsertImportInfo(ctx, batch); err != nil {
		return fmt.Errorf("create batch %d: %w", batch.ImportID, err)
	}
	return nil
}

func (s *Store) GetRow(ctx context.Context, rowID int64) (core.ImportRow, error) {
	row, err := s.q.GetLogRow(ctx, rowID)
	if errors.Is(err, pgx.ErrNoRows) {
		return row, fmt.Errorf("%w: %d", core.ErrRowNotFound, rowID)
	}
	if err != nil {
		return row, fmt.Errorf("get row %d: %w", rowID, err)
	}
	return row, nil
}

func (s *Store) RowsByStatus(ctx context.Context, importID int64, status core.Status, rowID int64) ([]core.ImportRow, error) {
	rows, err := s.q.ListLogRowsByStatus(ctx, ListLogRowsByStatusParams{
		ImportID: importID,
		Status:   int32(status),
		RowID:    rowID,
	})
	if err != nil {
		return nil, fmt.Errorf("list rows of import %d: %w", importID, err)
	}
	return rows, nil
}

func (s *Store) PendingRowsFor(ctx context.Context, user core.User) ([]core.ImportRow, error) {
	rows, err := s.q.ListPendingRowsForUser(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("list pending rows for user %d: %w", user.ID, err)
	}
	return rows, nil
}

func (s *Store) AppendHistory(ctx context.Context, rowID int64, entry core.HistoryEntry, actorID int64) error {
	n, err := s.q.AppendLogHistory(ctx, AppendLogHistoryParams{
		ID:        rowID,
		Timestamp: entry.Timestamp,
		Info:      entry.Info,
		ActorID:   actorID,
	})
	return rowUpdateResult("append history", rowID, n, err)
}

func (s *Store) SetStatus(ctx context.Context, rowID int64, status core.Status, actorID int64) error {
	n, err := s.q.UpdateLogStatus(ctx, rowID, int32(status), actorID)
	return rowUpdateResult("set status", rowID, n, err)
}

func (s *Store) BindUser(ctx context.Context, rowID, userID int64, actorID int64) error {
	n, err := s.q.UpdateLogUser(ctx, rowID, userID, actorID)
	return rowUpdateResult("bind user", rowID, n, err)
}

func rowUpdateResult(op string, rowID, affected int64, err error) error {
	if err != nil {
		return fmt.Errorf("%s on row %d: %w", op, rowID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w: %d", op, core.ErrRowNotFound, rowID)
	}
	return nil
}

func (s *Store) AddDeferredJoin(ctx context.Context, join core.DeferredGroupJoin) (bool, error) {
	created, err := s.q.InsertGroupJoin(ctx, join)
	if err != nil {
		return false, fmt.Errorf("add deferred join: %w", err)
	}
	return created, nil
}

func (s *Store) DeferredJoinsFor(ctx context.Context, userID, courseID int64) ([]core.DeferredGroupJoin, error) {
	joins, err := s.q.ListGroupJoins(ctx, userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("list deferred joins: %w", err)
	}
	return joins, nil
}

func (s *Store) DeleteDeferredJoin(ctx context.Context, id int64) error {
	if err := s.q.DeleteGroupJoin(ctx, id); err != nil {
		return fmt.Errorf("delete deferred join %d: %w", id, err)
	}
	return nil
}

func (s *Store) UnprocessedImports(ctx context.Context) ([]core.UnprocessedImport, error) {
	out, err := s.q.ListUnprocessedImports(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed imports: %w", err)
	}
	return out, nil
}

func (s *Store) StatusCounts(ctx context.Context) ([]core.StatusCount, error) {
	out, err := s.q.CountLogByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count rows by status: %w", err)
	}
	return out, nil
}

func (s *Store) LatestRows(ctx context.Context) ([]core.ImportRow, error) {
	out, err := s.q.ListLatestLogRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("list latest rows: %w", err)
	}
	return out, nil
}

func (s *Store) Batches(ctx context.Context) ([]core.ImportBatch, error) {
	out, err := s.q.ListImportInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return out, nil
}

func (s *Store) QueryLog(ctx context.Context, filter core.LogFilter) ([]core.ImportRow, int, error) {
	return s.q.QueryLog(ctx, filter)
}

func (s *Store) PurgeAll(ctx context.Context) (int64, error) {
	return s.purge(ctx, false)
}

func (s *Store) PurgeAllButLatest(ctx context.Context) (int64, error) {
	return s.purge(ctx, true)
}

func (s *Store) purge(ctx context.Context, keepLatest bool) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	q := s.q.WithTx(tx)

	var keep int64
	if keepLatest {
		if keep, err = q.LatestImportID(ctx); err != nil {
			return 0, fmt.Errorf("latest import id: %w", err)
		}
	}

	n, err := q.DeleteImportsExcept(ctx, keep)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return n, nil
}

func (s *Store) GetSettings(ctx context.Context) (map[string]string, error) {
	values, err := s.q.ListSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return values, nil
}

func (s *Store) SetSetting(ctx context.Context, name, value string) error {
	if err := s.q.UpsertSetting(ctx, name, value); err != nil {
		return fmt.Errorf("save setting %s: %w", name, err)
	}
	return nil
}
