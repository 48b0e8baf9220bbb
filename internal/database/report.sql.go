package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/hpsync/internal/core"
)

const listUnprocessedImports = `-- name: ListUnprocessedImports :many
SELECT importid, MIN(timecreated)
FROM hps_log
WHERE status = $1
GROUP BY importid
ORDER BY importid
`

func (q *Queries) ListUnprocessedImports(ctx context.Context) ([]core.UnprocessedImport, error) {
	rows, err := q.db.Query(ctx, listUnprocessedImports, int32(core.StatusInited))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.UnprocessedImport, error) {
		var u core.UnprocessedImport
		err := row.Scan(&u.ImportID, &u.CreatedAt)
		return u, err
	})
}

const countLogByStatus = `-- name: CountLogByStatus :many
SELECT importid, status, COUNT(*)
FROM hps_log
GROUP BY importid, status
ORDER BY importid, status
`

func (q *Queries) CountLogByStatus(ctx context.Context) ([]core.StatusCount, error) {
	rows, err := q.db.Query(ctx, countLogByStatus)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.StatusCount, error) {
		var (
			c      core.StatusCount
			status int32
			n      int64
		)
		if err := row.Scan(&c.ImportID, &status, &n); err != nil {
			return c, err
		}
		c.Status = core.Status(status)
		c.Count = int(n)
		return c, nil
	})
}

const listLatestLogRows = `-- name: ListLatestLogRows :many
SELECT DISTINCT ON (importid) ` + logColumns + `
FROM hps_log
ORDER BY importid, timemodified DESC, id DESC
`

func (q *Queries) ListLatestLogRows(ctx context.Context) ([]core.ImportRow, error) {
	rows, err := q.db.Query(ctx, listLatestLogRows)
	if err != nil {
		return nil, err
	}
	return collectImportRows(rows)
}

// identityExpr selects the identity value a row is matched on.
const identityExpr = `CASE idfield WHEN 'idnumber' THEN idnumber WHEN 'username' THEN username ELSE email END`

// logFilterClause builds the WHERE clause of a log query. Substring filters
// ignore case.
func logFilterClause(f core.LogFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.ImportID != 0 {
		add("importid = $%d", f.ImportID)
	}
	if f.IDValue != "" {
		add(identityExpr+" ILIKE $%d", containsPattern(f.IDValue))
	}
	if f.Cohort != "" {
		add("cohort ILIKE $%d", containsPattern(f.Cohort))
	}
	if f.Status != nil {
		add("status = $%d", int32(*f.Status))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern returns a LIKE pattern matching s anywhere, with LIKE
// wildcards in s taken literally.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

// QueryLog returns one page of log rows ordered by import then line, and the
// number of rows matching the filter.
func (q *Queries) QueryLog(ctx context.Context, f core.LogFilter) ([]core.ImportRow, int, error) {
	f = f.Normalize()
	where, args := logFilterClause(f)

	var total int64
	if err := q.db.QueryRow(ctx, "SELECT COUNT(*) FROM hps_log"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count log rows: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf("SELECT %s FROM hps_log%s ORDER BY importid, lineid, id LIMIT $%d OFFSET $%d",
		logColumns, where, n+1, n+2)
	args = append(args, f.PageSize, f.Page*f.PageSize)

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query log rows: %w", err)
	}
	out, err := collectImportRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, int(total), nil
}

const latestImportID = `-- name: LatestImportID :one
SELECT COALESCE(MAX(importid), 0)::bigint FROM hps_log
`

func (q *Queries) LatestImportID(ctx context.Context) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, latestImportID).Scan(&id)
	return id, err
}

const deleteGroupJoinsExcept = `-- name: DeleteGroupJoinsExcept :exec
DELETE FROM hps_group_join
WHERE logid IN (SELECT id FROM hps_log WHERE importid <> $1)
`

const deleteLogExcept = `-- name: DeleteLogExcept :execrows
DELETE FROM hps_log WHERE importid <> $1
`

const deleteInfoExcept = `-- name: DeleteInfoExcept :exec
DELETE FROM hps_info WHERE importid <> $1
`

// DeleteImportsExcept removes the log rows, batches and deferred group joins
// of every import but keep. A zero keep removes everything.
func (q *Queries) DeleteImportsExcept(ctx context.Context, keep int64) (int64, error) {
	batch := &pgx.Batch{}
	batch.Queue(deleteGroupJoinsExcept, keep)
	batch.Queue(deleteLogExcept, keep)
	batch.Queue(deleteInfoExcept, keep)

	results := q.db.SendBatch(ctx, batch)
	defer results.Close()

	if _, err := results.Exec(); err != nil {
		return 0, fmt.Errorf("delete deferred group joins: %w", err)
	}
	tag, err := results.Exec()
	if err != nil {
		return 0, fmt.Errorf("delete log rows: %w", err)
	}
	if _, err := results.Exec(); err != nil {
		return 0, fmt.Errorf("delete import info: %w", err)
	}
	return tag.RowsAffected(), nil
}
