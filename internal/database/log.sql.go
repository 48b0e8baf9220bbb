package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/hpsync/internal/core"
)

const logColumns = `id, importid, lineid, idfield, email, idnumber, username, userid,
	cohort, cohortid, maingroup, othergroups, groupscsv, status, statustext,
	createdbyid, timecreated, usermodified, timemodified`

// logCopyColumns is the column order used by CopyFrom.
var logCopyColumns = []string{
	"importid", "lineid", "idfield", "email", "idnumber", "username", "userid",
	"cohort", "cohortid", "maingroup", "othergroups", "groupscsv", "status", "statustext",
	"createdbyid", "timecreated", "usermodified", "timemodified",
}

func scanImportRow(row pgx.Row) (core.ImportRow, error) {
	var (
		r       core.ImportRow
		idField string
		status  int32
		history []byte
	)
	err := row.Scan(
		&r.ID, &r.ImportID, &r.LineID, &idField, &r.Email, &r.IDNumber, &r.Username, &r.UserID,
		&r.Cohort, &r.CohortID, &r.MainGroup, &r.OtherGroups, &r.GroupsCSV, &status, &history,
		&r.CreatedByID, &r.CreatedAt, &r.ModifiedByID, &r.ModifiedAt,
	)
	if err != nil {
		return r, err
	}
	r.IDField = core.IDField(idField)
	r.Status = core.Status(status)
	r.StatusText = core.History{}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &r.StatusText); err != nil {
			return r, fmt.Errorf("decode statustext of row %d: %w", r.ID, err)
		}
	}
	return r, nil
}

func collectImportRows(rows pgx.Rows) ([]core.ImportRow, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.ImportRow, error) {
		return scanImportRow(row)
	})
}

// copyRowValues converts rows into CopyFrom input.
func copyRowValues(rows []core.ImportRow, now time.Time) ([][]any, error) {
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		history, err := json.Marshal(r.StatusText)
		if err != nil {
			return nil, fmt.Errorf("encode statustext of line %d: %w", r.LineID, err)
		}
		created := r.CreatedAt
		if created.IsZero() {
			created = now
		}
		modified := r.ModifiedAt
		if modified.IsZero() {
			modified = created
		}
		idField := r.IDField
		if idField == "" {
			idField = core.IDFieldEmail
		}
		out = append(out, []any{
			r.ImportID, int32(r.LineID), string(idField), r.Email, r.IDNumber, r.Username, r.UserID,
			r.Cohort, r.CohortID, r.MainGroup, r.OtherGroups, r.GroupsCSV, int32(r.Status), history,
			r.CreatedByID, created, r.CreatedByID, modified,
		})
	}
	return out, nil
}

const nextImportID = `-- name: NextImportID :one
SELECT nextval('hps_import_id_seq')
`

func (q *Queries) NextImportID(ctx context.Context) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, nextImportID).Scan(&id)
	return id, err
}

const getLogRow = `-- name: GetLogRow :one
SELECT ` + logColumns + `
FROM hps_log
WHERE id = $1
`

func (q *Queries) GetLogRow(ctx context.Context, id int64) (core.ImportRow, error) {
	return scanImportRow(q.db.QueryRow(ctx, getLogRow, id))
}

const listLogRowsByStatus = `-- name: ListLogRowsByStatus :many
SELECT ` + logColumns + `
FROM hps_log
WHERE importid = $1
  AND status = $2
  AND ($3::bigint = 0 OR id = $3)
ORDER BY id
`

type ListLogRowsByStatusParams struct {
	ImportID int64
	Status   int32
	RowID    int64
}

func (q *Queries) ListLogRowsByStatus(ctx context.Context, arg ListLogRowsByStatusParams) ([]core.ImportRow, error) {
	rows, err := q.db.Query(ctx, listLogRowsByStatus, arg.ImportID, arg.Status, arg.RowID)
	if err != nil {
		return nil, err
	}
	return collectImportRows(rows)
}

const listPendingRowsForUser = `-- name: ListPendingRowsForUser :many
SELECT ` + logColumns + `
FROM hps_log
WHERE status = $1
  AND (
        (idfield = 'email'    AND $2::text <> '' AND email = $2)
     OR (idfield = 'idnumber' AND $3::text <> '' AND idnumber = $3)
     OR (idfield = 'username' AND $4::text <> '' AND username = $4)
  )
ORDER BY id
`

func (q *Queries) ListPendingRowsForUser(ctx context.Context, user core.User) ([]core.ImportRow, error) {
	rows, err := q.db.Query(ctx, listPendingRowsForUser,
		int32(core.StatusPending), user.Email, user.IDNumber, user.Username)
	if err != nil {
		return nil, err
	}
	return collectImportRows(rows)
}

const appendLogHistory = `-- name: AppendLogHistory :execrows
UPDATE hps_log
SET statustext = statustext || jsonb_build_array(jsonb_build_object('timestamp', $2::bigint, 'info', $3::text)),
    usermodified = $4,
    timemodified = NOW()
WHERE id = $1
`

type AppendLogHistoryParams struct {
	ID        int64
	Timestamp int64
	Info      string
	ActorID   int64
}

// AppendLogHistory appends one entry in a single statement, so concurrent
// writers to the same row never lose entries.
func (q *Queries) AppendLogHistory(ctx context.Context, arg AppendLogHistoryParams) (int64, error) {
	tag, err := q.db.Exec(ctx, appendLogHistory, arg.ID, arg.Timestamp, arg.Info, arg.ActorID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const updateLogStatus = `-- name: UpdateLogStatus :execrows
UPDATE hps_log
SET status = $2, usermodified = $3, timemodified = NOW()
WHERE id = $1
`

func (q *Queries) UpdateLogStatus(ctx context.Context, id int64, status int32, actorID int64) (int64, error) {
	tag, err := q.db.Exec(ctx, updateLogStatus, id, status, actorID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const updateLogUser = `-- name: UpdateLogUser :execrows
UPDATE hps_log
SET userid = $2, usermodified = $3, timemodified = NOW()
WHERE id = $1
`

func (q *Queries) UpdateLogUser(ctx context.Context, id, userID, actorID int64) (int64, error) {
	tag, err := q.db.Exec(ctx, updateLogUser, id, userID, actorID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const upsertImportInfo = `-- name: UpsertImportInfo :exec
INSERT INTO hps_info (importid, importname, createdbyid, timecreated)
VALUES ($1, $2, $3, $4)
ON CONFLICT (importid) DO UPDATE SET importname = EXCLUDED.importname
`

func (q *Queries) UpsertImportInfo(ctx context.Context, b core.ImportBatch) error {
	created := b.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := q.db.Exec(ctx, upsertImportInfo, b.ImportID, b.ImportName, b.CreatedByID, created)
	return err
}

const listImportInfo = `-- name: ListImportInfo :many
SELECT importid, importname, createdbyid, timecreated
FROM hps_info
ORDER BY importid
`

func (q *Queries) ListImportInfo(ctx context.Context) ([]core.ImportBatch, error) {
	rows, err := q.db.Query(ctx, listImportInfo)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.ImportBatch, error) {
		var b core.ImportBatch
		err := row.Scan(&b.ImportID, &b.ImportName, &b.CreatedByID, &b.CreatedAt)
		return b, err
	})
}
