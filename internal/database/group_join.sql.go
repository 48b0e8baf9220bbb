package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/hpsync/internal/core"
)

const insertGroupJoin = `-- name: InsertGroupJoin :execrows
INSERT INTO hps_group_join (courseid, userid, newgroupid, logid, usermodified, timecreated)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (userid, courseid, newgroupid) DO NOTHING
`

// InsertGroupJoin reports whether a new record was created.
func (q *Queries) InsertGroupJoin(ctx context.Context, j core.DeferredGroupJoin) (bool, error) {
	created := j.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	tag, err := q.db.Exec(ctx, insertGroupJoin,
		j.CourseID, j.UserID, j.TargetGroupID, j.OriginatingRowID, j.CreatedByID, created)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const listGroupJoins = `-- name: ListGroupJoins :many
SELECT id, courseid, userid, newgroupid, logid, usermodified, timecreated
FROM hps_group_join
WHERE userid = $1 AND courseid = $2
ORDER BY id
`

func (q *Queries) ListGroupJoins(ctx context.Context, userID, courseID int64) ([]core.DeferredGroupJoin, error) {
	rows, err := q.db.Query(ctx, listGroupJoins, userID, courseID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.DeferredGroupJoin, error) {
		var j core.DeferredGroupJoin
		err := row.Scan(&j.ID, &j.CourseID, &j.UserID, &j.TargetGroupID, &j.OriginatingRowID, &j.CreatedByID, &j.CreatedAt)
		return j, err
	})
}

const deleteGroupJoin = `-- name: DeleteGroupJoin :exec
DELETE FROM hps_group_join WHERE id = $1
`

func (q *Queries) DeleteGroupJoin(ctx context.Context, id int64) error {
	_, err := q.db.Exec(ctx, deleteGroupJoin, id)
	return err
}
