package database

import (
	"context"
)

const listSettings = `-- name: ListSettings :many
SELECT name, value FROM hps_settings
`

func (q *Queries) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := q.db.Query(ctx, listSettings)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, rows.Err()
}

const upsertSetting = `-- name: UpsertSetting :exec
INSERT INTO hps_settings (name, value, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
`

func (q *Queries) UpsertSetting(ctx context.Context, name, value string) error {
	_, err := q.db.Exec(ctx, upsertSetting, name, value)
	return err
}
