package database

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// Schema returns the DDL applied by Migrate.
func Schema() string {
	return schemaSQL
}

// Migrate creates every table the sync needs. Statements are idempotent so
// it is safe to run at each startup.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
