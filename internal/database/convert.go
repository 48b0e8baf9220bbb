package database

// convert.go holds conversions between Go values and pgtype values for
// nullable columns. ToPg* functions return Valid=false for empty input so the
// column stores NULL.

import (
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// ToPgText converts a string to pgtype.Text.
// Returns invalid if the string is empty or only whitespace.
func ToPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// FromPgText returns the string value, or "" for NULL.
func FromPgText(t pgtype.Text) string {
	if !t.Valid {
		return ""
	}
	return t.String
}

// ToPgUUID converts a uuid.UUID to pgtype.UUID.
// Returns invalid for uuid.Nil.
func ToPgUUID(id uuid.UUID) pgtype.UUID {
	if id == uuid.Nil {
		return pgtype.UUID{Valid: false}
	}
	return pgtype.UUID{Bytes: id, Valid: true}
}
