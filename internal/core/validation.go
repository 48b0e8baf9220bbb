package core

// validation.go provides header validation for roster CSV files.
//
// Header problems are structural: they abort the import before any row is
// written. Each failure is reported as an *ImportError carrying the kind of
// problem and the offending column so callers can show it verbatim.

import (
	"errors"
	"fmt"
	"strings"
)

// ImportErrorKind classifies a structural import failure.
type ImportErrorKind string

const (
	CsvLoadError       ImportErrorKind = "csv_load_error"
	CannotReadHeader   ImportErrorKind = "cannot_read_header"
	InvalidFieldName   ImportErrorKind = "invalid_field_name"
	DuplicateFieldName ImportErrorKind = "duplicate_field_name"
	MissingField       ImportErrorKind = "missing_field"
)

// ImportError is a fatal, whole-file import failure.
type ImportError struct {
	Kind  ImportErrorKind
	Field string // Column or field name involved, if any
	Err   error  // Underlying parser error, if any
}

func (e *ImportError) Error() string {
	switch e.Kind {
	case CsvLoadError:
		return fmt.Sprintf("invalid csv: %v", e.Err)
	case CannotReadHeader:
		return "cannot read csv header"
	case InvalidFieldName:
		return fmt.Sprintf("invalid field name in csv: %s", e.Field)
	case DuplicateFieldName:
		return fmt.Sprintf("duplicate field name in csv: %s", e.Field)
	case MissingField:
		return fmt.Sprintf("missing field in csv: %s", e.Field)
	}
	return string(e.Kind)
}

func (e *ImportError) Unwrap() error { return e.Err }

// IsImportError reports whether err is a structural import error of the given kind.
func IsImportError(err error, kind ImportErrorKind) bool {
	var ie *ImportError
	return errors.As(err, &ie) && ie.Kind == kind
}

// HeaderIndex maps lower-cased column names to their CSV position.
type HeaderIndex map[string]int

// ValidateHeader checks every column is plain text and unique (case
// insensitively) and returns the lower-cased column list.
func ValidateHeader(columns []string) ([]string, error) {
	if len(columns) == 0 || (len(columns) == 1 && strings.TrimSpace(columns[0]) == "") {
		return nil, &ImportError{Kind: CannotReadHeader}
	}

	fields := make([]string, 0, len(columns))
	seen := make(map[string]bool, len(columns))
	for _, column := range columns {
		if CleanText(column) != column {
			return nil, &ImportError{Kind: InvalidFieldName, Field: column}
		}

		field := strings.ToLower(column)
		if seen[field] {
			return nil, &ImportError{Kind: DuplicateFieldName, Field: field}
		}
		seen[field] = true
		fields = append(fields, field)
	}

	return fields, nil
}

// fieldMapping is the resolved source column for each canonical field.
type fieldMapping struct {
	idField     IDField
	identity    string // lower-cased column holding the identity value
	cohort      string
	mainGroup   string
	otherGroups string
}

func newFieldMapping(idField IDField, names FieldNames) fieldMapping {
	return fieldMapping{
		idField:     idField,
		identity:    strings.ToLower(names.IDField),
		cohort:      strings.ToLower(names.Cohort),
		mainGroup:   strings.ToLower(names.MainGroup),
		otherGroups: strings.ToLower(names.OtherGroups),
	}
}

// required returns the source columns in check order.
func (m fieldMapping) required() []string {
	return []string{m.identity, m.cohort, m.mainGroup, m.otherGroups}
}

// index checks every mapped column is present and returns the header index.
func (m fieldMapping) index(fields []string) (HeaderIndex, error) {
	idx := make(HeaderIndex, len(fields))
	for i, f := range fields {
		idx[f] = i
	}
	for _, name := range m.required() {
		if _, ok := idx[name]; !ok {
			return nil, &ImportError{Kind: MissingField, Field: name}
		}
	}
	return idx, nil
}
