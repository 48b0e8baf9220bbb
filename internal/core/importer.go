package core

// importer.go validates a roster CSV and writes one log row per data line.
//
// The whole file is parsed before anything is written, so structural
// problems (bad CSV, bad header, missing columns) abort the import with an
// *ImportError and leave no rows behind. Per-row problems never abort: they
// are recorded as the row status plus a history entry.
//
// Status precedence for a row:
//
//	user missing            -> PENDING
//	cohort missing          -> SKIPPED (overrides PENDING)
//	group checks failing    -> SKIPPED unless IgnoreMissingGroups

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JonMunkholm/hpsync/internal/logging"
)

// ImportOptions are the per-upload choices of an import.
type ImportOptions struct {
	ImportName string
	Encoding   string // WHATWG label, default utf-8
	Delimiter  rune   // default ','

	// Fields overrides the configured column names where non-empty.
	Fields FieldNames

	// GroupPattern and GroupReplacement override the configured transform
	// when non-nil. An empty pattern disables the transform.
	GroupPattern     *string
	GroupReplacement *string

	IgnoreMissingGroups bool
	ActorID             int64
}

// ImportResult summarizes a finished import.
type ImportResult struct {
	ImportID int64          `json:"importid"`
	Rows     int            `json:"rows"`
	ByStatus map[Status]int `json:"bystatus"`
}

// Import validates content and persists it as a new import batch.
func (s *Service) Import(ctx context.Context, content io.Reader, opts ImportOptions) (ImportResult, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return ImportResult{}, err
	}
	defer s.limiter.Release()

	plan, err := s.prepareImport(ctx, content, opts)
	if err != nil {
		return ImportResult{}, err
	}

	importID, err := s.store.NextImportID(ctx)
	if err != nil {
		return ImportResult{}, fmt.Errorf("allocate import id: %w", err)
	}

	log := logging.WithFields(ctx, "import_id", importID, "import_name", opts.ImportName)
	log.Info("import started", "lines", len(plan.records))

	result := ImportResult{ImportID: importID, ByStatus: make(map[Status]int)}
	batch := make([]ImportRow, 0, s.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.store.InsertRows(ctx, batch); err != nil {
			return fmt.Errorf("insert rows: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	err = s.validateRows(ctx, plan, importID, opts, func(row ImportRow) error {
		result.Rows++
		result.ByStatus[row.Status]++
		batch = append(batch, row)
		if len(batch) >= s.batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return result, err
	}
	if err := flush(); err != nil {
		return result, err
	}

	if err := s.store.CreateBatch(ctx, ImportBatch{
		ImportID:    importID,
		ImportName:  opts.ImportName,
		CreatedByID: opts.ActorID,
		CreatedAt:   s.now(),
	}); err != nil {
		return result, fmt.Errorf("record import batch: %w", err)
	}

	log.Info("import completed",
		"rows", result.Rows,
		"inited", result.ByStatus[StatusInited],
		"pending", result.ByStatus[StatusPending],
		"skipped", result.ByStatus[StatusSkipped],
	)
	return result, nil
}

// Preview runs the same validation as Import without writing anything.
func (s *Service) Preview(ctx context.Context, content io.Reader, opts ImportOptions) ([]ImportRow, error) {
	plan, err := s.prepareImport(ctx, content, opts)
	if err != nil {
		return nil, err
	}

	var rows []ImportRow
	err = s.validateRows(ctx, plan, 0, opts, func(row ImportRow) error {
		rows = append(rows, row)
		return nil
	})
	return rows, err
}

// importPlan is a parsed file with its resolved configuration.
type importPlan struct {
	records   [][]string // data lines, header excluded
	index     HeaderIndex
	mapping   fieldMapping
	transform *GroupTransform
}

func (s *Service) prepareImport(ctx context.Context, content io.Reader, opts ImportOptions) (*importPlan, error) {
	settings, err := LoadSettings(ctx, s.settings)
	if err != nil {
		return nil, err
	}

	pattern, replacement := settings.GroupPattern, settings.GroupReplacement
	if opts.GroupPattern != nil {
		pattern = *opts.GroupPattern
	}
	if opts.GroupReplacement != nil {
		replacement = *opts.GroupReplacement
	}
	transform, err := CompileGroupTransform(pattern, replacement)
	if err != nil {
		return nil, err
	}

	records, err := readRecords(content, opts)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &ImportError{Kind: CannotReadHeader}
	}

	fields, err := ValidateHeader(records[0])
	if err != nil {
		return nil, err
	}

	mapping := newFieldMapping(settings.MoodleIDField, settings.Fields.Override(opts.Fields))
	index, err := mapping.index(fields)
	if err != nil {
		return nil, err
	}

	return &importPlan{
		records:   records[1:],
		index:     index,
		mapping:   mapping,
		transform: transform,
	}, nil
}

func readRecords(content io.Reader, opts ImportOptions) ([][]string, error) {
	reader, counter, err := WrapForImport(content, opts.Encoding)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(reader)
	if opts.Delimiter != 0 {
		if opts.Delimiter == '"' || opts.Delimiter == '\r' || opts.Delimiter == '\n' ||
			!utf8.ValidRune(opts.Delimiter) || opts.Delimiter == utf8.RuneError {
			return nil, &ImportError{Kind: CsvLoadError, Err: fmt.Errorf("invalid delimiter %q", opts.Delimiter)}
		}
		r.Comma = opts.Delimiter
	}
	r.FieldsPerRecord = 0
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return nil, &ImportError{Kind: CsvLoadError, Err: err}
		}
		return nil, fmt.Errorf("read csv after %d bytes: %w", counter.BytesRead, err)
	}
	return records, nil
}

// validateRows builds and classifies one ImportRow per record, in file order.
func (s *Service) validateRows(ctx context.Context, plan *importPlan, importID int64, opts ImportOptions, emit func(ImportRow) error) error {
	now := s.now()
	log := logging.WithFields(ctx, "import_id", importID)

	for i, record := range plan.records {
		if i%100 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}

		row := ImportRow{
			ImportID:     importID,
			LineID:       i + 2,
			IDField:      plan.mapping.idField,
			Status:       StatusInited,
			StatusText:   History{},
			CreatedByID:  opts.ActorID,
			CreatedAt:    now,
			ModifiedByID: opts.ActorID,
			ModifiedAt:   now,
		}

		cell := func(column string, clean bool) string {
			v := strings.TrimSpace(record[plan.index[column]])
			if clean {
				v = CleanText(v)
			}
			return v
		}
		row.setIdentity(plan.mapping.idField, cell(plan.mapping.identity, true))
		row.Cohort = cell(plan.mapping.cohort, true)
		row.MainGroup = cell(plan.mapping.mainGroup, false)
		row.OtherGroups = cell(plan.mapping.otherGroups, true)

		if err := s.classifyRow(ctx, &row, now, plan.transform, opts.IgnoreMissingGroups, log); err != nil {
			return fmt.Errorf("line %d: %w", row.LineID, err)
		}

		if err := emit(row); err != nil {
			return err
		}
	}
	return nil
}

// classifyRow resolves the user, cohort and groups of row and sets its status.
func (s *Service) classifyRow(ctx context.Context, row *ImportRow, now time.Time, transform *GroupTransform, ignoreMissingGroups bool, log *slog.Logger) error {
	userID, found, err := s.findUser(ctx, row.IDField, row.IDValue())
	if err != nil {
		return err
	}
	if !found {
		row.addHistory(MsgUserNotFound, now)
		row.Status = StatusPending
	} else {
		row.UserID = userID
	}

	cohortID, found, err := s.dir.FindCohortID(ctx, row.Cohort)
	if err != nil {
		return fmt.Errorf("find cohort %q: %w", row.Cohort, err)
	}
	if !found {
		row.addHistory(MsgCohortNotFound, now)
		row.Status = StatusSkipped
	} else {
		row.CohortID = cohortID
	}

	groups, err := NormalizeWith(row.MainGroup, row.OtherGroups, transform)
	if err != nil {
		log.Warn("group transform failed, keeping cleaned token", "line", row.LineID, "error", err)
	}

	for _, group := range groups {
		exists, err := s.dir.GroupExists(ctx, group)
		if err != nil {
			return fmt.Errorf("find group %q: %w", group, err)
		}
		if !exists {
			row.addHistory(msgGroupNotFound(group), now)
			if !ignoreMissingGroups {
				row.Status = StatusSkipped
			}
			continue
		}

		if row.CohortID != 0 {
			synced, err := s.dir.CohortSyncHasGroup(ctx, row.CohortID, group)
			if err != nil {
				return fmt.Errorf("check cohort sync for group %q: %w", group, err)
			}
			if !synced {
				row.addHistory(msgNoGroupInCohortSync(group), now)
				if !ignoreMissingGroups {
					row.Status = StatusSkipped
				}
			}
		}
	}

	row.GroupsCSV = strings.Join(groups, ",")
	return nil
}

// findUser looks up the row identity. An empty value never matches.
func (s *Service) findUser(ctx context.Context, field IDField, value string) (int64, bool, error) {
	if value == "" {
		return 0, false, nil
	}
	id, found, err := s.dir.FindUserID(ctx, field, value)
	if err != nil {
		return 0, false, fmt.Errorf("find user by %s: %w", field, err)
	}
	return id, found, nil
}
