package core

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// LogPageSize is the number of rows per page of the log report.
const LogPageSize = 20

// LogFilter narrows the log report. Zero values do not filter.
type LogFilter struct {
	ImportID int64
	IDValue  string  // substring of the row's identity value
	Cohort   string  // substring of the cohort label
	Status   *Status // exact status
	Page     int     // zero-based
	PageSize int
}

// Normalize applies the default page size and clamps the page number.
func (f LogFilter) Normalize() LogFilter {
	if f.PageSize <= 0 {
		f.PageSize = LogPageSize
	}
	if f.Page < 0 {
		f.Page = 0
	}
	return f
}

// LogPage is one page of the log report.
type LogPage struct {
	Rows     []ImportRow `json:"rows"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"pagesize"`
}

// QueryLog returns the matching rows ordered by import then line.
func (s *Service) QueryLog(ctx context.Context, filter LogFilter) (LogPage, error) {
	filter = filter.Normalize()
	rows, total, err := s.store.QueryLog(ctx, filter)
	if err != nil {
		return LogPage{}, fmt.Errorf("query log: %w", err)
	}
	if rows == nil {
		rows = []ImportRow{}
	}
	return LogPage{Rows: rows, Total: total, Page: filter.Page, PageSize: filter.PageSize}, nil
}

// StatusTotal is the number of rows of an import in one status.
type StatusTotal struct {
	Status Status `json:"statusid"`
	Name   string `json:"statusname"`
	Count  int    `json:"count"`
}

// LatestStatus is the history of the most recently modified row of an import.
type LatestStatus struct {
	IDValue string  `json:"userfullname"`
	History History `json:"status"`
}

// ImportStatus is the progress summary of one import.
type ImportStatus struct {
	ImportID      int64         `json:"importid"`
	ImportName    string        `json:"importname"`
	Progress      int           `json:"currentprogress"`
	CountByStatus []StatusTotal `json:"countbystatus"`
	Latest        LatestStatus  `json:"lateststatus"`
}

// ImportStatuses summarizes every import in the log, ordered by import id.
func (s *Service) ImportStatuses(ctx context.Context) ([]ImportStatus, error) {
	counts, err := s.store.StatusCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("count rows by status: %w", err)
	}
	batches, err := s.store.Batches(ctx)
	if err != nil {
		return nil, fmt.Errorf("list import batches: %w", err)
	}
	latest, err := s.store.LatestRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest rows: %w", err)
	}

	names := make(map[int64]string, len(batches))
	for _, b := range batches {
		names[b.ImportID] = b.ImportName
	}
	latestByImport := make(map[int64]ImportRow, len(latest))
	for _, r := range latest {
		latestByImport[r.ImportID] = r
	}

	byImport := make(map[int64]*ImportStatus)
	totals := make(map[int64]int)
	done := make(map[int64]int)
	for _, c := range counts {
		st, ok := byImport[c.ImportID]
		if !ok {
			st = &ImportStatus{ImportID: c.ImportID, ImportName: names[c.ImportID]}
			byImport[c.ImportID] = st
		}
		st.CountByStatus = append(st.CountByStatus, StatusTotal{Status: c.Status, Name: c.Status.String(), Count: c.Count})
		totals[c.ImportID] += c.Count
		if c.Status == StatusDone {
			done[c.ImportID] += c.Count
		}
	}

	out := make([]ImportStatus, 0, len(byImport))
	for id, st := range byImport {
		if totals[id] > 0 {
			st.Progress = int(math.Round(float64(done[id]) * 100 / float64(totals[id])))
		}
		sort.Slice(st.CountByStatus, func(i, j int) bool {
			return st.CountByStatus[i].Status < st.CountByStatus[j].Status
		})
		if r, ok := latestByImport[id]; ok {
			st.Latest = LatestStatus{IDValue: r.IDValue(), History: r.StatusText}
		}
		if st.Latest.History == nil {
			st.Latest.History = History{}
		}
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ImportID < out[j].ImportID })
	return out, nil
}

// UnprocessedImports lists imports that still have rows to run.
func (s *Service) UnprocessedImports(ctx context.Context) ([]UnprocessedImport, error) {
	imports, err := s.store.UnprocessedImports(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed imports: %w", err)
	}
	if imports == nil {
		imports = []UnprocessedImport{}
	}
	return imports, nil
}

// Purge deletes the import log. With keepLatest the rows of the most recent
// import survive. It returns the number of rows deleted.
func (s *Service) Purge(ctx context.Context, keepLatest bool) (int64, error) {
	var (
		n   int64
		err error
	)
	if keepLatest {
		n, err = s.store.PurgeAllButLatest(ctx)
	} else {
		n, err = s.store.PurgeAll(ctx)
	}
	if err != nil {
		return 0, fmt.Errorf("purge log: %w", err)
	}
	return n, nil
}
