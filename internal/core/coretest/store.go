package coretest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/hpsync/internal/core"
)

// Store is an in-memory core.Store.
type Store struct {
	mu sync.Mutex

	nextImportID int64
	nextRowID    int64
	nextJoinID   int64
	rows         map[int64]*core.ImportRow
	batches      map[int64]core.ImportBatch
	joins        map[int64]core.DeferredGroupJoin

	// Now stamps modifications. Defaults to time.Now.
	Now func() time.Time

	// Inserts counts InsertRows calls.
	Inserts int
}

var _ core.Store = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		rows:    make(map[int64]*core.ImportRow),
		batches: make(map[int64]core.ImportBatch),
		joins:   make(map[int64]core.DeferredGroupJoin),
		Now:     time.Now,
	}
}

// Rows returns a copy of every row ordered by id.
func (s *Store) Rows() []core.ImportRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedRows(func(*core.ImportRow) bool { return true })
}

// Row returns a copy of one row. It panics on an unknown id.
func (s *Store) Row(id int64) core.ImportRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		panic(fmt.Sprintf("coretest: row %d not found", id))
	}
	return copyRow(r)
}

// Joins returns the deferred group joins ordered by id.
func (s *Store) Joins() []core.DeferredGroupJoin {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.DeferredGroupJoin
	for _, id := range sortedKeys(s.joins) {
		out = append(out, s.joins[id])
	}
	return out
}

// Batch returns the batch recorded for an import.
func (s *Store) Batch(importID int64) (core.ImportBatch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[importID]
	return b, ok
}

func (s *Store) NextImportID(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextImportID++
	return s.nextImportID, nil
}

func (s *Store) InsertRows(_ context.Context, rows []core.ImportRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Inserts++
	for _, r := range rows {
		s.nextRowID++
		r.ID = s.nextRowID
		r.StatusText = append(core.History{}, r.StatusText...)
		row := r
		s.rows[row.ID] = &row
	}
	return nil
}

func (s *Store) CreateBatch(_ context.Context, b core.ImportBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[b.ImportID] = b
	return nil
}

func (s *Store) GetRow(_ context.Context, rowID int64) (core.ImportRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[rowID]
	if !ok {
		return core.ImportRow{}, core.ErrRowNotFound
	}
	return copyRow(r), nil
}

func (s *Store) RowsByStatus(_ context.Context, importID int64, status core.Status, rowID int64) ([]core.ImportRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedRows(func(r *core.ImportRow) bool {
		return r.ImportID == importID && r.Status == status && (rowID == 0 || r.ID == rowID)
	}), nil
}

func (s *Store) PendingRowsFor(_ context.Context, user core.User) ([]core.ImportRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedRows(func(r *core.ImportRow) bool {
		return r.Status == core.StatusPending && r.IDValue() != "" && r.IDValue() == user.Attribute(r.IDField)
	}), nil
}

func (s *Store) AppendHistory(_ context.Context, rowID int64, entry core.HistoryEntry, actorID int64) error {
	return s.update(rowID, actorID, func(r *core.ImportRow) {
		r.StatusText = append(r.StatusText, entry)
	})
}

func (s *Store) SetStatus(_ context.Context, rowID int64, status core.Status, actorID int64) error {
	return s.update(rowID, actorID, func(r *core.ImportRow) {
		r.Status = status
	})
}

func (s *Store) BindUser(_ context.Context, rowID, userID, actorID int64) error {
	return s.update(rowID, actorID, func(r *core.ImportRow) {
		r.UserID = userID
	})
}

func (s *Store) AddDeferredJoin(_ context.Context, join core.DeferredGroupJoin) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.joins {
		if j.UserID == join.UserID && j.CourseID == join.CourseID && j.TargetGroupID == join.TargetGroupID {
			return false, nil
		}
	}
	s.nextJoinID++
	join.ID = s.nextJoinID
	s.joins[join.ID] = join
	return true, nil
}

func (s *Store) DeferredJoinsFor(_ context.Context, userID, courseID int64) ([]core.DeferredGroupJoin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.DeferredGroupJoin
	for _, id := range sortedKeys(s.joins) {
		j := s.joins[id]
		if j.UserID == userID && j.CourseID == courseID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *Store) DeleteDeferredJoin(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.joins, id)
	return nil
}

func (s *Store) UnprocessedImports(context.Context) ([]core.UnprocessedImport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	earliest := make(map[int64]time.Time)
	for _, r := range s.rows {
		if r.Status != core.StatusInited {
			continue
		}
		if t, ok := earliest[r.ImportID]; !ok || r.CreatedAt.Before(t) {
			earliest[r.ImportID] = r.CreatedAt
		}
	}
	var out []core.UnprocessedImport
	for _, id := range sortedKeys(earliest) {
		out = append(out, core.UnprocessedImport{ImportID: id, CreatedAt: earliest[id]})
	}
	return out, nil
}

func (s *Store) StatusCounts(context.Context) ([]core.StatusCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type key struct {
		importID int64
		status   core.Status
	}
	counts := make(map[key]int)
	for _, r := range s.rows {
		counts[key{r.ImportID, r.Status}]++
	}
	out := make([]core.StatusCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, core.StatusCount{ImportID: k.importID, Status: k.status, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ImportID != out[j].ImportID {
			return out[i].ImportID < out[j].ImportID
		}
		return out[i].Status < out[j].Status
	})
	return out, nil
}

func (s *Store) LatestRows(context.Context) ([]core.ImportRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := make(map[int64]*core.ImportRow)
	for _, id := range sortedKeys(s.rows) {
		r := s.rows[id]
		cur, ok := latest[r.ImportID]
		if !ok || !r.ModifiedAt.Before(cur.ModifiedAt) {
			latest[r.ImportID] = r
		}
	}
	var out []core.ImportRow
	for _, id := range sortedKeys(latest) {
		out = append(out, copyRow(latest[id]))
	}
	return out, nil
}

func (s *Store) Batches(context.Context) ([]core.ImportBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.ImportBatch
	for _, id := range sortedKeys(s.batches) {
		out = append(out, s.batches[id])
	}
	return out, nil
}

func (s *Store) QueryLog(_ context.Context, f core.LogFilter) ([]core.ImportRow, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f = f.Normalize()
	matched := s.sortedRows(func(r *core.ImportRow) bool {
		if f.ImportID != 0 && r.ImportID != f.ImportID {
			return false
		}
		if f.IDValue != "" && !containsFold(r.IDValue(), f.IDValue) {
			return false
		}
		if f.Cohort != "" && !containsFold(r.Cohort, f.Cohort) {
			return false
		}
		if f.Status != nil && r.Status != *f.Status {
			return false
		}
		return true
	})
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].ImportID != matched[j].ImportID {
			return matched[i].ImportID < matched[j].ImportID
		}
		return matched[i].LineID < matched[j].LineID
	})

	total := len(matched)
	start := f.Page * f.PageSize
	if start > total {
		start = total
	}
	end := start + f.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *Store) PurgeAll(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.rows))
	s.rows = make(map[int64]*core.ImportRow)
	s.batches = make(map[int64]core.ImportBatch)
	s.joins = make(map[int64]core.DeferredGroupJoin)
	return n, nil
}

func (s *Store) PurgeAllButLatest(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest int64
	for _, r := range s.rows {
		if r.ImportID > latest {
			latest = r.ImportID
		}
	}
	var n int64
	for id, r := range s.rows {
		if r.ImportID != latest {
			delete(s.rows, id)
			n++
		}
	}
	for id := range s.batches {
		if id != latest {
			delete(s.batches, id)
		}
	}
	for id, j := range s.joins {
		if _, ok := s.rows[j.OriginatingRowID]; !ok {
			delete(s.joins, id)
		}
	}
	return n, nil
}

func (s *Store) update(rowID, actorID int64, fn func(*core.ImportRow)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[rowID]
	if !ok {
		return core.ErrRowNotFound
	}
	fn(r)
	r.ModifiedByID = actorID
	r.ModifiedAt = s.Now()
	return nil
}

func (s *Store) sortedRows(keep func(*core.ImportRow) bool) []core.ImportRow {
	var out []core.ImportRow
	for _, id := range sortedKeys(s.rows) {
		if r := s.rows[id]; keep(r) {
			out = append(out, copyRow(r))
		}
	}
	return out
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func copyRow(r *core.ImportRow) core.ImportRow {
	c := *r
	c.StatusText = append(core.History{}, r.StatusText...)
	return c
}
