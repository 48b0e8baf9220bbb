package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/JonMunkholm/hpsync/internal/core"
)

func TestImportStatuses(t *testing.T) {
	w := newWorld(t, nil)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	clock := base
	w.Store.Now = func() time.Time { return clock }

	for i, st := range []core.Status{core.StatusDone, core.StatusDone, core.StatusSkipped} {
		w.insertRow(t, core.ImportRow{ImportID: 1, LineID: i + 2, IDField: core.IDFieldEmail, Email: "u@example.com", Status: st, ModifiedAt: base})
	}
	latest := w.insertRow(t, core.ImportRow{ImportID: 2, LineID: 2, IDField: core.IDFieldEmail, Email: "last@example.com", Status: core.StatusInited, ModifiedAt: base})
	w.insertRow(t, core.ImportRow{ImportID: 2, LineID: 3, IDField: core.IDFieldEmail, Email: "first@example.com", Status: core.StatusInited, ModifiedAt: base})
	if err := w.Store.CreateBatch(ctx, core.ImportBatch{ImportID: 1, ImportName: "week 1"}); err != nil {
		t.Fatal(err)
	}

	clock = base.Add(time.Minute)
	if err := w.Store.AppendHistory(ctx, latest.ID, core.HistoryEntry{Timestamp: clock.Unix(), Info: "touched"}, 1); err != nil {
		t.Fatal(err)
	}

	statuses, err := w.Service.ImportStatuses(ctx)
	if err != nil {
		t.Fatalf("ImportStatuses() error = %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("ImportStatuses() returned %d imports, want 2", len(statuses))
	}

	first := statuses[0]
	if first.ImportID != 1 || first.ImportName != "week 1" || first.Progress != 67 {
		t.Errorf("import 1 = %+v", first)
	}
	want := []core.StatusTotal{
		{Status: core.StatusSkipped, Name: "Skipped", Count: 1},
		{Status: core.StatusDone, Name: "Processed", Count: 2},
	}
	if len(first.CountByStatus) != 2 || first.CountByStatus[0] != want[0] || first.CountByStatus[1] != want[1] {
		t.Errorf("CountByStatus = %+v, want %+v", first.CountByStatus, want)
	}

	second := statuses[1]
	if second.Progress != 0 || second.ImportName != "" {
		t.Errorf("import 2 = %+v", second)
	}
	if second.Latest.IDValue != "last@example.com" || len(second.Latest.History) != 1 {
		t.Errorf("import 2 latest = %+v", second.Latest)
	}
}

func TestQueryLog(t *testing.T) {
	w := newWorld(t, nil)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		w.insertRow(t, core.ImportRow{ImportID: 2, LineID: i + 2, IDField: core.IDFieldEmail, Email: "student@example.com", Cohort: "P1", Status: core.StatusDone})
	}
	w.insertRow(t, core.ImportRow{ImportID: 1, LineID: 2, IDField: core.IDFieldUsername, Username: "alice", Cohort: "Promo 2", Status: core.StatusSkipped})

	t.Run("first page ordered by import then line", func(t *testing.T) {
		page, err := w.Service.QueryLog(ctx, core.LogFilter{})
		if err != nil {
			t.Fatalf("QueryLog() error = %v", err)
		}
		if page.Total != 26 || len(page.Rows) != core.LogPageSize {
			t.Errorf("Total = %d rows = %d", page.Total, len(page.Rows))
		}
		if page.Rows[0].ImportID != 1 || page.Rows[1].LineID != 2 || page.Rows[2].LineID != 3 {
			t.Errorf("unexpected order: %d/%d/%d", page.Rows[0].ImportID, page.Rows[1].LineID, page.Rows[2].LineID)
		}
	})

	t.Run("last page", func(t *testing.T) {
		page, err := w.Service.QueryLog(ctx, core.LogFilter{Page: 1})
		if err != nil {
			t.Fatalf("QueryLog() error = %v", err)
		}
		if len(page.Rows) != 6 {
			t.Errorf("rows = %d, want 6", len(page.Rows))
		}
	})

	t.Run("filters", func(t *testing.T) {
		skipped := core.StatusSkipped
		tests := []struct {
			name   string
			filter core.LogFilter
			want   int
		}{
			{"by import", core.LogFilter{ImportID: 1}, 1},
			{"by identity substring", core.LogFilter{IDValue: "lic"}, 1},
			{"by cohort substring", core.LogFilter{Cohort: "Promo"}, 1},
			{"identity ignores case", core.LogFilter{IDValue: "ALI"}, 1},
			{"email ignores case", core.LogFilter{IDValue: "Student@"}, 25},
			{"cohort ignores case", core.LogFilter{Cohort: "promo 2"}, 1},
			{"by status", core.LogFilter{Status: &skipped}, 1},
			{"no match", core.LogFilter{ImportID: 2, Status: &skipped}, 0},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				page, err := w.Service.QueryLog(ctx, tt.filter)
				if err != nil {
					t.Fatalf("QueryLog() error = %v", err)
				}
				if page.Total != tt.want {
					t.Errorf("Total = %d, want %d", page.Total, tt.want)
				}
				if page.Rows == nil {
					t.Error("Rows should never be nil")
				}
			})
		}
	})
}

func TestPurge(t *testing.T) {
	tests := []struct {
		name       string
		keepLatest bool
		wantPurged int64
		wantLeft   int
	}{
		{"all", false, 3, 0},
		{"all but latest", true, 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorld(t, nil)
			w.insertRow(t, core.ImportRow{ImportID: 1, Status: core.StatusDone})
			w.insertRow(t, core.ImportRow{ImportID: 1, Status: core.StatusDone})
			w.insertRow(t, core.ImportRow{ImportID: 2, Status: core.StatusInited})

			n, err := w.Service.Purge(context.Background(), tt.keepLatest)
			if err != nil {
				t.Fatalf("Purge() error = %v", err)
			}
			if n != tt.wantPurged {
				t.Errorf("Purge() = %d, want %d", n, tt.wantPurged)
			}
			if left := len(w.Store.Rows()); left != tt.wantLeft {
				t.Errorf("rows left = %d, want %d", left, tt.wantLeft)
			}
		})
	}
}

func TestUnprocessedImports(t *testing.T) {
	w := newWorld(t, nil)
	w.insertRow(t, core.ImportRow{ImportID: 4, Status: core.StatusInited})
	w.insertRow(t, core.ImportRow{ImportID: 5, Status: core.StatusDone})

	got, err := w.Service.UnprocessedImports(context.Background())
	if err != nil {
		t.Fatalf("UnprocessedImports() error = %v", err)
	}
	if len(got) != 1 || got[0].ImportID != 4 {
		t.Errorf("UnprocessedImports() = %+v", got)
	}
}
