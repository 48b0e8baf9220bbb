package core_test

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/hpsync/internal/core"
	"github.com/JonMunkholm/hpsync/internal/core/coretest"
)

func TestImport_ClassifiesRows(t *testing.T) {
	w := newWorld(t, nil)
	ctx := context.Background()

	res, err := w.Service.Import(ctx, csvOf(
		header,
		"alice@example.com,P1,G1,G2",
		"bob@example.com,Nowhere,,",
		"nobody@example.com,P1,G1,",
		"nobody@example.com,Nowhere,,",
	), core.ImportOptions{ImportName: "week 12", ActorID: 7})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if res.Rows != 4 {
		t.Fatalf("Rows = %d, want 4", res.Rows)
	}

	rows := w.Store.Rows()
	tests := []struct {
		name       string
		row        core.ImportRow
		wantStatus core.Status
		wantInfos  []string
		wantLine   int
	}{
		{"resolved", rows[0], core.StatusInited, []string{}, 2},
		{"cohort missing", rows[1], core.StatusSkipped, []string{core.MsgCohortNotFound}, 3},
		{"user missing", rows[2], core.StatusPending, []string{core.MsgUserNotFound}, 4},
		{"skipped wins over pending", rows[3], core.StatusSkipped, []string{core.MsgUserNotFound, core.MsgCohortNotFound}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.row.Status != tt.wantStatus {
				t.Errorf("Status = %v, want %v", tt.row.Status, tt.wantStatus)
			}
			if got := infos(tt.row); !reflect.DeepEqual(got, tt.wantInfos) {
				t.Errorf("history = %q, want %q", got, tt.wantInfos)
			}
			if tt.row.LineID != tt.wantLine {
				t.Errorf("LineID = %d, want %d", tt.row.LineID, tt.wantLine)
			}
			if tt.row.ImportID != res.ImportID {
				t.Errorf("ImportID = %d, want %d", tt.row.ImportID, res.ImportID)
			}
			if tt.row.CreatedByID != 7 {
				t.Errorf("CreatedByID = %d, want 7", tt.row.CreatedByID)
			}
		})
	}

	if rows[0].UserID != w.alice || rows[0].CohortID != w.p1 {
		t.Errorf("row 0 user/cohort = %d/%d, want %d/%d", rows[0].UserID, rows[0].CohortID, w.alice, w.p1)
	}
	if rows[0].GroupsCSV != "G1,G2" {
		t.Errorf("GroupsCSV = %q, want G1,G2", rows[0].GroupsCSV)
	}
	if rows[0].IDField != core.IDFieldEmail || rows[0].Email != "alice@example.com" {
		t.Errorf("identity = %s/%q", rows[0].IDField, rows[0].Email)
	}

	batch, ok := w.Store.Batch(res.ImportID)
	if !ok || batch.ImportName != "week 12" || batch.CreatedByID != 7 {
		t.Errorf("batch = %+v, %v", batch, ok)
	}
}

func TestImport_GroupChecks(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		ignore     bool
		wantStatus core.Status
		wantInfos  []string
		wantCSV    string
	}{
		{
			name:       "unknown group skips",
			line:       "alice@example.com,P1,G1,NOPE",
			wantStatus: core.StatusSkipped,
			wantInfos:  []string{"Group not found for this id : NOPE"},
			wantCSV:    "G1,NOPE",
		},
		{
			name:       "unknown group ignored",
			line:       "alice@example.com,P1,G1,NOPE",
			ignore:     true,
			wantStatus: core.StatusInited,
			wantInfos:  []string{"Group not found for this id : NOPE"},
			wantCSV:    "G1,NOPE",
		},
		{
			name:       "group outside cohort sync skips",
			line:       "alice@example.com,P1,G3,",
			wantStatus: core.StatusSkipped,
			wantInfos:  []string{"No group found in cohort sync for this idnumber : G3"},
			wantCSV:    "G3",
		},
		{
			name:       "cohort matched by name when idnumber blank",
			line:       "alice@example.com,Promo 2,G3,",
			wantStatus: core.StatusInited,
			wantInfos:  []string{},
			wantCSV:    "G3",
		},
		{
			name:       "sync check skipped without cohort",
			line:       "alice@example.com,Nowhere,G3,",
			wantStatus: core.StatusSkipped,
			wantInfos:  []string{core.MsgCohortNotFound},
			wantCSV:    "G3",
		},
		{
			name:       "main group keeps brackets until normalized",
			line:       `alice@example.com,P1,[G1],"[G2] , [OLD]"`,
			wantStatus: core.StatusInited,
			wantInfos:  []string{},
			wantCSV:    "G1,G2,OLD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorld(t, nil)
			_, err := w.Service.Import(context.Background(), csvOf(header, tt.line),
				core.ImportOptions{IgnoreMissingGroups: tt.ignore})
			if err != nil {
				t.Fatalf("Import() error = %v", err)
			}

			row := w.Store.Rows()[0]
			if row.Status != tt.wantStatus {
				t.Errorf("Status = %v, want %v", row.Status, tt.wantStatus)
			}
			if got := infos(row); !reflect.DeepEqual(got, tt.wantInfos) {
				t.Errorf("history = %q, want %q", got, tt.wantInfos)
			}
			if row.GroupsCSV != tt.wantCSV {
				t.Errorf("GroupsCSV = %q, want %q", row.GroupsCSV, tt.wantCSV)
			}
		})
	}
}

func TestImport_StructuralErrors(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		fields    core.FieldNames
		wantKind  core.ImportErrorKind
		wantField string
	}{
		{
			name:     "empty file",
			content:  "",
			wantKind: core.CannotReadHeader,
		},
		{
			name:      "missing column",
			content:   "E-mail,Promotions,TD\nalice@example.com,P1,G1\n",
			wantKind:  core.MissingField,
			wantField: "regroupements",
		},
		{
			name:      "duplicate column",
			content:   "E-mail,Promotions,TD,Regroupements,td\n",
			wantKind:  core.DuplicateFieldName,
			wantField: "td",
		},
		{
			name:      "markup in header",
			content:   "E-mail,<i>Promotions</i>,TD,Regroupements\n",
			wantKind:  core.InvalidFieldName,
			wantField: "<i>Promotions</i>",
		},
		{
			name:     "ragged rows",
			content:  header + "\nalice@example.com,P1\n",
			wantKind: core.CsvLoadError,
		},
		{
			name:      "per-import field override checked",
			content:   header + "\nalice@example.com,P1,G1,\n",
			fields:    core.FieldNames{Cohort: "Classe"},
			wantKind:  core.MissingField,
			wantField: "classe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorld(t, nil)
			_, err := w.Service.Import(context.Background(), strings.NewReader(tt.content),
				core.ImportOptions{Fields: tt.fields})
			if !core.IsImportError(err, tt.wantKind) {
				t.Fatalf("Import() error = %v, want %s", err, tt.wantKind)
			}
			if tt.wantField != "" && !strings.Contains(err.Error(), tt.wantField) {
				t.Errorf("error %q does not name %q", err, tt.wantField)
			}
			if n := len(w.Store.Rows()); n != 0 {
				t.Errorf("%d rows persisted after structural error", n)
			}
		})
	}
}

func TestImport_IdentityFieldSetting(t *testing.T) {
	w := newWorld(t, map[string]string{
		core.SettingMoodleIDField: "username",
		core.SettingFieldIDField:  "Login",
	})

	_, err := w.Service.Import(context.Background(), csvOf(
		"Login,Promotions,TD,Regroupements",
		"alice,P1,,",
	), core.ImportOptions{})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	row := w.Store.Rows()[0]
	if row.IDField != core.IDFieldUsername || row.Username != "alice" || row.Email != "" {
		t.Errorf("identity = %s/%q/%q", row.IDField, row.Username, row.Email)
	}
	if row.UserID != w.alice {
		t.Errorf("UserID = %d, want %d", row.UserID, w.alice)
	}
}

func TestImport_GroupTransformOverride(t *testing.T) {
	w := newWorld(t, nil)
	w.LMS.AddGroup(w.maths, "A1Gr8.1", "")

	pattern := core.DefaultGroupPattern
	replacement := core.DefaultGroupReplacement
	_, err := w.Service.Import(context.Background(), csvOf(
		"E-mail;Promotions;TD;Regroupements",
		"alice@example.com;P1;< A1 > gr8.1;",
	), core.ImportOptions{Delimiter: ';', GroupPattern: &pattern, GroupReplacement: &replacement})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	row := w.Store.Rows()[0]
	if row.MainGroup != "< A1 > gr8.1" {
		t.Errorf("MainGroup = %q, want raw value", row.MainGroup)
	}
	if row.GroupsCSV != "A1Gr8.1" || row.Status != core.StatusInited {
		t.Errorf("GroupsCSV = %q status = %v", row.GroupsCSV, row.Status)
	}
}

func TestImport_BatchesInserts(t *testing.T) {
	w := newWorld(t, nil)

	lines := []string{header}
	for i := 0; i < 300; i++ {
		lines = append(lines, fmt.Sprintf("user%d@example.com,P1,,", i))
	}
	res, err := w.Service.Import(context.Background(), csvOf(lines...), core.ImportOptions{})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if res.Rows != 300 || res.ByStatus[core.StatusPending] != 300 {
		t.Errorf("result = %+v", res)
	}
	if w.Store.Inserts != 2 {
		t.Errorf("Inserts = %d, want 2 batches", w.Store.Inserts)
	}
	if last := w.Store.Rows()[299]; last.LineID != 301 {
		t.Errorf("last LineID = %d, want 301", last.LineID)
	}
}

func TestPreview_WritesNothing(t *testing.T) {
	w := newWorld(t, nil)

	rows, err := w.Service.Preview(context.Background(), csvOf(
		header,
		"alice@example.com,P1,G1,",
		"nobody@example.com,P1,,",
	), core.ImportOptions{})
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if len(rows) != 2 || rows[0].Status != core.StatusInited || rows[1].Status != core.StatusPending {
		t.Errorf("Preview() = %+v", rows)
	}
	if n := len(w.Store.Rows()); n != 0 {
		t.Errorf("Preview persisted %d rows", n)
	}
}

func TestImport_StampsHistoryWithServiceClock(t *testing.T) {
	at := time.Date(2024, 9, 2, 8, 30, 0, 0, time.UTC)
	store := coretest.NewStore()
	svc := core.NewService(coretest.NewLMS(), store, coretest.NewSettings(map[string]string{
		core.SettingGroupPattern: "",
	}), core.Options{
		ImportWaitTime: time.Second,
		SystemActorID:  2,
		Now:            func() time.Time { return at },
	})

	if _, err := svc.Import(context.Background(), csvOf(header, "nobody@example.com,Nowhere,,"), core.ImportOptions{}); err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	row := store.Rows()[0]
	if !row.CreatedAt.Equal(at) {
		t.Errorf("CreatedAt = %v, want %v", row.CreatedAt, at)
	}
	if len(row.StatusText) != 2 {
		t.Fatalf("history = %q, want two entries", infos(row))
	}
	for _, e := range row.StatusText {
		if e.Timestamp != at.Unix() {
			t.Errorf("entry %q stamped %d, want %d", e.Info, e.Timestamp, at.Unix())
		}
	}
}
