package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/hpsync/internal/config"
	"github.com/JonMunkholm/hpsync/internal/core"
	"github.com/JonMunkholm/hpsync/internal/core/coretest"
)

const rosterHeader = "E-mail,Promotions,TD,Regroupements"

type testServer struct {
	*coretest.Fixture
	server *Server
	alice  int64
	p1     int64
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		Import: config.ImportConfig{
			MaxFileSize: 1 << 20,
			Timeout:     5 * time.Second,
			Encoding:    "utf-8",
			Delimiter:   ",",
		},
		Sync: config.SyncConfig{SystemActorID: 2},
	}
}

// newTestServer serves a catalog where alice can be synced into P1 with
// group G1 of the Maths course.
func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	ts := &testServer{Fixture: coretest.NewFixture(nil)}
	ts.alice = ts.LMS.AddUser("alice@example.com", "A100", "alice")
	ts.p1 = ts.LMS.AddCohort("Promo 1", "P1")
	maths := ts.LMS.AddCourse("Maths")
	ts.LMS.AddGroup(maths, "Groupe 1", "G1")
	ts.LMS.SyncCohort(ts.p1, maths)

	ts.server = NewServer(ts.Service, cfg)
	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, path, csv string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if csv != "" {
		fw, err := mw.CreateFormFile("file", "roster.csv")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(csv)); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func roster(lines ...string) string {
	return strings.Join(append([]string{rosterHeader}, lines...), "\n") + "\n"
}

func (ts *testServer) importRoster(t *testing.T, name string, lines ...string) core.ImportResult {
	t.Helper()
	req := uploadRequest(t, "/api/imports", roster(lines...), map[string]string{"importname": name})
	req.Header.Set("X-Actor-ID", "7")
	rec := ts.do(req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("import status = %d, body %s", rec.Code, rec.Body.String())
	}
	return decode[core.ImportResult](t, rec)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, testConfig())
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestImport_StoresRows(t *testing.T) {
	ts := newTestServer(t, testConfig())

	res := ts.importRoster(t, "week 12", "alice@example.com,P1,G1,", "nobody@example.com,P1,G1,")
	if res.Rows != 2 {
		t.Fatalf("Rows = %d, want 2", res.Rows)
	}

	batch, ok := ts.Store.Batch(res.ImportID)
	if !ok || batch.ImportName != "week 12" || batch.CreatedByID != 7 {
		t.Errorf("batch = %+v, %v", batch, ok)
	}

	rows := ts.Store.Rows()
	if len(rows) != 2 || rows[0].Status != core.StatusInited || rows[1].Status != core.StatusPending {
		t.Errorf("rows = %+v", rows)
	}
}

func TestImport_FormOptions(t *testing.T) {
	ts := newTestServer(t, testConfig())

	csv := "Login;Classe;TD;Regroupements\nalice@example.com;P1;G1;\n"
	req := uploadRequest(t, "/api/imports", csv, map[string]string{
		"delimiter":     "semicolon",
		"field_idfield": "Login",
		"field_cohort":  "Classe",
	})
	rec := ts.do(req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	rows := ts.Store.Rows()
	if len(rows) != 1 || rows[0].UserID != ts.alice || rows[0].CreatedByID != 2 {
		t.Errorf("rows = %+v", rows)
	}
}

func TestImport_Errors(t *testing.T) {
	small := testConfig()
	small.Import.MaxFileSize = 256

	tests := []struct {
		name     string
		cfg      *config.Config
		csv      string
		fields   map[string]string
		status   int
		wantCode string
	}{
		{"no file", testConfig(), "", map[string]string{"importname": "x"}, http.StatusBadRequest, "FILE003"},
		{"missing column", testConfig(), "E-mail,Promotions\na@b.c,P1\n", nil, http.StatusBadRequest, "IMP005"},
		{"unknown encoding", testConfig(), roster(), map[string]string{"encoding": "klingon"}, http.StatusBadRequest, "FILE002"},
		{"bad delimiter", testConfig(), roster(), map[string]string{"delimiter": "||"}, http.StatusBadRequest, "REQ000"},
		{"bad group pattern", testConfig(), roster(), map[string]string{"grouppattern": "(unclosed"}, http.StatusBadRequest, "IMP006"},
		{"too large", small, roster(strings.Repeat("alice@example.com,P1,G1,\n", 40)), nil, http.StatusRequestEntityTooLarge, "FILE001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.cfg)
			rec := ts.do(uploadRequest(t, "/api/imports", tt.csv, tt.fields))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d, body %s", rec.Code, tt.status, rec.Body.String())
			}
			if got := decode[ErrorResponse](t, rec); got.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got.Code, tt.wantCode)
			}
			if len(ts.Store.Rows()) != 0 {
				t.Error("failed import must not store rows")
			}
		})
	}
}

func TestPreview_DoesNotStore(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.do(uploadRequest(t, "/api/imports/preview", roster("alice@example.com,P1,G1,", "bob@example.com,Nowhere,,"), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	got := decode[struct {
		Rows     []core.ImportRow `json:"rows"`
		ByStatus map[string]int   `json:"bystatus"`
	}](t, rec)

	if len(got.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(got.Rows))
	}
	if got.Rows[1].Status != core.StatusSkipped {
		t.Errorf("row 2 status = %v, want SKIPPED", got.Rows[1].Status)
	}
	if len(ts.Store.Rows()) != 0 {
		t.Error("preview must not store rows")
	}
}

func TestRunImport_Deferred(t *testing.T) {
	ts := newTestServer(t, testConfig())
	res := ts.importRoster(t, "run me", "alice@example.com,P1,G1,")

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/imports", nil))
	unprocessed := decode[[]core.UnprocessedImport](t, rec)
	if len(unprocessed) != 1 || unprocessed[0].ImportID != res.ImportID {
		t.Fatalf("unprocessed = %+v", unprocessed)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/imports/"+itoa(res.ImportID)+"/run", strings.NewReader(`{"removeothergroups":true}`))
	req.Header.Set("X-Actor-ID", "9")
	rec = ts.do(req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decode[core.RunResult](t, rec); got.Dispatched != 1 {
		t.Errorf("RunResult = %+v", got)
	}

	cmds := ts.Queue.Commands()
	if len(cmds) != 1 {
		t.Fatalf("queued = %d, want 1", len(cmds))
	}
	cmd, ok := cmds[0].(core.ReconcileRowCommand)
	if !ok || !cmd.RemoveOtherGroups || cmd.ActorID != 9 {
		t.Errorf("command = %+v", cmds[0])
	}

	if err := ts.Queue.Drain(context.Background(), ts.Service.Execute); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if !ts.LMS.IsCohortMember(ts.p1, ts.alice) {
		t.Error("alice should be in P1")
	}
}

func TestRunImport_Inline(t *testing.T) {
	ts := newTestServer(t, testConfig())
	res := ts.importRoster(t, "", "alice@example.com,P1,G1,")

	rec := ts.do(httptest.NewRequest(http.MethodPost, "/api/imports/"+itoa(res.ImportID)+"/run", strings.NewReader(`{"deferred":false}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(ts.Queue.Commands()) != 0 {
		t.Error("inline run must not queue")
	}
	if !ts.LMS.IsCohortMember(ts.p1, ts.alice) {
		t.Error("alice should be in P1")
	}
}

func TestRunImport_Errors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown import", "/api/imports/42/run", "", http.StatusNotFound},
		{"bad id", "/api/imports/abc/run", "", http.StatusBadRequest},
		{"unknown field", "/api/imports/1/run", `{"force":true}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, testConfig())
			rec := ts.do(httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body)))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d, body %s", rec.Code, tt.status, rec.Body.String())
			}
		})
	}
}

func TestQueryLogAndPurge(t *testing.T) {
	ts := newTestServer(t, testConfig())
	first := ts.importRoster(t, "first", "alice@example.com,P1,G1,", "nobody@example.com,P1,G1,")
	second := ts.importRoster(t, "second", "alice@example.com,P1,G1,")

	tests := []struct {
		name  string
		query string
		total int
	}{
		{"all", "", 3},
		{"by import", "?importid=" + itoa(first.ImportID), 2},
		{"by status", "?status=2", 1},
		{"by identity", "?idvalue=nobody", 1},
		{"by cohort", "?cohort=P1&importid=" + itoa(second.ImportID), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/log"+tt.query, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			if page := decode[core.LogPage](t, rec); page.Total != tt.total || page.PageSize != core.LogPageSize {
				t.Errorf("page total/size = %d/%d, want %d/%d", page.Total, page.PageSize, tt.total, core.LogPageSize)
			}
		})
	}

	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/log?status=99", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown status code = %d, want 400", rec.Code)
	}

	rec := ts.do(httptest.NewRequest(http.MethodDelete, "/api/log?keep=latest", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("purge status = %d", rec.Code)
	}
	if got := decode[map[string]int64](t, rec); got["deleted"] != 2 {
		t.Errorf("deleted = %d, want 2", got["deleted"])
	}
	for _, row := range ts.Store.Rows() {
		if row.ImportID != second.ImportID {
			t.Errorf("row of import %d survived", row.ImportID)
		}
	}

	rec = ts.do(httptest.NewRequest(http.MethodDelete, "/api/log", nil))
	if got := decode[map[string]int64](t, rec); got["deleted"] != 1 || len(ts.Store.Rows()) != 0 {
		t.Errorf("purge all deleted %d, %d rows left", got["deleted"], len(ts.Store.Rows()))
	}
}

func TestImportStatusesAndPage(t *testing.T) {
	ts := newTestServer(t, testConfig())
	res := ts.importRoster(t, "<week 12>", "alice@example.com,P1,G1,")

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/imports/status", nil))
	statuses := decode[[]core.ImportStatus](t, rec)
	if len(statuses) != 1 || statuses[0].ImportID != res.ImportID || statuses[0].ImportName != "<week 12>" {
		t.Fatalf("statuses = %+v", statuses)
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("page status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "&lt;week 12&gt;") || strings.Contains(body, "<week 12>") {
		t.Error("import name should be escaped on the status page")
	}
	if !strings.Contains(body, "Not processed: 1") {
		t.Errorf("status page lacks counts: %s", body)
	}
	if !strings.Contains(body, `<progress max="100" value="0">`) {
		t.Errorf("status page lacks progress: %s", body)
	}
	if !strings.Contains(body, "<h2>Waiting to run</h2><ul><li>Import "+itoa(res.ImportID)) {
		t.Errorf("status page lacks the unprocessed import: %s", body)
	}
}

func TestLastInfo(t *testing.T) {
	if got := lastInfo(nil); got != "" {
		t.Errorf("lastInfo(nil) = %q", got)
	}
	h := core.History{{Info: "Processing start"}, {Info: "Processing done"}}
	if got := lastInfo(h); got != "Processing done" {
		t.Errorf("lastInfo() = %q", got)
	}
}

func TestSettings(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	got := decode[settingsResponse](t, rec)
	if got.Effective.Fields.Cohort != core.DefaultFieldCohort {
		t.Errorf("effective cohort field = %q", got.Effective.Fields.Cohort)
	}

	req := httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(`{"field_cohort":"Classe"}`))
	rec = ts.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}
	got = decode[settingsResponse](t, rec)
	if got.Effective.Fields.Cohort != "Classe" || got.Stored[core.SettingFieldCohort] != "Classe" {
		t.Errorf("after update = %+v", got)
	}

	tests := []struct {
		name string
		body string
	}{
		{"unknown setting", `{"colour":"blue"}`},
		{"bad id field", `{"moodle_idfield":"phone"}`},
		{"empty", `{}`},
		{"not an object", `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(tt.body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestEvents(t *testing.T) {
	ts := newTestServer(t, testConfig())
	if err := ts.Service.UpdateSettings(context.Background(), map[string]string{core.SettingSyncNewUsersEnabled: "true"}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"user created", "/api/events/user-created", `{"userid":` + itoa(ts.alice) + `}`, http.StatusNoContent},
		{"user created without id", "/api/events/user-created", `{}`, http.StatusBadRequest},
		{"user enrolled", "/api/events/user-enrolled", `{"userid":1,"courseid":2}`, http.StatusNoContent},
		{"user enrolled without course", "/api/events/user-enrolled", `{"userid":1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body)))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d, body %s", rec.Code, tt.status, rec.Body.String())
			}
		})
	}

	cmds := ts.Queue.Commands()
	if len(cmds) != 1 {
		t.Fatalf("queued = %d, want 1", len(cmds))
	}
	if cmd, ok := cmds[0].(core.PromotePendingUserCommand); !ok || cmd.UserID != ts.alice || cmd.ActorID != 2 {
		t.Errorf("command = %+v", cmds[0])
	}
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}}
	ts := newTestServer(t, cfg)

	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/imports", nil)); rec.Code != http.StatusUnauthorized {
		t.Errorf("without key = %d, want 401", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/imports", nil)
	req.Header.Set("X-API-Key", "secret")
	if rec := ts.do(req); rec.Code != http.StatusOK {
		t.Errorf("with key = %d, want 200", rec.Code)
	}
	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil)); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d, want 200", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2, ImportLimit: 1}
	ts := newTestServer(t, cfg)

	var codes []int
	for range 3 {
		codes = append(codes, ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}
}

func TestRateLimiter_WindowReset(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := &rateLimiter{visitors: map[string]*visitor{}, rate: 1, window: time.Minute, now: func() time.Time { return now }}

	if !rl.allow("a") || rl.allow("a") {
		t.Fatal("second request in the window should be refused")
	}
	if !rl.allow("b") {
		t.Error("limits are per client")
	}
	now = now.Add(2 * time.Minute)
	if !rl.allow("a") {
		t.Error("a new window should allow the request")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&core.ImportError{Kind: core.MissingField}, http.StatusBadRequest},
		{core.ErrImportNotFound, http.StatusNotFound},
		{core.ErrTooManyImports, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{badRequest("x"), http.StatusBadRequest},
		{errFileTooLarge, http.StatusRequestEntityTooLarge},
		{bytes.ErrTooLarge, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
