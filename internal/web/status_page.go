package web

import (
	"net/http"
	"time"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/hpsync/internal/core"
)

// statusPageData is what the status page renders.
type statusPageData struct {
	Imports     []core.ImportStatus
	Unprocessed []core.UnprocessedImport
	Generated   time.Time
}

// handleStatusPage renders the import progress report as HTML.
func (s *Server) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	imports, err := s.service.ImportStatuses(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	unprocessed, err := s.service.UnprocessedImports(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	page := statusPage(statusPageData{Imports: imports, Unprocessed: unprocessed, Generated: time.Now()})
	templ.Handler(page).ServeHTTP(w, r)
}

// lastInfo returns the most recent history message, or "".
func lastInfo(h core.History) string {
	if len(h) == 0 {
		return ""
	}
	return h[len(h)-1].Info
}
