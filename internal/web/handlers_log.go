package web

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/hpsync/internal/core"
)

// handleQueryLog returns one page of the import log.
//
// Query parameters: importid, idvalue, cohort, status (numeric code), page
// (zero-based) and pagesize.
func (s *Server) handleQueryLog(w http.ResponseWriter, r *http.Request) {
	filter, err := parseLogFilter(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	page, err := s.service.QueryLog(r.Context(), filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func parseLogFilter(r *http.Request) (core.LogFilter, error) {
	q := r.URL.Query()
	filter := core.LogFilter{
		IDValue: strings.TrimSpace(q.Get("idvalue")),
		Cohort:  strings.TrimSpace(q.Get("cohort")),
	}

	var err error
	if filter.ImportID, err = parseInt64Param(r, "importid"); err != nil {
		return filter, err
	}
	page, err := parseInt64Param(r, "page")
	if err != nil {
		return filter, err
	}
	size, err := parseInt64Param(r, "pagesize")
	if err != nil {
		return filter, err
	}
	if size > 500 {
		size = 500
	}
	filter.Page, filter.PageSize = int(page), int(size)

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		code, err := strconv.Atoi(raw)
		if err != nil {
			return filter, badRequest("status must be a status code")
		}
		st, ok := core.ParseStatus(code)
		if !ok {
			return filter, badRequest("unknown status %d", code)
		}
		filter.Status = &st
	}
	return filter.Normalize(), nil
}

// handlePurgeLog deletes the import log; ?keep=latest keeps the newest import.
func (s *Server) handlePurgeLog(w http.ResponseWriter, r *http.Request) {
	keep := r.URL.Query().Get("keep")
	if keep != "" && keep != "latest" {
		s.respondError(w, r, badRequest("keep must be \"latest\" when set"))
		return
	}

	deleted, err := s.service.Purge(r.Context(), keep == "latest")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}
