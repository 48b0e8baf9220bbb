package web

import (
	"net/http"

	"github.com/JonMunkholm/hpsync/internal/core"
)

// settingsResponse shows the effective settings next to what is stored.
type settingsResponse struct {
	Effective core.Settings     `json:"effective"`
	Stored    map[string]string `json:"stored"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.writeSettings(w, r, http.StatusOK)
}

// handleUpdateSettings stores a JSON object of setting name to value.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var values map[string]string
	if err := decodeJSON(w, r, &values); err != nil {
		s.respondError(w, r, err)
		return
	}
	if len(values) == 0 {
		s.respondError(w, r, badRequest("no settings given"))
		return
	}

	if err := s.service.UpdateSettings(r.Context(), values); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeSettings(w, r, http.StatusOK)
}

func (s *Server) writeSettings(w http.ResponseWriter, r *http.Request, status int) {
	stored, err := s.service.RawSettings(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	effective, err := core.SettingsFromMap(stored)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if stored == nil {
		stored = map[string]string{}
	}
	writeJSON(w, status, settingsResponse{Effective: effective, Stored: stored})
}
