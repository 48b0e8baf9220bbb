package web

import (
	"net/http"
)

// LMS event webhooks. The LMS posts here when a user account is created or
// a user is enrolled in a course.

type userCreatedEvent struct {
	UserID int64 `json:"userid"`
}

type userEnrolledEvent struct {
	UserID   int64 `json:"userid"`
	CourseID int64 `json:"courseid"`
}

func (s *Server) handleUserCreated(w http.ResponseWriter, r *http.Request) {
	var ev userCreatedEvent
	if err := decodeJSON(w, r, &ev); err != nil {
		s.respondError(w, r, err)
		return
	}
	if ev.UserID <= 0 {
		s.respondError(w, r, badRequest("userid is required"))
		return
	}

	if err := s.service.OnUserCreated(r.Context(), ev.UserID); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUserEnrolled(w http.ResponseWriter, r *http.Request) {
	var ev userEnrolledEvent
	if err := decodeJSON(w, r, &ev); err != nil {
		s.respondError(w, r, err)
		return
	}
	if ev.UserID <= 0 || ev.CourseID <= 0 {
		s.respondError(w, r, badRequest("userid and courseid are required"))
		return
	}

	if err := s.service.OnUserEnrolled(r.Context(), ev.UserID, ev.CourseID); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
