package web

import (
	"net/http"

	"github.com/JonMunkholm/hpsync/internal/core"
)

// actorID returns the user the request acts for, as set by middleware.Actor.
func (s *Server) actorID(r *http.Request) int64 {
	return core.ActorIDFromContext(r.Context(), s.service.SystemActorID())
}
