package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/hpsync/internal/core"
)

// ActorHeader names the LMS user a request acts on behalf of.
const ActorHeader = "X-Actor-ID"

// Actor records the acting user in the request context. Requests without
// the header act as systemActorID; a header that is not a positive integer
// is rejected.
func Actor(systemActorID int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actorID := systemActorID
			if raw := strings.TrimSpace(r.Header.Get(ActorHeader)); raw != "" {
				id, err := strconv.ParseInt(raw, 10, 64)
				if err != nil || id <= 0 {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusBadRequest)
					_, _ = w.Write([]byte(`{"error":"invalid actor id","code":"REQ003"}`))
					return
				}
				actorID = id
			}

			ctx := core.ContextWithActorID(r.Context(), actorID)
			ctx = core.ContextWithIPAddress(ctx, r.RemoteAddr)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
