package core

import "context"

type contextKey string

const (
	ctxKeyActorID   contextKey = "actor_id"
	ctxKeyIPAddress contextKey = "actor_ip"
)

// ContextWithActorID records the LMS user acting on behalf of a request.
func ContextWithActorID(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, ctxKeyActorID, actorID)
}

// ActorIDFromContext returns the acting user, or fallback when none was set.
func ActorIDFromContext(ctx context.Context, fallback int64) int64 {
	if v, ok := ctx.Value(ctxKeyActorID).(int64); ok && v > 0 {
		return v
	}
	return fallback
}

// ContextWithIPAddress adds the client IP address to context for logging.
func ContextWithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyIPAddress, ip)
}

// IPAddressFromContext extracts the client IP address from context.
func IPAddressFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyIPAddress).(string); ok {
		return v
	}
	return ""
}
