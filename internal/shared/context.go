package shared

import "context"

type sessionContextKey struct{}

// ContextWithSession stores the session in the request context. The session
// middleware is the only writer; handlers read through SessionFromContext.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext returns the session loaded for this request, or nil on
// paths outside the session middleware.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}
