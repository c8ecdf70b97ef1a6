package identity

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/meridian-bank/meridian/internal/platform/httpx"
	"github.com/meridian-bank/meridian/internal/shared"
)

// Middleware resolves the caller's role on every protected route and injects
// the Identity into the request context.
type Middleware struct {
	Resolver *Resolver
	Sessions *shared.SessionManager
	Logger   *slog.Logger
}

// Require ensures the session user resolves to one of the given roles. An
// ambiguous profile forces sign-out: the role cannot be trusted, so the
// session is destroyed before the request is refused.
func (m Middleware) Require(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := shared.SessionFromContext(r.Context())
			userID, ok := currentUserID(sess, m.Logger)
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			id, err := m.Resolver.Resolve(r.Context(), userID)
			if err != nil {
				if errors.Is(err, ErrAmbiguousProfile) {
					m.Sessions.Destroy(sess)
					if m.Logger != nil {
						m.Logger.Warn("ambiguous profile, forcing sign-out", slog.Int64("user_id", userID))
					}
					httpx.RespondError(w, httpx.ErrForbidden)
					return
				}
				if errors.Is(err, ErrNoProfile) {
					httpx.RespondError(w, httpx.ErrForbidden)
					return
				}
				if m.Logger != nil {
					m.Logger.Error("resolve identity", slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			for _, role := range roles {
				if id.Role == role {
					next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
					return
				}
			}
			httpx.RespondError(w, httpx.ErrForbidden)
		})
	}
}

func currentUserID(sess *shared.Session, logger *slog.Logger) (int64, bool) {
	if sess == nil {
		return 0, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if logger != nil {
			logger.Error("parse session user id", slog.String("value", raw))
		}
		return 0, false
	}
	return id, true
}
