package identity_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-bank/meridian/internal/identity"
	"github.com/meridian-bank/meridian/internal/shared"
)

func TestRequireDestroysSessionOnAmbiguousProfile(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(client, "meridian_session", "test-secret", time.Hour, false)

	mw := identity.Middleware{
		Resolver: identity.NewResolver(&stubProfileRepo{
			customer: &identity.Profile{ID: 1, UserID: 5},
			admin:    &identity.Profile{ID: 2, UserID: 5},
		}),
		Sessions: sessions,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	req := httptest.NewRequest(http.MethodGet, "/accounts", nil)
	sess, err := sessions.Load(req.Context(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	sess.SetUser("5")
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))

	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler reached despite ambiguous profile")
	})
	rec := httptest.NewRecorder()
	mw.Require(identity.RoleCustomer)(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
	if !sess.Destroyed() {
		t.Fatal("session not marked destroyed after ambiguous resolve")
	}

	// Committing the destroyed session must not leave anything in redis.
	final := httptest.NewRecorder()
	if err := sessions.Commit(req.Context(), final, req, sess); err != nil {
		t.Fatalf("commit destroyed session: %v", err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("session still stored in redis: %v", keys)
	}
	cookies := final.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("expected expiring cookie, got %+v", cookies)
	}
}
