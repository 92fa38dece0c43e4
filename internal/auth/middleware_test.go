package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kuitang/project-os/internal/testdb"
)

func TestRequireAuth(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sessions := NewSessionService(testdb.New(t), false)
	mw := NewMiddleware(sessions)

	var seenUserID string
	handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUserID = GetUserID(r.Context())
	}))

	// No cookie.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/projects", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no cookie: status %d, want 401", rec.Code)
	}

	// Bogus session.
	req := httptest.NewRequest("GET", "/projects", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "bogus"})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bogus session: status %d, want 401", rec.Code)
	}

	// Valid session.
	sessionID, err := sessions.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	req = httptest.NewRequest("GET", "/projects", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sessionID})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid session: status %d, want 200", rec.Code)
	}
	if seenUserID != "user-1" {
		t.Fatalf("handler saw user %q, want user-1", seenUserID)
	}
}

func TestOptionalAuth(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sessions := NewSessionService(testdb.New(t), false)
	mw := NewMiddleware(sessions)

	var seenUserID string
	handler := mw.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUserID = GetUserID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("anonymous request blocked: status %d", rec.Code)
	}
	if seenUserID != "" {
		t.Fatalf("anonymous request carried user %q", seenUserID)
	}

	sessionID, err := sessions.Create(ctx, "user-2")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sessionID})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seenUserID != "user-2" {
		t.Fatalf("handler saw user %q, want user-2", seenUserID)
	}
}
