package auth

import (
	"context"
	"net/http"

	"github.com/kuitang/project-os/internal/obs"
)

type contextKey string

const userIDKey contextKey = "userID"

// WithUserID stamps the authenticated user onto the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID returns the authenticated user ID, or "" when the request is
// anonymous.
func GetUserID(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

// Middleware validates session cookies for HTTP handlers.
type Middleware struct {
	sessions *SessionService
}

func NewMiddleware(sessions *SessionService) *Middleware {
	return &Middleware{sessions: sessions}
}

// RequireAuth rejects requests without a valid session with 401.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := GetFromRequest(r)
		if sessionID == "" {
			http.Error(w, "Unauthorized: no session", http.StatusUnauthorized)
			return
		}

		userID, err := m.sessions.Validate(r.Context(), sessionID)
		if err != nil {
			obs.From(r.Context()).Warn("session_validate_failed", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if userID == "" {
			http.Error(w, "Unauthorized: invalid session", http.StatusUnauthorized)
			return
		}

		ctx := WithUserID(r.Context(), userID)
		ctx = obs.WithUserID(ctx, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth attaches the user when a valid session is present and lets
// the request through either way.
func (m *Middleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sessionID := GetFromRequest(r); sessionID != "" {
			if userID, err := m.sessions.Validate(r.Context(), sessionID); err == nil && userID != "" {
				ctx := WithUserID(r.Context(), userID)
				ctx = obs.WithUserID(ctx, userID)
				r = r.WithContext(ctx)
			}
		}
		next.ServeHTTP(w, r)
	})
}
