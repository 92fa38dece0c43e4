package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kuitang/project-os/internal/db"
	"github.com/kuitang/project-os/internal/obs"
)

const (
	// SessionDuration is how long a login session stays valid.
	SessionDuration = 30 * 24 * time.Hour
	// SessionCookieName is the cookie carrying the session ID.
	SessionCookieName = "session_id"

	sessionIDBytes = 32
)

// SessionService manages server-side login sessions.
type SessionService struct {
	db            *db.DB
	secureCookies bool
}

// NewSessionService creates a session service. secureCookies controls the
// Secure attribute on issued cookies; disable it only for local HTTP.
func NewSessionService(database *db.DB, secureCookies bool) *SessionService {
	return &SessionService{db: database, secureCookies: secureCookies}
}

// Create issues a new session for the user and returns the session ID.
func (s *SessionService) Create(ctx context.Context, userID string) (string, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return "", fmt.Errorf("generate session ID: %w", err)
	}

	now := time.Now()
	if _, err := s.db.SQL().ExecContext(ctx,
		"INSERT INTO sessions (session_id, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)",
		sessionID, userID, now.Add(SessionDuration).Unix(), now.Unix()); err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return sessionID, nil
}

// Validate resolves a session ID to its user. Returns ("", nil) for
// missing or expired sessions; expired rows are deleted on sight.
func (s *SessionService) Validate(ctx context.Context, sessionID string) (string, error) {
	var userID string
	var expiresAt int64
	err := s.db.SQL().QueryRowContext(ctx,
		"SELECT user_id, expires_at FROM sessions WHERE session_id = ?", sessionID).
		Scan(&userID, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query session: %w", err)
	}

	if time.Now().Unix() >= expiresAt {
		if err := s.Delete(ctx, sessionID); err != nil {
			obs.From(ctx).Warn("expired_session_delete_failed", "error", err)
		}
		return "", nil
	}
	return userID, nil
}

// Delete removes one session (logout).
func (s *SessionService) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.SQL().ExecContext(ctx,
		"DELETE FROM sessions WHERE session_id = ?", sessionID)
	return err
}

// DeleteByUserID removes every session for a user.
func (s *SessionService) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := s.db.SQL().ExecContext(ctx,
		"DELETE FROM sessions WHERE user_id = ?", userID)
	return err
}

// Cleanup removes expired sessions and returns how many were deleted.
func (s *SessionService) Cleanup(ctx context.Context) (int64, error) {
	result, err := s.db.SQL().ExecContext(ctx,
		"DELETE FROM sessions WHERE expires_at < ?", time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// StartCleanup sweeps expired sessions on the given interval until the
// context is cancelled.
func (s *SessionService) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		log := obs.Pkg("auth")
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deleted, err := s.Cleanup(ctx)
				if err != nil {
					log.Warn("session_cleanup_failed", "error", err)
				} else if deleted > 0 {
					log.Info("session_cleanup", "deleted", deleted)
				}
			}
		}
	}()
}

// SetCookie writes the session cookie on the response.
func (s *SessionService) SetCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(SessionDuration.Seconds()),
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func (s *SessionService) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// GetFromRequest reads the session ID cookie, returning "" when absent.
func GetFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func generateSessionID() (string, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
