package oauth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kuitang/project-os/internal/db"
	"github.com/kuitang/project-os/internal/errs"
)

// Provider names used as the second half of the token-store key.
const (
	ProviderGranola        = "granola"
	ProviderGoogleCalendar = "google_calendar"
)

// Token is one credential set for a (user, provider) pair. ExpiresAt is nil
// when the provider did not report a lifetime; such tokens never expire for
// freshness checks.
type Token struct {
	UserID       string
	Provider     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	UpdatedAt    time.Time
}

// ExpiredAt reports whether the token is stale at the given instant.
func (t Token) ExpiredAt(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// TokenStore persists provider tokens, one row per (user, provider).
type TokenStore struct {
	db  *db.DB
	now func() time.Time
}

// NewTokenStore creates a TokenStore over the application database.
func NewTokenStore(d *db.DB) *TokenStore {
	return &TokenStore{db: d, now: time.Now}
}

// Save upserts the token row for (userID, provider). expiresIn <= 0 stores
// a NULL expiry.
func (s *TokenStore) Save(ctx context.Context, userID, provider, accessToken, refreshToken string, expiresIn time.Duration) error {
	var expiresAt *time.Time
	if expiresIn > 0 {
		t := s.now().Add(expiresIn)
		expiresAt = &t
	}
	return s.SaveWithExpiry(ctx, userID, provider, accessToken, refreshToken, expiresAt)
}

// SaveWithExpiry upserts with an absolute expiry timestamp (nil for none).
func (s *TokenStore) SaveWithExpiry(ctx context.Context, userID, provider, accessToken, refreshToken string, expiresAt *time.Time) error {
	var expiresUnix any
	if expiresAt != nil {
		expiresUnix = expiresAt.Unix()
	}
	_, err := s.db.SQL().ExecContext(ctx,
		`INSERT INTO provider_tokens (user_id, provider, access_token, refresh_token, expires_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, provider) DO UPDATE SET
		   access_token = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   expires_at = excluded.expires_at,
		   updated_at = excluded.updated_at`,
		userID, provider, accessToken, refreshToken, expiresUnix, s.now().Unix(),
	)
	if err != nil {
		return errs.Wrap(errs.Internal, "could not save provider token", err)
	}
	return nil
}

// Get returns the token for (userID, provider), with ok=false when absent.
func (s *TokenStore) Get(ctx context.Context, userID, provider string) (Token, bool, error) {
	var (
		token       Token
		expiresUnix sql.NullInt64
		updatedUnix int64
	)
	row := s.db.SQL().QueryRowContext(ctx,
		`SELECT user_id, provider, access_token, refresh_token, expires_at, updated_at
		 FROM provider_tokens WHERE user_id = ? AND provider = ?`,
		userID, provider)
	err := row.Scan(&token.UserID, &token.Provider, &token.AccessToken,
		&token.RefreshToken, &expiresUnix, &updatedUnix)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, errs.Wrap(errs.Internal, "could not load provider token", err)
	}
	if expiresUnix.Valid {
		t := time.Unix(expiresUnix.Int64, 0)
		token.ExpiresAt = &t
	}
	token.UpdatedAt = time.Unix(updatedUnix, 0)
	return token, true, nil
}

// Delete removes the token row for (userID, provider). Deleting a missing
// row is not an error.
func (s *TokenStore) Delete(ctx context.Context, userID, provider string) error {
	_, err := s.db.SQL().ExecContext(ctx,
		`DELETE FROM provider_tokens WHERE user_id = ? AND provider = ?`,
		userID, provider)
	if err != nil {
		return errs.Wrap(errs.Internal, "could not delete provider token", err)
	}
	return nil
}
