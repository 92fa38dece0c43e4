package oauth

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/kuitang/project-os/internal/errs"
	"github.com/kuitang/project-os/internal/obs"
)

// Google OAuth endpoints. Fixed rather than discovered; the login OIDC
// path does its own discovery, but the calendar client only needs these.
const (
	googleAuthURL  = "https://accounts.google.com/o/oauth2/auth"
	googleTokenURL = "https://oauth2.googleapis.com/token"
)

// refreshLeeway refreshes slightly early so a token does not expire
// mid-request downstream.
const refreshLeeway = 30 * time.Second

var googleCalendarScopes = []string{
	"https://www.googleapis.com/auth/calendar.readonly",
	"https://www.googleapis.com/auth/calendar.events",
}

// GoogleCalendarClient drives the Google Calendar OAuth flow against a
// statically configured client, with transparent token refresh.
type GoogleCalendarClient struct {
	clientID     string
	clientSecret string
	authURL      string
	tokenURL     string
	tokens       *TokenStore
	httpClient   *http.Client
	now          func() time.Time
	log          interface {
		Warn(msg string, args ...any)
	}
}

// NewGoogleCalendarClient creates a GoogleCalendarClient. Empty credentials
// are allowed; the client then reports itself unconfigured and every
// authorize URL comes back empty.
func NewGoogleCalendarClient(tokens *TokenStore, clientID, clientSecret string) *GoogleCalendarClient {
	return &GoogleCalendarClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		authURL:      googleAuthURL,
		tokenURL:     googleTokenURL,
		tokens:       tokens,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		now:          time.Now,
		log:          obs.Pkg("oauth"),
	}
}

// Configured reports whether client credentials are present.
func (g *GoogleCalendarClient) Configured() bool {
	return g.clientID != "" && g.clientSecret != ""
}

func (g *GoogleCalendarClient) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     g.clientID,
		ClientSecret: g.clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       googleCalendarScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  g.authURL,
			TokenURL: g.tokenURL,
		},
	}
}

// ctxWithClient pins the exchange/refresh HTTP client so timeouts apply and
// tests can point at a fake token endpoint.
func (g *GoogleCalendarClient) ctxWithClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
}

// BuildAuthorizeURL returns the authorization URL, or "" when the client is
// not configured or no redirect URI could be computed. Empty string is a
// configuration signal, not an error; callers render a "not configured"
// message.
func (g *GoogleCalendarClient) BuildAuthorizeURL(redirectURI, state, codeVerifier string) string {
	if !g.Configured() || redirectURI == "" {
		return ""
	}
	cfg := g.oauthConfig(redirectURI)
	return cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(codeVerifier),
	)
}

// ExchangeCode redeems an authorization code and saves the resulting token
// for userID.
func (g *GoogleCalendarClient) ExchangeCode(ctx context.Context, userID, code, codeVerifier, redirectURI string) error {
	if !g.Configured() {
		return errs.New(errs.FailedPrecondition, "Google Calendar is not configured")
	}
	cfg := g.oauthConfig(redirectURI)
	tok, err := cfg.Exchange(g.ctxWithClient(ctx), code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return translateTokenError("token exchange", err)
	}

	var expiresAt *time.Time
	if !tok.Expiry.IsZero() {
		e := tok.Expiry
		expiresAt = &e
	}
	return g.tokens.SaveWithExpiry(ctx, userID, ProviderGoogleCalendar, tok.AccessToken, tok.RefreshToken, expiresAt)
}

// GetAccessToken returns a usable access token for userID, refreshing a
// stale one when a refresh token exists. Any failure collapses to "" so
// callers uniformly render "not connected"; the root cause is logged with a
// tagged reason for operators.
func (g *GoogleCalendarClient) GetAccessToken(ctx context.Context, userID string) string {
	token, ok, err := g.tokens.Get(ctx, userID, ProviderGoogleCalendar)
	if err != nil {
		g.log.Warn("calendar_token_unavailable", "reason", "store_error", "error", err)
		return ""
	}
	if !ok {
		return ""
	}
	if token.ExpiresAt == nil || g.now().Add(refreshLeeway).Before(*token.ExpiresAt) {
		return token.AccessToken
	}
	if token.RefreshToken == "" {
		g.log.Warn("calendar_token_unavailable", "reason", "no_refresh_token", "user_id", userID)
		return ""
	}
	if !g.Configured() {
		g.log.Warn("calendar_token_unavailable", "reason", "config_missing", "user_id", userID)
		return ""
	}

	cfg := g.oauthConfig("")
	refreshed, err := cfg.TokenSource(g.ctxWithClient(ctx), &oauth2.Token{RefreshToken: token.RefreshToken}).Token()
	if err != nil {
		g.log.Warn("calendar_token_unavailable", "reason", "refresh_failed", "user_id", userID, "error", err)
		return ""
	}

	// Providers may omit the refresh token on refresh responses; keep the
	// one we already hold.
	refreshToken := refreshed.RefreshToken
	if refreshToken == "" {
		refreshToken = token.RefreshToken
	}
	var expiresAt *time.Time
	if !refreshed.Expiry.IsZero() {
		e := refreshed.Expiry
		expiresAt = &e
	}
	if err := g.tokens.SaveWithExpiry(ctx, userID, ProviderGoogleCalendar, refreshed.AccessToken, refreshToken, expiresAt); err != nil {
		g.log.Warn("calendar_token_unavailable", "reason", "persist_failed", "user_id", userID, "error", err)
		return ""
	}
	return refreshed.AccessToken
}

// Connected reports whether a token row exists for userID. It does not
// validate freshness; GetAccessToken decides usability.
func (g *GoogleCalendarClient) Connected(ctx context.Context, userID string) bool {
	_, ok, err := g.tokens.Get(ctx, userID, ProviderGoogleCalendar)
	return err == nil && ok
}

// Reset deletes this user's calendar token.
func (g *GoogleCalendarClient) Reset(ctx context.Context, userID string) error {
	return g.tokens.Delete(ctx, userID, ProviderGoogleCalendar)
}
