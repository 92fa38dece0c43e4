package oauth

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/kuitang/project-os/internal/db"
	"github.com/kuitang/project-os/internal/errs"
	"github.com/kuitang/project-os/internal/obs"
)

const (
	// metadataTTL bounds how long a discovery document is reused. The
	// document is effectively static per deployment; one hour just caps
	// how stale a restartless process can get.
	metadataTTL = time.Hour

	// granolaClientName is the client_name sent on dynamic registration.
	granolaClientName = "Project OS"

	defaultGranolaScope = "openid profile email offline_access"

	wellKnownMetadataPath = "/.well-known/oauth-authorization-server"
)

// ServerMetadata is the subset of RFC 8414 authorization-server metadata
// this client needs.
type ServerMetadata struct {
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	RegistrationEndpoint  string   `json:"registration_endpoint"`
	ScopesSupported       []string `json:"scopes_supported,omitempty"`
}

// metadataCache holds one discovery document with a TTL. The clock is a
// field so tests can expire entries without sleeping.
type metadataCache struct {
	mu        sync.Mutex
	value     *ServerMetadata
	fetchedAt time.Time
	ttl       time.Duration
	now       func() time.Time
}

func newMetadataCache(ttl time.Duration) *metadataCache {
	return &metadataCache{ttl: ttl, now: time.Now}
}

func (c *metadataCache) get() (*ServerMetadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value == nil || c.now().Sub(c.fetchedAt) > c.ttl {
		return nil, false
	}
	return c.value, true
}

func (c *metadataCache) put(md *ServerMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = md
	c.fetchedAt = c.now()
}

// ClientRegistration is a dynamically registered OAuth client. ClientSecret
// is empty for public PKCE clients. One row is shared by all users of the
// deployment; it is only valid while RedirectURI matches the deployment's
// computed callback URL byte-for-byte.
type ClientRegistration struct {
	Provider     string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	RegisteredAt time.Time
}

// RegistrationStore persists dynamic client registrations, one per provider.
type RegistrationStore struct {
	db  *db.DB
	now func() time.Time
}

// NewRegistrationStore creates a RegistrationStore over the application database.
func NewRegistrationStore(d *db.DB) *RegistrationStore {
	return &RegistrationStore{db: d, now: time.Now}
}

// Get returns the stored registration for provider, with ok=false when absent.
func (s *RegistrationStore) Get(ctx context.Context, provider string) (ClientRegistration, bool, error) {
	var (
		reg            ClientRegistration
		registeredUnix int64
	)
	row := s.db.SQL().QueryRowContext(ctx,
		`SELECT provider, client_id, client_secret, redirect_uri, registered_at
		 FROM oauth_client_registrations WHERE provider = ?`, provider)
	err := row.Scan(&reg.Provider, &reg.ClientID, &reg.ClientSecret, &reg.RedirectURI, &registeredUnix)
	if errors.Is(err, sql.ErrNoRows) {
		return ClientRegistration{}, false, nil
	}
	if err != nil {
		return ClientRegistration{}, false, errs.Wrap(errs.Internal, "could not load client registration", err)
	}
	reg.RegisteredAt = time.Unix(registeredUnix, 0)
	return reg, true, nil
}

// Save upserts the registration row for its provider. Last writer wins on
// the DCR bootstrap race.
func (s *RegistrationStore) Save(ctx context.Context, reg ClientRegistration) error {
	_, err := s.db.SQL().ExecContext(ctx,
		`INSERT INTO oauth_client_registrations (provider, client_id, client_secret, redirect_uri, registered_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (provider) DO UPDATE SET
		   client_id = excluded.client_id,
		   client_secret = excluded.client_secret,
		   redirect_uri = excluded.redirect_uri,
		   registered_at = excluded.registered_at`,
		reg.Provider, reg.ClientID, reg.ClientSecret, reg.RedirectURI, s.now().Unix(),
	)
	if err != nil {
		return errs.Wrap(errs.Internal, "could not save client registration", err)
	}
	return nil
}

// Delete removes the registration row for provider.
func (s *RegistrationStore) Delete(ctx context.Context, provider string) error {
	_, err := s.db.SQL().ExecContext(ctx,
		`DELETE FROM oauth_client_registrations WHERE provider = ?`, provider)
	if err != nil {
		return errs.Wrap(errs.Internal, "could not delete client registration", err)
	}
	return nil
}

// GranolaClient drives the Granola OAuth flow: discovery, dynamic client
// registration, authorize URL construction, and code exchange. Granola does
// not support token refresh today, so a stale token simply reads as "not
// connected" until the user reconnects.
type GranolaClient struct {
	authBaseURL   string
	httpClient    *http.Client
	registrations *RegistrationStore
	tokens        *TokenStore
	metadata      *metadataCache
	now           func() time.Time
	log           interface {
		Warn(msg string, args ...any)
		Debug(msg string, args ...any)
	}
}

// NewGranolaClient creates a GranolaClient. authBaseURL is the origin whose
// well-known metadata document describes the authorization server.
func NewGranolaClient(d *db.DB, tokens *TokenStore, authBaseURL string, httpClient *http.Client) *GranolaClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &GranolaClient{
		authBaseURL:   strings.TrimRight(authBaseURL, "/"),
		httpClient:    httpClient,
		registrations: NewRegistrationStore(d),
		tokens:        tokens,
		metadata:      newMetadataCache(metadataTTL),
		now:           time.Now,
		log:           obs.Pkg("oauth"),
	}
}

// Metadata returns the authorization-server metadata, fetching the
// well-known document when the cache is cold or stale.
func (g *GranolaClient) Metadata(ctx context.Context) (*ServerMetadata, error) {
	if md, ok := g.metadata.get(); ok {
		return md, nil
	}

	url := g.authBaseURL + wellKnownMetadataPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "could not build discovery request", err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "authorization server discovery failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "authorization server discovery failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.Upstream(errs.Unavailable, "authorization server discovery", resp.StatusCode, body)
	}

	var md ServerMetadata
	if err := json.Unmarshal(body, &md); err != nil {
		return nil, errs.Wrap(errs.Protocol, "authorization server metadata is not valid JSON", err)
	}
	if md.AuthorizationEndpoint == "" || md.TokenEndpoint == "" {
		return nil, errs.New(errs.Protocol, "authorization server metadata is missing required endpoints")
	}

	g.metadata.put(&md)
	return &md, nil
}

// GetOrRegisterClient returns the stored registration when its redirect URI
// matches redirectURI exactly; otherwise it clears any stale row and
// performs a fresh dynamic client registration.
func (g *GranolaClient) GetOrRegisterClient(ctx context.Context, redirectURI string) (ClientRegistration, error) {
	stored, ok, err := g.registrations.Get(ctx, ProviderGranola)
	if err != nil {
		return ClientRegistration{}, err
	}
	if ok && stored.RedirectURI == redirectURI {
		return stored, nil
	}
	if ok {
		g.log.Debug("registration_invalidated",
			"stored_redirect_uri", stored.RedirectURI,
			"computed_redirect_uri", redirectURI)
		if err := g.registrations.Delete(ctx, ProviderGranola); err != nil {
			return ClientRegistration{}, err
		}
	}

	md, err := g.Metadata(ctx)
	if err != nil {
		return ClientRegistration{}, err
	}
	if md.RegistrationEndpoint == "" {
		return ClientRegistration{}, errs.New(errs.FailedPrecondition,
			"authorization server does not support dynamic client registration")
	}

	reg, err := g.register(ctx, md, redirectURI)
	if err != nil {
		return ClientRegistration{}, err
	}
	if err := g.registrations.Save(ctx, reg); err != nil {
		return ClientRegistration{}, err
	}
	return reg, nil
}

func (g *GranolaClient) register(ctx context.Context, md *ServerMetadata, redirectURI string) (ClientRegistration, error) {
	payload := map[string]any{
		"redirect_uris":              []string{redirectURI},
		"client_name":                granolaClientName,
		"scope":                      g.scope(md),
		"grant_types":                []string{"authorization_code", "refresh_token"},
		"response_types":             []string{"code"},
		"token_endpoint_auth_method": "none",
		"code_challenge_method":      "S256",
		"application_type":           "web",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return ClientRegistration{}, errs.Wrap(errs.Internal, "could not encode registration request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, md.RegistrationEndpoint, bytes.NewReader(body))
	if err != nil {
		return ClientRegistration{}, errs.Wrap(errs.Internal, "could not build registration request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return ClientRegistration{}, errs.Wrap(errs.Unavailable, "client registration failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ClientRegistration{}, errs.Wrap(errs.Unavailable, "client registration failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ClientRegistration{}, errs.Upstream(errs.Unavailable, "client registration", resp.StatusCode, respBody)
	}

	var parsed struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return ClientRegistration{}, errs.Wrap(errs.Protocol, "client registration response is not valid JSON", err)
	}
	if parsed.ClientID == "" {
		return ClientRegistration{}, errs.New(errs.Protocol, "client registration response is missing client_id")
	}

	return ClientRegistration{
		Provider:     ProviderGranola,
		ClientID:     parsed.ClientID,
		ClientSecret: parsed.ClientSecret,
		RedirectURI:  redirectURI,
		RegisteredAt: g.now(),
	}, nil
}

func (g *GranolaClient) scope(md *ServerMetadata) string {
	if len(md.ScopesSupported) > 0 {
		return strings.Join(md.ScopesSupported, " ")
	}
	return defaultGranolaScope
}

func (g *GranolaClient) oauthConfig(md *ServerMetadata, reg ClientRegistration) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     reg.ClientID,
		ClientSecret: reg.ClientSecret,
		RedirectURL:  reg.RedirectURI,
		Scopes:       strings.Fields(g.scope(md)),
		Endpoint: oauth2.Endpoint{
			AuthURL:   md.AuthorizationEndpoint,
			TokenURL:  md.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// BuildAuthorizeURL composes the authorization URL for a flow, registering
// the client first when needed.
func (g *GranolaClient) BuildAuthorizeURL(ctx context.Context, redirectURI, state, codeVerifier string) (string, error) {
	md, err := g.Metadata(ctx)
	if err != nil {
		return "", err
	}
	reg, err := g.GetOrRegisterClient(ctx, redirectURI)
	if err != nil {
		return "", err
	}
	cfg := g.oauthConfig(md, reg)
	return cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(codeVerifier)), nil
}

// ExchangeCode redeems an authorization code and saves the resulting token
// for userID. The redirect URI must byte-match the one used on authorize.
func (g *GranolaClient) ExchangeCode(ctx context.Context, userID, code, codeVerifier, redirectURI string) error {
	md, err := g.Metadata(ctx)
	if err != nil {
		return err
	}
	reg, ok, err := g.registrations.Get(ctx, ProviderGranola)
	if err != nil {
		return err
	}
	if !ok || reg.RedirectURI != redirectURI {
		return errs.New(errs.FailedPrecondition,
			"client registration is missing or stale; please restart the connect flow")
	}

	cfg := g.oauthConfig(md, reg)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return translateTokenError("token exchange", err)
	}

	var expiresAt *time.Time
	if !tok.Expiry.IsZero() {
		e := tok.Expiry
		expiresAt = &e
	}
	return g.tokens.SaveWithExpiry(ctx, userID, ProviderGranola, tok.AccessToken, tok.RefreshToken, expiresAt)
}

// AccessToken returns the stored Granola access token for userID, or ""
// when absent or stale. Granola issues no refresh path, so staleness means
// the user must reconnect; the root cause is logged, never surfaced.
func (g *GranolaClient) AccessToken(ctx context.Context, userID string) string {
	token, ok, err := g.tokens.Get(ctx, userID, ProviderGranola)
	if err != nil {
		g.log.Warn("granola_token_unavailable", "reason", "store_error", "error", err)
		return ""
	}
	if !ok {
		return ""
	}
	if token.ExpiredAt(g.now()) {
		g.log.Warn("granola_token_unavailable", "reason", "token_expired", "user_id", userID)
		return ""
	}
	return token.AccessToken
}

// ResetConnection clears the shared client registration (forcing fresh DCR
// on the next connect) and deletes this user's Granola token. Other users'
// tokens are untouched.
func (g *GranolaClient) ResetConnection(ctx context.Context, userID string) error {
	if err := g.registrations.Delete(ctx, ProviderGranola); err != nil {
		return err
	}
	return g.tokens.Delete(ctx, userID, ProviderGranola)
}

// translateTokenError maps x/oauth2 failures onto the coded taxonomy,
// keeping provider status and body when available.
func translateTokenError(operation string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return errs.Upstream(errs.Unavailable, operation, status, retrieveErr.Body)
	}
	return errs.Wrap(errs.Unavailable, operation+" failed", err)
}
