package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// fakeGoogleTokenEndpoint counts refresh/exchange calls and replays a
// scripted response.
type fakeGoogleTokenEndpoint struct {
	server   *httptest.Server
	calls    atomic.Int32
	status   int
	body     string
	lastForm url.Values
}

func newFakeGoogleTokenEndpoint(t *testing.T, status int, body string) *fakeGoogleTokenEndpoint {
	t.Helper()
	f := &fakeGoogleTokenEndpoint{status: status, body: body}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		f.lastForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		fmt.Fprint(w, f.body)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func newGoogleForTest(t *testing.T, endpoint *fakeGoogleTokenEndpoint) (*GoogleCalendarClient, *TokenStore) {
	t.Helper()
	tokens := newTokenStoreForTest(t)
	g := NewGoogleCalendarClient(tokens, "calendar-client-id", "calendar-client-secret")
	if endpoint != nil {
		g.tokenURL = endpoint.server.URL
		g.httpClient = endpoint.server.Client()
	}
	return g, tokens
}

func TestGoogleBuildAuthorizeURL_EmptyWhenUnconfigured(t *testing.T) {
	t.Parallel()
	g := NewGoogleCalendarClient(newTokenStoreForTest(t), "", "")
	if got := g.BuildAuthorizeURL("https://os.example.com/cb", "s", "v"); got != "" {
		t.Fatalf("unconfigured client built a URL: %q", got)
	}

	g2 := NewGoogleCalendarClient(newTokenStoreForTest(t), "id", "secret")
	if got := g2.BuildAuthorizeURL("", "s", "v"); got != "" {
		t.Fatalf("missing redirect URI should yield empty URL, got %q", got)
	}
}

func TestGoogleBuildAuthorizeURL_Parameters(t *testing.T) {
	t.Parallel()
	g, _ := newGoogleForTest(t, nil)

	verifier := GenerateCodeVerifier()
	authorizeURL := g.BuildAuthorizeURL("https://os.example.com/connect/google-calendar/callback", "state-1", verifier)
	parsed, err := url.Parse(authorizeURL)
	if err != nil {
		t.Fatalf("authorize URL unparsable: %v", err)
	}
	q := parsed.Query()
	if q.Get("access_type") != "offline" {
		t.Fatalf("access_type = %q, want offline", q.Get("access_type"))
	}
	if q.Get("code_challenge") != ComputeCodeChallenge(verifier) {
		t.Fatal("code_challenge mismatch")
	}
	if q.Get("code_challenge_method") != "S256" {
		t.Fatalf("code_challenge_method = %q", q.Get("code_challenge_method"))
	}
	if !strings.Contains(q.Get("scope"), "calendar") {
		t.Fatalf("scope = %q", q.Get("scope"))
	}
}

func TestGoogleGetAccessToken_FreshTokenNoNetwork(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	endpoint := newFakeGoogleTokenEndpoint(t, http.StatusOK, `{}`)
	g, tokens := newGoogleForTest(t, endpoint)

	if err := tokens.Save(ctx, "user-1", ProviderGoogleCalendar, "tok", "ref", 3600*time.Second); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if got := g.GetAccessToken(ctx, "user-1"); got != "tok" {
		t.Fatalf("GetAccessToken = %q, want tok", got)
	}
	if endpoint.calls.Load() != 0 {
		t.Fatalf("fresh token triggered %d network calls", endpoint.calls.Load())
	}
}

func TestGoogleGetAccessToken_RefreshPreservesRefreshToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	endpoint := newFakeGoogleTokenEndpoint(t, http.StatusOK,
		`{"access_token":"new-access","token_type":"Bearer","expires_in":3600}`)
	g, tokens := newGoogleForTest(t, endpoint)

	past := time.Now().Add(-time.Hour)
	if err := tokens.SaveWithExpiry(ctx, "user-1", ProviderGoogleCalendar, "old-access", "refresh-1", &past); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got := g.GetAccessToken(ctx, "user-1")
	if got != "new-access" {
		t.Fatalf("GetAccessToken = %q, want new-access", got)
	}
	if endpoint.calls.Load() != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", endpoint.calls.Load())
	}
	if endpoint.lastForm.Get("grant_type") != "refresh_token" {
		t.Fatalf("grant_type = %q", endpoint.lastForm.Get("grant_type"))
	}

	stored, ok, err := tokens.Get(ctx, "user-1", ProviderGoogleCalendar)
	if err != nil || !ok {
		t.Fatalf("stored token: ok=%v err=%v", ok, err)
	}
	if stored.AccessToken != "new-access" {
		t.Fatalf("persisted access token = %q", stored.AccessToken)
	}
	if stored.RefreshToken != "refresh-1" {
		t.Fatalf("refresh token not preserved: %q", stored.RefreshToken)
	}
	if stored.ExpiresAt == nil || !stored.ExpiresAt.After(time.Now()) {
		t.Fatalf("persisted expiry not advanced: %v", stored.ExpiresAt)
	}
}

func TestGoogleGetAccessToken_RefreshFailureReturnsEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	endpoint := newFakeGoogleTokenEndpoint(t, http.StatusBadRequest, `{"error":"invalid_grant"}`)
	g, tokens := newGoogleForTest(t, endpoint)

	past := time.Now().Add(-time.Hour)
	if err := tokens.SaveWithExpiry(ctx, "user-1", ProviderGoogleCalendar, "old-access", "refresh-1", &past); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if got := g.GetAccessToken(ctx, "user-1"); got != "" {
		t.Fatalf("failed refresh should read as not connected, got %q", got)
	}
	if endpoint.calls.Load() != 1 {
		t.Fatalf("expected one refresh attempt, got %d", endpoint.calls.Load())
	}
}

func TestGoogleGetAccessToken_ExpiredWithoutRefreshToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	endpoint := newFakeGoogleTokenEndpoint(t, http.StatusOK, `{}`)
	g, tokens := newGoogleForTest(t, endpoint)

	past := time.Now().Add(-time.Hour)
	if err := tokens.SaveWithExpiry(ctx, "user-1", ProviderGoogleCalendar, "old-access", "", &past); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if got := g.GetAccessToken(ctx, "user-1"); got != "" {
		t.Fatalf("expired token without refresh should read as not connected, got %q", got)
	}
	if endpoint.calls.Load() != 0 {
		t.Fatal("no refresh call should be attempted without a refresh token")
	}
}

func TestGoogleGetAccessToken_NoTokenRow(t *testing.T) {
	t.Parallel()
	g, _ := newGoogleForTest(t, nil)
	if got := g.GetAccessToken(context.Background(), "ghost"); got != "" {
		t.Fatalf("missing row should read as not connected, got %q", got)
	}
}
