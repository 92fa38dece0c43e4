package oauth

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/kuitang/project-os/internal/auth"
	"github.com/kuitang/project-os/internal/errs"
	"github.com/kuitang/project-os/internal/obs"
	"github.com/kuitang/project-os/internal/ratelimit"
	"github.com/kuitang/project-os/internal/urlutil"
)

// DefaultReturnPath is where the browser lands after a connect flow when
// the flow did not carry its own return path.
const DefaultReturnPath = "/projects"

const invalidStateMessage = "Invalid or expired state. Please try connecting again."

// URL path slugs for the two providers.
const (
	slugGranola        = "granola"
	slugGoogleCalendar = "google-calendar"
)

// Handlers exposes the browser-facing connect endpoints.
type Handlers struct {
	baseURL string
	granola *GranolaClient
	google  *GoogleCalendarClient
	pending *PendingStore
	tokens  *TokenStore
	limiter *ratelimit.RateLimiter
}

// NewHandlers creates the connect endpoint handlers.
func NewHandlers(baseURL string, granola *GranolaClient, google *GoogleCalendarClient, pending *PendingStore, tokens *TokenStore, limiter *ratelimit.RateLimiter) *Handlers {
	return &Handlers{
		baseURL: baseURL,
		granola: granola,
		google:  google,
		pending: pending,
		tokens:  tokens,
		limiter: limiter,
	}
}

// RegisterRoutes mounts the connect routes. requireAuth wraps the routes
// that need a logged-in user; callbacks stay unwrapped because the pending
// record, not the session, identifies the flow's owner.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux, requireAuth func(http.Handler) http.Handler) {
	mux.Handle("GET /connect/granola", requireAuth(http.HandlerFunc(h.initiateGranola)))
	mux.Handle("GET /connect/google-calendar", requireAuth(http.HandlerFunc(h.initiateGoogleCalendar)))
	mux.HandleFunc("GET /connect/granola/callback", h.granolaCallback)
	mux.HandleFunc("GET /connect/google-calendar/callback", h.googleCalendarCallback)
	mux.Handle("POST /connect/granola/reset", requireAuth(http.HandlerFunc(h.resetGranola)))
	mux.Handle("POST /connect/google-calendar/reset", requireAuth(http.HandlerFunc(h.resetGoogleCalendar)))
	mux.Handle("GET /connect/status", requireAuth(http.HandlerFunc(h.status)))
}

func (h *Handlers) initiateGranola(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.GetUserID(ctx)
	if !h.limiter.Allow(userID) {
		h.redirectError(w, r, "", "Too many connection attempts. Please wait a moment and try again.")
		return
	}

	returnPath := sanitizeReturnPath(r.URL.Query().Get("return_path"))
	state := GenerateState()
	verifier := GenerateCodeVerifier()
	redirectURI := h.callbackURL(r, slugGranola)

	err := h.pending.Store(ctx, PendingAuthorization{
		State:        state,
		CodeVerifier: verifier,
		UserID:       userID,
		Provider:     ProviderGranola,
		ReturnPath:   returnPath,
	})
	if err != nil {
		h.redirectError(w, r, returnPath, errs.MessageOf(err))
		return
	}

	authorizeURL, err := h.granola.BuildAuthorizeURL(ctx, redirectURI, state, verifier)
	if err != nil {
		obs.From(ctx).Warn("granola_connect_failed", "error", err)
		h.redirectError(w, r, returnPath, errs.MessageOf(err))
		return
	}
	http.Redirect(w, r, authorizeURL, http.StatusFound)
}

func (h *Handlers) initiateGoogleCalendar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.GetUserID(ctx)
	if !h.limiter.Allow(userID) {
		h.redirectError(w, r, "", "Too many connection attempts. Please wait a moment and try again.")
		return
	}

	returnPath := sanitizeReturnPath(r.URL.Query().Get("return_path"))
	state := GenerateState()
	verifier := GenerateCodeVerifier()
	redirectURI := h.callbackURL(r, slugGoogleCalendar)

	authorizeURL := h.google.BuildAuthorizeURL(redirectURI, state, verifier)
	if authorizeURL == "" {
		h.redirectError(w, r, returnPath, "Google Calendar is not configured for this deployment.")
		return
	}

	err := h.pending.Store(ctx, PendingAuthorization{
		State:        state,
		CodeVerifier: verifier,
		UserID:       userID,
		Provider:     ProviderGoogleCalendar,
		ReturnPath:   returnPath,
	})
	if err != nil {
		h.redirectError(w, r, returnPath, errs.MessageOf(err))
		return
	}
	http.Redirect(w, r, authorizeURL, http.StatusFound)
}

func (h *Handlers) granolaCallback(w http.ResponseWriter, r *http.Request) {
	h.handleCallback(w, r, slugGranola, ProviderGranola)
}

func (h *Handlers) googleCalendarCallback(w http.ResponseWriter, r *http.Request) {
	h.handleCallback(w, r, slugGoogleCalendar, ProviderGoogleCalendar)
}

// handleCallback never renders an error page: every outcome is a redirect
// back to the app with a query-string flag.
func (h *Handlers) handleCallback(w http.ResponseWriter, r *http.Request, slug, provider string) {
	ctx := r.Context()
	q := r.URL.Query()

	if errCode := q.Get("error"); errCode != "" {
		// Consent denied or provider-side failure. Burn the pending row
		// so the state cannot be replayed.
		if state := q.Get("state"); state != "" {
			_, _, _ = h.pending.Consume(ctx, state)
		}
		msg := q.Get("error_description")
		if msg == "" {
			msg = errCode
		}
		h.redirectError(w, r, "", "Authorization failed: "+msg)
		return
	}

	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		h.redirectError(w, r, "", "Authorization callback is missing code or state.")
		return
	}

	pending, ok, err := h.pending.Consume(ctx, state)
	if err != nil {
		h.redirectError(w, r, "", errs.MessageOf(err))
		return
	}
	if !ok || pending.Provider != provider {
		h.redirectError(w, r, "", invalidStateMessage)
		return
	}

	ctx = obs.WithUserID(obs.WithProvider(ctx, provider), pending.UserID)
	redirectURI := h.callbackURL(r, slug)

	switch provider {
	case ProviderGranola:
		err = h.granola.ExchangeCode(ctx, pending.UserID, code, pending.CodeVerifier, redirectURI)
	case ProviderGoogleCalendar:
		err = h.google.ExchangeCode(ctx, pending.UserID, code, pending.CodeVerifier, redirectURI)
	}
	if err != nil {
		obs.From(ctx).Warn("code_exchange_failed", "error", err)
		h.redirectError(w, r, pending.ReturnPath, errs.MessageOf(err))
		return
	}

	obs.From(ctx).Info("provider_connected")
	h.redirectSuccess(w, r, pending.ReturnPath, provider)
}

func (h *Handlers) resetGranola(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.granola.ResetConnection(ctx, auth.GetUserID(ctx)); err != nil {
		h.redirectError(w, r, "", errs.MessageOf(err))
		return
	}
	http.Redirect(w, r, withQuery(DefaultReturnPath, "disconnected", ProviderGranola), http.StatusFound)
}

func (h *Handlers) resetGoogleCalendar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.google.Reset(ctx, auth.GetUserID(ctx)); err != nil {
		h.redirectError(w, r, "", errs.MessageOf(err))
		return
	}
	http.Redirect(w, r, withQuery(DefaultReturnPath, "disconnected", ProviderGoogleCalendar), http.StatusFound)
}

type providerStatus struct {
	Connected  bool `json:"connected"`
	Configured bool `json:"configured"`
}

func (h *Handlers) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.GetUserID(ctx)

	resp := map[string]providerStatus{
		ProviderGranola: {
			Connected:  h.granola.AccessToken(ctx, userID) != "",
			Configured: true,
		},
		ProviderGoogleCalendar: {
			Connected:  h.google.Connected(ctx, userID),
			Configured: h.google.Configured(),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		obs.From(ctx).Warn("status_encode_failed", "error", err)
	}
}

func (h *Handlers) callbackURL(r *http.Request, slug string) string {
	return urlutil.CallbackURL(urlutil.OriginFromRequest(r, h.baseURL), slug)
}

func (h *Handlers) redirectSuccess(w http.ResponseWriter, r *http.Request, returnPath, provider string) {
	target := sanitizeReturnPath(returnPath)
	if target == "" {
		target = DefaultReturnPath
	}
	http.Redirect(w, r, withQuery(target, "connected", provider), http.StatusFound)
}

func (h *Handlers) redirectError(w http.ResponseWriter, r *http.Request, returnPath, message string) {
	target := sanitizeReturnPath(returnPath)
	if target == "" {
		target = DefaultReturnPath
	}
	http.Redirect(w, r, withQuery(target, "connect_error", message), http.StatusFound)
}

// sanitizeReturnPath accepts only site-relative paths, guarding the
// redirect against open-redirect abuse.
func sanitizeReturnPath(path string) string {
	if path == "" || !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") {
		return ""
	}
	return path
}

func withQuery(path, key, value string) string {
	parsed, err := url.Parse(path)
	if err != nil {
		parsed = &url.URL{Path: DefaultReturnPath}
	}
	q := parsed.Query()
	q.Set(key, value)
	parsed.RawQuery = q.Encode()
	return parsed.String()
}
