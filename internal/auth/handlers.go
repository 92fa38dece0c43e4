package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/kuitang/project-os/internal/obs"
	"github.com/kuitang/project-os/internal/urlutil"
)

const (
	stateCookieName   = "oauth_state"
	stateCookieMaxAge = 600
	loginCallbackPath = "/auth/google/callback"
)

// Handlers serves the login endpoints.
type Handlers struct {
	oidc          OIDCClient
	users         *UserService
	sessions      *SessionService
	baseURL       string
	secureCookies bool
}

func NewHandlers(oidc OIDCClient, users *UserService, sessions *SessionService, baseURL string, secureCookies bool) *Handlers {
	return &Handlers{oidc: oidc, users: users, sessions: sessions, baseURL: baseURL, secureCookies: secureCookies}
}

// RegisterRoutes mounts the login endpoints on the mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /auth/google", h.handleLogin)
	mux.HandleFunc("GET "+loginCallbackPath, h.handleCallback)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.HandleFunc("GET /auth/whoami", h.handleWhoami)
}

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		obs.From(r.Context()).Error("login_state_failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   stateCookieMaxAge,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	redirectURL := urlutil.BuildAbsolute(urlutil.OriginFromRequest(r, h.baseURL), loginCallbackPath)
	http.Redirect(w, r, h.oidc.GetAuthURL(state, redirectURL), http.StatusFound)
}

func (h *Handlers) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := obs.From(ctx)

	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		log.Warn("login_state_mismatch")
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	// Burn the state cookie whether or not the exchange succeeds.
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		log.Warn("login_denied", "error", errParam)
		http.Error(w, "Authentication failed: "+errParam, http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		return
	}

	redirectURL := urlutil.BuildAbsolute(urlutil.OriginFromRequest(r, h.baseURL), loginCallbackPath)
	claims, err := h.oidc.ExchangeCode(ctx, code, redirectURL)
	if err != nil {
		log.Warn("login_exchange_failed", "error", err)
		http.Error(w, "Authentication failed", http.StatusBadGateway)
		return
	}

	user, err := h.users.FindOrCreateByEmail(ctx, claims.Email, claims.Name)
	if err != nil {
		log.Error("login_user_upsert_failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	sessionID, err := h.sessions.Create(ctx, user.ID)
	if err != nil {
		log.Error("login_session_create_failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.sessions.SetCookie(w, sessionID)
	log.Info("login_succeeded", "user_id", user.ID)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sessionID := GetFromRequest(r); sessionID != "" {
		if err := h.sessions.Delete(r.Context(), sessionID); err != nil {
			obs.From(r.Context()).Warn("logout_delete_failed", "error", err)
		}
	}
	h.sessions.ClearCookie(w)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// WhoamiResponse reports the caller's identity.
type WhoamiResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	Email         string `json:"email,omitempty"`
	Name          string `json:"name,omitempty"`
}

func (h *Handlers) handleWhoami(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := WhoamiResponse{}

	if sessionID := GetFromRequest(r); sessionID != "" {
		if userID, err := h.sessions.Validate(ctx, sessionID); err == nil && userID != "" {
			if user, err := h.users.Get(ctx, userID); err == nil && user != nil {
				resp = WhoamiResponse{
					Authenticated: true,
					UserID:        user.ID,
					Email:         user.Email,
					Name:          user.Name,
				}
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
