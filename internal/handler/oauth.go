package handler

import (
	"net/http"

	"github.com/dukerupert/localspeed/internal/backup"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const (
	oauthStateCookie = "localspeed_oauth_state"
	callbackPath     = "/api/backup/google/callback"
)

func (h *BackupHandler) baseURL(r *http.Request) string {
	if h.publicURL != "" {
		return h.publicURL
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (h *BackupHandler) oauthConfig(r *http.Request, clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     h.endpoint,
		Scopes:       backup.DriveScopes,
		RedirectURL:  h.baseURL(r) + callbackPath,
	}
}

// GoogleAuth redirects to the consent page. Offline access and forced
// consent make Google return a refresh token every time.
func (h *BackupHandler) GoogleAuth(w http.ResponseWriter, r *http.Request) {
	policy, _, err := h.settings.LoadPolicy(r.Context())
	if err != nil {
		h.logger.Error("failed to load backup policy", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load backup policy")
		return
	}
	if policy.ClientID == "" || policy.ClientSecret == "" {
		writeError(w, http.StatusBadRequest, "client_id and client_secret must be set first")
		return
	}

	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/api/backup/google",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	cfg := h.oauthConfig(r, policy.ClientID, policy.ClientSecret)
	url := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	http.Redirect(w, r, url, http.StatusFound)
}

// GoogleCallback exchanges the authorization code and stores the token.
func (h *BackupHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if msg := r.URL.Query().Get("error"); msg != "" {
		writeError(w, http.StatusBadRequest, "authorization denied: "+msg)
		return
	}

	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		writeError(w, http.StatusBadRequest, "invalid oauth state")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Path: "/api/backup/google", MaxAge: -1})

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing authorization code")
		return
	}

	policy, _, err := h.settings.LoadPolicy(r.Context())
	if err != nil {
		h.logger.Error("failed to load backup policy", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load backup policy")
		return
	}

	tok, err := h.oauthConfig(r, policy.ClientID, policy.ClientSecret).Exchange(r.Context(), code)
	if err != nil {
		h.logger.Warn("oauth code exchange failed", "error", err)
		writeError(w, http.StatusBadGateway, "failed to exchange authorization code")
		return
	}
	if tok.RefreshToken == "" {
		writeError(w, http.StatusBadGateway, "no refresh token returned, revoke access and try again")
		return
	}

	blob, err := backup.Credential{Token: tok}.Encode()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode credential")
		return
	}
	if err := h.settings.Connect(r.Context(), blob, backup.StatusConnected); err != nil {
		h.logger.Error("failed to store oauth credential", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store credential")
		return
	}
	h.logger.Info("google drive backup connected")

	h.publishStatus(r.Context())
	http.Redirect(w, r, "/?backup=connected", http.StatusFound)
}
