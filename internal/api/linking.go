package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/replyloop/mail-connect/internal/auth"
	"github.com/replyloop/mail-connect/internal/oauth"
)

func (s *Server) handleOAuthInit(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req struct {
		RedirectURL string `json:"redirectUrl"`
	}
	if err := decodeBody(r, &req); err != nil || req.RedirectURL == "" {
		writeError(w, http.StatusBadRequest, "redirectUrl is required")
		return
	}
	if oauth.Origin(req.RedirectURL) == "" {
		writeError(w, http.StatusBadRequest, "redirectUrl must be an absolute URL")
		return
	}

	providerName := chi.URLParam(r, "provider")
	authURL, err := s.flow.Init(userID, providerName, req.RedirectURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"authUrl": authURL})
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	query := r.URL.Query()

	// The page origin is only trusted once the state verifies; without it
	// the terminal page renders but posts no message
	origin := s.callbackOrigin(query.Get("state"))

	if oauthErr := query.Get("error"); oauthErr != "" {
		log.Printf("Provider %s returned error on callback: %s", providerName, oauthErr)
		oauth.WriteErrorPage(w, http.StatusBadRequest, providerName,
			oauthErr, query.Get("error_description"), origin)
		return
	}

	result, err := s.flow.HandleCallback(r.Context(), providerName, query.Get("code"), query.Get("state"))
	if err != nil {
		log.Printf("OAuth callback failed for %s: %v", providerName, err)
		status := http.StatusInternalServerError
		if errors.Is(err, oauth.ErrMissingParams) || errors.Is(err, oauth.ErrInvalidState) {
			status = http.StatusBadRequest
		}
		oauth.WriteErrorPage(w, status, providerName, err.Error(), "", origin)
		return
	}

	provider, err := s.providers.Get(result.Provider)
	if err != nil {
		oauth.WriteErrorPage(w, http.StatusInternalServerError, providerName, err.Error(), "", origin)
		return
	}
	oauth.WriteSuccessPage(w, result, provider.DisplayName)
}

// callbackOrigin recovers the allowed postMessage origin from the state
// parameter when it verifies, and empty otherwise
func (s *Server) callbackOrigin(state string) string {
	if state == "" {
		return ""
	}
	_, redirectURL, err := s.flow.VerifyState(state)
	if err != nil {
		return ""
	}
	return oauth.Origin(redirectURL)
}

func (s *Server) handleTokenFetch(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req struct {
		Provider string `json:"provider"`
	}
	// Body is optional; gmail is the default provider
	if err := decodeBody(r, &req); err != nil {
		req.Provider = ""
	}
	if req.Provider == "" {
		req.Provider = "gmail"
	}

	token, err := s.refresher.EnsureFreshToken(r.Context(), userID, req.Provider)
	if err != nil {
		switch {
		case errors.Is(err, oauth.ErrNotConnected):
			writeError(w, http.StatusNotFound, "No mailbox connected. Please connect your account first.")
		case errors.Is(err, oauth.ErrRefreshFailed):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("Token fetch failed for user %s: %v", userID, err)
			writeError(w, http.StatusInternalServerError, "failed to fetch token")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":       token.AccessToken,
		"token_expiry":       token.TokenExpiry,
		"email":              token.Email,
		"was_refreshed":      token.WasRefreshed,
		"expires_in_seconds": token.ExpiresIn(),
	})
}
