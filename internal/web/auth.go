package web

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mailflow/mailflow/internal/store"
	"golang.org/x/oauth2"
)

// oauthStateTTL is how long a pending OAuth handshake stays valid.
const oauthStateTTL = 10 * time.Minute

// handleAuthStart handles GET /auth/{provider}. It persists the
// handshake state and redirects the browser to the provider's consent
// page.
func (s *Server) handleAuthStart(w http.ResponseWriter, r *http.Request) {
	prov := store.Provider(r.PathValue("provider"))

	cfg, err := s.oauth.OAuthConfig(prov)
	if err != nil {
		s.writeError(
			w, http.StatusNotFound, "unknown_provider",
			err.Error(),
		)

		return
	}

	user := userID(r)
	if user == "" {
		s.writeError(
			w, http.StatusBadRequest, "missing_user",
			"user_id is required",
		)

		return
	}

	state := uuid.NewString()
	err = s.store.PutOAuthState(r.Context(), store.OAuthState{
		State:       state,
		UserID:      user,
		RedirectURI: r.URL.Query().Get("redirect_uri"),
		ExpiresAt:   time.Now().Add(oauthStateTTL),
	})
	if err != nil {
		s.writeError(
			w, http.StatusInternalServerError, "internal",
			err.Error(),
		)

		return
	}

	authURL := cfg.AuthCodeURL(
		state, oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleAuthCallback handles GET /auth/{provider}/callback. The state
// token is consumed exactly once; replayed or expired callbacks are
// rejected.
func (s *Server) handleAuthCallback(
	w http.ResponseWriter, r *http.Request,
) {

	prov := store.Provider(r.PathValue("provider"))

	cfg, err := s.oauth.OAuthConfig(prov)
	if err != nil {
		s.writeError(
			w, http.StatusNotFound, "unknown_provider",
			err.Error(),
		)

		return
	}

	stateOpt, err := s.store.TakeOAuthState(
		r.Context(), r.URL.Query().Get("state"),
	)
	if err != nil {
		s.writeError(
			w, http.StatusInternalServerError, "internal",
			err.Error(),
		)

		return
	}
	if stateOpt.IsNone() {
		s.writeError(
			w, http.StatusBadRequest, "invalid_state",
			"unknown or expired oauth state",
		)

		return
	}
	pending := stateOpt.UnwrapOr(store.OAuthState{})

	code := r.URL.Query().Get("code")
	if code == "" {
		s.writeError(
			w, http.StatusBadRequest, "missing_code",
			"authorization code is required",
		)

		return
	}

	token, err := cfg.Exchange(r.Context(), code)
	if err != nil {
		s.writeError(
			w, http.StatusBadGateway, "exchange_failed",
			err.Error(),
		)

		return
	}

	err = s.store.UpsertCredential(r.Context(), store.OAuthCredential{
		UserID:       pending.UserID,
		Provider:     prov,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	})
	if err != nil {
		s.writeError(
			w, http.StatusInternalServerError, "internal",
			err.Error(),
		)

		return
	}

	s.log.Info(
		"Provider account connected",
		"user_id", pending.UserID, "provider", string(prov),
	)

	if pending.RedirectURI != "" {
		http.Redirect(w, r, pending.RedirectURI, http.StatusFound)

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":   "connected",
		"provider": string(prov),
	})
}
