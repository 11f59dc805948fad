package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"soundmesh/internal/catalog"
	"soundmesh/internal/models"
	"soundmesh/internal/shared"
	"soundmesh/internal/spotify"
)

// stateTTL bounds how long an issued login state stays redeemable.
const stateTTL = 10 * time.Minute

// oauthScopes are the Spotify scopes requested during interactive login.
var oauthScopes = []string{"user-library-read", "user-read-private"}

// AuthHandler serves the Spotify account-linking endpoints: credential
// registration, interactive login, the authorization callback and token
// refresh. Implements [Handler].
type AuthHandler struct {
	users  *catalog.UserRepository
	tokens *spotify.TokenManager
	client *spotify.Client
	cfg    shared.SpotifyConfig
	logger *log.Logger

	mu     sync.Mutex
	states map[string]stateEntry
}

// stateEntry binds an issued CSRF state to the user who started the login.
type stateEntry struct {
	userID  string
	expires time.Time
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(users *catalog.UserRepository, tokens *spotify.TokenManager, client *spotify.Client, cfg shared.SpotifyConfig, logger *log.Logger) *AuthHandler {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &AuthHandler{
		users:  users,
		tokens: tokens,
		client: client,
		cfg:    cfg,
		logger: logger,
		states: make(map[string]stateEntry),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *AuthHandler) Routes() []string {
	return []string{
		"/spotify/credentials",
		"/spotify/login",
		"/spotify/callback",
		"/spotify/refresh",
	}
}

// ServeHTTP dispatches by path and method.
func (h *AuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/spotify/credentials" && r.Method == http.MethodPost:
		h.handleCredentials(w, r)
	case r.URL.Path == "/spotify/login" && r.Method == http.MethodGet:
		h.handleLogin(w, r)
	case r.URL.Path == "/spotify/callback" && r.Method == http.MethodGet:
		h.handleCallback(w, r)
	case r.URL.Path == "/spotify/refresh" && r.Method == http.MethodPost:
		h.handleRefresh(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleCredentials validates a new application credential with a test
// client-credentials exchange before storing it on the user record.
func (h *AuthHandler) handleCredentials(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID       string `json:"user_id"`
		Name         string `json:"name"`
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cred := spotify.Credential{ClientID: body.ClientID, ClientSecret: body.ClientSecret}
	if err := h.tokens.ValidateCredential(r.Context(), cred); err != nil {
		h.logger.Warn("credential validation failed", "user", body.UserID, "err", err)
		writeError(w, http.StatusUnprocessableEntity, "credential rejected by Spotify")
		return
	}

	user, err := h.users.Get(body.UserID)
	if body.UserID == "" || errors.Is(err, shared.ErrUserNotFound) {
		user = &models.User{
			ID:                  body.UserID,
			Name:                body.Name,
			SpotifyClientID:     body.ClientID,
			SpotifyClientSecret: body.ClientSecret,
		}
		if err := h.users.Create(user); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to store credential")
			return
		}
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	} else {
		user.SpotifyClientID = body.ClientID
		user.SpotifyClientSecret = body.ClientSecret
		if err := h.users.Update(user); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to store credential")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"user_id": user.ID, "status": "stored"})
}

// handleLogin returns "authorized" when the user already holds a live web
// token, otherwise issues a state-protected authorization redirect URL.
func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	user, err := h.users.Get(userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown user")
		return
	}

	if user.WebToken != "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "authorized"})
		return
	}

	state, err := h.issueState(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue state")
		return
	}

	url := h.oauthConfig(user).AuthCodeURL(state)
	writeJSON(w, http.StatusOK, map[string]string{"status": "redirect", "url": url})
}

// handleCallback redeems the authorization code, persists the token pair to
// the user record and kicks off a fire-and-forget region refresh that never
// blocks or fails the login response.
func (h *AuthHandler) handleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	userID, ok := h.redeemState(state)
	if !ok {
		writeError(w, http.StatusBadRequest, shared.ErrInvalidState.Error())
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "authorization was denied")
		return
	}

	user, err := h.users.Get(userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown user")
		return
	}

	token, err := h.oauthConfig(user).Exchange(r.Context(), code)
	if err != nil {
		h.logger.Warn("code exchange failed", "user", userID, "err", err)
		writeError(w, http.StatusBadGateway, "token exchange failed")
		return
	}

	user.WebToken = token.AccessToken
	user.RefreshToken = token.RefreshToken
	if err := h.users.Update(user); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to persist tokens")
		return
	}
	h.tokens.SetWebToken(userID, token.AccessToken, token.RefreshToken, "")

	go h.refreshRegion(userID)

	writeJSON(w, http.StatusOK, map[string]string{"status": "authorized"})
}

// handleRefresh exchanges the user's refresh token for a new pair; when the
// grant is rejected, it falls back to issuing a fresh authorization redirect.
func (h *AuthHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.users.Get(body.UserID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown user")
		return
	}

	access, refresh, err := h.tokens.RefreshWebToken(r.Context(), user)
	if err != nil {
		h.logger.Warn("refresh failed, issuing new login", "user", body.UserID, "err", err)

		state, stateErr := h.issueState(body.UserID)
		if stateErr != nil {
			writeError(w, http.StatusInternalServerError, "failed to issue state")
			return
		}
		url := h.oauthConfig(user).AuthCodeURL(state)
		writeJSON(w, http.StatusOK, map[string]string{"status": "redirect", "url": url})
		return
	}

	user.WebToken = access
	user.RefreshToken = refresh
	if err := h.users.Update(user); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to persist tokens")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

// refreshRegion fetches the user's account country and stores it. Runs in
// the background after a successful login; failures are only logged.
func (h *AuthHandler) refreshRegion(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	region, ok := h.client.Region(ctx, userID)
	if !ok || region == "" {
		return
	}

	h.tokens.SetWebToken(userID, "", "", region)

	user, err := h.users.Get(userID)
	if err != nil {
		return
	}
	user.Region = region
	if err := h.users.Update(user); err != nil {
		h.logger.Warn("failed to persist region", "user", userID, "err", err)
	}
}

// oauthConfig builds the authorization-code config for a user, preferring
// the user's own application credential over the process-wide one.
func (h *AuthHandler) oauthConfig(user *models.User) *oauth2.Config {
	clientID, clientSecret := h.cfg.ClientID, h.cfg.ClientSecret
	if user.HasCredential() {
		clientID, clientSecret = user.SpotifyClientID, user.SpotifyClientSecret
	}

	accountsURL := h.cfg.AccountsURL
	if accountsURL == "" {
		accountsURL = spotify.DefaultAccountsURL
	}

	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  h.cfg.RedirectURI,
		Scopes:       oauthScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  accountsURL + "/authorize",
			TokenURL: accountsURL + "/api/token",
		},
	}
}

// issueState mints a random CSRF state bound to the user, valid for
// [stateTTL].
func (h *AuthHandler) issueState(userID string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	state := hex.EncodeToString(buf)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.states[state] = stateEntry{userID: userID, expires: time.Now().Add(stateTTL)}

	return state, nil
}

// redeemState consumes a state, returning the user who owns it. Expired and
// unknown states fail; every redemption sweeps expired entries.
func (h *AuthHandler) redeemState(state string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	for s, entry := range h.states {
		if now.After(entry.expires) {
			delete(h.states, s)
		}
	}

	entry, ok := h.states[state]
	if !ok {
		return "", false
	}
	delete(h.states, state)

	return entry.userID, true
}
