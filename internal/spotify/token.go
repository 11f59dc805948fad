package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"soundmesh/internal/models"
	"soundmesh/internal/shared"
)

// Credential is one Spotify application credential pair.
type Credential struct {
	ClientID     string
	ClientSecret string
}

// UserSource resolves persisted user records for lazy token-state loading.
// catalog.UserRepository satisfies it.
type UserSource interface {
	Get(id string) (*models.User, error)
}

// tokenRecord is the in-memory token state of one user (or the anonymous
// record under the empty id). The client-credentials token lives only here.
type tokenRecord struct {
	credential   Credential
	appToken     string
	webToken     string
	refreshToken string
	region       string
	loaded       bool
}

// TokenManager obtains and tracks Spotify tokens per user.
//
// Records are mutated by concurrent queries from different users; the single
// mutex keeps the state consistent. A benign race costing one extra token
// exchange is acceptable.
type TokenManager struct {
	mu      sync.Mutex
	records map[string]*tokenRecord

	users       UserSource
	fallback    Credential
	accountsURL string
	httpClient  *http.Client
	logger      *log.Logger
}

// NewTokenManager creates a TokenManager. The fallback credential is the
// application-level credential used for anonymous calls and for users
// without a registered credential of their own.
func NewTokenManager(users UserSource, fallback Credential, accountsURL string, httpClient *http.Client, logger *log.Logger) *TokenManager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &TokenManager{
		records:     make(map[string]*tokenRecord),
		users:       users,
		fallback:    fallback,
		accountsURL: strings.TrimSuffix(accountsURL, "/"),
		httpClient:  httpClient,
		logger:      logger,
	}
}

// record returns the token record for userID, lazily populating it from the
// user store on first access. Callers must hold c.mu.
func (t *TokenManager) record(userID string) *tokenRecord {
	rec, ok := t.records[userID]
	if !ok {
		rec = &tokenRecord{}
		t.records[userID] = rec
	}

	if !rec.loaded {
		rec.loaded = true
		rec.credential = t.fallback
		if userID != "" && t.users != nil {
			if user, err := t.users.Get(userID); err == nil {
				if user.HasCredential() {
					rec.credential = Credential{ClientID: user.SpotifyClientID, ClientSecret: user.SpotifyClientSecret}
				}
				rec.webToken = user.WebToken
				rec.refreshToken = user.RefreshToken
				rec.region = user.Region
			}
		}
	}

	return rec
}

// Preload eagerly populates token records for users with stored credentials,
// typically at startup.
func (t *TokenManager) Preload(users []*models.User) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, user := range users {
		if user == nil || (!user.HasCredential() && user.WebToken == "") {
			continue
		}
		rec := &tokenRecord{
			credential:   t.fallback,
			webToken:     user.WebToken,
			refreshToken: user.RefreshToken,
			region:       user.Region,
			loaded:       true,
		}
		if user.HasCredential() {
			rec.credential = Credential{ClientID: user.SpotifyClientID, ClientSecret: user.SpotifyClientSecret}
		}
		t.records[user.ID] = rec
	}
}

// SelectToken returns the preferred bearer token for userID: the interactive
// web token when present (broader privileges), then the client-credentials
// token, and as a last resort a synchronous client-credentials exchange.
func (t *TokenManager) SelectToken(ctx context.Context, userID string) (string, error) {
	t.mu.Lock()
	rec := t.record(userID)
	if rec.webToken != "" {
		token := rec.webToken
		t.mu.Unlock()
		return token, nil
	}
	if rec.appToken != "" {
		token := rec.appToken
		t.mu.Unlock()
		return token, nil
	}
	t.mu.Unlock()

	return t.ClientCredentialsLogin(ctx, userID)
}

// ClientCredentialsLogin exchanges the user's stored application credential
// (or the fallback credential) for a short-lived token. Any non-success
// response or missing credential yields an error and no token.
func (t *TokenManager) ClientCredentialsLogin(ctx context.Context, userID string) (string, error) {
	t.mu.Lock()
	cred := t.record(userID).credential
	t.mu.Unlock()

	if cred.ClientID == "" || cred.ClientSecret == "" {
		return "", fmt.Errorf("%w: no Spotify application credential for user %q", shared.ErrMissingCredentials, userID)
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	resp, err := t.exchange(ctx, cred, form)
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	t.record(userID).appToken = resp.AccessToken
	t.mu.Unlock()

	return resp.AccessToken, nil
}

// RefreshWebToken exchanges the user's refresh token for a new interactive
// token pair. It updates the in-memory record; persisting the new tokens to
// the user record is the caller's job.
func (t *TokenManager) RefreshWebToken(ctx context.Context, user *models.User) (access, refresh string, err error) {
	if user.RefreshToken == "" {
		return "", "", shared.ErrNoRefreshToken
	}

	cred := t.fallback
	if user.HasCredential() {
		cred = Credential{ClientID: user.SpotifyClientID, ClientSecret: user.SpotifyClientSecret}
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {user.RefreshToken},
	}
	resp, err := t.exchange(ctx, cred, form)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", shared.ErrRefreshFailed, err)
	}

	refresh = resp.RefreshToken
	if refresh == "" {
		refresh = user.RefreshToken
	}

	t.SetWebToken(user.ID, resp.AccessToken, refresh, user.Region)
	return resp.AccessToken, refresh, nil
}

// SetWebToken updates the in-memory interactive token state for a user,
// typically after a login callback or refresh. Empty arguments leave the
// corresponding slot untouched, so a region-only update cannot wipe a live
// token; clearing a token is [TokenManager.Invalidate]'s job.
func (t *TokenManager) SetWebToken(userID, access, refresh, region string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.record(userID)
	if access != "" {
		rec.webToken = access
	}
	if refresh != "" {
		rec.refreshToken = refresh
	}
	if region != "" {
		rec.region = region
	}
}

// Invalidate clears whichever token slot holds the given bearer token, so
// the next call re-acquires a credential.
func (t *TokenManager) Invalidate(userID, token string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.record(userID)
	if rec.webToken == token {
		rec.webToken = ""
	}
	if rec.appToken == token {
		rec.appToken = ""
	}
}

// Region returns the cached region code for userID, if any.
func (t *TokenManager) Region(userID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record(userID).region
}

// ValidateCredential performs a test client-credentials exchange without
// touching any user state, used before storing a new application credential.
func (t *TokenManager) ValidateCredential(ctx context.Context, cred Credential) error {
	if cred.ClientID == "" || cred.ClientSecret == "" {
		return shared.ErrMissingCredentials
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	if _, err := t.exchange(ctx, cred, form); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidCredentials, err)
	}
	return nil
}

// exchange posts a token request with Basic auth encoding clientId:clientSecret.
func (t *TokenManager) exchange(ctx context.Context, cred Credential, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.accountsURL+"/api/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(cred.ClientID, cred.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: token endpoint returned status %d", shared.ErrAuthFailed, resp.StatusCode)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: token endpoint returned no access token", shared.ErrAuthFailed)
	}

	return &token, nil
}
