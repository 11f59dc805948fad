package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"soundmesh/internal/models"
	"soundmesh/internal/shared"
)

// userMap is a test double for [UserSource].
type userMap map[string]*models.User

func (m userMap) Get(id string) (*models.User, error) {
	user, ok := m[id]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	return user, nil
}

// newAccountsServer serves POST /api/token, recording grant types and
// issuing sequential tokens.
func newAccountsServer(t *testing.T, grants *[]string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/token" {
			http.NotFound(w, r)
			return
		}
		if _, _, ok := r.BasicAuth(); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		*grants = append(*grants, r.PostForm.Get("grant_type"))

		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-from-exchange",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestTokenManager(t *testing.T) {
	ctx := context.Background()
	fallback := Credential{ClientID: "app-id", ClientSecret: "app-secret"}

	t.Run("Web Token Preferred", func(t *testing.T) {
		var grants []string
		server := newAccountsServer(t, &grants)

		users := userMap{"u1": {ID: "u1", WebToken: "web-token", RefreshToken: "refresh"}}
		tm := NewTokenManager(users, fallback, server.URL, server.Client(), nil)

		token, err := tm.SelectToken(ctx, "u1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if token != "web-token" {
			t.Errorf("expected the stored web token, got %q", token)
		}
		if len(grants) != 0 {
			t.Errorf("expected no token exchange, saw %v", grants)
		}
	})

	t.Run("Falls Back To Client Credentials", func(t *testing.T) {
		var grants []string
		server := newAccountsServer(t, &grants)

		tm := NewTokenManager(userMap{}, fallback, server.URL, server.Client(), nil)

		token, err := tm.SelectToken(ctx, "anonymous")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if token != "token-from-exchange" {
			t.Errorf("expected exchanged token, got %q", token)
		}
		if len(grants) != 1 || grants[0] != "client_credentials" {
			t.Errorf("expected one client_credentials grant, saw %v", grants)
		}

		// second select reuses the stored app token
		if _, err := tm.SelectToken(ctx, "anonymous"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(grants) != 1 {
			t.Errorf("expected the app token to be reused, saw %v", grants)
		}
	})

	t.Run("Missing Credential", func(t *testing.T) {
		var grants []string
		server := newAccountsServer(t, &grants)

		tm := NewTokenManager(userMap{}, Credential{}, server.URL, server.Client(), nil)

		if _, err := tm.SelectToken(ctx, "u1"); !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
	})

	t.Run("Invalidate Clears Matching Slot", func(t *testing.T) {
		var grants []string
		server := newAccountsServer(t, &grants)

		users := userMap{"u1": {ID: "u1", WebToken: "web-token"}}
		tm := NewTokenManager(users, fallback, server.URL, server.Client(), nil)

		if _, err := tm.SelectToken(ctx, "u1"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		tm.Invalidate("u1", "web-token")

		token, err := tm.SelectToken(ctx, "u1")
		if err != nil {
			t.Fatalf("expected fallback exchange, got %v", err)
		}
		if token != "token-from-exchange" {
			t.Errorf("expected exchanged token after invalidation, got %q", token)
		}
	})

	t.Run("Refresh Requires Refresh Token", func(t *testing.T) {
		var grants []string
		server := newAccountsServer(t, &grants)

		tm := NewTokenManager(userMap{}, fallback, server.URL, server.Client(), nil)

		_, _, err := tm.RefreshWebToken(ctx, &models.User{ID: "u1"})
		if !errors.Is(err, shared.ErrNoRefreshToken) {
			t.Errorf("expected ErrNoRefreshToken, got %v", err)
		}
	})

	t.Run("Refresh Updates Record", func(t *testing.T) {
		var grants []string
		server := newAccountsServer(t, &grants)

		tm := NewTokenManager(userMap{}, fallback, server.URL, server.Client(), nil)

		user := &models.User{ID: "u1", RefreshToken: "old-refresh"}
		access, refresh, err := tm.RefreshWebToken(ctx, user)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if access != "token-from-exchange" {
			t.Errorf("unexpected access token %q", access)
		}
		// the endpoint issued no new refresh token, the old one is kept
		if refresh != "old-refresh" {
			t.Errorf("expected old refresh token to be kept, got %q", refresh)
		}
		if len(grants) != 1 || grants[0] != "refresh_token" {
			t.Errorf("expected one refresh_token grant, saw %v", grants)
		}

		token, err := tm.SelectToken(ctx, "u1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if token != "token-from-exchange" {
			t.Errorf("expected refreshed token to be selected, got %q", token)
		}
	})

	t.Run("Region Update Keeps Web Token", func(t *testing.T) {
		var grants []string
		server := newAccountsServer(t, &grants)

		tm := NewTokenManager(userMap{}, fallback, server.URL, server.Client(), nil)

		// a login callback stores the pair, then the background region
		// refresh reports the country with no new tokens
		tm.SetWebToken("u1", "web-token", "refresh", "")
		tm.SetWebToken("u1", "", "", "US")

		token, err := tm.SelectToken(ctx, "u1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if token != "web-token" {
			t.Errorf("expected the web token to survive the region update, got %q", token)
		}
		if tm.Region("u1") != "US" {
			t.Errorf("expected region US, got %q", tm.Region("u1"))
		}
		if len(grants) != 0 {
			t.Errorf("expected no token exchange, saw %v", grants)
		}
	})

	t.Run("Validate Credential", func(t *testing.T) {
		var grants []string
		server := newAccountsServer(t, &grants)

		tm := NewTokenManager(userMap{}, fallback, server.URL, server.Client(), nil)

		if err := tm.ValidateCredential(ctx, Credential{ClientID: "id", ClientSecret: "secret"}); err != nil {
			t.Errorf("expected valid credential, got %v", err)
		}
		if err := tm.ValidateCredential(ctx, Credential{}); !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
	})

	t.Run("Rejected Exchange", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		t.Cleanup(server.Close)

		tm := NewTokenManager(userMap{}, fallback, server.URL, server.Client(), nil)

		if _, err := tm.ClientCredentialsLogin(ctx, ""); !errors.Is(err, shared.ErrAuthFailed) {
			t.Errorf("expected ErrAuthFailed, got %v", err)
		}
	})
}
