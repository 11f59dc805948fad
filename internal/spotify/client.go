package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
	"soundmesh/internal/shared"
)

const (
	// DefaultAPIBaseURL is the public Spotify Web API host.
	DefaultAPIBaseURL = "https://api.spotify.com/v1"
	// DefaultAccountsURL is the public Spotify accounts host.
	DefaultAccountsURL = "https://accounts.spotify.com"

	// FavoritesPageSize is the largest page GET /me/tracks serves.
	FavoritesPageSize = 50

	defaultRateLimit = 5.0
)

// Client executes read queries against the Spotify Web API.
//
// Each call is a synchronous, on-demand fetch scoped to one incoming catalog
// query: one authenticated GET, at most one retry after an auth failure,
// no backoff and no queuing. Outbound requests share a rate limiter.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	tokens     *TokenManager
	logger     *log.Logger
}

// NewClient creates a Client over the given token manager.
func NewClient(cfg shared.SpotifyConfig, tokens *TokenManager, httpClient *http.Client, logger *log.Logger) *Client {
	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(limit), 1),
		tokens:     tokens,
		logger:     logger,
	}
}

// Tokens exposes the token manager, for the server surface.
func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

// Search runs GET /search for the given types ("artist", "album", "track").
func (c *Client) Search(ctx context.Context, userID, term string, types []string, limit int) SearchResult {
	if limit <= 0 || limit > 50 {
		limit = 50
	}

	query := url.Values{
		"q":     {term},
		"type":  {strings.Join(types, ",")},
		"limit": {fmt.Sprint(limit)},
	}

	envelope, ok := executeGET[searchEnvelope](c, ctx, userID, "/search", query)
	if !ok {
		return SearchResult{}
	}

	var result SearchResult
	if envelope.Artists != nil {
		result.Artists = envelope.Artists.Items
	}
	if envelope.Albums != nil {
		result.Albums = envelope.Albums.Items
	}
	if envelope.Tracks != nil {
		result.Tracks = envelope.Tracks.Items
	}
	return result
}

// ArtistAlbums runs GET /artists/{id}/albums.
func (c *Client) ArtistAlbums(ctx context.Context, userID, artistID string) []Album {
	query := url.Values{"limit": {"50"}}
	envelope, ok := executeGET[itemsEnvelope[Album]](c, ctx, userID, "/artists/"+url.PathEscape(artistID)+"/albums", query)
	if !ok {
		return nil
	}
	return envelope.Items
}

// AlbumTracks runs GET /albums/{id}/tracks.
func (c *Client) AlbumTracks(ctx context.Context, userID, albumID string) []Track {
	query := url.Values{"limit": {"50"}}
	envelope, ok := executeGET[itemsEnvelope[Track]](c, ctx, userID, "/albums/"+url.PathEscape(albumID)+"/tracks", query)
	if !ok {
		return nil
	}
	return envelope.Items
}

// TopTracks runs GET /artists/{id}/top-tracks.
func (c *Client) TopTracks(ctx context.Context, userID, artistID string) []Track {
	envelope, ok := executeGET[topTracksEnvelope](c, ctx, userID, "/artists/"+url.PathEscape(artistID)+"/top-tracks", nil)
	if !ok {
		return nil
	}
	return envelope.Tracks
}

// SavedTracks runs one page of GET /me/tracks. The page size is capped at
// [FavoritesPageSize]; the second return reports whether the call succeeded,
// distinguishing a failed fetch from a genuinely empty page.
func (c *Client) SavedTracks(ctx context.Context, userID string, limit, offset int) (*SavedTracksPage, bool) {
	if limit <= 0 || limit > FavoritesPageSize {
		limit = FavoritesPageSize
	}

	query := url.Values{
		"limit":  {fmt.Sprint(limit)},
		"offset": {fmt.Sprint(offset)},
	}
	return executeGET[SavedTracksPage](c, ctx, userID, "/me/tracks", query)
}

// Region runs GET /me and returns the account's country code. Used by the
// fire-and-forget region refresh after an interactive login.
func (c *Client) Region(ctx context.Context, userID string) (string, bool) {
	profile, ok := executeGET[userProfile](c, ctx, userID, "/me", nil)
	if !ok {
		return "", false
	}
	return profile.Country, true
}

// executeGET issues one authenticated GET and decodes the typed envelope T.
//
// Outcome classification: a missing token or transport error degrades to an
// empty result; 401 invalidates the credential and retries exactly once with
// the next preferred token; any other non-2xx status or a malformed body is
// logged and degrades to an empty result.
func executeGET[T any](c *Client, ctx context.Context, userID, path string, query url.Values) (*T, bool) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, false
	}

	token, err := c.tokens.SelectToken(ctx, userID)
	if err != nil {
		c.logger.Debug("no Spotify token available", "user", userID, "err", err)
		return nil, false
	}

	for attempt := 0; attempt < 2; attempt++ {
		status, body, err := c.get(ctx, path, query, token)
		if err != nil {
			c.logger.Warn("Spotify request failed", "path", path, "err", err)
			return nil, false
		}

		if status == http.StatusUnauthorized {
			c.tokens.Invalidate(userID, token)
			if attempt == 1 {
				c.logger.Warn("Spotify auth failed after retry", "path", path, "user", userID)
				return nil, false
			}
			token, err = c.tokens.SelectToken(ctx, userID)
			if err != nil {
				c.logger.Debug("no Spotify token after invalidation", "user", userID, "err", err)
				return nil, false
			}
			continue
		}

		if status < 200 || status >= 300 {
			c.logger.Warn("Spotify returned non-success status", "path", path, "status", status)
			return nil, false
		}

		var result T
		if err := json.Unmarshal(body, &result); err != nil {
			c.logger.Warn("failed to decode Spotify response", "path", path, "err", err)
			return nil, false
		}
		return &result, true
	}

	return nil, false
}

// get performs the raw HTTP exchange and returns status plus body.
func (c *Client) get(ctx context.Context, path string, query url.Values, token string) (int, []byte, error) {
	apiURL := c.baseURL + path
	if len(query) > 0 {
		apiURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, body, nil
}
