package spotify

// Image represents an image resource.
type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// Artist represents a Spotify artist.
type Artist struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Genres       []string          `json:"genres"`
	Images       []Image           `json:"images"`
	ExternalURLs map[string]string `json:"external_urls"`
	URI          string            `json:"uri"`
}

// Album represents a Spotify album.
type Album struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Artists      []Artist          `json:"artists"`
	ReleaseDate  string            `json:"release_date"`
	TotalTracks  int               `json:"total_tracks"`
	Genres       []string          `json:"genres"`
	Images       []Image           `json:"images"`
	ExternalURLs map[string]string `json:"external_urls"`
	URI          string            `json:"uri"`
}

// Track represents a Spotify track.
type Track struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Artists      []Artist          `json:"artists"`
	Album        Album             `json:"album"`
	DiscNumber   int               `json:"disc_number"`
	TrackNumber  int               `json:"track_number"`
	DurationMS   int64             `json:"duration_ms"`
	Explicit     bool              `json:"explicit"`
	Type         string            `json:"type"`
	ExternalURLs map[string]string `json:"external_urls"`
	URI          string            `json:"uri"`
}

// IsAudio reports whether the entry is a playable audio track.
// Album track listings can contain non-audio filler entries.
func (t Track) IsAudio() bool {
	return t.Type == "" || t.Type == "track"
}

// searchEnvelope is the response of GET /search. Each sub-envelope is
// present only when its type was requested.
type searchEnvelope struct {
	Artists *itemsEnvelope[Artist] `json:"artists"`
	Albums  *itemsEnvelope[Album]  `json:"albums"`
	Tracks  *itemsEnvelope[Track]  `json:"tracks"`
}

// itemsEnvelope is the generic paged container used across endpoints.
type itemsEnvelope[T any] struct {
	Items  []T  `json:"items"`
	Total  int  `json:"total"`
	Limit  int  `json:"limit"`
	Offset int  `json:"offset"`
}

// SearchResult carries the decoded sub-lists of one search call.
type SearchResult struct {
	Artists []Artist
	Albums  []Album
	Tracks  []Track
}

// topTracksEnvelope is the response of GET /artists/{id}/top-tracks.
type topTracksEnvelope struct {
	Tracks []Track `json:"tracks"`
}

// SavedTrack represents a track saved in the user's library.
type SavedTrack struct {
	AddedAt string `json:"added_at"`
	Track   Track  `json:"track"`
}

// SavedTracksPage is one page of GET /me/tracks.
type SavedTracksPage struct {
	Items  []SavedTrack `json:"items"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// tokenResponse is the response of POST /api/token for either grant type.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// userProfile is the response of GET /me, used for the region refresh.
type userProfile struct {
	ID      string `json:"id"`
	Country string `json:"country"`
}
