package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ItemKind enumerates the catalog entity kinds.
type ItemKind string

const (
	KindArtist ItemKind = "artist"
	KindAlbum  ItemKind = "album"
	KindTrack  ItemKind = "track"
	KindFolder ItemKind = "folder"
)

// Origin tags for [MediaItem.Origin].
const (
	OriginLocal   = "local"
	OriginSpotify = "spotify"
)

// LinkedChild records one known member track of an album as a
// (local id, remote id) pair, letting the engine skip a remote re-fetch.
type LinkedChild struct {
	LocalID  uuid.UUID `json:"local_id"`
	RemoteID string    `json:"remote_id"`
}

// MediaItem is a single catalog entity of any kind.
type MediaItem struct {
	ID       uuid.UUID
	Kind     ItemKind
	Name     string
	SortName string

	// ParentID links a track to its album; uuid.Nil means unlinked.
	ParentID uuid.UUID
	// OwnerID is the id of the user whose queries materialized the item.
	OwnerID string

	Origin      string
	ExternalRef string
	ProviderIDs map[string]string
	Homepage    string
	Genres      []string

	ArtworkURL   string
	ThumbnailURL string

	Year        int
	Runtime     time.Duration
	DiscNumber  int
	TrackNumber int
	ArtistNames []string

	// LinkedChildren is only populated on albums. It is replaced wholesale
	// when the album's tracks are re-fetched and is otherwise immutable.
	LinkedChildren []LinkedChild

	// Favorite is transient query state, never persisted on the item row.
	Favorite bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SpotifyRef builds the external reference for a Spotify entity,
// e.g. "spotify:track:6jPPWvp74YGsboZjvxfvVe".
func SpotifyRef(kind ItemKind, remoteID string) string {
	return fmt.Sprintf("%s:%s:%s", OriginSpotify, kind, remoteID)
}

// IsSpotifyItem reports whether the item was materialized from Spotify.
func (m *MediaItem) IsSpotifyItem() bool {
	return strings.HasPrefix(m.ExternalRef, OriginSpotify+":")
}

// RemoteID returns the native Spotify id preserved in the external
// reference, or "" when the item is not remote-sourced.
func (m *MediaItem) RemoteID() string {
	parts := strings.SplitN(m.ExternalRef, ":", 3)
	if len(parts) != 3 || parts[0] != OriginSpotify {
		return ""
	}
	return parts[2]
}

// TrackSortName builds a zero-padded sort key embedding disc and track
// index so lexical ordering matches playback ordering.
func TrackSortName(disc, track int, name string) string {
	return fmt.Sprintf("%04d-%04d %s", disc, track, name)
}
