// Package federation merges the locally persisted catalog with Spotify's
// remote catalog: it materializes remote entities into local ones and wraps
// the backing store with a query engine that augments search, browse and
// favorites operations with remote results.
package federation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"soundmesh/internal/bridge"
	"soundmesh/internal/catalog"
	"soundmesh/internal/models"
	"soundmesh/internal/shared"
	"soundmesh/internal/spotify"
)

// Materializer converts deserialized Spotify entities into catalog items
// with idempotent create-or-reuse semantics: the derived id is looked up in
// the cache, then the store, and reused only when the hit carries the
// Spotify origin marker. New items are persisted immediately and every
// resolution refreshes the cache TTL.
type Materializer struct {
	store  catalog.Store
	cache  *catalog.ItemCache
	logger *log.Logger
}

// NewMaterializer creates a Materializer over the given store and cache.
func NewMaterializer(store catalog.Store, cache *catalog.ItemCache, logger *log.Logger) *Materializer {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Materializer{store: store, cache: cache, logger: logger}
}

// Artist materializes a Spotify artist. Artists are parent-less; the owner
// is preserved so later queries can borrow the user context.
func (m *Materializer) Artist(ctx context.Context, sp spotify.Artist, ownerID string) (*models.MediaItem, error) {
	return m.resolve(ctx, sp.ID, uuid.Nil, func(id uuid.UUID) *models.MediaItem {
		item := &models.MediaItem{
			ID:          id,
			Kind:        models.KindArtist,
			Name:        sp.Name,
			SortName:    sp.Name,
			OwnerID:     ownerID,
			Origin:      models.OriginSpotify,
			ExternalRef: models.SpotifyRef(models.KindArtist, sp.ID),
			ProviderIDs: map[string]string{"Spotify": sp.ID},
			Homepage:    sp.ExternalURLs["spotify"],
			Genres:      sp.Genres,
		}
		applyArtwork(item, sp.Images)
		return item
	})
}

// Album materializes a Spotify album under the given parent artist. The
// album's listed artists are materialized first, parent-less and
// owner-preserving.
func (m *Materializer) Album(ctx context.Context, sp spotify.Album, parentID uuid.UUID, ownerID string) (*models.MediaItem, error) {
	for _, artist := range sp.Artists {
		if _, err := m.Artist(ctx, artist, ownerID); err != nil {
			m.logger.Warn("failed to materialize album artist", "artist", artist.Name, "err", err)
		}
	}

	return m.resolve(ctx, sp.ID, parentID, func(id uuid.UUID) *models.MediaItem {
		item := &models.MediaItem{
			ID:          id,
			Kind:        models.KindAlbum,
			Name:        sp.Name,
			SortName:    sp.Name,
			ParentID:    parentID,
			OwnerID:     ownerID,
			Origin:      models.OriginSpotify,
			ExternalRef: models.SpotifyRef(models.KindAlbum, sp.ID),
			ProviderIDs: map[string]string{"Spotify": sp.ID},
			Homepage:    sp.ExternalURLs["spotify"],
			Genres:      sp.Genres,
			Year:        releaseYear(sp.ReleaseDate),
			ArtistNames: artistNames(sp.Artists),
		}
		applyArtwork(item, sp.Images)
		return item
	})
}

// Track materializes a Spotify track under the given parent album
// (uuid.Nil when the album is unknown, e.g. a top-tracks result).
func (m *Materializer) Track(ctx context.Context, sp spotify.Track, parentID uuid.UUID, ownerID string) (*models.MediaItem, error) {
	for _, artist := range sp.Artists {
		if _, err := m.Artist(ctx, artist, ownerID); err != nil {
			m.logger.Warn("failed to materialize track artist", "artist", artist.Name, "err", err)
		}
	}

	return m.resolve(ctx, sp.ID, parentID, func(id uuid.UUID) *models.MediaItem {
		item := &models.MediaItem{
			ID:          id,
			Kind:        models.KindTrack,
			Name:        sp.Name,
			SortName:    models.TrackSortName(sp.DiscNumber, sp.TrackNumber, sp.Name),
			ParentID:    parentID,
			OwnerID:     ownerID,
			Origin:      models.OriginSpotify,
			ExternalRef: models.SpotifyRef(models.KindTrack, sp.ID),
			ProviderIDs: map[string]string{"Spotify": sp.ID},
			Homepage:    sp.ExternalURLs["spotify"],
			Runtime:     durationFromMS(sp.DurationMS),
			DiscNumber:  sp.DiscNumber,
			TrackNumber: sp.TrackNumber,
			ArtistNames: artistNames(sp.Artists),
		}
		applyArtwork(item, sp.Album.Images)
		return item
	})
}

// AlbumTracks materializes an album's fetched track list, filtered to audio
// entries, and replaces the album's linked-children set wholesale with the
// resulting (local id, remote id) pairs.
func (m *Materializer) AlbumTracks(ctx context.Context, album *models.MediaItem, tracks []spotify.Track, ownerID string) ([]*models.MediaItem, error) {
	var items []*models.MediaItem
	var children []models.LinkedChild

	for _, sp := range tracks {
		if !sp.IsAudio() {
			continue
		}

		item, err := m.Track(ctx, sp, album.ID, ownerID)
		if err != nil {
			m.logger.Warn("failed to materialize album track", "track", sp.Name, "err", err)
			continue
		}

		items = append(items, item)
		children = append(children, models.LinkedChild{LocalID: item.ID, RemoteID: sp.ID})
	}

	album.LinkedChildren = children
	if err := m.store.Upsert(ctx, album); err != nil {
		return items, fmt.Errorf("failed to persist linked children: %w", err)
	}
	m.cache.Put(album)

	return items, nil
}

// resolve implements the cache-then-store create-or-reuse lookup shared by
// every kind.
func (m *Materializer) resolve(ctx context.Context, remoteID string, parentID uuid.UUID, build func(uuid.UUID) *models.MediaItem) (*models.MediaItem, error) {
	id, err := bridge.Derive(remoteID)
	if err != nil {
		return nil, err
	}

	if item, ok := m.cache.Get(id); ok && item.IsSpotifyItem() {
		item, err := m.lateLink(ctx, item, parentID)
		if err != nil {
			return nil, err
		}
		m.cache.Put(item)
		return item, nil
	}

	if item, err := m.store.Get(ctx, id); err == nil && item.IsSpotifyItem() {
		// The origin marker guards against a derived-id collision landing
		// on an unrelated native entity.
		item, err := m.lateLink(ctx, item, parentID)
		if err != nil {
			return nil, err
		}
		m.cache.Put(item)
		return item, nil
	}

	item := build(id)
	if err := m.store.Upsert(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to persist %s %q: %w", item.Kind, item.Name, err)
	}
	m.cache.Put(item)

	return item, nil
}

// lateLink fills an empty parent link on an already-known item when a parent
// id is supplied, e.g. a favorite later discovered to belong to a browsed
// album.
func (m *Materializer) lateLink(ctx context.Context, item *models.MediaItem, parentID uuid.UUID) (*models.MediaItem, error) {
	if parentID == uuid.Nil || item.ParentID != uuid.Nil {
		return item, nil
	}

	item.ParentID = parentID
	if err := m.store.Upsert(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to persist parent link: %w", err)
	}

	return item, nil
}

// applyArtwork picks the widest image as primary artwork and, when at least
// two images exist, the narrowest as thumbnail.
func applyArtwork(item *models.MediaItem, images []spotify.Image) {
	if len(images) == 0 {
		return
	}

	widest, narrowest := images[0], images[0]
	for _, img := range images[1:] {
		if img.Width > widest.Width {
			widest = img
		}
		if img.Width < narrowest.Width {
			narrowest = img
		}
	}

	item.ArtworkURL = widest.URL
	if len(images) >= 2 {
		item.ThumbnailURL = narrowest.URL
	}
}

// releaseYear parses the leading year of a "YYYY-..." release date.
// Parse failure leaves the year unset.
func releaseYear(date string) int {
	if len(date) < 4 {
		return 0
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return year
}

func artistNames(artists []spotify.Artist) []string {
	names := make([]string, 0, len(artists))
	for _, a := range artists {
		names = append(names, a.Name)
	}
	return names
}

func durationFromMS(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
