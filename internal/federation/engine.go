package federation

import (
	"context"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"soundmesh/internal/catalog"
	"soundmesh/internal/models"
	"soundmesh/internal/shared"
	"soundmesh/internal/spotify"
)

// favoritesPageCap bounds the favorites paging loop. The loop otherwise
// stops only on an empty page or a satisfied limit, and a user with a huge
// saved library should not hold a query open indefinitely.
const favoritesPageCap = 20

// Engine wraps a [catalog.Store] under the same contract and augments
// search, browse and favorites queries with remote results. Unaffected
// operations pass straight through. Remote failures never fail a query;
// the engine degrades to whatever the store returned.
type Engine struct {
	store  catalog.Store
	client *spotify.Client
	mat    *Materializer
	logger *log.Logger
}

var _ catalog.Store = (*Engine)(nil)

// NewEngine creates an Engine over the given store and Spotify client.
func NewEngine(store catalog.Store, client *spotify.Client, mat *Materializer, logger *log.Logger) *Engine {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Engine{store: store, client: client, mat: mat, logger: logger}
}

// Upsert passes through to the backing store.
func (e *Engine) Upsert(ctx context.Context, items ...*models.MediaItem) error {
	return e.store.Upsert(ctx, items...)
}

// Get passes through to the backing store.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*models.MediaItem, error) {
	return e.store.Get(ctx, id)
}

// SetFavorite passes through to the backing store.
func (e *Engine) SetFavorite(ctx context.Context, userID string, itemID uuid.UUID) error {
	return e.store.SetFavorite(ctx, userID, itemID)
}

// Query runs the store query first, then layers in remote results where the
// query shape calls for them. Every remote sub-fetch completes before Query
// returns. Without resolvable user context the query is answered local-only.
func (e *Engine) Query(ctx context.Context, q models.Query) (*models.QueryResult, error) {
	local, err := e.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	userID := e.userContext(ctx, q)
	if userID == "" {
		e.logger.Debug("no user context, serving local-only", "search", q.Search)
		return local, nil
	}

	m := newMerger(local)

	switch {
	case len(q.Kinds) == 0 && q.ParentID != uuid.Nil:
		e.fillAlbumTracks(ctx, m, userID, q.ParentID)
		m.sortByTrackIndex()

	case q.HasKind(models.KindArtist) && q.Search != "" && m.shortfall(q.Limit):
		e.fillArtistSearch(ctx, m, userID, q)

	case q.HasKind(models.KindTrack):
		e.fillTracks(ctx, m, userID, q)

	case q.HasKind(models.KindAlbum):
		e.fillAlbums(ctx, m, userID, q)
	}

	return m.result(q.Limit), nil
}

// userContext resolves the user on whose behalf remote fetches run: the
// querying user when supplied, otherwise the owner of the browsed item.
func (e *Engine) userContext(ctx context.Context, q models.Query) string {
	if q.UserID != "" {
		return q.UserID
	}
	if q.FavoritesOf != "" {
		return q.FavoritesOf
	}

	for _, id := range []uuid.UUID{q.ParentID, q.AncestorID, q.AlbumArtistID} {
		if id == uuid.Nil {
			continue
		}
		if item, err := e.store.Get(ctx, id); err == nil && item.OwnerID != "" {
			return item.OwnerID
		}
	}
	for _, id := range q.ArtistIDs {
		if item, err := e.store.Get(ctx, id); err == nil && item.OwnerID != "" {
			return item.OwnerID
		}
	}

	return ""
}

// fillAlbumTracks serves a "tracks of this album" browse. Known linked
// children short-circuit the remote fetch; otherwise the album's track list
// is fetched and materialized, replacing the linked-children set.
func (e *Engine) fillAlbumTracks(ctx context.Context, m *merger, userID string, albumID uuid.UUID) {
	album, err := e.store.Get(ctx, albumID)
	if err != nil || !album.IsSpotifyItem() {
		return
	}

	if len(album.LinkedChildren) > 0 {
		for _, child := range album.LinkedChildren {
			if item, err := e.store.Get(ctx, child.LocalID); err == nil {
				m.add(item)
			}
		}
		return
	}

	tracks := e.client.AlbumTracks(ctx, userID, album.RemoteID())
	if len(tracks) == 0 {
		return
	}

	items, err := e.mat.AlbumTracks(ctx, album, tracks, album.OwnerID)
	if err != nil {
		e.logger.Warn("failed to materialize album tracks", "album", album.Name, "err", err)
	}
	for _, item := range items {
		m.add(item)
	}
}

// fillArtistSearch fills an artist-search shortfall from the remote catalog.
func (e *Engine) fillArtistSearch(ctx context.Context, m *merger, userID string, q models.Query) {
	result := e.client.Search(ctx, userID, q.Search, []string{"artist"}, q.Limit)
	for _, artist := range result.Artists {
		item, err := e.mat.Artist(ctx, artist, userID)
		if err != nil {
			e.logger.Warn("failed to materialize artist", "artist", artist.Name, "err", err)
			continue
		}
		m.add(item)
	}
	m.remoteMayHaveMore = len(result.Artists) > 0
}

// fillTracks layers remote sources into a track query: top tracks for the
// scoped artists, album and ancestor track lists, a free-text search fill,
// and the favorites paging loop.
func (e *Engine) fillTracks(ctx context.Context, m *merger, userID string, q models.Query) {
	for _, artistID := range q.ArtistIDs {
		artist, err := e.store.Get(ctx, artistID)
		if err != nil || !artist.IsSpotifyItem() {
			continue
		}
		for _, track := range e.client.TopTracks(ctx, userID, artist.RemoteID()) {
			if !track.IsAudio() {
				continue
			}
			item, err := e.mat.Track(ctx, track, uuid.Nil, artist.OwnerID)
			if err != nil {
				e.logger.Warn("failed to materialize top track", "track", track.Name, "err", err)
				continue
			}
			m.add(item)
		}
	}

	if q.ParentID != uuid.Nil {
		e.fillAlbumTracks(ctx, m, userID, q.ParentID)
	}
	if q.AncestorID != uuid.Nil {
		e.fillAncestorTracks(ctx, m, userID, q.AncestorID)
	}

	if q.Search != "" && m.shortfall(q.Limit) {
		result := e.client.Search(ctx, userID, q.Search, []string{"track"}, q.Limit)
		for _, track := range result.Tracks {
			if !track.IsAudio() {
				continue
			}
			item, err := e.mat.Track(ctx, track, uuid.Nil, userID)
			if err != nil {
				e.logger.Warn("failed to materialize track", "track", track.Name, "err", err)
				continue
			}
			m.add(item)
		}
		m.remoteMayHaveMore = m.remoteMayHaveMore || len(result.Tracks) > 0
	}

	if q.FavoritesOf != "" {
		e.fillFavorites(ctx, m, q)
	}
}

// fillAncestorTracks fetches the track lists of every known album under the
// given artist.
func (e *Engine) fillAncestorTracks(ctx context.Context, m *merger, userID string, artistID uuid.UUID) {
	albums, err := e.store.Query(ctx, models.Query{
		Kinds:    []models.ItemKind{models.KindAlbum},
		ParentID: artistID,
	})
	if err != nil {
		e.logger.Warn("failed to list ancestor albums", "artist", artistID, "err", err)
		return
	}
	for _, album := range albums.Items {
		e.fillAlbumTracks(ctx, m, userID, album.ID)
	}
}

// fillFavorites walks the user's saved-tracks pages until the requested
// count is met, a page comes back empty, or the page cap is hit. Each
// fetched track is persisted as a favorite of the querying user.
func (e *Engine) fillFavorites(ctx context.Context, m *merger, q models.Query) {
	userID := q.FavoritesOf

	for page := 0; page < favoritesPageCap; page++ {
		if q.Limit > 0 && m.len() >= q.Limit {
			m.remoteMayHaveMore = true
			return
		}

		result, ok := e.client.SavedTracks(ctx, userID, spotify.FavoritesPageSize, page*spotify.FavoritesPageSize)
		if !ok || len(result.Items) == 0 {
			return
		}

		for _, saved := range result.Items {
			if !saved.Track.IsAudio() {
				continue
			}
			item, err := e.mat.Track(ctx, saved.Track, uuid.Nil, userID)
			if err != nil {
				e.logger.Warn("failed to materialize favorite", "track", saved.Track.Name, "err", err)
				continue
			}
			if err := e.store.SetFavorite(ctx, userID, item.ID); err != nil {
				e.logger.Warn("failed to flag favorite", "item", item.ID, "err", err)
			}
			item.Favorite = true
			m.add(item)
		}

		if len(result.Items) < spotify.FavoritesPageSize {
			return
		}
	}

	m.remoteMayHaveMore = true
	e.logger.Warn("favorites paging stopped at safety cap", "user", userID, "pages", favoritesPageCap)
}

// fillAlbums layers remote sources into an album query: the scoped artists'
// album listings and a free-text search fill.
func (e *Engine) fillAlbums(ctx context.Context, m *merger, userID string, q models.Query) {
	// copied so appending scope ids cannot write into the caller's slice
	artistIDs := make([]uuid.UUID, len(q.ArtistIDs), len(q.ArtistIDs)+2)
	copy(artistIDs, q.ArtistIDs)
	if q.AlbumArtistID != uuid.Nil {
		artistIDs = append(artistIDs, q.AlbumArtistID)
	}
	if q.ParentID != uuid.Nil {
		artistIDs = append(artistIDs, q.ParentID)
	}

	for _, artistID := range artistIDs {
		artist, err := e.store.Get(ctx, artistID)
		if err != nil || !artist.IsSpotifyItem() {
			continue
		}
		for _, album := range e.client.ArtistAlbums(ctx, userID, artist.RemoteID()) {
			item, err := e.mat.Album(ctx, album, artist.ID, artist.OwnerID)
			if err != nil {
				e.logger.Warn("failed to materialize album", "album", album.Name, "err", err)
				continue
			}
			m.add(item)
		}
	}

	if q.Search != "" && m.shortfall(q.Limit) {
		result := e.client.Search(ctx, userID, q.Search, []string{"album"}, q.Limit)
		for _, album := range result.Albums {
			item, err := e.mat.Album(ctx, album, uuid.Nil, userID)
			if err != nil {
				e.logger.Warn("failed to materialize album", "album", album.Name, "err", err)
				continue
			}
			m.add(item)
		}
		m.remoteMayHaveMore = m.remoteMayHaveMore || len(result.Albums) > 0
	}
}

// merger accumulates store and remote results, deduplicating by local id
// with store results winning. Remote duplicates stay in the total count but
// are excluded from the returned set.
type merger struct {
	items             []*models.MediaItem
	seen              map[uuid.UUID]bool
	total             int
	remoteMayHaveMore bool
}

func newMerger(local *models.QueryResult) *merger {
	m := &merger{
		seen:  make(map[uuid.UUID]bool, len(local.Items)),
		total: local.Total,
	}
	for _, item := range local.Items {
		m.items = append(m.items, item)
		m.seen[item.ID] = true
	}
	return m
}

// add merges one remote-sourced item.
func (m *merger) add(item *models.MediaItem) {
	m.total++
	if m.seen[item.ID] {
		return
	}
	m.seen[item.ID] = true
	m.items = append(m.items, item)
}

func (m *merger) len() int { return len(m.items) }

// shortfall reports whether the merged set is still below the requested
// limit. An unlimited query never has a shortfall worth a remote fetch
// beyond the paths that trigger unconditionally.
func (m *merger) shortfall(limit int) bool {
	return limit <= 0 || len(m.items) < limit
}

func (m *merger) sortByTrackIndex() {
	sort.SliceStable(m.items, func(i, j int) bool {
		a, b := m.items[i], m.items[j]
		if a.DiscNumber != b.DiscNumber {
			return a.DiscNumber < b.DiscNumber
		}
		if a.TrackNumber != b.TrackNumber {
			return a.TrackNumber < b.TrackNumber
		}
		return a.SortName < b.SortName
	})
}

// result trims the merged set to the requested limit and reconciles the
// count: when the limit was reached and more remote results may exist, the
// total is inflated by one unconsumed page window so forward-paging callers
// are not told results are exhausted. The inflated total is a heuristic.
func (m *merger) result(limit int) *models.QueryResult {
	items := m.items
	total := m.total

	if limit > 0 && len(items) >= limit {
		items = items[:limit]
		if m.remoteMayHaveMore {
			total += limit
		}
	}

	return &models.QueryResult{Items: items, Total: total}
}
