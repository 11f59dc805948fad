package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"soundmesh/internal/bridge"
	"soundmesh/internal/catalog"
	"soundmesh/internal/models"
	"soundmesh/internal/shared"
	"soundmesh/internal/spotify"
	th "soundmesh/internal/testing"
)

// newTestEngine wires an engine over an in-memory store and a fake Spotify
// API served by handler. remoteHits counts requests reaching the fake API.
func newTestEngine(t *testing.T, handler http.Handler, remoteHits *int) (*Engine, *catalog.SQLiteStore) {
	t.Helper()

	store := catalog.NewSQLiteStore(th.NewDB(t))
	cache := catalog.NewItemCache(time.Hour)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if remoteHits != nil {
			*remoteHits++
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(api.Close)

	tokens := spotify.NewTokenManager(nil, spotify.Credential{ClientID: "id", ClientSecret: "secret"}, "http://unused.invalid", nil, nil)
	for _, userID := range []string{"", "u1", "u2"} {
		tokens.SetWebToken(userID, "bearer", "", "")
	}

	cfg := shared.SpotifyConfig{APIBaseURL: api.URL, RateLimit: 1000}
	client := spotify.NewClient(cfg, tokens, api.Client(), nil)
	mat := NewMaterializer(store, cache, nil)

	return NewEngine(store, client, mat, nil), store
}

func writeSearch(w http.ResponseWriter, kind string, items any, total int) {
	payload := map[string]any{
		kind: map[string]any{"items": items, "total": total},
	}
	json.NewEncoder(w).Encode(payload)
}

func TestEngine(t *testing.T) {
	ctx := context.Background()

	t.Run("No User Context Stays Local", func(t *testing.T) {
		var hits int
		engine, store := newTestEngine(t, http.NotFoundHandler(), &hits)

		local := th.NewItem(models.KindArtist, "Daft Punk")
		if err := store.Upsert(ctx, local); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}

		result, err := engine.Query(ctx, models.Query{
			Kinds:  []models.ItemKind{models.KindArtist},
			Search: "daft",
			Limit:  10,
		})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(result.Items) != 1 || result.Total != 1 {
			t.Errorf("expected the local result only, got %d/%d", len(result.Items), result.Total)
		}
		if hits != 0 {
			t.Errorf("expected no remote calls without user context, saw %d", hits)
		}
	})

	t.Run("Artist Search Shortfall Fill", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/search" {
				http.NotFound(w, r)
				return
			}
			writeSearch(w, "artists", []spotify.Artist{
				{ID: "4tZwfgrHOc3mvqYlEYSvVi", Name: "Daft Punk"},
				{ID: "2CIMQHirSU0MQqyYHq0eOx", Name: "Daft Punk Tribute Band"},
			}, 2)
		})
		engine, store := newTestEngine(t, handler, nil)

		result, err := engine.Query(ctx, models.Query{
			Kinds:  []models.ItemKind{models.KindArtist},
			Search: "daft punk",
			UserID: "u1",
			Limit:  10,
		})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(result.Items) != 2 {
			t.Fatalf("expected 2 merged results, got %d", len(result.Items))
		}
		for _, item := range result.Items {
			if !item.IsSpotifyItem() {
				t.Errorf("expected origin-marked item, got %q", item.ExternalRef)
			}
			if _, err := store.Get(ctx, item.ID); err != nil {
				t.Errorf("result %s not persisted: %v", item.Name, err)
			}
		}
	})

	t.Run("Dedup Store Wins", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeSearch(w, "artists", []spotify.Artist{
				{ID: "4tZwfgrHOc3mvqYlEYSvVi", Name: "Daft Punk (remote)"},
			}, 1)
		})
		engine, store := newTestEngine(t, handler, nil)

		known := th.NewSpotifyItem(models.KindArtist, "Daft Punk", "4tZwfgrHOc3mvqYlEYSvVi")
		knownID, _ := deriveFor(t, "4tZwfgrHOc3mvqYlEYSvVi")
		known.ID = knownID
		if err := store.Upsert(ctx, known); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}

		result, err := engine.Query(ctx, models.Query{
			Kinds:  []models.ItemKind{models.KindArtist},
			Search: "daft",
			UserID: "u1",
			Limit:  10,
		})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(result.Items) != 1 {
			t.Fatalf("expected the duplicate to be excluded, got %d items", len(result.Items))
		}
		if result.Items[0].Name != "Daft Punk" {
			t.Errorf("expected the store version to win, got %q", result.Items[0].Name)
		}
		// the excluded duplicate still counts
		if result.Total != 2 {
			t.Errorf("expected total 2 with the duplicate counted, got %d", result.Total)
		}
	})

	t.Run("Count Inflation At Limit", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeSearch(w, "artists", []spotify.Artist{
				{ID: "4tZwfgrHOc3mvqYlEYSvVi", Name: "Match One"},
				{ID: "2CIMQHirSU0MQqyYHq0eOx", Name: "Match Two"},
				{ID: "6jPPWvp74YGsboZjvxfvVe", Name: "Match Three"},
			}, 3)
		})
		engine, _ := newTestEngine(t, handler, nil)

		result, err := engine.Query(ctx, models.Query{
			Kinds:  []models.ItemKind{models.KindArtist},
			Search: "match",
			UserID: "u1",
			Limit:  2,
		})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(result.Items) != 2 {
			t.Fatalf("expected the page to be trimmed to the limit, got %d", len(result.Items))
		}
		// 3 fetched + one unconsumed page window of 2
		if result.Total != 5 {
			t.Errorf("expected inflated total 5, got %d", result.Total)
		}
	})

	t.Run("Album Tracks Browse", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/albums/2noRn2Aes5aoNVsU6iWThc/tracks" {
				http.NotFound(w, r)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"items": []spotify.Track{
					{ID: "2VEZx7NWsZ1D0eJ4uv5Fym", Name: "Aerodynamic", TrackNumber: 2},
					{ID: "0DiWol3AO6WpXZgp0goxAV", Name: "One More Time", TrackNumber: 1},
				},
				"total": 2,
			})
		})
		engine, store := newTestEngine(t, handler, nil)

		album := th.NewSpotifyItem(models.KindAlbum, "Discovery", "2noRn2Aes5aoNVsU6iWThc")
		album.OwnerID = "u1"
		if err := store.Upsert(ctx, album); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}

		// no user supplied: the album owner's context is borrowed
		result, err := engine.Query(ctx, models.Query{ParentID: album.ID})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(result.Items) != 2 {
			t.Fatalf("expected 2 tracks, got %d", len(result.Items))
		}
		if result.Items[0].Name != "One More Time" || result.Items[1].Name != "Aerodynamic" {
			t.Errorf("expected track-index ordering, got %q then %q",
				result.Items[0].Name, result.Items[1].Name)
		}

		persisted, err := store.Get(ctx, album.ID)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if len(persisted.LinkedChildren) != 2 {
			t.Errorf("expected linked children to be recorded, got %d", len(persisted.LinkedChildren))
		}
	})

	t.Run("Linked Children Short Circuit", func(t *testing.T) {
		var hits int
		engine, store := newTestEngine(t, http.NotFoundHandler(), &hits)

		track := th.NewSpotifyItem(models.KindTrack, "Known Track", "0DiWol3AO6WpXZgp0goxAV")
		album := th.NewSpotifyItem(models.KindAlbum, "Known Album", "2noRn2Aes5aoNVsU6iWThc")
		album.OwnerID = "u1"
		track.ParentID = album.ID
		album.LinkedChildren = []models.LinkedChild{{LocalID: track.ID, RemoteID: "0DiWol3AO6WpXZgp0goxAV"}}
		if err := store.Upsert(ctx, album, track); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}

		result, err := engine.Query(ctx, models.Query{ParentID: album.ID, UserID: "u1"})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(result.Items) != 1 || result.Items[0].ID != track.ID {
			t.Fatalf("expected the known track, got %d items", len(result.Items))
		}
		if hits != 0 {
			t.Errorf("expected the linked children to short-circuit the fetch, saw %d calls", hits)
		}
	})

	t.Run("Top Tracks For Scoped Artists", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/artists/4tZwfgrHOc3mvqYlEYSvVi/top-tracks" {
				http.NotFound(w, r)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"tracks": []spotify.Track{
					{ID: "0DiWol3AO6WpXZgp0goxAV", Name: "One More Time"},
					{ID: "2VEZx7NWsZ1D0eJ4uv5Fym", Name: "Aerodynamic"},
				},
			})
		})
		engine, store := newTestEngine(t, handler, nil)

		artist := th.NewSpotifyItem(models.KindArtist, "Daft Punk", "4tZwfgrHOc3mvqYlEYSvVi")
		artist.OwnerID = "u1"
		if err := store.Upsert(ctx, artist); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}

		result, err := engine.Query(ctx, models.Query{
			Kinds:     []models.ItemKind{models.KindTrack},
			ArtistIDs: []uuid.UUID{artist.ID},
			UserID:    "u1",
		})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(result.Items) != 2 {
			t.Errorf("expected 2 top tracks, got %d", len(result.Items))
		}
	})

	t.Run("Favorites Paging Loop", func(t *testing.T) {
		pageSizes := []int{spotify.FavoritesPageSize, spotify.FavoritesPageSize, 0}
		var served int
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/me/tracks" {
				http.NotFound(w, r)
				return
			}
			offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
			page := offset / spotify.FavoritesPageSize
			size := 0
			if page < len(pageSizes) {
				size = pageSizes[page]
			}
			served++

			items := make([]spotify.SavedTrack, size)
			for i := range items {
				items[i] = spotify.SavedTrack{Track: spotify.Track{
					ID:   fmt.Sprintf("fav%04d", offset+i),
					Name: fmt.Sprintf("Favorite %d", offset+i),
				}}
			}
			json.NewEncoder(w).Encode(spotify.SavedTracksPage{
				Items: items, Total: 100, Limit: spotify.FavoritesPageSize, Offset: offset,
			})
		})
		engine, store := newTestEngine(t, handler, nil)

		result, err := engine.Query(ctx, models.Query{
			Kinds:       []models.ItemKind{models.KindTrack},
			FavoritesOf: "u1",
		})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(result.Items) != 100 {
			t.Fatalf("expected 100 favorites, got %d", len(result.Items))
		}
		if served != 3 {
			t.Errorf("expected the loop to stop after the empty page, served %d", served)
		}
		for _, item := range result.Items {
			if !item.Favorite {
				t.Fatalf("expected %s to carry the favorite flag", item.Name)
			}
		}

		// the flags were persisted: a fresh store-only query sees them
		persisted, err := store.Query(ctx, models.Query{FavoritesOf: "u1"})
		if err != nil {
			t.Fatalf("store query failed: %v", err)
		}
		if persisted.Total != 100 {
			t.Errorf("expected 100 persisted favorites, got %d", persisted.Total)
		}
	})

	t.Run("Favorites Loop Honors Limit", func(t *testing.T) {
		var served int
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
			served++
			items := make([]spotify.SavedTrack, spotify.FavoritesPageSize)
			for i := range items {
				items[i] = spotify.SavedTrack{Track: spotify.Track{
					ID:   fmt.Sprintf("lim%04d", offset+i),
					Name: fmt.Sprintf("Favorite %d", offset+i),
				}}
			}
			json.NewEncoder(w).Encode(spotify.SavedTracksPage{
				Items: items, Total: 10000, Limit: spotify.FavoritesPageSize, Offset: offset,
			})
		})
		engine, _ := newTestEngine(t, handler, nil)

		result, err := engine.Query(ctx, models.Query{
			Kinds:       []models.ItemKind{models.KindTrack},
			FavoritesOf: "u1",
			Limit:       60,
		})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(result.Items) != 60 {
			t.Errorf("expected the page to be trimmed to 60, got %d", len(result.Items))
		}
		if served > 2 {
			t.Errorf("expected at most 2 pages for limit 60, served %d", served)
		}
		if result.Total <= 60 {
			t.Errorf("expected an inflated total past the limit, got %d", result.Total)
		}
	})

	t.Run("Favorite Flag Stays Per User", func(t *testing.T) {
		sharedTrack := spotify.Track{ID: "0DiWol3AO6WpXZgp0goxAV", Name: "Shared Track"}
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/me/tracks":
				json.NewEncoder(w).Encode(spotify.SavedTracksPage{
					Items: []spotify.SavedTrack{{Track: sharedTrack}},
					Total: 1, Limit: spotify.FavoritesPageSize,
				})
			case "/artists/4tZwfgrHOc3mvqYlEYSvVi/top-tracks":
				json.NewEncoder(w).Encode(map[string]any{
					"tracks": []spotify.Track{sharedTrack},
				})
			default:
				http.NotFound(w, r)
			}
		})
		engine, store := newTestEngine(t, handler, nil)

		artist := th.NewSpotifyItem(models.KindArtist, "Daft Punk", "4tZwfgrHOc3mvqYlEYSvVi")
		artist.OwnerID = "u2"
		if err := store.Upsert(ctx, artist); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}

		favorites, err := engine.Query(ctx, models.Query{
			Kinds:       []models.ItemKind{models.KindTrack},
			FavoritesOf: "u1",
		})
		if err != nil {
			t.Fatalf("favorites query failed: %v", err)
		}
		if len(favorites.Items) != 1 || !favorites.Items[0].Favorite {
			t.Fatalf("expected one flagged favorite for u1, got %+v", favorites.Items)
		}

		// the same track reached through u2's top tracks carries no flag
		topTracks, err := engine.Query(ctx, models.Query{
			Kinds:     []models.ItemKind{models.KindTrack},
			ArtistIDs: []uuid.UUID{artist.ID},
			UserID:    "u2",
		})
		if err != nil {
			t.Fatalf("top-tracks query failed: %v", err)
		}
		if len(topTracks.Items) != 1 {
			t.Fatalf("expected the shared track, got %d items", len(topTracks.Items))
		}
		if topTracks.Items[0].Favorite {
			t.Error("u1's favorite flag leaked into u2's result")
		}
	})

	t.Run("Scoped Album Query Leaves Artist List Intact", func(t *testing.T) {
		engine, _ := newTestEngine(t, http.NotFoundHandler(), nil)

		// the artist slice shares a backing array with live neighbors
		sentinel := uuid.New()
		backing := []uuid.UUID{uuid.New(), sentinel, sentinel}

		_, err := engine.Query(ctx, models.Query{
			Kinds:         []models.ItemKind{models.KindAlbum},
			ArtistIDs:     backing[:1],
			AlbumArtistID: uuid.New(),
			ParentID:      uuid.New(),
			UserID:        "u1",
		})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if backing[1] != sentinel || backing[2] != sentinel {
			t.Error("expected the caller's backing array to be untouched")
		}
	})

	t.Run("Album Listings For Artist", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/artists/4tZwfgrHOc3mvqYlEYSvVi/albums" {
				http.NotFound(w, r)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"items": []spotify.Album{
					{ID: "2noRn2Aes5aoNVsU6iWThc", Name: "Discovery", ReleaseDate: "2001-03-07"},
					{ID: "6G9fHYDCoyEErUkHrFYfs4", Name: "Homework", ReleaseDate: "1997-01-20"},
				},
				"total": 2,
			})
		})
		engine, store := newTestEngine(t, handler, nil)

		artist := th.NewSpotifyItem(models.KindArtist, "Daft Punk", "4tZwfgrHOc3mvqYlEYSvVi")
		artist.OwnerID = "u1"
		if err := store.Upsert(ctx, artist); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}

		result, err := engine.Query(ctx, models.Query{
			Kinds:         []models.ItemKind{models.KindAlbum},
			AlbumArtistID: artist.ID,
			UserID:        "u1",
		})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(result.Items) != 2 {
			t.Fatalf("expected 2 albums, got %d", len(result.Items))
		}
		for _, album := range result.Items {
			if album.ParentID != artist.ID {
				t.Errorf("album %q not parented to the artist", album.Name)
			}
		}
	})
}

// deriveFor resolves the local id for a remote id, failing the test on error.
func deriveFor(t *testing.T, remoteID string) (uuid.UUID, error) {
	t.Helper()
	id, err := bridge.Derive(remoteID)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	return id, nil
}
