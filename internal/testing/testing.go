// package testing contains shared testing utilities
package testing

import (
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"soundmesh/internal/models"
	"soundmesh/internal/shared"
)

// NewDB opens an isolated in-memory database with migrations applied.
//
// The pool is pinned to one connection so every statement sees the same
// in-memory database.
func NewDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// NewItem builds a local-origin catalog item with a fresh id.
func NewItem(kind models.ItemKind, name string) *models.MediaItem {
	return &models.MediaItem{
		ID:       uuid.New(),
		Kind:     kind,
		Name:     name,
		SortName: name,
		Origin:   models.OriginLocal,
	}
}

// NewSpotifyItem builds a remote-origin catalog item carrying the origin
// marker for the given remote id.
func NewSpotifyItem(kind models.ItemKind, name, remoteID string) *models.MediaItem {
	item := NewItem(kind, name)
	item.Origin = models.OriginSpotify
	item.ExternalRef = models.SpotifyRef(kind, remoteID)
	item.ProviderIDs = map[string]string{"Spotify": remoteID}
	return item
}
