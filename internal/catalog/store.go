// Package catalog provides the persisted backing store for [models.MediaItem]
// plus the process-wide entity cache the federation layer reads through.
package catalog

import (
	"context"

	"github.com/google/uuid"
	"soundmesh/internal/models"
)

// Store is the backing-store contract the federation engine wraps.
//
// Query applies every filter of [models.Query] except the remote-assisted
// semantics; it returns one page of items plus the total matching count.
type Store interface {
	// Upsert creates or replaces the given items by id.
	Upsert(ctx context.Context, items ...*models.MediaItem) error

	// Get performs a point lookup by id. Returns [shared.ErrItemNotFound]
	// when no such item exists.
	Get(ctx context.Context, id uuid.UUID) (*models.MediaItem, error)

	// Query runs one catalog query against persisted items only.
	Query(ctx context.Context, q models.Query) (*models.QueryResult, error)

	// SetFavorite flags an item as a favorite of the given user.
	// Flagging twice is not an error.
	SetFavorite(ctx context.Context, userID string, itemID uuid.UUID) error
}
