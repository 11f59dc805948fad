package models

import "github.com/google/uuid"

// Query describes one catalog query against the backing store or the
// federated engine. Zero values mean "unset".
type Query struct {
	Kinds []ItemKind

	ParentID      uuid.UUID
	AncestorID    uuid.UUID
	ArtistIDs     []uuid.UUID
	AlbumArtistID uuid.UUID

	Search      string
	FavoritesOf string // user id; non-empty restricts to that user's favorites

	// UserID supplies the user context for remote-assisted fetches. When
	// empty the engine borrows the owner of the item being browsed, and
	// degrades to local-only results if no owner exists either.
	UserID string

	Limit  int
	Offset int
}

// HasKind reports whether the query's kind filter includes k.
func (q Query) HasKind(k ItemKind) bool {
	for _, kind := range q.Kinds {
		if kind == k {
			return true
		}
	}
	return false
}

// QueryResult carries the items of one page plus the total count the
// caller should use for pagination. Total can exceed len(Items) when more
// pages exist, locally or remotely.
type QueryResult struct {
	Items []*MediaItem
	Total int
}
