package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"soundmesh/internal/models"
	"soundmesh/internal/shared"
)

// SQLiteStore implements [Store] over a SQLite database prepared by
// shared.RunMigrations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore with the given database connection.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const itemColumns = `id, kind, name, sort_name, parent_id, owner_id, origin, external_ref,
	provider_ids, homepage, genres, artwork_url, thumbnail_url,
	year, runtime_ms, disc_number, track_number, artist_names, linked_children,
	created_at, updated_at`

// Upsert creates or replaces the given items by id.
func (s *SQLiteStore) Upsert(ctx context.Context, items ...*models.MediaItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO media_items (` + itemColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			sort_name = excluded.sort_name,
			parent_id = excluded.parent_id,
			owner_id = excluded.owner_id,
			origin = excluded.origin,
			external_ref = excluded.external_ref,
			provider_ids = excluded.provider_ids,
			homepage = excluded.homepage,
			genres = excluded.genres,
			artwork_url = excluded.artwork_url,
			thumbnail_url = excluded.thumbnail_url,
			year = excluded.year,
			runtime_ms = excluded.runtime_ms,
			disc_number = excluded.disc_number,
			track_number = excluded.track_number,
			artist_names = excluded.artist_names,
			linked_children = excluded.linked_children,
			updated_at = excluded.updated_at
	`

	now := time.Now()
	for _, item := range items {
		if item.ID == uuid.Nil {
			return fmt.Errorf("%w: item %q has no id", shared.ErrInvalidInput, item.Name)
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
		item.UpdatedAt = now

		providerIDs, err := marshalJSONColumn(item.ProviderIDs)
		if err != nil {
			return err
		}
		genres, err := marshalJSONColumn(item.Genres)
		if err != nil {
			return err
		}
		artistNames, err := marshalJSONColumn(item.ArtistNames)
		if err != nil {
			return err
		}
		linkedChildren, err := marshalJSONColumn(item.LinkedChildren)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, query,
			item.ID.String(),
			string(item.Kind),
			item.Name,
			item.SortName,
			nullableID(item.ParentID),
			nullableString(item.OwnerID),
			item.Origin,
			nullableString(item.ExternalRef),
			providerIDs,
			nullableString(item.Homepage),
			genres,
			nullableString(item.ArtworkURL),
			nullableString(item.ThumbnailURL),
			item.Year,
			item.Runtime.Milliseconds(),
			item.DiscNumber,
			item.TrackNumber,
			artistNames,
			linkedChildren,
			item.CreatedAt,
			item.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert item %s: %w", item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}

	return nil
}

// Get performs a point lookup by id.
func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (*models.MediaItem, error) {
	query := `SELECT ` + itemColumns + ` FROM media_items WHERE id = ?`

	item, err := scanItem(s.db.QueryRowContext(ctx, query, id.String()))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", shared.ErrItemNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query item: %w", err)
	}

	return item, nil
}

// Query runs one catalog query against persisted items only.
func (s *SQLiteStore) Query(ctx context.Context, q models.Query) (*models.QueryResult, error) {
	where, args := buildWhere(q)

	var total int
	countQuery := "SELECT COUNT(*) FROM media_items" + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}

	pageQuery := `SELECT ` + itemColumns + ` FROM media_items` + where +
		" ORDER BY sort_name COLLATE NOCASE ASC LIMIT ? OFFSET ?"

	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	pageArgs := append(append([]any{}, args...), limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, pageQuery, pageArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []*models.MediaItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		if q.FavoritesOf != "" {
			item.Favorite = true
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return &models.QueryResult{Items: items, Total: total}, nil
}

// SetFavorite flags an item as a favorite of the given user.
func (s *SQLiteStore) SetFavorite(ctx context.Context, userID string, itemID uuid.UUID) error {
	query := `
		INSERT INTO user_favorites (user_id, item_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id, item_id) DO NOTHING
	`

	if _, err := s.db.ExecContext(ctx, query, userID, itemID.String(), time.Now()); err != nil {
		return fmt.Errorf("failed to set favorite: %w", err)
	}

	return nil
}

// buildWhere assembles the WHERE clause for a catalog query.
//
// Artist and ancestor scoping walk the parent chain one level deep
// (track → album → artist), which is the full depth of the catalog.
func buildWhere(q models.Query) (string, []any) {
	var conds []string
	var args []any

	if len(q.Kinds) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(q.Kinds)), ", ")
		conds = append(conds, "kind IN ("+placeholders+")")
		for _, k := range q.Kinds {
			args = append(args, string(k))
		}
	}

	if q.ParentID != uuid.Nil {
		conds = append(conds, "parent_id = ?")
		args = append(args, q.ParentID.String())
	}

	if q.AncestorID != uuid.Nil {
		conds = append(conds, "(parent_id = ? OR parent_id IN (SELECT id FROM media_items WHERE parent_id = ?))")
		args = append(args, q.AncestorID.String(), q.AncestorID.String())
	}

	if len(q.ArtistIDs) > 0 {
		var sub []string
		for _, id := range q.ArtistIDs {
			sub = append(sub, "parent_id = ? OR parent_id IN (SELECT id FROM media_items WHERE parent_id = ?)")
			args = append(args, id.String(), id.String())
		}
		conds = append(conds, "("+strings.Join(sub, " OR ")+")")
	}

	if q.AlbumArtistID != uuid.Nil {
		conds = append(conds, "parent_id = ?")
		args = append(args, q.AlbumArtistID.String())
	}

	if q.Search != "" {
		conds = append(conds, "name LIKE '%' || ? || '%' COLLATE NOCASE")
		args = append(args, q.Search)
	}

	if q.FavoritesOf != "" {
		conds = append(conds, "id IN (SELECT item_id FROM user_favorites WHERE user_id = ?)")
		args = append(args, q.FavoritesOf)
	}

	if len(conds) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

// scanner abstracts *sql.Row and *sql.Rows for scanItem.
type scanner interface {
	Scan(dest ...any) error
}

// scanItem scans one media_items row into a [models.MediaItem].
func scanItem(row scanner) (*models.MediaItem, error) {
	var (
		id, kind, name, sortName, origin              string
		parentID, ownerID, externalRef                sql.NullString
		providerIDs, genres, artistNames, linkedKids  sql.NullString
		homepage, artworkURL, thumbnailURL            sql.NullString
		year, discNumber, trackNumber                 int
		runtimeMS                                     int64
		createdAt, updatedAt                          time.Time
	)

	err := row.Scan(&id, &kind, &name, &sortName, &parentID, &ownerID, &origin, &externalRef,
		&providerIDs, &homepage, &genres, &artworkURL, &thumbnailURL,
		&year, &runtimeMS, &discNumber, &trackNumber, &artistNames, &linkedKids,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	itemID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid item id %q: %w", id, err)
	}

	item := &models.MediaItem{
		ID:           itemID,
		Kind:         models.ItemKind(kind),
		Name:         name,
		SortName:     sortName,
		OwnerID:      ownerID.String,
		Origin:       origin,
		ExternalRef:  externalRef.String,
		Homepage:     homepage.String,
		ArtworkURL:   artworkURL.String,
		ThumbnailURL: thumbnailURL.String,
		Year:         year,
		Runtime:      time.Duration(runtimeMS) * time.Millisecond,
		DiscNumber:   discNumber,
		TrackNumber:  trackNumber,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}

	if parentID.Valid && parentID.String != "" {
		pid, err := uuid.Parse(parentID.String)
		if err != nil {
			return nil, fmt.Errorf("invalid parent id %q: %w", parentID.String, err)
		}
		item.ParentID = pid
	}

	if err := unmarshalJSONColumn(providerIDs, &item.ProviderIDs); err != nil {
		return nil, err
	}
	if err := unmarshalJSONColumn(genres, &item.Genres); err != nil {
		return nil, err
	}
	if err := unmarshalJSONColumn(artistNames, &item.ArtistNames); err != nil {
		return nil, err
	}
	if err := unmarshalJSONColumn(linkedKids, &item.LinkedChildren); err != nil {
		return nil, err
	}

	return item, nil
}

func marshalJSONColumn(v any) (sql.NullString, error) {
	switch val := v.(type) {
	case map[string]string:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	case []string:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	case []models.LinkedChild:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal column: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalJSONColumn(col sql.NullString, target any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), target); err != nil {
		return fmt.Errorf("failed to unmarshal column: %w", err)
	}
	return nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableID(id uuid.UUID) sql.NullString {
	if id == uuid.Nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}
