package catalog

import (
	"database/sql"
	"fmt"
	"time"

	"soundmesh/internal/models"
	"soundmesh/internal/shared"
)

// UserRepository persists [models.User] records, including the per-user
// Spotify application credential and interactive tokens.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository with the given database connection.
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user into the database with a generated ID.
func (r *UserRepository) Create(user *models.User) error {
	if user.ID == "" {
		user.ID = shared.GenerateID()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (id, name, spotify_client_id, spotify_client_secret, web_token, refresh_token, region, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		user.ID,
		user.Name,
		user.SpotifyClientID,
		user.SpotifyClientSecret,
		user.WebToken,
		user.RefreshToken,
		user.Region,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	return nil
}

// Get retrieves a user by ID.
func (r *UserRepository) Get(id string) (*models.User, error) {
	query := `
		SELECT id, name, spotify_client_id, spotify_client_secret, web_token, refresh_token, region, created_at, updated_at
		FROM users
		WHERE id = ?
	`

	var user models.User
	err := r.db.QueryRow(query, id).Scan(
		&user.ID,
		&user.Name,
		&user.SpotifyClientID,
		&user.SpotifyClientSecret,
		&user.WebToken,
		&user.RefreshToken,
		&user.Region,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", shared.ErrUserNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	return &user, nil
}

// Update modifies an existing user in the database.
func (r *UserRepository) Update(user *models.User) error {
	now := time.Now()
	user.UpdatedAt = now

	query := `
		UPDATE users
		SET name = ?, spotify_client_id = ?, spotify_client_secret = ?, web_token = ?, refresh_token = ?, region = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.Exec(query,
		user.Name,
		user.SpotifyClientID,
		user.SpotifyClientSecret,
		user.WebToken,
		user.RefreshToken,
		user.Region,
		now,
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrUserNotFound, user.ID)
	}

	return nil
}

// List retrieves all users.
func (r *UserRepository) List() ([]*models.User, error) {
	query := `
		SELECT id, name, spotify_client_id, spotify_client_secret, web_token, refresh_token, region, created_at, updated_at
		FROM users
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var user models.User
		err := rows.Scan(
			&user.ID,
			&user.Name,
			&user.SpotifyClientID,
			&user.SpotifyClientSecret,
			&user.WebToken,
			&user.RefreshToken,
			&user.Region,
			&user.CreatedAt,
			&user.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, &user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return users, nil
}
