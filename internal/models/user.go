package models

import "time"

// User is a catalog user holding the per-user Spotify credential set.
//
// The client-credentials token is deliberately absent: it is short-lived
// process state owned by the token manager and never persisted.
type User struct {
	ID   string
	Name string

	// Application credential registered through the server surface.
	SpotifyClientID     string
	SpotifyClientSecret string

	// Interactive ("web") token state from the authorization-code flow.
	WebToken     string
	RefreshToken string
	Region       string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasCredential reports whether the user registered an application credential.
func (u *User) HasCredential() bool {
	return u.SpotifyClientID != "" && u.SpotifyClientSecret != ""
}
