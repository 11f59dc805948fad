// Package models defines the catalog data model shared by the store,
// the federation engine and the Spotify client.
//
// The central type is [MediaItem], a single artist, album, track or folder
// with a 128-bit identifier. Items materialized from Spotify carry an
// external reference beginning with [OriginSpotify] — that prefix, not the
// identifier itself, is the reliable "is this remote" test because the
// derived identifier is not always invertible.
package models
