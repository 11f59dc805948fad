// Package spotify implements the remote side of catalog federation: the
// per-user token lifecycle and a query executor over the Spotify Web API.
//
// # Token lifecycle
//
// Each user moves through NoCredentials → HasApiKey → HasToken, and back to
// HasApiKey when a token is invalidated by an auth failure. [TokenManager]
// prefers the interactive ("web") token over the client-credentials token
// because it carries broader privileges; with neither present it performs a
// synchronous client-credentials exchange, suspending the caller until the
// token resolves.
//
// # Query executor
//
// Every read is one authenticated GET decoded into a typed envelope. The
// envelopes form a closed set selected by which method is called, never by
// inspecting the payload. Failures degrade: a non-success status or a
// malformed body is logged and yields an empty result, and an auth failure
// invalidates the credential and retries exactly once with the next
// preferred token. Remote unavailability never fails a catalog query.
//
// Response types are based on
// https://developer.spotify.com/documentation/web-api/reference/
package spotify
