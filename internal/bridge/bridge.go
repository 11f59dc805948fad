// Package bridge maps Spotify's base-62 string identifiers into the
// catalog's 128-bit identifier space.
//
// The mapping is deterministic but not injective: decoded values wider than
// 16 bytes lose their most-significant byte, so two remote ids can derive
// the same local id. Identity is preserved through the item's external
// reference; only derived-id uniqueness is lost.
package bridge

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"soundmesh/internal/shared"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

var base = big.NewInt(int64(len(alphabet)))

// Derive converts a Spotify base-62 id to a catalog identifier.
//
// The string is decoded as a big-endian arbitrary-precision integer.
// A 16-byte value is used directly, shorter values are left-padded with
// zero bytes, and a 17-byte value drops its most-significant byte.
// Any other width is unexpected and returns an error.
func Derive(remoteID string) (uuid.UUID, error) {
	if remoteID == "" {
		return uuid.Nil, fmt.Errorf("%w: empty id", shared.ErrInvalidRemoteID)
	}

	n := new(big.Int)
	for _, r := range remoteID {
		idx := strings.IndexRune(alphabet, r)
		if idx < 0 {
			return uuid.Nil, fmt.Errorf("%w: character %q in %q", shared.ErrInvalidRemoteID, r, remoteID)
		}
		n.Mul(n, base)
		n.Add(n, big.NewInt(int64(idx)))
	}

	raw := n.Bytes()

	var b [16]byte
	switch {
	case len(raw) == 16:
		copy(b[:], raw)
	case len(raw) < 16:
		copy(b[16-len(raw):], raw)
	case len(raw) == 17:
		copy(b[:], raw[1:])
	default:
		return uuid.Nil, fmt.Errorf("%w: %q decodes to %d bytes", shared.ErrInvalidRemoteID, remoteID, len(raw))
	}

	return uuid.UUID(b), nil
}
