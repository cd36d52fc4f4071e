// Package ident mints room codes and session tokens.
package ident

import (
	"crypto/rand"
	"math/big"
	"regexp"

	"github.com/google/uuid"
)

const (
	// RoomCodeLength is the number of characters in a room code.
	RoomCodeLength = 4
	// SessionPrefix marks server-minted session tokens so malformed
	// client-supplied IDs can be rejected cheaply.
	SessionPrefix = "sess-"

	roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var (
	roomCodePattern  = regexp.MustCompile(`^[A-Z0-9]{4}$`)
	sessionIDPattern = regexp.MustCompile(`^sess-[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

// NewRoomCode returns a uniformly random 4-character uppercase alphanumeric
// code. Uniqueness against live rooms is the registry's job; callers retry
// on collision.
func NewRoomCode() string {
	code := make([]byte, RoomCodeLength)
	max := big.NewInt(int64(len(roomCodeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform entropy source is
			// broken; there is no meaningful recovery for an ID mint.
			panic(err)
		}
		code[i] = roomCodeAlphabet[n.Int64()]
	}
	return string(code)
}

// NewSessionID mints an opaque session token. Host and player tokens share
// the scheme; the role lives on the channel, not in the token.
func NewSessionID() string {
	return SessionPrefix + uuid.NewString()
}

// ValidSessionID reports whether s matches the mint format exactly.
// Anything else is treated as absent by the callers.
func ValidSessionID(s string) bool {
	return sessionIDPattern.MatchString(s)
}

// ValidRoomCode reports whether s is a well-formed (already normalized)
// room code.
func ValidRoomCode(s string) bool {
	return roomCodePattern.MatchString(s)
}
