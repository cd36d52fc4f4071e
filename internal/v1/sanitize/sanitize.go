// Package sanitize normalizes client-supplied values before they reach room
// state. Everything coming off the wire is adversarial until it passed here.
package sanitize

import (
	"math"
	"regexp"
	"strings"
)

const (
	// MaxNameLength is the cap on player names, in Unicode scalar values.
	MaxNameLength = 50
	// FallbackName replaces names that are empty after stripping.
	FallbackName = "Spieler"

	maxRoomCodeInput = 16
)

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// PlayerName trims, strips HTML tags and C0/C1 control characters, and caps
// the result at MaxNameLength runes. Empty results become FallbackName.
func PlayerName(name string) string {
	name = htmlTagPattern.ReplaceAllString(name, "")
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || (r >= 0x7F && r <= 0x9F) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)

	if runes := []rune(name); len(runes) > MaxNameLength {
		name = string(runes[:MaxNameLength])
	}
	if name == "" {
		return FallbackName
	}
	return name
}

// ValidScore reports whether s is a usable score: finite and non-negative.
func ValidScore(s float64) bool {
	return !math.IsNaN(s) && !math.IsInf(s, 0) && s >= 0
}

// RoomCode uppercases and strips whitespace from a client-supplied room
// code. Oversized input is truncated before normalization so a hostile
// client cannot make the registry hash megabytes of garbage.
func RoomCode(code string) string {
	if len(code) > maxRoomCodeInput {
		code = code[:maxRoomCodeInput]
	}
	code = strings.ToUpper(code)
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, code)
}
