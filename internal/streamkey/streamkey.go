// Package streamkey generates the opaque identifiers that tie an inbound
// stream address, its destination and its relay process together.
package streamkey

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Prefix is prepended to every generated key.
const Prefix = "stream-"

// Generator produces a new stream key on every call.
type Generator func() string

// New returns "stream-" followed by 32 hex characters of a random v4 UUID.
// It panics if the system entropy source fails.
func New() string {
	id := uuid.New()
	return Prefix + hex.EncodeToString(id[:])
}

// Valid reports whether s has the shape produced by New.
func Valid(s string) bool {
	rest, ok := strings.CutPrefix(s, Prefix)
	if !ok || len(rest) != 32 {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil && strings.ToLower(rest) == rest
}
