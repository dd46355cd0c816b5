package id

import (
	"crypto/rand"
	"encoding/hex"
)

// New returns a random hex token used to correlate log lines for a request.
func New() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "req-fallback-id"
	}
	return hex.EncodeToString(b[:])
}
