package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewOpaque returns a random hex token for single-use links and sessions.
func NewOpaque() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate opaque token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
