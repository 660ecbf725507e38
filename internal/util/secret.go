package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewSecret generates an endpoint signing secret ("whsec_" + 32 hex chars).
func NewSecret() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)

	return "whsec_" + hex.EncodeToString(b)
}
