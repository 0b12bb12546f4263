package keystore

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// TokenLength matches the 32 characters of a base64url-encoded 24-byte secret.
const TokenLength = 32

// TokenGenerator produces fresh key tokens.
type TokenGenerator func() (string, error)

// NewToken returns a URL-safe random token backed by crypto/rand.
func NewToken() (string, error) {
	return gonanoid.New(TokenLength)
}
