package utils

import (
	"crypto/rand"
	"encoding/hex"
)

// TokenBytes is the amount of entropy behind a bearer token.
const TokenBytes = 32

// NewTokenValue returns a fresh canonical bearer token: 32 random bytes as
// 64 lowercase hex characters.
func NewTokenValue() (string, error) {
	return randomHex(TokenBytes)
}

// randomHex returns a hex‑encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
