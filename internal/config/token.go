package config

import (
	"crypto/rand"
	"encoding/base64"
)

// randomToken generates a URL-safe random token of n random bytes, used to
// auto-generate AUTH_TOKEN when the operator hasn't set one. The token
// changes on every restart; set AUTH_TOKEN in .env for a persistent one.
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
