package admin

import (
	"crypto/rand"
	"encoding/base64"
)

// keyEntropy is the number of random bytes in a generated key
const keyEntropy = 24

// GenerateKey returns prefix followed by 32 url-safe characters
func GenerateKey(prefix string) (string, error) {
	b := make([]byte, keyEntropy)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + base64.RawURLEncoding.EncodeToString(b), nil
}
