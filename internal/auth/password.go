package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// newSalt returns a 128-bit random salt in hex.
func newSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// hashPassword derives hex(HMAC-SHA256(salt, password)). The salt hex
// string itself is the MAC key, which keeps the stored form stable
// across processes.
func hashPassword(salt, password string) string {
	m := hmac.New(sha256.New, []byte(salt))
	m.Write([]byte(password))
	return hex.EncodeToString(m.Sum(nil))
}

// verifyPassword compares in constant time.
func verifyPassword(salt, password, wantHex string) bool {
	got := hashPassword(salt, password)
	return hmac.Equal([]byte(got), []byte(wantHex))
}
