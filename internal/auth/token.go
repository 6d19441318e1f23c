package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// tokenPayload is what gets signed into a session token. The nonce
// makes every mint unique even for the same user and instant.
type tokenPayload struct {
	UserID   string `json:"uid"`
	Nonce    string `json:"nonce"`
	IssuedAt int64  `json:"iat"`
}

// mintTokenLocked builds base64url(payload) + "." + hex(HMAC-SHA256(secret, payload)).
func (s *Store) mintTokenLocked(userID string) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	payload, err := json.Marshal(tokenPayload{
		UserID:   userID,
		Nonce:    hex.EncodeToString(nonce),
		IssuedAt: s.now().Unix(),
	})
	if err != nil {
		return "", err
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + s.sign(payload), nil
}

func (s *Store) sign(payload []byte) string {
	m := hmac.New(sha256.New, s.secret)
	m.Write(payload)
	return hex.EncodeToString(m.Sum(nil))
}

// checkSignature validates token integrity before the session lookup.
// A forged or truncated token never reaches the map.
func (s *Store) checkSignature(token string) bool {
	body, sig, ok := strings.Cut(token, ".")
	if !ok {
		return false
	}
	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(s.sign(payload)), []byte(sig))
}
