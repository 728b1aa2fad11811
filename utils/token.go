package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// QRSigner produces the stateless proof printed in a table's QR code. Tokens
// never expire; rotating the secret invalidates every printed code.
type QRSigner struct {
	secret []byte
}

func NewQRSigner(secret string) QRSigner {
	return QRSigner{secret: []byte(secret)}
}

// CreateQRToken returns hex(HMAC-SHA256(secret, "rid:tid")).
func (s QRSigner) CreateQRToken(restaurantID, tableID uint) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(fmt.Sprintf("%d:%d", restaurantID, tableID)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s QRSigner) VerifyQRToken(restaurantID, tableID uint, token string) bool {
	expected := s.CreateQRToken(restaurantID, tableID)
	return hmac.Equal([]byte(expected), []byte(token))
}
