// Package crypto implements the request-signing schemes required by the
// venue REST APIs. Both venues authenticate with HMAC over the request
// payload; they differ in hash, encoding, and what goes into the message.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// SignQueryHex computes HMAC-SHA256 of the encoded query string with a raw
// secret and returns it hex-encoded. This is the Binance signature scheme:
// the result is appended to the query as the signature parameter.
func SignQueryHex(secret, query string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignKraken computes the API-Sign header value for a Kraken private
// endpoint: base64(HMAC-SHA512(b64decode(secret), path || SHA256(nonce ||
// postData))). The secret is the base64-encoded key issued with the API key.
func SignKraken(secret, path, nonce, postData string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("crypto: decode kraken secret: %w", err)
	}

	inner := sha256.Sum256([]byte(nonce + postData))

	mac := hmac.New(sha512.New, key)
	mac.Write([]byte(path))
	mac.Write(inner[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Redact returns a representation of a credential safe for logging: the
// first four characters followed by asterisks.
func Redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
