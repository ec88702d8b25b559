// Package security provides the OMQ's message-authentication primitives:
// HMAC-SHA256 signing of outbound payloads and PBKDF2 derivation of the
// shared secret from an operator-supplied passphrase.
package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize  = 32 // HMAC-SHA256 key size
	saltSize = 16
)

// Sign computes the hex-encoded HMAC-SHA256 of body under secret. The
// HTTP transport carries it in the wire envelope's signature field when
// a secret is configured, so the receiving node's InboundHandler can
// reject unsigned or mis-signed traffic. The gRPC transport does not
// sign.
func Sign(secret []byte, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is a valid HMAC-SHA256 of body under
// secret, in constant time.
func Verify(secret []byte, body []byte, signature string) bool {
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// DeriveKey stretches an operator-supplied passphrase into a signing
// key via PBKDF2-HMAC-SHA256.
func DeriveKey(passphrase, salt []byte) []byte {
	return pbkdf2.Key(passphrase, salt, 100000, keySize, sha256.New)
}

// GenerateSalt returns fresh random salt for DeriveKey.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}
