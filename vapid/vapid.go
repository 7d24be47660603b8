// Package vapid implements VAPID (Voluntary Application Server
// Identification) authentication for Web Push: compact ES256 tokens proving
// the sender's identity to a push relay, plus applicationServerKey helpers.
package vapid

import (
	"context"
	"encoding/base64"
)

// Signer signs VAPID tokens.
type Signer interface {
	// Sign signs the given SHA-256 digest and returns the signature in raw
	// r||s (IEEE P1363) form, 64 bytes for P-256.
	Sign(ctx context.Context, digest []byte) ([]byte, error)
	// PublicKey returns the ECDSA public key in uncompressed form.
	PublicKey() []byte
}

// ApplicationServerKey returns the public key formatted for use with the
// JavaScript PushManager.subscribe() method.
func ApplicationServerKey(publicKey []byte) string {
	return base64.RawURLEncoding.EncodeToString(publicKey)
}

// DecodeApplicationServerKey decodes a base64url-encoded application server key.
func DecodeApplicationServerKey(key string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(key)
}
