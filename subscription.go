package webpush

import (
	"crypto/ecdh"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Subscription represents a Web Push registration from a client.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     Keys   `json:"keys"`
}

// Keys contains the client's encryption key material, base64url-encoded.
type Keys struct {
	P256dh string `json:"p256dh"` // uncompressed P-256 point, 65 bytes decoded
	Auth   string `json:"auth"`   // shared auth secret, 16 bytes decoded
}

// ParseSubscription parses and validates a subscription from JSON. Key
// material is checked here so a malformed registration is rejected before any
// row is written; the send path can assume stored bytes decode.
func ParseSubscription(data []byte) (*Subscription, error) {
	var sub Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("unmarshaling subscription: %w", err)
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Validate checks the endpoint and key material.
func (s *Subscription) Validate() error {
	if s.Endpoint == "" {
		return errors.New("subscription endpoint is required")
	}
	if !strings.HasPrefix(s.Endpoint, "https://") {
		return errors.New("subscription endpoint must use HTTPS")
	}
	pub, err := decodeB64(s.Keys.P256dh)
	if err != nil {
		return fmt.Errorf("decoding p256dh: %w", err)
	}
	if len(pub) != publicKeyLen {
		return fmt.Errorf("p256dh must decode to %d bytes, got %d", publicKeyLen, len(pub))
	}
	if _, err := ecdh.P256().NewPublicKey(pub); err != nil {
		return fmt.Errorf("p256dh is not a valid P-256 point: %w", err)
	}
	auth, err := decodeB64(s.Keys.Auth)
	if err != nil {
		return fmt.Errorf("decoding auth: %w", err)
	}
	if len(auth) != authSecretLen {
		return fmt.Errorf("auth must decode to %d bytes, got %d", authSecretLen, len(auth))
	}
	return nil
}

// keyMaterial decodes the stored key fields. A decode failure here means the
// row predates validation; it surfaces as a KeyAgreementError so delivery
// counts it against the one subscription.
func (s *Subscription) keyMaterial() (pub, auth []byte, err error) {
	pub, err = decodeB64(s.Keys.P256dh)
	if err != nil {
		return nil, nil, &KeyAgreementError{err: fmt.Errorf("decoding p256dh: %w", err)}
	}
	auth, err = decodeB64(s.Keys.Auth)
	if err != nil {
		return nil, nil, &KeyAgreementError{err: fmt.Errorf("decoding auth: %w", err)}
	}
	return pub, auth, nil
}
