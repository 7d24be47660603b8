package webpush

import (
	"crypto/ecdh"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeyAgreementError reports subscriber key material that cannot take part in
// ECDH, such as bytes that are not a valid curve point. Batch senders catch
// it per subscription instead of aborting the whole batch.
type KeyAgreementError struct {
	err error
}

func (e *KeyAgreementError) Error() string { return "key agreement: " + e.err.Error() }

func (e *KeyAgreementError) Unwrap() error { return e.err }

// contentKeys holds the derived AES-128-GCM inputs for exactly one message.
type contentKeys struct {
	key   []byte // 16 bytes
	nonce []byte // 12 bytes
}

// deriveContentKeys runs the two-stage HKDF-SHA256 chain over the ECDH shared
// secret between a per-message ephemeral key and the subscriber's public key.
// The subscriber's 16-byte auth secret salts the first extraction; both
// expansions run with an empty salt.
func deriveContentKeys(ephemeral *ecdh.PrivateKey, subscriberPub, authSecret []byte) (*contentKeys, error) {
	if len(authSecret) != authSecretLen {
		return nil, &KeyAgreementError{err: fmt.Errorf("auth secret must be %d bytes, got %d", authSecretLen, len(authSecret))}
	}

	clientPub, err := ecdh.P256().NewPublicKey(subscriberPub)
	if err != nil {
		return nil, &KeyAgreementError{err: fmt.Errorf("parsing subscriber public key: %w", err)}
	}

	shared, err := ephemeral.ECDH(clientPub)
	if err != nil {
		return nil, &KeyAgreementError{err: fmt.Errorf("computing shared secret: %w", err)}
	}

	// PRK = HKDF(salt=auth, ikm=shared, info="WebPush: info"||0x00||ua_public||as_public)
	prkInfo := append([]byte("WebPush: info\x00"), clientPub.Bytes()...)
	prkInfo = append(prkInfo, ephemeral.PublicKey().Bytes()...)
	prk := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, authSecret, prkInfo), prk); err != nil {
		return nil, fmt.Errorf("deriving PRK: %w", err)
	}

	key := make([]byte, 16)
	if _, err := io.ReadFull(hkdf.New(sha256.New, prk, nil, []byte("Content-Encoding: aes128gcm\x00")), key); err != nil {
		return nil, fmt.Errorf("deriving content key: %w", err)
	}

	nonce := make([]byte, 12)
	if _, err := io.ReadFull(hkdf.New(sha256.New, prk, nil, []byte("Content-Encoding: nonce\x00")), nonce); err != nil {
		return nil, fmt.Errorf("deriving nonce: %w", err)
	}

	return &contentKeys{key: key, nonce: nonce}, nil
}
