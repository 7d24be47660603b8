package webpush

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
)

// EncryptedMessage is a sealed push message ready for transmission, together
// with the ephemeral public key that its header carries.
type EncryptedMessage struct {
	Body         []byte
	EphemeralPub []byte
}

// Encrypt seals plaintext for the subscription's key material. Every call
// draws a fresh ephemeral keypair and salt; nothing here survives the call or
// is reused across messages.
func Encrypt(sub *Subscription, plaintext []byte) (*EncryptedMessage, error) {
	subscriberPub, authSecret, err := sub.keyMaterial()
	if err != nil {
		return nil, err
	}

	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ephemeral key: %w", err)
	}

	ck, err := deriveContentKeys(ephemeral, subscriberPub, authSecret)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(ck.key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	// Single record: plaintext, then the end-of-record delimiter. The GCM
	// tag rides at the end of the ciphertext.
	padded := make([]byte, 0, len(plaintext)+1)
	padded = append(padded, plaintext...)
	padded = append(padded, delimiter)

	ephemeralPub := ephemeral.PublicKey().Bytes()
	ciphertext := gcm.Seal(nil, ck.nonce, padded, nil)

	return &EncryptedMessage{
		Body:         append(contentHeader(salt, ephemeralPub), ciphertext...),
		EphemeralPub: ephemeralPub,
	}, nil
}
