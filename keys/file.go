// Package keys provides ECDSA P-256 signer implementations for VAPID
// authentication: a file-backed signer for keys held on disk and a Google
// Cloud KMS signer for keys that never leave the key service.
package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
)

// FileSigner signs with an ECDSA private key held in memory, loaded from a
// PEM file or a base64url-encoded raw scalar.
type FileSigner struct {
	privateKey *ecdsa.PrivateKey
	publicKey  []byte // uncompressed point
}

// NewFileSigner loads a VAPID private key from a PEM file.
func NewFileSigner(privateKeyPath string) (*FileSigner, error) {
	data, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	privKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing EC private key: %w", err)
	}

	return newFileSigner(privKey)
}

// NewFileSignerFromBase64 creates a FileSigner from a base64url-encoded
// 32-byte private scalar, the form VAPID keys are usually distributed in.
func NewFileSignerFromBase64(privateKeyB64 string) (*FileSigner, error) {
	privKeyBytes, err := base64.RawURLEncoding.DecodeString(privateKeyB64)
	if err != nil {
		return nil, fmt.Errorf("decoding private key: %w", err)
	}
	if len(privKeyBytes) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(privKeyBytes))
	}

	privKey := new(ecdsa.PrivateKey)
	privKey.Curve = elliptic.P256()
	privKey.D = new(big.Int).SetBytes(privKeyBytes)
	privKey.X, privKey.Y = privKey.Curve.ScalarBaseMult(privKeyBytes)

	return newFileSigner(privKey)
}

func newFileSigner(privKey *ecdsa.PrivateKey) (*FileSigner, error) {
	if privKey.Curve != elliptic.P256() {
		return nil, fmt.Errorf("key must be P-256 curve")
	}
	pubKey, err := marshalUncompressed(&privKey.PublicKey)
	if err != nil {
		return nil, err
	}
	return &FileSigner{privateKey: privKey, publicKey: pubKey}, nil
}

// Sign signs the given SHA-256 digest and returns the signature in IEEE
// P1363 (r||s) form.
func (s *FileSigner) Sign(_ context.Context, digest []byte) ([]byte, error) {
	r, ss, err := ecdsa.Sign(rand.Reader, s.privateKey, digest)
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}
	return p1363Signature(r, ss), nil
}

// PublicKey returns the ECDSA public key in uncompressed form.
func (s *FileSigner) PublicKey() []byte {
	return s.publicKey
}

// PublicKeyBase64 returns the public key as a base64url-encoded string.
func (s *FileSigner) PublicKeyBase64() string {
	return base64.RawURLEncoding.EncodeToString(s.publicKey)
}

// GenerateKey generates a new ECDSA P-256 keypair and saves the private key
// to a PEM file.
func GenerateKey(path string) (*FileSigner, error) {
	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}

	privKeyBytes, err := x509.MarshalECPrivateKey(privKey)
	if err != nil {
		return nil, fmt.Errorf("marshaling private key: %w", err)
	}

	block := &pem.Block{Type: "EC PRIVATE KEY", Bytes: privKeyBytes}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, fmt.Errorf("writing private key: %w", err)
	}

	return newFileSigner(privKey)
}

// GenerateKeyPair generates a new keypair and returns both halves base64url
// encoded: the private key as its 32-byte scalar, the public key as an
// uncompressed point.
func GenerateKeyPair() (privateKeyB64, publicKeyB64 string, err error) {
	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generating key: %w", err)
	}

	scalar := make([]byte, 32)
	privKey.D.FillBytes(scalar)

	pubKey, err := marshalUncompressed(&privKey.PublicKey)
	if err != nil {
		return "", "", err
	}

	return base64.RawURLEncoding.EncodeToString(scalar),
		base64.RawURLEncoding.EncodeToString(pubKey),
		nil
}

// marshalUncompressed returns the 65-byte uncompressed point form of a P-256
// public key.
func marshalUncompressed(pub *ecdsa.PublicKey) ([]byte, error) {
	e, err := pub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("converting public key: %w", err)
	}
	return e.Bytes(), nil
}

// p1363Signature packs r and s into the fixed 64-byte r||s form.
func p1363Signature(r, s *big.Int) []byte {
	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig
}
