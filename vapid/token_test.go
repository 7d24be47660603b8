package vapid

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"strings"
	"testing"
	"time"
)

type ecdsaSigner struct {
	priv *ecdsa.PrivateKey
	pub  []byte
}

func newECDSASigner(t *testing.T) *ecdsaSigner {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	pub, err := priv.PublicKey.ECDH()
	if err != nil {
		t.Fatalf("converting public key: %v", err)
	}
	return &ecdsaSigner{priv: priv, pub: pub.Bytes()}
}

func (s *ecdsaSigner) Sign(_ context.Context, digest []byte) ([]byte, error) {
	r, ss, err := ecdsa.Sign(rand.Reader, s.priv, digest)
	if err != nil {
		return nil, err
	}
	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	ss.FillBytes(sig[32:])
	return sig, nil
}

func (s *ecdsaSigner) PublicKey() []byte { return s.pub }

func TestIssuerToken(t *testing.T) {
	signer := newECDSASigner(t)
	issued := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	issuer := NewIssuer(signer, "mailto:push@example.com")
	issuer.now = func() time.Time { return issued }

	token, err := issuer.Token(context.Background(), "https://push.example.com")
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d segments, want 3", len(parts))
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		t.Fatalf("decoding header: %v", err)
	}
	var header map[string]string
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		t.Fatalf("unmarshaling header: %v", err)
	}
	if header["alg"] != "ES256" || header["typ"] != "JWT" {
		t.Errorf("header = %v, want ES256/JWT", header)
	}

	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decoding claims: %v", err)
	}
	var claims struct {
		Aud string `json:"aud"`
		Exp int64  `json:"exp"`
		Sub string `json:"sub"`
	}
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		t.Fatalf("unmarshaling claims: %v", err)
	}
	if claims.Aud != "https://push.example.com" {
		t.Errorf("aud = %q, want %q", claims.Aud, "https://push.example.com")
	}
	if claims.Sub != "mailto:push@example.com" {
		t.Errorf("sub = %q, want %q", claims.Sub, "mailto:push@example.com")
	}
	if want := issued.Add(TokenLifetime).Unix(); claims.Exp != want {
		t.Errorf("exp = %d, want %d", claims.Exp, want)
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		t.Fatalf("decoding signature: %v", err)
	}
	if len(sig) != 64 {
		t.Fatalf("signature length = %d, want 64", len(sig))
	}
	digest := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	if !ecdsa.Verify(&signer.priv.PublicKey, digest[:], r, s) {
		t.Error("signature does not verify against the signer's public key")
	}
}

func TestAuthorizationHeader(t *testing.T) {
	signer := newECDSASigner(t)
	issuer := NewIssuer(signer, "mailto:push@example.com")

	header, err := issuer.AuthorizationHeader(context.Background(), "https://fcm.googleapis.com/fcm/send/some-long-registration-id")
	if err != nil {
		t.Fatalf("AuthorizationHeader() error = %v", err)
	}

	if !strings.HasPrefix(header, "vapid t=") {
		t.Errorf("header = %q, want vapid t= prefix", header)
	}
	wantKey := ", k=" + ApplicationServerKey(signer.pub)
	if !strings.HasSuffix(header, wantKey) {
		t.Errorf("header = %q, want %q suffix", header, wantKey)
	}

	// The audience must be the relay origin, not the full endpoint path.
	token := strings.TrimPrefix(strings.Split(header, ",")[0], "vapid t=")
	claimsJSON, err := base64.RawURLEncoding.DecodeString(strings.Split(token, ".")[1])
	if err != nil {
		t.Fatalf("decoding claims: %v", err)
	}
	var claims struct {
		Aud string `json:"aud"`
	}
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		t.Fatalf("unmarshaling claims: %v", err)
	}
	if claims.Aud != "https://fcm.googleapis.com" {
		t.Errorf("aud = %q, want %q", claims.Aud, "https://fcm.googleapis.com")
	}
}

func TestApplicationServerKeyRoundTrip(t *testing.T) {
	signer := newECDSASigner(t)
	encoded := ApplicationServerKey(signer.pub)
	decoded, err := DecodeApplicationServerKey(encoded)
	if err != nil {
		t.Fatalf("DecodeApplicationServerKey() error = %v", err)
	}
	if len(decoded) != 65 {
		t.Errorf("decoded length = %d, want 65", len(decoded))
	}
}
