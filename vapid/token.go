package vapid

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// TokenLifetime is how long an issued token remains valid. Tokens are minted
// fresh per delivery attempt, so nothing depends on reuse within this window.
const TokenLifetime = 12 * time.Hour

type tokenHeader struct {
	Typ string `json:"typ"`
	Alg string `json:"alg"`
}

type tokenClaims struct {
	Aud string `json:"aud"`
	Exp int64  `json:"exp"`
	Sub string `json:"sub"`
}

// Issuer mints Authorization header values for push relay requests.
type Issuer struct {
	signer  Signer
	subject string // contact URI, e.g. mailto:push@example.com
	now     func() time.Time
}

// NewIssuer creates an Issuer signing with the given signer and claiming the
// given subject.
func NewIssuer(signer Signer, subject string) *Issuer {
	return &Issuer{signer: signer, subject: subject, now: time.Now}
}

// Token builds and signs a compact header.claims.signature token for the
// given audience. Each segment is base64url without padding; the signature is
// the raw r||s ECDSA signature over SHA-256 of the ASCII signing input.
func (i *Issuer) Token(ctx context.Context, audience string) (string, error) {
	headerJSON, err := json.Marshal(tokenHeader{Typ: "JWT", Alg: "ES256"})
	if err != nil {
		return "", fmt.Errorf("marshaling header: %w", err)
	}
	claimsJSON, err := json.Marshal(tokenClaims{
		Aud: audience,
		Exp: i.now().Add(TokenLifetime).Unix(),
		Sub: i.subject,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling claims: %w", err)
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(claimsJSON)
	digest := sha256.Sum256([]byte(signingInput))

	signature, err := i.signer.Sign(ctx, digest[:])
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

// AuthorizationHeader returns the full header value for a delivery to
// endpoint: `vapid t=<token>, k=<senderPublicKeyBase64url>`. The token's
// audience is the endpoint's origin; the token authorizes the relay, not the
// individual subscription.
func (i *Issuer) AuthorizationHeader(ctx context.Context, endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint: %w", err)
	}
	token, err := i.Token(ctx, u.Scheme+"://"+u.Host)
	if err != nil {
		return "", err
	}
	return "vapid t=" + token + ", k=" + ApplicationServerKey(i.signer.PublicKey()), nil
}
