// Package webpush implements the push delivery core of relwatch: RFC 8291
// style aes128gcm payload encryption, VAPID authentication and transmission
// to third-party push relays.
package webpush

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/relwatch/webpush/vapid"
)

// Options configures a push delivery.
type Options struct {
	TTL     int    // time-to-live in seconds (default 2419200 = 4 weeks)
	Urgency string // very-low, low, normal, high
	Topic   string // relay-side message replacement key
}

// StatusError reports a non-success response from a push relay. Callers
// branch on Code to tell relay-confirmed expiry (404/410) from transient
// failure.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("push relay returned %d: %s", e.Code, e.Body)
}

// Client sends encrypted push messages to relays.
type Client struct {
	issuer     *vapid.Issuer
	httpClient *http.Client
}

// NewClient creates a Client that authenticates with the given signer and
// VAPID subject (a mailto: or https: contact URI).
func NewClient(signer vapid.Signer, subject string) *Client {
	return &Client{
		issuer:     vapid.NewIssuer(signer, subject),
		httpClient: http.DefaultClient,
	}
}

// WithHTTPClient sets a custom HTTP client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.httpClient = httpClient
	return c
}

// Send encrypts payload for the subscription and POSTs it to the endpoint.
// A nil error means the relay accepted the message (200 or 201). Non-success
// statuses return a *StatusError; encryption and key-agreement failures
// return before any network I/O happens.
func (c *Client) Send(ctx context.Context, sub *Subscription, payload []byte, opts *Options) error {
	if opts == nil {
		opts = &Options{}
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = 2419200 // 4 weeks
	}

	msg, err := Encrypt(sub, payload)
	if err != nil {
		return fmt.Errorf("encrypting payload: %w", err)
	}

	authz, err := c.issuer.AuthorizationHeader(ctx, sub.Endpoint)
	if err != nil {
		return fmt.Errorf("creating VAPID header: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(msg.Body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", authz)
	req.Header.Set("Content-Encoding", "aes128gcm")
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("TTL", strconv.Itoa(ttl))
	if opts.Urgency != "" {
		req.Header.Set("Urgency", opts.Urgency)
	}
	if opts.Topic != "" {
		req.Header.Set("Topic", opts.Topic)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return nil
}
