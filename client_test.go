package webpush

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// mockSigner is a test implementation of vapid.Signer.
type mockSigner struct {
	pubKey []byte
}

func (m *mockSigner) Sign(_ context.Context, _ []byte) ([]byte, error) {
	return make([]byte, 64), nil
}

func (m *mockSigner) PublicKey() []byte {
	return m.pubKey
}

func testServerSubscription(serverURL string) *Subscription {
	return &Subscription{
		Endpoint: serverURL + "/push/abc123",
		Keys:     Keys{P256dh: testP256dh, Auth: testAuth},
	}
}

func TestClientSend(t *testing.T) {
	received := make(chan *http.Request, 1)
	var body []byte
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		received <- r
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewClient(&mockSigner{pubKey: make([]byte, 65)}, "mailto:push@example.com").
		WithHTTPClient(server.Client())

	if err := client.Send(context.Background(), testServerSubscription(server.URL), []byte("test message"), nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case req := <-received:
		if got := req.Header.Get("Content-Encoding"); got != "aes128gcm" {
			t.Errorf("Content-Encoding = %q, want %q", got, "aes128gcm")
		}
		if got := req.Header.Get("Content-Type"); got != "application/octet-stream" {
			t.Errorf("Content-Type = %q, want %q", got, "application/octet-stream")
		}
		if got := req.Header.Get("TTL"); got != "2419200" {
			t.Errorf("TTL = %q, want default %q", got, "2419200")
		}
		if authz := req.Header.Get("Authorization"); !strings.HasPrefix(authz, "vapid t=") || !strings.Contains(authz, ", k=") {
			t.Errorf("Authorization = %q, want vapid t=..., k=... form", authz)
		}
		if len(body) < headerLen+17 {
			t.Errorf("body length = %d, want at least header plus sealed delimiter", len(body))
		}
	default:
		t.Error("no request received")
	}
}

func TestClientSendOptions(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("TTL"); got != "3600" {
			t.Errorf("TTL = %q, want %q", got, "3600")
		}
		if got := r.Header.Get("Urgency"); got != "high" {
			t.Errorf("Urgency = %q, want %q", got, "high")
		}
		if got := r.Header.Get("Topic"); got != "release" {
			t.Errorf("Topic = %q, want %q", got, "release")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(&mockSigner{pubKey: make([]byte, 65)}, "mailto:push@example.com").
		WithHTTPClient(server.Client())

	err := client.Send(context.Background(), testServerSubscription(server.URL), []byte("test"), &Options{
		TTL:     3600,
		Urgency: "high",
		Topic:   "release",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
}

func TestClientSendStatusError(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
		w.Write([]byte("subscription has expired"))
	}))
	defer server.Close()

	client := NewClient(&mockSigner{pubKey: make([]byte, 65)}, "mailto:push@example.com").
		WithHTTPClient(server.Client())

	err := client.Send(context.Background(), testServerSubscription(server.URL), []byte("test"), nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Send() error = %v, want *StatusError", err)
	}
	if se.Code != http.StatusGone {
		t.Errorf("Code = %d, want %d", se.Code, http.StatusGone)
	}
	if !strings.Contains(se.Body, "expired") {
		t.Errorf("Body = %q, want relay body preserved", se.Body)
	}
}

func TestClientSendEncryptionFailureSkipsNetwork(t *testing.T) {
	var hits int
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewClient(&mockSigner{pubKey: make([]byte, 65)}, "mailto:push@example.com").
		WithHTTPClient(server.Client())

	sub := &Subscription{
		Endpoint: server.URL + "/push/abc123",
		Keys:     Keys{P256dh: encodeB64(make([]byte, publicKeyLen)), Auth: testAuth},
	}
	err := client.Send(context.Background(), sub, []byte("test"), nil)
	var kaErr *KeyAgreementError
	if !errors.As(err, &kaErr) {
		t.Fatalf("Send() error = %v, want *KeyAgreementError", err)
	}
	if hits != 0 {
		t.Errorf("relay hit %d times, want 0 for a local precondition failure", hits)
	}
}
