package webpush

import (
	"encoding/base64"
	"testing"
)

const (
	testP256dh = "BNcRdreALRFXTkOOUHK1EtK2wtaz5Ry4YfYCA_0QTpQtUbVlUls0VJXg7A8u-Ts1XbjhazAkj7I99e8QcYP7DkM"
	testAuth   = "tBHItJI5svbpez7KI4CCXg"
)

func TestParseSubscription(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr bool
	}{
		{
			name: "valid subscription",
			json: `{
				"endpoint": "https://push.example.com/abc123",
				"keys": {"p256dh": "` + testP256dh + `", "auth": "` + testAuth + `"}
			}`,
			wantErr: false,
		},
		{
			name:    "empty JSON",
			json:    `{}`,
			wantErr: true,
		},
		{
			name: "missing endpoint",
			json: `{
				"keys": {"p256dh": "` + testP256dh + `", "auth": "` + testAuth + `"}
			}`,
			wantErr: true,
		},
		{
			name: "non-https endpoint",
			json: `{
				"endpoint": "http://push.example.com/abc123",
				"keys": {"p256dh": "` + testP256dh + `", "auth": "` + testAuth + `"}
			}`,
			wantErr: true,
		},
		{
			name: "missing p256dh",
			json: `{
				"endpoint": "https://push.example.com/abc123",
				"keys": {"auth": "` + testAuth + `"}
			}`,
			wantErr: true,
		},
		{
			name: "missing auth",
			json: `{
				"endpoint": "https://push.example.com/abc123",
				"keys": {"p256dh": "` + testP256dh + `"}
			}`,
			wantErr: true,
		},
		{
			name: "p256dh wrong length",
			json: `{
				"endpoint": "https://push.example.com/abc123",
				"keys": {"p256dh": "` + base64.RawURLEncoding.EncodeToString(make([]byte, 64)) + `", "auth": "` + testAuth + `"}
			}`,
			wantErr: true,
		},
		{
			name: "p256dh not on curve",
			json: `{
				"endpoint": "https://push.example.com/abc123",
				"keys": {"p256dh": "` + base64.RawURLEncoding.EncodeToString(make([]byte, 65)) + `", "auth": "` + testAuth + `"}
			}`,
			wantErr: true,
		},
		{
			name: "auth wrong length",
			json: `{
				"endpoint": "https://push.example.com/abc123",
				"keys": {"p256dh": "` + testP256dh + `", "auth": "` + base64.RawURLEncoding.EncodeToString(make([]byte, 8)) + `"}
			}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSubscription([]byte(tt.json))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseSubscription() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
