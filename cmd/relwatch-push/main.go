// relwatch-push serves the push notification subsystem: subscription
// registration endpoints backed by SQLite, VAPID key bootstrap, and a send
// trigger that delivers a payload to every matching subscriber.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/sethvargo/go-envconfig"

	"github.com/relwatch/webpush"
	"github.com/relwatch/webpush/delivery"
	"github.com/relwatch/webpush/httpapi"
	"github.com/relwatch/webpush/keys"
	"github.com/relwatch/webpush/storage"
	"github.com/relwatch/webpush/vapid"
)

type config struct {
	Addr        string        `env:"ADDR, default=:8080"`
	DBPath      string        `env:"DB_PATH, default=push.db"`
	KeyPath     string        `env:"VAPID_KEY_PATH, default=vapid-private.pem"`
	KMSKey      string        `env:"VAPID_KMS_KEY"`
	Subject     string        `env:"VAPID_SUBJECT, default=mailto:push@relwatch.dev"`
	TTL         int           `env:"PUSH_TTL, default=3600"`
	Urgency     string        `env:"PUSH_URGENCY, default=normal"`
	Workers     int           `env:"PUSH_WORKERS, default=8"`
	RatePerSec  float64       `env:"PUSH_RATE_PER_SEC, default=0"`
	SendTimeout time.Duration `env:"PUSH_SEND_TIMEOUT, default=30s"`
}

func main() {
	log := clog.New(slog.NewJSONHandler(os.Stderr, nil))
	ctx := clog.WithLogger(context.Background(), log)

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("processing config: %v", err)
	}

	signer, err := newSigner(ctx, cfg)
	if err != nil {
		log.Fatalf("setting up VAPID signer: %v", err)
	}
	log.Infof("VAPID public key: %s", vapid.ApplicationServerKey(signer.PublicKey()))

	store, err := storage.NewSQLite(cfg.DBPath)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer store.Close()

	client := webpush.NewClient(signer, cfg.Subject)
	orch := delivery.New(client, store).
		WithSendOptions(webpush.Options{TTL: cfg.TTL, Urgency: cfg.Urgency}).
		WithWorkerLimit(cfg.Workers).
		WithRateLimit(cfg.RatePerSec).
		WithRequestTimeout(cfg.SendTimeout)

	mux := http.NewServeMux()
	httpapi.New(store, signer.PublicKey()).Register(mux)
	mux.HandleFunc("POST /api/push/send", handleSend(orch))

	log.Infof("listening on %s", cfg.Addr)
	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mux.ServeHTTP(w, r.WithContext(clog.WithLogger(r.Context(), log)))
		}),
	}
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

// newSigner prefers a KMS-held key when configured, otherwise loads the PEM
// file, generating one on first run.
func newSigner(ctx context.Context, cfg config) (vapid.Signer, error) {
	if cfg.KMSKey != "" {
		return keys.NewKMSSigner(ctx, cfg.KMSKey)
	}
	if _, err := os.Stat(cfg.KeyPath); os.IsNotExist(err) {
		clog.FromContext(ctx).Infof("generating VAPID keys at %s", cfg.KeyPath)
		return keys.GenerateKey(cfg.KeyPath)
	}
	return keys.NewFileSigner(cfg.KeyPath)
}

func handleSend(orch *delivery.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title string   `json:"title"`
			Body  string   `json:"body"`
			URL   string   `json:"url,omitempty"`
			Tools []string `json:"tools,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}

		payload, err := json.Marshal(map[string]string{
			"title": req.Title,
			"body":  req.Body,
			"url":   req.URL,
		})
		if err != nil {
			http.Error(w, "encoding payload", http.StatusInternalServerError)
			return
		}

		report, err := orch.SendBatch(r.Context(), payload, req.Tools)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{
			"delivered": report.Delivered,
			"expired":   report.Expired,
			"failed":    report.Failed,
		})
	}
}
