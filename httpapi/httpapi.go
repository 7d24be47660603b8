// Package httpapi serves the push subscription endpoints: registration,
// removal, and sender public-key discovery.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/chainguard-dev/clog"

	"github.com/relwatch/webpush"
	"github.com/relwatch/webpush/storage"
	"github.com/relwatch/webpush/vapid"
)

// InterestSource resolves the tools an owner follows. It backs the filter
// fallback at registration time when the request carries no explicit filter.
type InterestSource interface {
	ToolsFor(ctx context.Context, ownerID string) ([]string, error)
}

// Handler serves the push registration API.
type Handler struct {
	store     storage.Store
	publicKey []byte
	interests InterestSource
	ownerFor  func(*http.Request) string
}

// New creates a Handler storing registrations in store and advertising the
// given sender public key (uncompressed point form).
func New(store storage.Store, publicKey []byte) *Handler {
	return &Handler{
		store:     store,
		publicKey: publicKey,
		ownerFor:  func(*http.Request) string { return "" },
	}
}

// WithInterests sets the fallback source for registration filters.
func (h *Handler) WithInterests(src InterestSource) *Handler {
	h.interests = src
	return h
}

// WithOwnerResolver sets how the owner id is extracted from a request, e.g.
// from a session cookie or auth header. The default treats every caller as
// anonymous.
func (h *Handler) WithOwnerResolver(f func(*http.Request) string) *Handler {
	h.ownerFor = f
	return h
}

// Register installs the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/push/subscribe", h.handleSubscribe)
	mux.HandleFunc("POST /api/push/unsubscribe", h.handleUnsubscribe)
	mux.HandleFunc("GET /api/push/key", h.handlePublicKey)
}

type subscribeRequest struct {
	Endpoint    string       `json:"endpoint"`
	Keys        webpush.Keys `json:"keys"`
	OldEndpoint string       `json:"oldEndpoint,omitempty"`
	Tools       []string     `json:"tools,omitempty"`
}

type subscribeResponse struct {
	ID    string   `json:"id"`
	Tools []string `json:"tools"` // null means "everything"
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := clog.FromContext(ctx)

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	sub := &webpush.Subscription{Endpoint: req.Endpoint, Keys: req.Keys}
	// Malformed key material is rejected here, before any store mutation;
	// the send path never re-validates.
	if err := sub.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ownerID := h.ownerFor(r)
	filter, err := h.resolveFilter(ctx, req.Tools, ownerID)
	if err != nil {
		log.Warn("resolving interest filter", "owner", ownerID, "err", err)
		http.Error(w, "resolving interests", http.StatusInternalServerError)
		return
	}

	// A registration refresh may supersede a previous endpoint.
	if req.OldEndpoint != "" && req.OldEndpoint != req.Endpoint {
		if err := h.store.DeleteByEndpoint(ctx, req.OldEndpoint); err != nil {
			log.Warn("deleting superseded endpoint", "err", err)
		}
	}

	id, err := h.store.Upsert(ctx, &storage.Record{
		OwnerID:      ownerID,
		Subscription: sub,
		ToolFilter:   filter,
	})
	if err != nil {
		log.Warn("upserting subscription", "err", err)
		http.Error(w, "saving subscription", http.StatusInternalServerError)
		return
	}

	log.Info("push subscription registered", "id", id, "owner", ownerID)
	writeJSON(w, subscribeResponse{ID: id, Tools: filter})
}

// resolveFilter picks the stored filter: the explicit request filter wins,
// then the owner's interest list, then nil ("everything").
func (h *Handler) resolveFilter(ctx context.Context, explicit []string, ownerID string) ([]string, error) {
	if len(explicit) > 0 {
		return explicit, nil
	}
	if h.interests == nil || ownerID == "" {
		return nil, nil
	}
	tools, err := h.interests.ToolsFor(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if len(tools) == 0 {
		return nil, nil
	}
	return tools, nil
}

func (h *Handler) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	// Removal is idempotent: success whether or not the row existed.
	if err := h.store.DeleteByEndpoint(ctx, req.Endpoint); err != nil && !errors.Is(err, storage.ErrNotFound) {
		clog.FromContext(ctx).Warn("deleting subscription", "err", err)
		http.Error(w, "deleting subscription", http.StatusInternalServerError)
		return
	}

	clog.FromContext(ctx).Info("push subscription removed", "endpoint", req.Endpoint)
	writeJSON(w, map[string]string{"message": "unsubscribed"})
}

func (h *Handler) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	// The sender key is effectively static per deployment.
	w.Header().Set("Cache-Control", "public, max-age=86400")
	writeJSON(w, map[string]string{
		"publicKey": vapid.ApplicationServerKey(h.publicKey),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
