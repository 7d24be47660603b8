// Package storage persists push subscriptions keyed by endpoint and tracks
// per-subscription delivery health.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/relwatch/webpush"
)

// ErrNotFound is returned when a subscription is not found.
var ErrNotFound = errors.New("subscription not found")

// FailureThreshold is the number of accumulated transient failures after
// which a subscription is excluded from send batches. The row is kept, so a
// later re-registration against the same endpoint reactivates it.
const FailureThreshold = 3

// Record is one stored push registration.
type Record struct {
	ID             string
	OwnerID        string // optional account back-reference; empty for guests
	Subscription   *webpush.Subscription
	ToolFilter     []string // topics of interest; nil means everything
	FailedAttempts int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Wants reports whether the record's filter admits a batch for the given
// tools. A nil filter admits everything; an empty toolIDs batch is not
// topic-scoped and reaches every sendable record.
func (r *Record) Wants(toolIDs []string) bool {
	if r.ToolFilter == nil || len(toolIDs) == 0 {
		return true
	}
	for _, want := range r.ToolFilter {
		for _, id := range toolIDs {
			if want == id {
				return true
			}
		}
	}
	return false
}

// Store defines the subscription persistence operations. Every mutation is a
// single atomic statement so concurrent batches cannot corrupt the failure
// counter or resurrect a deleted row.
type Store interface {
	// Upsert inserts the record, or, when a row with the same endpoint
	// exists, replaces its keys, owner and filter and resets its failure
	// counter to zero. Returns the row id.
	Upsert(ctx context.Context, rec *Record) (string, error)

	// GetByEndpoint retrieves a subscription by its endpoint URL.
	GetByEndpoint(ctx context.Context, endpoint string) (*Record, error)

	// DeleteByEndpoint removes a subscription. Deleting an absent endpoint
	// is not an error.
	DeleteByEndpoint(ctx context.Context, endpoint string) error

	// ListSendable returns subscriptions with fewer than FailureThreshold
	// failures whose filter is nil or intersects toolIDs. Empty toolIDs
	// means the batch is not topic-scoped.
	ListSendable(ctx context.Context, toolIDs []string) ([]*Record, error)

	// IncrementFailure adds one to the failure counter.
	IncrementFailure(ctx context.Context, id string) error

	// ResetFailure sets the failure counter back to zero.
	ResetFailure(ctx context.Context, id string) error

	// Close closes the storage connection.
	Close() error
}
