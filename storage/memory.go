package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/relwatch/webpush"
)

// Memory implements an in-memory Store for testing and development.
type Memory struct {
	mu      sync.Mutex
	records map[string]*Record // keyed by endpoint
}

// NewMemory creates a new in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*Record)}
}

// Upsert inserts or replaces the record sharing rec's endpoint, resetting the
// failure counter either way.
func (m *Memory) Upsert(_ context.Context, rec *Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	endpoint := rec.Subscription.Endpoint

	if existing, ok := m.records[endpoint]; ok {
		updated := copyRecord(rec)
		updated.ID = existing.ID
		updated.CreatedAt = existing.CreatedAt
		updated.UpdatedAt = now
		updated.FailedAttempts = 0
		m.records[endpoint] = updated
		return existing.ID, nil
	}

	stored := copyRecord(rec)
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.FailedAttempts = 0
	m.records[endpoint] = stored
	return stored.ID, nil
}

// GetByEndpoint retrieves a subscription by its endpoint URL.
func (m *Memory) GetByEndpoint(_ context.Context, endpoint string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[endpoint]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

// DeleteByEndpoint removes a subscription; absent endpoints are a no-op.
func (m *Memory) DeleteByEndpoint(_ context.Context, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, endpoint)
	return nil
}

// ListSendable returns subscriptions under the failure threshold whose filter
// admits toolIDs.
func (m *Memory) ListSendable(_ context.Context, toolIDs []string) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []*Record
	for _, rec := range m.records {
		if rec.FailedAttempts < FailureThreshold && rec.Wants(toolIDs) {
			results = append(results, copyRecord(rec))
		}
	}
	return results, nil
}

// IncrementFailure adds one to the failure counter.
func (m *Memory) IncrementFailure(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.records {
		if rec.ID == id {
			rec.FailedAttempts++
			rec.UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

// ResetFailure zeroes the failure counter.
func (m *Memory) ResetFailure(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.records {
		if rec.ID == id {
			rec.FailedAttempts = 0
			rec.UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

// Close is a no-op for in-memory storage.
func (m *Memory) Close() error {
	return nil
}

func copyRecord(r *Record) *Record {
	var filter []string
	if r.ToolFilter != nil {
		filter = append([]string{}, r.ToolFilter...)
	}
	return &Record{
		ID:             r.ID,
		OwnerID:        r.OwnerID,
		ToolFilter:     filter,
		FailedAttempts: r.FailedAttempts,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		Subscription: &webpush.Subscription{
			Endpoint: r.Subscription.Endpoint,
			Keys: webpush.Keys{
				P256dh: r.Subscription.Keys.P256dh,
				Auth:   r.Subscription.Keys.Auth,
			},
		},
	}
}
