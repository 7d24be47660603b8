package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/relwatch/webpush"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLite implements Store using SQLite.
type SQLite struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite store.
// dsn is the data source name, e.g. "push.db" or ":memory:".
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS push_subscriptions (
			id TEXT PRIMARY KEY,
			owner_id TEXT,
			endpoint TEXT NOT NULL UNIQUE,
			p256dh TEXT NOT NULL,
			auth TEXT NOT NULL,
			tool_filter TEXT,
			failed_attempts INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_push_owner ON push_subscriptions(owner_id);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Upsert inserts the record or replaces the row sharing its endpoint. The
// conflict clause resets failed_attempts, so a re-registration reactivates a
// soft-disabled subscription.
func (s *SQLite) Upsert(ctx context.Context, rec *Record) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	filter, err := encodeFilter(rec.ToolFilter)
	if err != nil {
		return "", err
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (id, owner_id, endpoint, p256dh, auth, tool_filter, failed_attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			owner_id = excluded.owner_id,
			p256dh = excluded.p256dh,
			auth = excluded.auth,
			tool_filter = excluded.tool_filter,
			failed_attempts = 0,
			updated_at = excluded.updated_at
	`,
		rec.ID,
		nullString(rec.OwnerID),
		rec.Subscription.Endpoint,
		rec.Subscription.Keys.P256dh,
		rec.Subscription.Keys.Auth,
		filter,
		now,
		now,
	)
	if err != nil {
		return "", fmt.Errorf("upserting subscription: %w", err)
	}

	// An update keeps the original row id; read it back by endpoint.
	var id string
	err = s.db.QueryRowContext(ctx,
		"SELECT id FROM push_subscriptions WHERE endpoint = ?",
		rec.Subscription.Endpoint,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("reading subscription id: %w", err)
	}
	return id, nil
}

// GetByEndpoint retrieves a subscription by its endpoint URL.
func (s *SQLite) GetByEndpoint(ctx context.Context, endpoint string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, endpoint, p256dh, auth, tool_filter, failed_attempts, created_at, updated_at
		FROM push_subscriptions WHERE endpoint = ?
	`, endpoint)
	return scanRecord(row)
}

// DeleteByEndpoint removes a subscription; absent endpoints are a no-op.
func (s *SQLite) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM push_subscriptions WHERE endpoint = ?", endpoint); err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	return nil
}

// ListSendable returns subscriptions under the failure threshold whose filter
// admits toolIDs. The threshold cut happens in SQL; the filter intersection
// is evaluated on the loaded rows.
func (s *SQLite) ListSendable(ctx context.Context, toolIDs []string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, endpoint, p256dh, auth, tool_filter, failed_attempts, created_at, updated_at
		FROM push_subscriptions WHERE failed_attempts < ?
	`, FailureThreshold)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if rec.Wants(toolIDs) {
			records = append(records, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return records, nil
}

// IncrementFailure adds one to the failure counter as a single statement.
func (s *SQLite) IncrementFailure(ctx context.Context, id string) error {
	return s.bumpFailure(ctx, id, "failed_attempts = failed_attempts + 1")
}

// ResetFailure zeroes the failure counter as a single statement.
func (s *SQLite) ResetFailure(ctx context.Context, id string) error {
	return s.bumpFailure(ctx, id, "failed_attempts = 0")
}

func (s *SQLite) bumpFailure(ctx context.Context, id, set string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE push_subscriptions SET "+set+", updated_at = ? WHERE id = ?",
		time.Now(), id)
	if err != nil {
		return fmt.Errorf("updating failure counter: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		id        string
		ownerID   sql.NullString
		endpoint  string
		p256dh    string
		auth      string
		filter    sql.NullString
		failed    int
		createdAt time.Time
		updatedAt time.Time
	)
	err := row.Scan(&id, &ownerID, &endpoint, &p256dh, &auth, &filter, &failed, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning row: %w", err)
	}

	toolFilter, err := decodeFilter(filter)
	if err != nil {
		return nil, err
	}

	return &Record{
		ID:             id,
		OwnerID:        ownerID.String,
		ToolFilter:     toolFilter,
		FailedAttempts: failed,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
		Subscription: &webpush.Subscription{
			Endpoint: endpoint,
			Keys: webpush.Keys{
				P256dh: p256dh,
				Auth:   auth,
			},
		},
	}, nil
}

// encodeFilter stores a nil filter as NULL and anything else as a JSON array,
// keeping the "interested in everything" case distinct from an empty set.
func encodeFilter(filter []string) (sql.NullString, error) {
	if filter == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(filter)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding tool filter: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeFilter(filter sql.NullString) ([]string, error) {
	if !filter.Valid {
		return nil, nil
	}
	var tools []string
	if err := json.Unmarshal([]byte(filter.String), &tools); err != nil {
		return nil, fmt.Errorf("decoding tool filter: %w", err)
	}
	if tools == nil {
		tools = []string{}
	}
	return tools, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
