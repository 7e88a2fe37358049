package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"energy-billing/internal/eventing"
)

const (
	defaultOutboxTable = "event_outbox"
	defaultMaxAttempts = 10
	defaultBatchLimit  = 50
)

var errNilDB = errors.New("outbox store: nil db")

// OutboxStore keeps undelivered envelopes in Postgres. Failed rows are
// retried until they reach the attempt cap.
type OutboxStore struct {
	db          *sql.DB
	table       string
	maxAttempts int
}

// OutboxOption configures the outbox store.
type OutboxOption func(*OutboxStore)

// WithOutboxTable overrides the table name.
func WithOutboxTable(table string) OutboxOption {
	return func(store *OutboxStore) {
		if table != "" {
			store.table = table
		}
	}
}

// WithMaxAttempts stops retrying records after n failed deliveries.
func WithMaxAttempts(n int) OutboxOption {
	return func(store *OutboxStore) {
		if n > 0 {
			store.maxAttempts = n
		}
	}
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore(db *sql.DB, opts ...OutboxOption) *OutboxStore {
	store := &OutboxStore{db: db, table: defaultOutboxTable, maxAttempts: defaultMaxAttempts}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Insert stores env as a pending row and returns the row id.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	if s == nil || s.db == nil {
		return "", errNilDB
	}
	payload := []byte(env.Payload)
	if len(payload) == 0 {
		payload = []byte("null")
	}
	occurredAt := env.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	rowID := eventing.NewEventID()
	query := fmt.Sprintf(`
INSERT INTO %s (id, event_id, event_type, correlation_id, customer_id, schema_version, occurred_at, payload, status, attempts)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', 0)`, s.table)
	_, err := s.db.ExecContext(ctx, query,
		rowID,
		env.EventID,
		env.EventType,
		env.CorrelationID,
		env.CustomerID,
		env.SchemaVersion,
		occurredAt.UTC(),
		payload,
	)
	if err != nil {
		return "", fmt.Errorf("outbox store: insert %s: %w", env.EventType, err)
	}
	return rowID, nil
}

// ListPending returns deliverable rows, oldest first.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	if s == nil || s.db == nil {
		return nil, errNilDB
	}
	if limit <= 0 {
		limit = defaultBatchLimit
	}
	query := fmt.Sprintf(`
SELECT id, event_id, event_type, correlation_id, customer_id, schema_version, occurred_at, payload
FROM %s
WHERE status IN ('pending', 'failed') AND attempts < $2
ORDER BY created_at ASC, id ASC
LIMIT $1`, s.table)

	rows, err := s.db.QueryContext(ctx, query, limit, s.maxAttempts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []eventing.OutboxRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	return result, rows.Err()
}

// MarkSent marks a row delivered.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	return s.update(ctx, fmt.Sprintf(`UPDATE %s SET status = 'sent', sent_at = $2 WHERE id = $1`, s.table), id, time.Now().UTC())
}

// MarkFailed records a failed delivery attempt.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	return s.update(ctx, fmt.Sprintf(`UPDATE %s SET status = 'failed', attempts = attempts + 1 WHERE id = $1`, s.table), id)
}

func (s *OutboxStore) update(ctx context.Context, query string, args ...any) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("outbox store: record %v not found", args[0])
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (eventing.OutboxRecord, error) {
	var (
		record  eventing.OutboxRecord
		payload []byte
	)
	env := &record.Envelope
	if err := row.Scan(&record.ID, &env.EventID, &env.EventType, &env.CorrelationID, &env.CustomerID,
		&env.SchemaVersion, &env.OccurredAt, &payload); err != nil {
		return eventing.OutboxRecord{}, err
	}
	env.OccurredAt = env.OccurredAt.UTC()
	env.Payload = payload
	return record, nil
}
