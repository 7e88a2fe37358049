package memory

import (
	"context"
	"sync"

	"energy-billing/internal/eventing"
)

const defaultMaxAttempts = 10

const (
	statusPending = "pending"
	statusSent    = "sent"
	statusFailed  = "failed"
)

type record struct {
	id       string
	env      eventing.Envelope
	status   string
	attempts int
}

// OutboxStore keeps outbox records in process. Failed records are retried
// until they reach the attempt cap.
type OutboxStore struct {
	mu          sync.Mutex
	records     []*record
	maxAttempts int
}

// OutboxOption configures the outbox store.
type OutboxOption func(*OutboxStore)

// WithMaxAttempts stops retrying records after n failed deliveries.
func WithMaxAttempts(n int) OutboxOption {
	return func(s *OutboxStore) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewOutboxStore constructs an empty outbox.
func NewOutboxStore(opts ...OutboxOption) *OutboxStore {
	s := &OutboxStore{maxAttempts: defaultMaxAttempts}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert appends a pending record.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	_ = ctx
	id := eventing.NewEventID()
	s.mu.Lock()
	s.records = append(s.records, &record{id: id, env: env, status: statusPending})
	s.mu.Unlock()
	return id, nil
}

// ListPending returns undelivered records below the attempt cap in insertion
// order.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []eventing.OutboxRecord
	for _, r := range s.records {
		if r.status == statusSent || r.attempts >= s.maxAttempts {
			continue
		}
		out = append(out, eventing.OutboxRecord{ID: r.id, Envelope: r.env})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MarkSent marks a record as delivered.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	return s.update(id, func(r *record) { r.status = statusSent })
}

// MarkFailed records a failed attempt.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	return s.update(id, func(r *record) {
		r.status = statusFailed
		r.attempts++
	})
}

// Pending counts undelivered records, including those past the attempt cap.
func (s *OutboxStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.status != statusSent {
			n++
		}
	}
	return n
}

func (s *OutboxStore) update(id string, fn func(*record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.id == id {
			fn(r)
			return nil
		}
	}
	return nil
}
