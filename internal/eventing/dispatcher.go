package eventing

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sink delivers an envelope to an external channel.
type Sink interface {
	Send(ctx context.Context, env Envelope) error
}

// OutboxStore provides access to outbox records.
type OutboxStore interface {
	ListPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxRecord represents a pending outbox entry.
type OutboxRecord struct {
	ID       string
	Envelope Envelope
}

// Dispatcher relays pending outbox records to a sink.
type Dispatcher struct {
	sink   Sink
	outbox OutboxStore
	logger *zap.Logger
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(sink Sink, outbox OutboxStore, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{sink: sink, outbox: outbox, logger: logger}
}

// Dispatch pulls pending outbox messages and delivers them. It returns the
// number of records sent.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) (int, error) {
	if d == nil || d.outbox == nil || d.sink == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = 50
	}
	records, err := d.outbox.ListPending(ctx, limit)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, record := range records {
		if err := d.sink.Send(ctx, record.Envelope); err != nil {
			d.logger.Warn("outbox delivery failed",
				zap.String("outbox_id", record.ID),
				zap.String("event_type", record.Envelope.EventType),
				zap.Error(err))
			if markErr := d.outbox.MarkFailed(ctx, record.ID); markErr != nil {
				d.logger.Error("outbox mark failed", zap.String("outbox_id", record.ID), zap.Error(markErr))
			}
			continue
		}
		if err := d.outbox.MarkSent(ctx, record.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// Run dispatches on every tick until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration, limit int) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Dispatch(ctx, limit); err != nil && ctx.Err() == nil {
				d.logger.Error("outbox dispatch failed", zap.Error(err))
			}
		}
	}
}
