package interfaces

import (
	"context"

	billingapp "energy-billing/internal/billing/application"
	"energy-billing/internal/eventing"
)

// EventTypeBillGenerated is the outbox event type for generated bills.
const EventTypeBillGenerated = "billing.bill_generated"

// OutboxPublisher writes bill generated events to the outbox.
type OutboxPublisher struct {
	publisher *eventing.Publisher
}

// NewOutboxPublisher constructs an outbox publisher.
func NewOutboxPublisher(publisher *eventing.Publisher) *OutboxPublisher {
	return &OutboxPublisher{publisher: publisher}
}

// PublishBillGenerated writes event to outbox.
func (p *OutboxPublisher) PublishBillGenerated(ctx context.Context, event billingapp.BillGenerated) error {
	if p == nil || p.publisher == nil {
		return nil
	}
	return p.publisher.Publish(ctx, EventTypeBillGenerated, event)
}
