package eventing

import "context"

// Publisher writes events to the outbox.
type Publisher struct {
	outbox OutboxWriter
}

// OutboxWriter inserts outbox records.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// NewPublisher constructs a publisher.
func NewPublisher(outbox OutboxWriter) *Publisher {
	return &Publisher{outbox: outbox}
}

// Publish writes the event to the outbox under eventType.
func (p *Publisher) Publish(ctx context.Context, eventType string, event any) error {
	if p == nil || p.outbox == nil {
		return nil
	}
	meta := MetaFromContext(ctx)
	meta.EventType = eventType
	env, err := BuildEnvelope(event, meta)
	if err != nil {
		return err
	}
	_, err = p.outbox.Insert(ctx, env)
	return err
}
