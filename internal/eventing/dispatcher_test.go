package eventing_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energy-billing/internal/eventing"
	"energy-billing/internal/eventing/infrastructure/memory"
)

type billEvent struct {
	BillID     string    `json:"bill_id"`
	CustomerID string    `json:"customer_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e billEvent) EventCustomerID() string    { return e.CustomerID }
func (e billEvent) EventOccurredAt() time.Time { return e.OccurredAt }

type captureSink struct {
	sent []eventing.Envelope
	err  error
}

func (s *captureSink) Send(ctx context.Context, env eventing.Envelope) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, env)
	return nil
}

func TestBuildEnvelope_ExtractsCustomerAndTime(t *testing.T) {
	at := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	env, err := eventing.BuildEnvelope(billEvent{BillID: "b1", CustomerID: "c1", OccurredAt: at}, eventing.Meta{CorrelationID: "req-1"})
	require.NoError(t, err)

	assert.Equal(t, "c1", env.CustomerID)
	assert.Equal(t, at, env.OccurredAt)
	assert.Equal(t, "req-1", env.CorrelationID)
	assert.Equal(t, 1, env.SchemaVersion)
	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, "eventing_test.billEvent", env.EventType)

	var decoded billEvent
	require.NoError(t, json.Unmarshal(env.Payload, &decoded))
	assert.Equal(t, "b1", decoded.BillID)

	_, err = eventing.BuildEnvelope(nil, eventing.Meta{})
	assert.Error(t, err)
}

func TestPublisherAndDispatcher(t *testing.T) {
	outbox := memory.NewOutboxStore()
	publisher := eventing.NewPublisher(outbox)
	ctx := eventing.WithCorrelationID(context.Background(), "req-9")

	require.NoError(t, publisher.Publish(ctx, "billing.bill_generated", billEvent{BillID: "b1", CustomerID: "c1"}))
	require.NoError(t, publisher.Publish(ctx, "billing.bill_generated", billEvent{BillID: "b2", CustomerID: "c2"}))
	assert.Equal(t, 2, outbox.Pending())

	failing := &captureSink{err: errors.New("redis down")}
	sent, err := eventing.NewDispatcher(failing, outbox, nil).Dispatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	assert.Equal(t, 2, outbox.Pending(), "failed deliveries stay pending for retry")

	sink := &captureSink{}
	sent, err = eventing.NewDispatcher(sink, outbox, nil).Dispatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, 0, outbox.Pending())
	require.Len(t, sink.sent, 2)
	assert.Equal(t, "billing.bill_generated", sink.sent[0].EventType)
	assert.Equal(t, "req-9", sink.sent[0].CorrelationID)
}

func TestNilPublisherIsNoop(t *testing.T) {
	var publisher *eventing.Publisher
	assert.NoError(t, publisher.Publish(context.Background(), "x", billEvent{}))
}
