package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energy-billing/internal/eventing"
)

type failingSink struct{ calls int }

func (s *failingSink) Send(ctx context.Context, env eventing.Envelope) error {
	s.calls++
	return errors.New("redis down")
}

func TestOutboxStore_StopsRetryingAtMaxAttempts(t *testing.T) {
	ctx := context.Background()
	outbox := NewOutboxStore()
	_, err := outbox.Insert(ctx, eventing.Envelope{EventType: "billing.bill_generated"})
	require.NoError(t, err)

	sink := &failingSink{}
	dispatcher := eventing.NewDispatcher(sink, outbox, nil)
	for i := 0; i < 3*defaultMaxAttempts; i++ {
		_, err := dispatcher.Dispatch(ctx, 10)
		require.NoError(t, err)
	}

	assert.Equal(t, defaultMaxAttempts, sink.calls)
	pending, err := outbox.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, 1, outbox.Pending(), "exhausted records are kept undelivered")
}

func TestOutboxStore_WithMaxAttempts(t *testing.T) {
	ctx := context.Background()
	outbox := NewOutboxStore(WithMaxAttempts(2))
	id, err := outbox.Insert(ctx, eventing.Envelope{EventType: "billing.bill_generated"})
	require.NoError(t, err)

	require.NoError(t, outbox.MarkFailed(ctx, id))
	pending, err := outbox.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)

	require.NoError(t, outbox.MarkFailed(ctx, id))
	pending, err = outbox.ListPending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOutboxStore_MarkSentAndLimit(t *testing.T) {
	ctx := context.Background()
	outbox := NewOutboxStore()
	first, err := outbox.Insert(ctx, eventing.Envelope{EventType: "a"})
	require.NoError(t, err)
	_, err = outbox.Insert(ctx, eventing.Envelope{EventType: "b"})
	require.NoError(t, err)

	pending, err := outbox.ListPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a", pending[0].Envelope.EventType)

	require.NoError(t, outbox.MarkSent(ctx, first))
	pending, err = outbox.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].Envelope.EventType)
	assert.Equal(t, 1, outbox.Pending())
}
