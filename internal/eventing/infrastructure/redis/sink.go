package redis

import (
	"context"
	"encoding/json"
	"errors"

	goredis "github.com/redis/go-redis/v9"

	"energy-billing/internal/eventing"
)

// DefaultChannel is the pub/sub channel bill events are published to.
const DefaultChannel = "billing.events"

// Sink publishes envelopes to a Redis pub/sub channel.
type Sink struct {
	client  goredis.UniversalClient
	channel string
}

// NewSink constructs a sink. An empty channel uses DefaultChannel.
func NewSink(client goredis.UniversalClient, channel string) (*Sink, error) {
	if client == nil {
		return nil, errors.New("redis sink: nil client")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &Sink{client: client, channel: channel}, nil
}

// Send publishes env as JSON.
func (s *Sink) Send(ctx context.Context, env eventing.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel, payload).Err()
}
