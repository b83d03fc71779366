// Package pubsub forwards worker faults to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/crawl-pipeline/internal/pool"
)

// Notifier publishes faults as JSON messages.
type Notifier struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

var _ pool.Notifier = (*Notifier)(nil)

// New connects to projectID and checks that topicName exists.
func New(ctx context.Context, projectID, topicName string) (*Notifier, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	n, err := NewWithClient(ctx, client, topicName)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return n, nil
}

// NewWithClient uses an existing client. The client is closed by Close.
func NewWithClient(ctx context.Context, client *pubsub.Client, topicName string) (*Notifier, error) {
	topic := client.Topic(topicName)
	ok, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check pubsub topic %s: %w", topicName, err)
	}
	if !ok {
		return nil, fmt.Errorf("pubsub topic %s does not exist", topicName)
	}
	return &Notifier{client: client, topic: topic}, nil
}

// NotifyFault publishes f and waits for the server to acknowledge it.
func (n *Notifier) NotifyFault(ctx context.Context, f pool.Fault) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal fault: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"thread": f.Thread,
			"host":   f.Host,
		},
	}
	if _, err := n.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish fault: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the client.
func (n *Notifier) Close() error {
	n.topic.Stop()
	if err := n.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
