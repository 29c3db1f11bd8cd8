// Package pubsub delivers listings to Google Cloud Pub/Sub topics, for
// downstream pipelines that consume the feed instead of a chat.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"

	"github.com/listwatch/listwatch/internal/monitor"
)

// Notifier implements monitor.Notifier against Pub/Sub. The destination
// string is the topic ID.
type Notifier struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New connects a Pub/Sub client for the project.
func New(ctx context.Context, projectID string) (*Notifier, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("connect pubsub: %w", err)
	}
	return &Notifier{
		client: client,
		topics: make(map[string]*pubsub.Topic),
	}, nil
}

// Deliver publishes the listing as JSON and waits for the server ack, so a
// nil return really means the message is durable.
func (n *Notifier) Deliver(ctx context.Context, destination string, listing monitor.Listing) error {
	if destination == "" {
		return fmt.Errorf("destination topic is required")
	}
	data, err := json.Marshal(listing)
	if err != nil {
		return fmt.Errorf("marshal listing: %w", err)
	}

	result := n.topic(destination).Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"item_id": listing.ItemID,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish listing %s: %w", listing.ItemID, err)
	}
	return nil
}

func (n *Notifier) topic(id string) *pubsub.Topic {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.topics[id]
	if !ok {
		t = n.client.Topic(id)
		n.topics[id] = t
	}
	return t
}

// Close flushes pending publishes and releases the client.
func (n *Notifier) Close() error {
	n.mu.Lock()
	for _, t := range n.topics {
		t.Stop()
	}
	n.mu.Unlock()
	return n.client.Close()
}
