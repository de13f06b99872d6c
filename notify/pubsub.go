// Package notify forwards attendance events to external systems.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"github.com/warp/attendance-engine/core"
	"google.golang.org/api/option"
)

// SubscriberName identifies the publisher on the event bus.
const SubscriberName = "pubsub"

// DefaultAckTimeout bounds how long a background publish waits for the
// server ack.
const DefaultAckTimeout = 10 * time.Second

// PubSub publishes every bus event as JSON to a Google Cloud Pub/Sub topic.
// Publishing never blocks the bus: acks are awaited in the background and
// failures are logged and counted.
type PubSub struct {
	client  *pubsub.Client
	topic   *pubsub.Topic
	timeout time.Duration
	logger  logrus.FieldLogger

	pending  sync.WaitGroup
	failures atomic.Int64
}

func NewPubSub(ctx context.Context, projectID, topic, credentialsJSON string, logger logrus.FieldLogger) (*PubSub, error) {
	if projectID == "" || topic == "" {
		return nil, fmt.Errorf("pubsub project and topic are required")
	}
	var opts []option.ClientOption
	if strings.TrimSpace(credentialsJSON) != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return newPubSub(client, client.Topic(topic), DefaultAckTimeout, logger), nil
}

func newPubSub(client *pubsub.Client, topic *pubsub.Topic, timeout time.Duration, logger logrus.FieldLogger) *PubSub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PubSub{client: client, topic: topic, timeout: timeout, logger: logger.WithField("module", "pubsub")}
}

// Subscribe registers the publisher on the bus.
func (p *PubSub) Subscribe(bus *core.Bus) {
	bus.Subscribe(SubscriberName, p.Handle)
}

// Handle queues one event for publishing and returns without waiting for
// the server ack.
func (p *PubSub) Handle(ctx context.Context, e core.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	res := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"type":        string(e.Type),
			"employee_id": string(e.EmployeeID),
		},
	})

	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		if _, err := res.Get(ctx); err != nil {
			p.failures.Add(1)
			p.logger.WithFields(logrus.Fields{
				"event":       e.Type,
				"employee_id": e.EmployeeID,
				"date":        e.Date.String(),
			}).WithError(fmt.Errorf("failed to publish %s: %w", e.Type, err)).Error("pubsub publish failed")
		}
	}()
	return nil
}

// Flush waits until every queued publish has been acked or has failed.
func (p *PubSub) Flush() {
	p.pending.Wait()
}

// Failures reports publishes that were not acked in time.
func (p *PubSub) Failures() int64 { return p.failures.Load() }

func (p *PubSub) Close() error {
	p.Flush()
	p.topic.Stop()
	return p.client.Close()
}
