package interaction

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/packlift/packlift/pkg/flow"
	"github.com/packlift/packlift/pkg/netpolicy"
)

// DefaultPubSubTimeout bounds how long a pub/sub Ask waits for
// answers.
const DefaultPubSubTimeout = 5 * time.Second

// subscriberBuffer bounds each subscription channel; publishes to a
// full subscriber are dropped rather than blocking the publisher.
const subscriberBuffer = 16

// Broker is the publish/subscribe capability the adapter needs.
// MemoryBroker serves tests and single-process setups; NATSBroker
// satisfies the same contract against a real server.
type Broker interface {
	// Publish delivers payload to every current subscriber of topic.
	Publish(topic string, payload []byte) error

	// Subscribe returns a channel of payloads for topic and a cancel
	// function releasing the subscription.
	Subscribe(topic string) (<-chan []byte, func(), error)
}

// MemoryBroker is an in-process topic fan-out guarded by a mutex.
// Instances are constructed explicitly and passed down; there is no
// process-wide broker.
type MemoryBroker struct {
	mu     sync.Mutex
	topics map[string][]chan []byte
}

// NewMemoryBroker returns an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{topics: make(map[string][]chan []byte)}
}

// Publish fans payload out to every subscriber of topic. Slow
// subscribers with a full buffer miss the message.
func (b *MemoryBroker) Publish(topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.topics[topic] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registers a new subscriber channel for topic.
func (b *MemoryBroker) Subscribe(topic string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.topics[topic]
		for i, sub := range subs {
			if sub == ch {
				b.topics[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return ch, cancel, nil
}

// PubSubConfig configures the publish/subscribe adapter.
type PubSubConfig struct {
	// Broker carries schema, answers, and status messages.
	Broker Broker

	// BrokerHost is the broker address checked against the network
	// policy, e.g. "broker.local:1883".
	BrokerHost string

	// TopicPrefix defaults to "bootstrap".
	TopicPrefix string

	// DeviceID distinguishes concurrent bootstraps on shared
	// brokers. Defaults to "device".
	DeviceID string

	// Timeout bounds the wait for answers.
	Timeout time.Duration

	// Policy gates the broker connection. Enforced at construction
	// and again on every Ask.
	Policy *netpolicy.Policy

	Logger zerolog.Logger
}

// PubSubAdapter publishes the question schema to
// <prefix>/<device>/schema, waits on <prefix>/<device>/answers, and
// reports on <prefix>/<device>/status.
type PubSubAdapter struct {
	broker     Broker
	brokerHost string
	prefix     string
	device     string
	timeout    time.Duration
	policy     *netpolicy.Policy
	logger     zerolog.Logger
}

// NewPubSubAdapter validates the config and enforces the network
// policy against the broker host.
func NewPubSubAdapter(cfg PubSubConfig) (*PubSubAdapter, error) {
	if cfg.Broker == nil {
		return nil, fmt.Errorf("pub/sub adapter requires a broker")
	}
	if cfg.Policy != nil {
		if err := cfg.Policy.Enforce(cfg.BrokerHost); err != nil {
			return nil, err
		}
	}

	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "bootstrap"
	}
	device := cfg.DeviceID
	if device == "" {
		device = "device"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultPubSubTimeout
	}

	return &PubSubAdapter{
		broker:     cfg.Broker,
		brokerHost: cfg.BrokerHost,
		prefix:     prefix,
		device:     device,
		timeout:    timeout,
		policy:     cfg.Policy,
		logger:     cfg.Logger,
	}, nil
}

func (a *PubSubAdapter) topic(kind string) string {
	return fmt.Sprintf("%s/%s/%s", a.prefix, a.device, kind)
}

// Ask publishes the schema and blocks on the answers topic until a
// payload arrives or the timeout elapses, then publishes a status
// event.
func (a *PubSubAdapter) Ask(ctx context.Context, questions []flow.Question) (map[string]any, error) {
	if a.policy != nil {
		if err := a.policy.Enforce(a.brokerHost); err != nil {
			return nil, err
		}
	}

	schema, err := json.Marshal(schemaPayload{Questions: questions})
	if err != nil {
		return nil, fmt.Errorf("encode question schema: %w", err)
	}

	// Subscribe before publishing so an immediate responder cannot
	// race the subscription.
	msgs, cancel, err := a.broker.Subscribe(a.topic("answers"))
	if err != nil {
		return nil, fmt.Errorf("subscribe answers topic: %w", err)
	}
	defer cancel()

	if err := a.broker.Publish(a.topic("schema"), schema); err != nil {
		return nil, fmt.Errorf("publish question schema: %w", err)
	}

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()

	var payload []byte
	select {
	case payload = <-msgs:
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var answers map[string]any
	if err := json.Unmarshal(payload, &answers); err != nil {
		return nil, fmt.Errorf("decode answers payload: %w", err)
	}

	status := []byte(`{"status":"answers_received"}`)
	if err := a.broker.Publish(a.topic("status"), status); err != nil {
		a.logger.Warn().Err(err).Msg("Status publish failed")
	}

	return mergeAnswers(questions, answers)
}
