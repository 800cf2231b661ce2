package interaction

import (
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSBroker satisfies Broker against a NATS server. Topic names use
// '/' separators; they are mapped to NATS '.' subjects on the wire.
type NATSBroker struct {
	nc     *nats.Conn
	logger zerolog.Logger
}

// NewNATSBroker dials the NATS server at url. The connection
// reconnects indefinitely; connection state changes are logged.
func NewNATSBroker(url string, logger zerolog.Logger) (*NATSBroker, error) {
	opts := []nats.Option{
		nats.Name("packlift-bootstrap"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("Reconnected to NATS")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NATSBroker{nc: nc, logger: logger}, nil
}

// Close drains the connection, letting in-flight messages settle.
func (b *NATSBroker) Close() error {
	if b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}

// Publish sends payload on the subject derived from topic.
func (b *NATSBroker) Publish(topic string, payload []byte) error {
	return b.nc.Publish(natsSubject(topic), payload)
}

// Subscribe bridges a NATS channel subscription into the Broker
// channel contract.
func (b *NATSBroker) Subscribe(topic string) (<-chan []byte, func(), error) {
	msgs := make(chan *nats.Msg, subscriberBuffer)
	sub, err := b.nc.ChanSubscribe(natsSubject(topic), msgs)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan []byte, subscriberBuffer)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case msg := <-msgs:
				select {
				case out <- msg.Data:
				default:
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := sub.Unsubscribe(); err != nil {
				b.logger.Warn().Err(err).Str("topic", topic).Msg("Unsubscribe failed")
			}
			close(done)
		})
	}
	return out, cancel, nil
}

func natsSubject(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}
