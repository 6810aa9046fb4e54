package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/louros-pizzaria/cardapio-digital-sub002/cfg"
)

func init() {
	RegisterTransport(cfg.TransportKafka, func(config cfg.RealtimeConfiguration) (Transport, error) {
		if len(config.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("kafka transport requires kafka_brokers")
		}
		groupID := fmt.Sprintf("cardapio-station-%d", cfg.Config.StationID)
		return NewKafkaTransport(config.KafkaBrokers, config.TopicPrefix, groupID), nil
	})
}

// KafkaTransport delivers change notifications from Kafka topics
// (<prefix>.<resource>), one reader goroutine per subscribed resource.
// Each station uses its own consumer group so every station sees every event.
type KafkaTransport struct {
	brokers []string
	prefix  string
	groupID string

	mu     sync.Mutex
	status StatusHandler
	closed bool
}

// NewKafkaTransport creates a Kafka-backed change-feed transport
func NewKafkaTransport(brokers []string, prefix, groupID string) *KafkaTransport {
	return &KafkaTransport{
		brokers: brokers,
		prefix:  prefix,
		groupID: groupID,
	}
}

// SetStatusHandler registers the status callback
func (t *KafkaTransport) SetStatusHandler(h StatusHandler) {
	t.mu.Lock()
	t.status = h
	t.mu.Unlock()
}

func (t *KafkaTransport) emit(event ConnectionEvent, err error) {
	t.mu.Lock()
	h := t.status
	t.mu.Unlock()

	if h != nil {
		h(event, err)
	}
}

// Connect is cheap for Kafka: readers dial brokers lazily on first fetch
func (t *KafkaTransport) Connect() error {
	t.mu.Lock()
	t.closed = false
	t.mu.Unlock()

	t.emit(StatusConnected, nil)
	return nil
}

func (t *KafkaTransport) topic(resource string) string {
	if t.prefix == "" {
		return resource
	}
	return fmt.Sprintf("%s.%s", t.prefix, resource)
}

// Subscribe starts a reader loop for one resource collection
func (t *KafkaTransport) Subscribe(resource string, h MessageHandler) (Subscription, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport closed")
	}
	t.mu.Unlock()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: t.brokers,
		Topic:   t.topic(resource),
		GroupID: t.groupID,
	})

	ctx, cancel := context.WithCancel(context.Background())
	sub := &kafkaSubscription{reader: reader, cancel: cancel}

	go func() {
		for {
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				log.Warn().Err(err).Str("resource", resource).Msg("Kafka change-feed read failed")
				t.emit(StatusError, err)
				return
			}

			event, err := Decode(msg.Value)
			if err != nil {
				log.Warn().Err(err).Str("topic", msg.Topic).Msg("Dropping undecodable change event")
				continue
			}
			if event.Resource == "" {
				event.Resource = resource
			}
			h(event)
		}
	}()

	return sub, nil
}

// Close marks the transport closed; individual readers are released by their
// subscriptions
func (t *KafkaTransport) Close() error {
	t.mu.Lock()
	alreadyClosed := t.closed
	t.closed = true
	t.mu.Unlock()

	if !alreadyClosed {
		t.emit(StatusClosed, nil)
	}
	return nil
}

type kafkaSubscription struct {
	reader *kafka.Reader
	cancel context.CancelFunc
}

func (s *kafkaSubscription) Unsubscribe() error {
	s.cancel()
	if err := s.reader.Close(); err != nil {
		return fmt.Errorf("failed to close kafka reader: %w", err)
	}
	return nil
}
