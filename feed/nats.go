package feed

import (
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/louros-pizzaria/cardapio-digital-sub002/cfg"
)

func init() {
	RegisterTransport(cfg.TransportNATS, func(config cfg.RealtimeConfiguration) (Transport, error) {
		if config.NatsURL == "" {
			return nil, fmt.Errorf("nats transport requires nats_url")
		}
		return NewNatsTransport(config.NatsURL, config.TopicPrefix), nil
	})
}

// NatsTransport delivers change notifications over core NATS subjects
// (<prefix>.<resource>). The client's own retry is disabled: reconnect
// policy lives in the subscription manager, which reacts to status callbacks.
type NatsTransport struct {
	url    string
	prefix string

	mu     sync.Mutex
	nc     *nats.Conn
	status StatusHandler
}

// NewNatsTransport creates a NATS-backed change-feed transport
func NewNatsTransport(url, prefix string) *NatsTransport {
	return &NatsTransport{url: url, prefix: prefix}
}

// SetStatusHandler registers the status callback
func (t *NatsTransport) SetStatusHandler(h StatusHandler) {
	t.mu.Lock()
	t.status = h
	t.mu.Unlock()
}

func (t *NatsTransport) emit(event ConnectionEvent, err error) {
	t.mu.Lock()
	h := t.status
	t.mu.Unlock()

	if h != nil {
		h(event, err)
	}
}

// Connect dials the NATS server. Safe to call when already connected.
func (t *NatsTransport) Connect() error {
	t.mu.Lock()
	if t.nc != nil && t.nc.IsConnected() {
		t.mu.Unlock()
		return nil
	}
	if t.nc != nil {
		t.nc.Close()
		t.nc = nil
	}
	t.mu.Unlock()

	nc, err := nats.Connect(t.url,
		nats.MaxReconnects(0),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			t.emit(StatusError, err)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			t.emit(StatusClosed, nil)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	t.mu.Lock()
	t.nc = nc
	t.mu.Unlock()

	log.Debug().Str("url", t.url).Msg("Connected to NATS change feed")
	t.emit(StatusConnected, nil)

	return nil
}

// subject builds the NATS subject for a resource collection
func (t *NatsTransport) subject(resource string) string {
	if t.prefix == "" {
		return resource
	}
	return fmt.Sprintf("%s.%s", t.prefix, resource)
}

// Subscribe starts delivering events for one resource collection
func (t *NatsTransport) Subscribe(resource string, h MessageHandler) (Subscription, error) {
	t.mu.Lock()
	nc := t.nc
	t.mu.Unlock()

	if nc == nil || !nc.IsConnected() {
		return nil, fmt.Errorf("not connected")
	}

	subj := t.subject(resource)
	sub, err := nc.Subscribe(subj, func(msg *nats.Msg) {
		event, err := Decode(msg.Data)
		if err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping undecodable change event")
			return
		}
		if event.Resource == "" {
			// Producers may omit the resource and rely on subject routing
			event.Resource = resourceFromSubject(msg.Subject)
		}
		h(event)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subj, err)
	}

	return &natsSubscription{sub: sub}, nil
}

// Close releases the connection and all subscriptions
func (t *NatsTransport) Close() error {
	t.mu.Lock()
	nc := t.nc
	t.nc = nil
	t.mu.Unlock()

	if nc != nil {
		nc.Close()
	}
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	if err := s.sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return nil
}

// resourceFromSubject extracts the resource from a subject's last token
func resourceFromSubject(subject string) string {
	idx := strings.LastIndexByte(subject, '.')
	if idx < 0 {
		return subject
	}
	return subject[idx+1:]
}
