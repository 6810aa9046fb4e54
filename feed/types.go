package feed

import (
	"fmt"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/louros-pizzaria/cardapio-digital-sub002/cfg"
)

// Operation types for change events
const (
	OpInsert uint8 = 0
	OpUpdate uint8 = 1
	OpDelete uint8 = 2
)

// OpName returns a readable name for an operation code
func OpName(op uint8) string {
	switch op {
	case OpInsert:
		return "INSERT"
	case OpUpdate:
		return "UPDATE"
	case OpDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("OP(%d)", op)
	}
}

// ChangeEvent is a single change notification from the backing store.
// Before carries the old record snapshot (UPDATE/DELETE), After the new one
// (INSERT/UPDATE). Delivery is at-least-once: duplicates are possible after a
// reconnect and consumers with non-idempotent side effects must guard for them.
type ChangeEvent struct {
	Resource  string         `msgpack:"res"`    // Resource collection, e.g. "orders"
	Operation uint8          `msgpack:"op"`     // 0=INSERT, 1=UPDATE, 2=DELETE
	Before    map[string]any `msgpack:"before"` // Old record values
	After     map[string]any `msgpack:"after"`  // New record values
	EmittedAt int64          `msgpack:"ts"`     // Producer timestamp (unix ms)

	ReceivedAt time.Time `msgpack:"-"` // Set locally on delivery
}

// Record returns the most recent record snapshot carried by the event
func (e ChangeEvent) Record() map[string]any {
	if e.After != nil {
		return e.After
	}
	return e.Before
}

// FieldTransition reports the old and new values of a field on an UPDATE,
// so consumers can detect specific transitions (e.g. status pending->confirmed).
// ok is false unless the event is an UPDATE carrying both snapshots and the
// field actually changed.
func (e ChangeEvent) FieldTransition(field string) (oldVal, newVal string, ok bool) {
	if e.Operation != OpUpdate || e.Before == nil || e.After == nil {
		return "", "", false
	}

	oldRaw, oldOK := e.Before[field]
	newRaw, newOK := e.After[field]
	if !oldOK || !newOK {
		return "", "", false
	}

	oldVal = fmt.Sprint(oldRaw)
	newVal = fmt.Sprint(newRaw)
	if oldVal == newVal {
		return "", "", false
	}

	return oldVal, newVal, true
}

// Encode serializes an event for the wire
func Encode(e ChangeEvent) ([]byte, error) {
	data, err := msgpack.Marshal(&e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode change event: %w", err)
	}
	return data, nil
}

// Decode deserializes a wire payload and stamps the receive time
func Decode(data []byte) (ChangeEvent, error) {
	var e ChangeEvent
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return ChangeEvent{}, fmt.Errorf("failed to decode change event: %w", err)
	}
	e.ReceivedAt = time.Now()
	return e, nil
}

// ConnectionEvent is a transport status notification
type ConnectionEvent uint8

const (
	StatusConnected ConnectionEvent = iota
	StatusError
	StatusClosed
)

func (c ConnectionEvent) String() string {
	switch c {
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("status(%d)", uint8(c))
	}
}

// MessageHandler receives decoded change events
type MessageHandler func(ChangeEvent)

// StatusHandler receives transport status transitions; err is set for StatusError
type StatusHandler func(event ConnectionEvent, err error)

// Subscription is a live watch on one resource collection
type Subscription interface {
	// Unsubscribe releases the watch; the acknowledgment from the backend
	// may complete asynchronously
	Unsubscribe() error
}

// Transport delivers change notifications for watched resource collections.
// Reconnection policy is owned by the subscription manager, not the transport:
// a transport only reports errors through the status handler.
type Transport interface {
	// Connect establishes (or re-establishes) the underlying connection.
	// Safe to call when already connected.
	Connect() error
	// Subscribe starts delivering events for one resource collection
	Subscribe(resource string, h MessageHandler) (Subscription, error)
	// SetStatusHandler registers the status callback (connected/error/closed)
	SetStatusHandler(h StatusHandler)
	// Close releases the connection and all subscriptions
	Close() error
}

// TransportFactory creates a Transport from the realtime configuration
type TransportFactory func(cfg.RealtimeConfiguration) (Transport, error)

var (
	transportFactories = make(map[cfg.TransportType]TransportFactory)
	factoryMu          sync.RWMutex
)

// RegisterTransport registers a transport factory for a type
func RegisterTransport(transportType cfg.TransportType, factory TransportFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	transportFactories[transportType] = factory
}

// NewTransport creates a transport based on the configuration
func NewTransport(config cfg.RealtimeConfiguration) (Transport, error) {
	factoryMu.RLock()
	factory, exists := transportFactories[config.Transport]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown transport type: %s", config.Transport)
	}

	return factory(config)
}
