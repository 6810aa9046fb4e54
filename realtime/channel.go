package realtime

import (
	"fmt"
	"sync"
	"time"

	"github.com/louros-pizzaria/cardapio-digital-sub002/feed"
)

// ConnectionStatus is the lifecycle state of one logical channel
type ConnectionStatus uint8

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ChannelMetrics is a point-in-time snapshot surfaced to consumers.
// Transport failures are never raised through the event callback; this
// snapshot is the only way a consumer observes connection health.
type ChannelMetrics struct {
	Name              string           `json:"name"`
	ConnectionStatus  ConnectionStatus `json:"-"`
	Status            string           `json:"status"`
	ReconnectAttempts int              `json:"reconnectAttempts"`
	LastEventAt       time.Time        `json:"lastEventAt"`
	Resources         []string         `json:"resources"`
}

// channel is the per-name subscription state. All transitions are guarded by
// mu; distinct channels never share state.
type channel struct {
	name      string
	resources []string
	groups    map[string]string
	filter    *ResourceFilter
	onEvent   feed.MessageHandler

	mu             sync.Mutex
	status         ConnectionStatus
	attempts       int
	lastEventAt    time.Time
	subs           []feed.Subscription
	reconnectTimer *time.Timer
	torn           bool

	// connectEpoch identifies the current connect attempt. A connect only
	// commits its subscriptions while its epoch is still current; a failure
	// path bumps the epoch so a superseded attempt discards its result
	// instead of double-subscribing.
	connectEpoch uint64
}

func (c *channel) setStatus(s ConnectionStatus) {
	c.mu.Lock()
	c.status = s
	if s == StatusConnected {
		c.attempts = 0
	}
	c.mu.Unlock()
}

func (c *channel) getStatus() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// group maps a resource to its invalidation group (defaults to itself)
func (c *channel) group(resource string) string {
	if g, ok := c.groups[resource]; ok {
		return g
	}
	return resource
}

// markTorn flags the channel dead and stops its reconnect timer. Returns the
// subscriptions to release; the caller decides whether release is awaited.
func (c *channel) markTorn() []feed.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.torn = true
	c.status = StatusDisconnected
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}

	subs := c.subs
	c.subs = nil
	return subs
}

// isTorn is the zombie guard checked at timer-fire and delivery time
func (c *channel) isTorn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.torn
}

func (c *channel) metrics() ChannelMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	resources := make([]string, len(c.resources))
	copy(resources, c.resources)

	return ChannelMetrics{
		Name:              c.name,
		ConnectionStatus:  c.status,
		Status:            c.status.String(),
		ReconnectAttempts: c.attempts,
		LastEventAt:       c.lastEventAt,
		Resources:         resources,
	}
}
