package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/louros-pizzaria/cardapio-digital-sub002/cfg"
	"github.com/louros-pizzaria/cardapio-digital-sub002/feed"
	"github.com/louros-pizzaria/cardapio-digital-sub002/telemetry"
)

// invalidateTimeout bounds a single cache invalidation call
const invalidateTimeout = 5 * time.Second

// Invalidator refreshes cached queries matching a key prefix. The debounced
// handler calls this to turn change bursts into visible dashboard updates.
type Invalidator interface {
	Invalidate(ctx context.Context, prefix string) error
}

// Options tunes debounce and reconnect behavior
type Options struct {
	DebounceWindow       time.Duration
	BaseReconnectDelay   time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
	SettleDelay          time.Duration
}

// OptionsFromConfig maps the realtime config section onto Options
func OptionsFromConfig(rc cfg.RealtimeConfiguration) Options {
	return Options{
		DebounceWindow:       time.Duration(rc.DebounceMS) * time.Millisecond,
		BaseReconnectDelay:   time.Duration(rc.BaseReconnectMS) * time.Millisecond,
		MaxReconnectDelay:    time.Duration(rc.MaxReconnectMS) * time.Millisecond,
		MaxReconnectAttempts: rc.MaxReconnectAttempts,
		SettleDelay:          time.Duration(rc.SettleDelayMS) * time.Millisecond,
	}
}

// ConsumerSpec describes one logical channel registration
type ConsumerSpec struct {
	// Resources to watch, e.g. orders, order_items
	Resources []string
	// Optional glob patterns narrowing delivered resources
	FilterPatterns []string
	// Optional resource -> invalidation-group mapping; resources sharing a
	// group collapse into one debounced refresh (defaults to the resource
	// itself)
	Groups map[string]string
	// OnEvent receives every raw event immediately, in transport order
	OnEvent feed.MessageHandler
}

// Snapshot aggregates per-channel metrics for the admin surface
type Snapshot struct {
	ActiveChannels int              `json:"activeChannels"`
	Channels       []ChannelMetrics `json:"channels"`
}

// Manager owns one logical multiplexed channel per consumer name. It
// subscribes each channel to its resource collections, forwards raw events,
// debounces the derived cache invalidations, and reconnects with exponential
// backoff after transport errors. Transport failures never propagate to
// consumers; they only surface through status and metrics.
type Manager struct {
	transport   feed.Transport
	invalidator Invalidator
	opts        Options
	debounce    *Debouncer

	channels   *xsync.MapOf[string, *channel]
	setupLocks *xsync.MapOf[string, *sync.Mutex]

	eventsTotal        telemetry.CounterVec
	reconnectsTotal    telemetry.Counter
	invalidationsTotal telemetry.Counter
	invalidateSeconds  telemetry.Histogram
	activeChannels     telemetry.Gauge
}

// NewManager creates a subscription manager over the given transport
func NewManager(transport feed.Transport, invalidator Invalidator, opts Options) *Manager {
	m := &Manager{
		transport:   transport,
		invalidator: invalidator,
		opts:        opts,
		debounce:    NewDebouncer(opts.DebounceWindow),
		channels:    xsync.NewMapOf[string, *channel](),
		setupLocks:  xsync.NewMapOf[string, *sync.Mutex](),

		eventsTotal: telemetry.NewCounterVec("events_total",
			"Change events delivered to consumers", []string{"resource", "op"}),
		reconnectsTotal: telemetry.NewCounter("reconnects_total",
			"Reconnect attempts scheduled after transport errors"),
		invalidationsTotal: telemetry.NewCounter("invalidations_total",
			"Debounced cache invalidations fired"),
		invalidateSeconds: telemetry.NewHistogram("invalidation_seconds",
			"Latency of one debounced cache invalidation"),
		activeChannels: telemetry.NewGauge("active_channels",
			"Live logical channels"),
	}

	transport.SetStatusHandler(m.onTransportStatus)
	return m
}

// lockFor returns the mutex serializing setup/teardown for one channel name.
// Distinct names never contend.
func (m *Manager) lockFor(name string) *sync.Mutex {
	lock, _ := m.setupLocks.LoadOrStore(name, &sync.Mutex{})
	return lock
}

// Setup creates (or re-creates) the named channel. Idempotent: a duplicate
// call while the channel is Connected is a no-op. A live channel in any other
// state is fully torn down first - unsubscribe acknowledged, then a settling
// delay - so the same logical resource set is never subscribed twice.
func (m *Manager) Setup(name string, spec ConsumerSpec) error {
	if name == "" {
		return fmt.Errorf("channel name is required")
	}
	if len(spec.Resources) == 0 {
		return fmt.Errorf("at least one resource is required")
	}

	filter, err := NewResourceFilter(spec.FilterPatterns)
	if err != nil {
		return err
	}

	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	if existing, ok := m.channels.Load(name); ok {
		if existing.getStatus() == StatusConnected {
			log.Debug().Str("channel", name).Msg("Channel already connected, skipping duplicate setup")
			return nil
		}

		log.Info().
			Str("channel", name).
			Str("state", existing.getStatus().String()).
			Msg("Tearing down stale channel before re-subscribing")

		m.channels.Delete(name)
		m.releaseChannel(existing, true)
		time.Sleep(m.opts.SettleDelay)
	}

	resources := make([]string, len(spec.Resources))
	copy(resources, spec.Resources)

	ch := &channel{
		name:      name,
		resources: resources,
		groups:    spec.Groups,
		filter:    filter,
		onEvent:   spec.OnEvent,
		status:    StatusDisconnected,
	}

	m.channels.Store(name, ch)
	m.connect(ch)
	m.activeChannels.Set(float64(m.channels.Size()))

	return nil
}

// connect drives a channel to Connected, subscribing every resource. Failures
// route through the backoff path instead of returning an error. At most one
// connect runs per channel: a second caller sees Connecting and backs off, and
// the epoch check drops a commit that lost to a competing failure.
func (m *Manager) connect(ch *channel) {
	ch.mu.Lock()
	if ch.torn || ch.status == StatusConnecting || ch.status == StatusConnected {
		ch.mu.Unlock()
		return
	}
	ch.status = StatusConnecting
	ch.connectEpoch++
	epoch := ch.connectEpoch
	ch.mu.Unlock()

	if err := m.transport.Connect(); err != nil {
		m.failConnect(ch, epoch, err)
		return
	}

	subs := make([]feed.Subscription, 0, len(ch.resources))
	for _, resource := range ch.resources {
		sub, err := m.transport.Subscribe(resource, func(e feed.ChangeEvent) {
			m.deliver(ch, e)
		})
		if err != nil {
			releaseSubs(ch.name, subs)
			m.failConnect(ch, epoch, err)
			return
		}
		subs = append(subs, sub)
	}

	ch.mu.Lock()
	if ch.torn || ch.connectEpoch != epoch {
		// Torn down or superseded while the subscribe calls were in flight
		ch.mu.Unlock()
		go releaseSubs(ch.name, subs)
		return
	}
	ch.subs = subs
	ch.status = StatusConnected
	ch.attempts = 0
	ch.mu.Unlock()

	log.Info().
		Str("channel", ch.name).
		Strs("resources", ch.resources).
		Msg("Realtime channel connected")
}

// failChannel handles a transport-level failure. Bumping the connect epoch
// makes any connect still in flight discard its subscriptions on commit.
func (m *Manager) failChannel(ch *channel, cause error) {
	ch.mu.Lock()
	if ch.torn || ch.status == StatusReconnecting || ch.status == StatusDisconnected {
		// Already scheduled, terminal, or gone
		ch.mu.Unlock()
		return
	}
	ch.connectEpoch++
	m.scheduleReconnectLocked(ch, cause)
}

// failConnect is the failure path of one connect attempt. The epoch check
// drops attempts that were superseded or torn down mid-flight.
func (m *Manager) failConnect(ch *channel, epoch uint64, cause error) {
	ch.mu.Lock()
	if ch.torn || ch.connectEpoch != epoch {
		ch.mu.Unlock()
		return
	}
	m.scheduleReconnectLocked(ch, cause)
}

// scheduleReconnectLocked moves a channel into Reconnecting with exponential
// backoff, or into terminal Disconnected once the attempt ceiling is reached.
// Entered holding ch.mu; releases it.
func (m *Manager) scheduleReconnectLocked(ch *channel, cause error) {
	subs := ch.subs
	ch.subs = nil

	if ch.attempts >= m.opts.MaxReconnectAttempts {
		ch.status = StatusDisconnected
		attempts := ch.attempts
		ch.mu.Unlock()

		log.Error().
			Err(cause).
			Str("channel", ch.name).
			Int("attempts", attempts).
			Msg("Reconnect attempts exhausted, channel disconnected until forced")
		go releaseSubs(ch.name, subs)
		return
	}

	delay := m.backoffDelay(ch.attempts)
	ch.attempts++
	ch.status = StatusReconnecting
	ch.reconnectTimer = time.AfterFunc(delay, func() {
		// Zombie guard: a teardown may have raced the timer
		if ch.isTorn() {
			return
		}
		m.connect(ch)
	})
	attempt := ch.attempts
	ch.mu.Unlock()

	m.reconnectsTotal.Inc()
	log.Warn().
		Err(cause).
		Str("channel", ch.name).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("Transport error, reconnect scheduled")
	go releaseSubs(ch.name, subs)
}

// backoffDelay computes min(base * 2^attempts, max)
func (m *Manager) backoffDelay(attempts int) time.Duration {
	delay := m.opts.BaseReconnectDelay << uint(attempts)
	if delay > m.opts.MaxReconnectDelay || delay <= 0 {
		delay = m.opts.MaxReconnectDelay
	}
	return delay
}

// onTransportStatus fans transport-level failures out to the affected channels
func (m *Manager) onTransportStatus(event feed.ConnectionEvent, err error) {
	if event == feed.StatusConnected {
		return
	}

	if err == nil {
		err = fmt.Errorf("transport %s", event)
	}

	m.channels.Range(func(_ string, ch *channel) bool {
		switch ch.getStatus() {
		case StatusConnecting, StatusConnected:
			m.failChannel(ch, err)
		}
		return true
	})
}

// deliver forwards a raw event to the consumer and schedules the debounced
// invalidation for its resource group. Raw delivery happens immediately and in
// transport order; only the derived invalidation is coalesced.
func (m *Manager) deliver(ch *channel, e feed.ChangeEvent) {
	if ch.isTorn() {
		return
	}
	if !ch.filter.Match(e.Resource) {
		return
	}

	ch.mu.Lock()
	ch.lastEventAt = time.Now()
	ch.mu.Unlock()

	m.eventsTotal.With(e.Resource, feed.OpName(e.Operation)).Inc()

	if ch.onEvent != nil {
		ch.onEvent(e)
	}

	group := ch.group(e.Resource)
	key := ch.name + "|" + group
	m.debounce.Schedule(key, func() {
		if ch.isTorn() {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
		defer cancel()

		start := time.Now()
		if err := m.invalidator.Invalidate(ctx, group); err != nil {
			log.Warn().Err(err).Str("channel", ch.name).Str("group", group).
				Msg("Cache invalidation failed")
			return
		}
		m.invalidateSeconds.Observe(time.Since(start).Seconds())
		m.invalidationsTotal.Inc()
	})
}

// Teardown releases the named channel. The in-memory reference is cleared
// synchronously; the transport unsubscribe completes asynchronously so a fast
// subsequent Setup never races a dying handle.
func (m *Manager) Teardown(name string) {
	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	ch, ok := m.channels.LoadAndDelete(name)
	if !ok {
		return
	}

	m.releaseChannel(ch, false)
	m.activeChannels.Set(float64(m.channels.Size()))

	log.Info().Str("channel", name).Msg("Realtime channel torn down")
}

// releaseChannel cancels the channel's pending debounce timers and releases
// its transport subscriptions, awaiting the acknowledgment when await is set.
func (m *Manager) releaseChannel(ch *channel, await bool) {
	m.debounce.CancelPrefix(ch.name + "|")
	subs := ch.markTorn()

	if await {
		releaseSubs(ch.name, subs)
	} else {
		go releaseSubs(ch.name, subs)
	}
}

func releaseSubs(name string, subs []feed.Subscription) {
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Str("channel", name).Msg("Failed to release subscription")
		}
	}
}

// ForceReconnect resets the attempt counter and re-runs the connect path.
// This is the consumer's manual escape from the terminal Disconnected state.
// Serialized with Setup/Teardown; a connect already in flight is left alone.
func (m *Manager) ForceReconnect(name string) error {
	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	ch, ok := m.channels.Load(name)
	if !ok {
		return fmt.Errorf("unknown channel: %s", name)
	}

	ch.mu.Lock()
	ch.attempts = 0
	if ch.status == StatusConnected || ch.status == StatusConnecting {
		ch.mu.Unlock()
		return nil
	}
	if ch.reconnectTimer != nil {
		ch.reconnectTimer.Stop()
		ch.reconnectTimer = nil
	}
	ch.mu.Unlock()

	log.Info().Str("channel", name).Msg("Forcing reconnect")
	m.connect(ch)
	return nil
}

// IsConnected reports whether the named channel is currently Connected
func (m *Manager) IsConnected(name string) bool {
	ch, ok := m.channels.Load(name)
	return ok && ch.getStatus() == StatusConnected
}

// ChannelMetrics returns the snapshot for one channel
func (m *Manager) ChannelMetrics(name string) (ChannelMetrics, bool) {
	ch, ok := m.channels.Load(name)
	if !ok {
		return ChannelMetrics{}, false
	}
	return ch.metrics(), true
}

// Metrics returns a snapshot across all channels
func (m *Manager) Metrics() Snapshot {
	snap := Snapshot{Channels: []ChannelMetrics{}}
	m.channels.Range(func(_ string, ch *channel) bool {
		snap.Channels = append(snap.Channels, ch.metrics())
		return true
	})
	snap.ActiveChannels = len(snap.Channels)
	return snap
}

// DisposeAll tears down every channel, awaiting the releases. Used on shutdown.
func (m *Manager) DisposeAll() {
	m.channels.Range(func(name string, _ *channel) bool {
		lock := m.lockFor(name)
		lock.Lock()
		if ch, ok := m.channels.LoadAndDelete(name); ok {
			m.releaseChannel(ch, true)
		}
		lock.Unlock()
		return true
	})

	m.debounce.CancelAll()
	m.activeChannels.Set(0)
}
