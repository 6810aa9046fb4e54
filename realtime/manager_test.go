package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louros-pizzaria/cardapio-digital-sub002/feed"
)

// Mock implementations for testing

type mockTransport struct {
	mu           sync.Mutex
	status       feed.StatusHandler
	handlers     map[string]map[int]feed.MessageHandler
	nextSub      int
	ops          []string // "sub:<res>" / "unsub:<res>" in call order
	connectCalls int
	failConnects atomic.Int32 // Number of Connect calls to fail before succeeding

	subscribeGate    chan struct{} // When set, Subscribe parks until the gate closes
	subscribeStarted atomic.Int32
}

func newMockTransport() *mockTransport {
	return &mockTransport{handlers: make(map[string]map[int]feed.MessageHandler)}
}

func (m *mockTransport) Connect() error {
	m.mu.Lock()
	m.connectCalls++
	m.mu.Unlock()

	if m.failConnects.Load() > 0 {
		m.failConnects.Add(-1)
		return fmt.Errorf("mock connect failure")
	}
	return nil
}

func (m *mockTransport) Subscribe(resource string, h feed.MessageHandler) (feed.Subscription, error) {
	m.mu.Lock()
	gate := m.subscribeGate
	m.mu.Unlock()

	m.subscribeStarted.Add(1)
	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	if m.handlers[resource] == nil {
		m.handlers[resource] = make(map[int]feed.MessageHandler)
	}
	m.handlers[resource][id] = h
	m.ops = append(m.ops, "sub:"+resource)
	return &mockSubscription{t: m, resource: resource, id: id}, nil
}

func (m *mockTransport) SetStatusHandler(h feed.StatusHandler) {
	m.mu.Lock()
	m.status = h
	m.mu.Unlock()
}

func (m *mockTransport) Close() error { return nil }

// push delivers an event to every live handler subscribed to the resource
func (m *mockTransport) push(e feed.ChangeEvent) {
	m.mu.Lock()
	handlers := make([]feed.MessageHandler, 0, len(m.handlers[e.Resource]))
	for _, h := range m.handlers[e.Resource] {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(e)
	}
}

// reportError simulates a transport-level failure
func (m *mockTransport) reportError(err error) {
	m.mu.Lock()
	h := m.status
	m.mu.Unlock()
	if h != nil {
		h(feed.StatusError, err)
	}
}

func (m *mockTransport) opLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.ops...)
}

func (m *mockTransport) countOps(prefix string) int {
	count := 0
	for _, op := range m.opLog() {
		if len(op) >= len(prefix) && op[:len(prefix)] == prefix {
			count++
		}
	}
	return count
}

func (m *mockTransport) connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls
}

type mockSubscription struct {
	t        *mockTransport
	resource string
	id       int
}

func (s *mockSubscription) Unsubscribe() error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	delete(s.t.handlers[s.resource], s.id)
	s.t.ops = append(s.t.ops, "unsub:"+s.resource)
	return nil
}

type mockInvalidator struct {
	mu       sync.Mutex
	prefixes []string
}

func (m *mockInvalidator) Invalidate(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefixes = append(m.prefixes, prefix)
	return nil
}

func (m *mockInvalidator) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.prefixes...)
}

func testOptions() Options {
	return Options{
		DebounceWindow:       20 * time.Millisecond,
		BaseReconnectDelay:   time.Millisecond,
		MaxReconnectDelay:    10 * time.Millisecond,
		MaxReconnectAttempts: 5,
		SettleDelay:          time.Millisecond,
	}
}

func insertEvent(resource, id string) feed.ChangeEvent {
	return feed.ChangeEvent{
		Resource:   resource,
		Operation:  feed.OpInsert,
		After:      map[string]any{"id": id},
		ReceivedAt: time.Now(),
	}
}

func TestSetup_Connects(t *testing.T) {
	transport := newMockTransport()
	mgr := NewManager(transport, &mockInvalidator{}, testOptions())

	err := mgr.Setup("attendant-unified", ConsumerSpec{
		Resources: []string{"orders", "order_items"},
	})
	require.NoError(t, err)

	assert.True(t, mgr.IsConnected("attendant-unified"))
	assert.Equal(t, []string{"sub:orders", "sub:order_items"}, transport.opLog())

	metrics, ok := mgr.ChannelMetrics("attendant-unified")
	require.True(t, ok)
	assert.Equal(t, StatusConnected, metrics.ConnectionStatus)
	assert.Equal(t, 0, metrics.ReconnectAttempts)
}

func TestSetup_Validation(t *testing.T) {
	mgr := NewManager(newMockTransport(), &mockInvalidator{}, testOptions())

	assert.Error(t, mgr.Setup("", ConsumerSpec{Resources: []string{"orders"}}))
	assert.Error(t, mgr.Setup("x", ConsumerSpec{}))
	assert.Error(t, mgr.Setup("x", ConsumerSpec{
		Resources:      []string{"orders"},
		FilterPatterns: []string{"[bad"},
	}))
}

func TestSetup_DuplicateWhileConnectedIsNoop(t *testing.T) {
	transport := newMockTransport()
	mgr := NewManager(transport, &mockInvalidator{}, testOptions())

	require.NoError(t, mgr.Setup("attendant-unified", ConsumerSpec{Resources: []string{"orders"}}))
	require.NoError(t, mgr.Setup("attendant-unified", ConsumerSpec{Resources: []string{"orders"}}))

	// No duplicate subscription, no teardown
	assert.Equal(t, 1, transport.countOps("sub:"))
	assert.Equal(t, 0, transport.countOps("unsub:"))
	assert.Equal(t, 1, mgr.Metrics().ActiveChannels)
}

func TestSetup_StaleChannelTornDownBeforeResubscribe(t *testing.T) {
	transport := newMockTransport()
	mgr := NewManager(transport, &mockInvalidator{}, testOptions())

	require.NoError(t, mgr.Setup("attendant-unified", ConsumerSpec{Resources: []string{"orders"}}))

	// Force the channel out of Connected so the next Setup must rebuild it
	ch, ok := mgr.channels.Load("attendant-unified")
	require.True(t, ok)
	ch.setStatus(StatusConnecting)

	require.NoError(t, mgr.Setup("attendant-unified", ConsumerSpec{Resources: []string{"orders"}}))

	// Teardown-then-create: the old subscription is released before the new
	// subscribe happens
	assert.Equal(t, []string{"sub:orders", "unsub:orders", "sub:orders"}, transport.opLog())
	assert.True(t, mgr.IsConnected("attendant-unified"))
	assert.Equal(t, 1, mgr.Metrics().ActiveChannels)
}

func TestBackoffDelays(t *testing.T) {
	mgr := NewManager(newMockTransport(), &mockInvalidator{}, Options{
		BaseReconnectDelay:   time.Second,
		MaxReconnectDelay:    30 * time.Second,
		MaxReconnectAttempts: 5,
	})

	// Three consecutive failures schedule 1s, 2s, 4s
	assert.Equal(t, time.Second, mgr.backoffDelay(0))
	assert.Equal(t, 2*time.Second, mgr.backoffDelay(1))
	assert.Equal(t, 4*time.Second, mgr.backoffDelay(2))

	// Ceiling
	assert.Equal(t, 30*time.Second, mgr.backoffDelay(5))
	assert.Equal(t, 30*time.Second, mgr.backoffDelay(40))
}

func TestReconnect_RecoversAfterTransientErrors(t *testing.T) {
	transport := newMockTransport()
	transport.failConnects.Store(2)
	mgr := NewManager(transport, &mockInvalidator{}, testOptions())

	require.NoError(t, mgr.Setup("attendant-unified", ConsumerSpec{Resources: []string{"orders"}}))

	require.Eventually(t, func() bool {
		return mgr.IsConnected("attendant-unified")
	}, time.Second, 5*time.Millisecond)

	// Entering Connected resets the attempt counter
	metrics, _ := mgr.ChannelMetrics("attendant-unified")
	assert.Equal(t, 0, metrics.ReconnectAttempts)
}

func TestReconnect_TerminalAfterCeiling(t *testing.T) {
	transport := newMockTransport()
	transport.failConnects.Store(100)
	opts := testOptions()
	opts.MaxReconnectAttempts = 3
	mgr := NewManager(transport, &mockInvalidator{}, opts)

	require.NoError(t, mgr.Setup("attendant-unified", ConsumerSpec{Resources: []string{"orders"}}))

	require.Eventually(t, func() bool {
		metrics, ok := mgr.ChannelMetrics("attendant-unified")
		return ok && metrics.ConnectionStatus == StatusDisconnected
	}, time.Second, 5*time.Millisecond)

	// Terminal: non-zero attempts surface the give-up to the consumer
	metrics, _ := mgr.ChannelMetrics("attendant-unified")
	assert.Equal(t, 3, metrics.ReconnectAttempts)

	// Manual escape: ForceReconnect resets the counter and retries
	transport.failConnects.Store(0)
	require.NoError(t, mgr.ForceReconnect("attendant-unified"))

	require.Eventually(t, func() bool {
		return mgr.IsConnected("attendant-unified")
	}, time.Second, 5*time.Millisecond)
}

func TestForceReconnect_UnknownChannel(t *testing.T) {
	mgr := NewManager(newMockTransport(), &mockInvalidator{}, testOptions())
	assert.Error(t, mgr.ForceReconnect("nope"))
}

func TestForceReconnect_SkipsConnectInFlight(t *testing.T) {
	transport := newMockTransport()
	transport.failConnects.Store(1)
	gate := make(chan struct{})
	transport.subscribeGate = gate

	mgr := NewManager(transport, &mockInvalidator{}, testOptions())

	var delivered atomic.Int32
	require.NoError(t, mgr.Setup("attendant-unified", ConsumerSpec{
		Resources: []string{"orders"},
		OnEvent:   func(feed.ChangeEvent) { delivered.Add(1) },
	}))

	// The backoff timer's connect is now parked inside Subscribe
	require.Eventually(t, func() bool {
		return transport.subscribeStarted.Load() == 1
	}, time.Second, time.Millisecond)

	// ForceReconnect sees the connect in flight and must not start a second
	// one; that would register duplicate subscriptions
	require.NoError(t, mgr.ForceReconnect("attendant-unified"))
	assert.Equal(t, 2, transport.connects())
	assert.Equal(t, int32(1), transport.subscribeStarted.Load())

	close(gate)
	require.Eventually(t, func() bool {
		return mgr.IsConnected("attendant-unified")
	}, time.Second, time.Millisecond)

	// Exactly one live subscription, events arrive once
	assert.Equal(t, 1, transport.countOps("sub:"))
	transport.push(insertEvent("orders", "ord-1"))
	assert.Equal(t, int32(1), delivered.Load())
}

func TestConnect_SupersededAttemptDiscardsSubscriptions(t *testing.T) {
	transport := newMockTransport()
	gate := make(chan struct{})
	transport.subscribeGate = gate

	mgr := NewManager(transport, &mockInvalidator{}, testOptions())

	var delivered atomic.Int32
	setupDone := make(chan error, 1)
	go func() {
		setupDone <- mgr.Setup("attendant-unified", ConsumerSpec{
			Resources: []string{"orders"},
			OnEvent:   func(feed.ChangeEvent) { delivered.Add(1) },
		})
	}()

	// The initial connect is parked inside Subscribe
	require.Eventually(t, func() bool {
		return transport.subscribeStarted.Load() == 1
	}, time.Second, time.Millisecond)

	// A transport error supersedes it and schedules a retry, which parks too
	transport.reportError(fmt.Errorf("broken pipe"))
	require.Eventually(t, func() bool {
		return transport.subscribeStarted.Load() == 2
	}, time.Second, time.Millisecond)

	close(gate)
	require.NoError(t, <-setupDone)

	// The superseded attempt releases its subscription instead of committing
	// it alongside the retry's
	require.Eventually(t, func() bool {
		return mgr.IsConnected("attendant-unified") && transport.countOps("unsub:") == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 2, transport.countOps("sub:"))

	transport.push(insertEvent("orders", "ord-1"))
	assert.Equal(t, int32(1), delivered.Load())
}

func TestTransportError_MovesChannelToReconnecting(t *testing.T) {
	transport := newMockTransport()
	mgr := NewManager(transport, &mockInvalidator{}, Options{
		DebounceWindow:       20 * time.Millisecond,
		BaseReconnectDelay:   time.Hour, // Keep it parked in Reconnecting
		MaxReconnectDelay:    time.Hour,
		MaxReconnectAttempts: 5,
	})

	require.NoError(t, mgr.Setup("attendant-unified", ConsumerSpec{Resources: []string{"orders"}}))
	transport.reportError(fmt.Errorf("broken pipe"))

	metrics, ok := mgr.ChannelMetrics("attendant-unified")
	require.True(t, ok)
	assert.Equal(t, StatusReconnecting, metrics.ConnectionStatus)
	assert.Equal(t, 1, metrics.ReconnectAttempts)
}

func TestDeliver_RawEventsImmediateAndInOrder(t *testing.T) {
	transport := newMockTransport()
	invalidator := &mockInvalidator{}
	mgr := NewManager(transport, invalidator, testOptions())

	var mu sync.Mutex
	var seen []string
	require.NoError(t, mgr.Setup("attendant-unified", ConsumerSpec{
		Resources: []string{"orders"},
		OnEvent: func(e feed.ChangeEvent) {
			mu.Lock()
			seen = append(seen, fmt.Sprint(e.After["id"]))
			mu.Unlock()
		},
	}))

	for i := 0; i < 5; i++ {
		transport.push(insertEvent("orders", fmt.Sprintf("ord-%d", i)))
	}

	// Raw delivery is synchronous and ordered, even though the derived
	// invalidation is still pending in the debouncer
	mu.Lock()
	assert.Equal(t, []string{"ord-0", "ord-1", "ord-2", "ord-3", "ord-4"}, seen)
	mu.Unlock()
	assert.Empty(t, invalidator.calls())

	// One coalesced invalidation after the quiescent window
	require.Eventually(t, func() bool {
		return len(invalidator.calls()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"orders"}, invalidator.calls())
}

func TestDeliver_GroupsCollapseInvalidations(t *testing.T) {
	transport := newMockTransport()
	invalidator := &mockInvalidator{}
	mgr := NewManager(transport, invalidator, testOptions())

	require.NoError(t, mgr.Setup("attendant-unified", ConsumerSpec{
		Resources: []string{"orders", "order_items"},
		Groups:    map[string]string{"order_items": "orders"},
	}))

	transport.push(insertEvent("orders", "ord-1"))
	transport.push(insertEvent("order_items", "it-1"))
	transport.push(insertEvent("order_items", "it-2"))

	require.Eventually(t, func() bool {
		return len(invalidator.calls()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"orders"}, invalidator.calls())
}

func TestDeliver_FilterSuppresses(t *testing.T) {
	transport := newMockTransport()
	var delivered atomic.Int32
	mgr := NewManager(transport, &mockInvalidator{}, testOptions())

	require.NoError(t, mgr.Setup("attendant-unified", ConsumerSpec{
		Resources:      []string{"orders", "coupons"},
		FilterPatterns: []string{"order*"},
		OnEvent:        func(feed.ChangeEvent) { delivered.Add(1) },
	}))

	transport.push(insertEvent("orders", "ord-1"))
	transport.push(insertEvent("coupons", "c-1"))

	assert.Equal(t, int32(1), delivered.Load())
}

func TestTeardown_CancelsPendingWork(t *testing.T) {
	transport := newMockTransport()
	invalidator := &mockInvalidator{}
	mgr := NewManager(transport, invalidator, testOptions())

	require.NoError(t, mgr.Setup("attendant-unified", ConsumerSpec{Resources: []string{"orders"}}))
	transport.push(insertEvent("orders", "ord-1"))

	mgr.Teardown("attendant-unified")

	// The in-memory reference is gone synchronously
	assert.False(t, mgr.IsConnected("attendant-unified"))
	_, ok := mgr.ChannelMetrics("attendant-unified")
	assert.False(t, ok)

	// Pending debounce timer was cancelled, no invalidation fires
	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, invalidator.calls())

	// Transport release completes asynchronously
	require.Eventually(t, func() bool {
		return transport.countOps("unsub:") == 1
	}, time.Second, 5*time.Millisecond)
}

func TestTeardown_ZombieReconnectTimerNeverFires(t *testing.T) {
	transport := newMockTransport()
	transport.failConnects.Store(1)
	opts := testOptions()
	opts.BaseReconnectDelay = 30 * time.Millisecond
	opts.MaxReconnectDelay = 30 * time.Millisecond
	mgr := NewManager(transport, &mockInvalidator{}, opts)

	require.NoError(t, mgr.Setup("attendant-unified", ConsumerSpec{Resources: []string{"orders"}}))
	mgr.Teardown("attendant-unified")

	before := transport.countOps("sub:")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, transport.countOps("sub:"), "reconnect against a torn-down channel")
}

func TestDistinctChannels_Independent(t *testing.T) {
	transport := newMockTransport()
	mgr := NewManager(transport, &mockInvalidator{}, testOptions())

	require.NoError(t, mgr.Setup("attendant-unified", ConsumerSpec{Resources: []string{"orders"}}))
	require.NoError(t, mgr.Setup("admin-dashboard", ConsumerSpec{Resources: []string{"orders", "coupons"}}))

	snap := mgr.Metrics()
	assert.Equal(t, 2, snap.ActiveChannels)

	mgr.Teardown("attendant-unified")
	assert.False(t, mgr.IsConnected("attendant-unified"))
	assert.True(t, mgr.IsConnected("admin-dashboard"))
}

func TestDisposeAll(t *testing.T) {
	transport := newMockTransport()
	mgr := NewManager(transport, &mockInvalidator{}, testOptions())

	require.NoError(t, mgr.Setup("a", ConsumerSpec{Resources: []string{"orders"}}))
	require.NoError(t, mgr.Setup("b", ConsumerSpec{Resources: []string{"coupons"}}))

	mgr.DisposeAll()

	assert.Equal(t, 0, mgr.Metrics().ActiveChannels)
	assert.Equal(t, 2, transport.countOps("unsub:"))
}
