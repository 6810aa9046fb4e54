package attendant

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/louros-pizzaria/cardapio-digital-sub002/cfg"
	"github.com/louros-pizzaria/cardapio-digital-sub002/feed"
	"github.com/louros-pizzaria/cardapio-digital-sub002/orders"
	"github.com/louros-pizzaria/cardapio-digital-sub002/realtime"
	"github.com/louros-pizzaria/cardapio-digital-sub002/telemetry"
)

// DefaultChannelName is the attendant panel's logical channel
const DefaultChannelName = "attendant-unified"

// printTimeout bounds one ticket print attempt
const printTimeout = 10 * time.Second

// Printer produces a kitchen/counter ticket for a new order
type Printer interface {
	PrintTicket(ctx context.Context, order orders.Order) error
}

// Chime plays the new-order notification sound
type Chime interface {
	Play()
}

// Config tunes the attendant consumer's side effects
type Config struct {
	ChannelName      string
	AutoPrint        bool
	ChimeOnNewOrder  bool
	PrintedTTL       time.Duration
	PrintedCacheSize int
	// OnConfirmed fires when an order's status moves pending -> confirmed
	OnConfirmed func(orders.Order)
}

// ConfigFromGlobal maps the attendant config section onto Config
func ConfigFromGlobal(ac cfg.AttendantConfiguration) Config {
	return Config{
		ChannelName:      DefaultChannelName,
		AutoPrint:        ac.AutoPrint,
		ChimeOnNewOrder:  ac.ChimeOnNewOrder,
		PrintedTTL:       time.Duration(ac.PrintedTTLMin) * time.Minute,
		PrintedCacheSize: ac.PrintedCacheSize,
	}
}

// Consumer is the attendant panel's realtime registration: one multiplexed
// channel watching orders and order items, reacting to events with sound and
// exactly-once auto-printing.
type Consumer struct {
	mgr     *realtime.Manager
	hub     *Hub
	printer Printer
	chime   Chime
	guard   *PrintGuard
	config  Config

	printsTotal     telemetry.Counter
	printDuplicates telemetry.Counter
}

// NewConsumer wires an attendant consumer over the subscription manager
func NewConsumer(mgr *realtime.Manager, printer Printer, chime Chime, config Config) *Consumer {
	if config.ChannelName == "" {
		config.ChannelName = DefaultChannelName
	}
	if config.PrintedTTL <= 0 {
		config.PrintedTTL = time.Hour
	}
	if config.PrintedCacheSize <= 0 {
		config.PrintedCacheSize = 2048
	}

	return &Consumer{
		mgr:     mgr,
		hub:     NewHub(),
		printer: printer,
		chime:   chime,
		guard:   NewPrintGuard(config.PrintedCacheSize, config.PrintedTTL),
		config:  config,

		printsTotal: telemetry.NewCounter("tickets_printed_total",
			"Auto-printed order tickets"),
		printDuplicates: telemetry.NewCounter("tickets_duplicate_total",
			"Auto-print attempts suppressed by the printed-id guard"),
	}
}

// Start registers the channel. Duplicate events for the same order collapse
// into one view refresh because order_items invalidate the orders group.
func (c *Consumer) Start() error {
	err := c.mgr.Setup(c.config.ChannelName, realtime.ConsumerSpec{
		Resources: []string{"orders", "order_items"},
		Groups:    map[string]string{"order_items": "orders"},
		OnEvent:   c.handleEvent,
	})
	if err != nil {
		return fmt.Errorf("failed to register attendant channel: %w", err)
	}

	log.Info().Str("channel", c.config.ChannelName).Msg("Attendant realtime consumer started")
	return nil
}

// Hub exposes the listener hub for dashboard widgets
func (c *Consumer) Hub() *Hub {
	return c.hub
}

func (c *Consumer) handleEvent(e feed.ChangeEvent) {
	c.hub.Publish(e)

	if e.Resource != orders.ResourceName {
		return
	}

	switch e.Operation {
	case feed.OpInsert:
		c.onNewOrder(e)
	case feed.OpUpdate:
		c.onOrderUpdate(e)
	}
}

func (c *Consumer) onNewOrder(e feed.ChangeEvent) {
	order, err := orders.FromRecord(e.After)
	if err != nil {
		log.Warn().Err(err).Msg("New-order event with undecodable record")
		return
	}

	if c.config.ChimeOnNewOrder && c.chime != nil {
		c.chime.Play()
	}

	if !c.config.AutoPrint || c.printer == nil {
		return
	}

	if !c.guard.FirstSighting(order.ID) {
		c.printDuplicates.Inc()
		log.Debug().Str("order", order.ID).Msg("Ticket already printed, duplicate delivery suppressed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), printTimeout)
	defer cancel()

	if err := c.printer.PrintTicket(ctx, order); err != nil {
		log.Error().Err(err).Str("order", order.ID).Msg("Failed to auto-print ticket")
		return
	}

	c.printsTotal.Inc()
	log.Info().Str("order", order.ID).Str("customer", order.CustomerName).Msg("Ticket printed for new order")
}

func (c *Consumer) onOrderUpdate(e feed.ChangeEvent) {
	oldStatus, newStatus, changed := e.FieldTransition("status")
	if !changed {
		return
	}

	log.Debug().
		Str("from", oldStatus).
		Str("to", newStatus).
		Msg("Order status transition")

	if oldStatus == string(orders.StatusPending) && newStatus == string(orders.StatusConfirmed) &&
		c.config.OnConfirmed != nil {
		if order, err := orders.FromRecord(e.After); err == nil {
			c.config.OnConfirmed(order)
		}
	}
}

// IsConnected reports the channel's connection flag
func (c *Consumer) IsConnected() bool {
	return c.mgr.IsConnected(c.config.ChannelName)
}

// Metrics returns the channel's snapshot
func (c *Consumer) Metrics() (realtime.ChannelMetrics, bool) {
	return c.mgr.ChannelMetrics(c.config.ChannelName)
}

// ForceReconnect resets the reconnect counter and re-subscribes
func (c *Consumer) ForceReconnect() error {
	return c.mgr.ForceReconnect(c.config.ChannelName)
}

// Close tears the channel down and cancels its pending work
func (c *Consumer) Close() {
	c.mgr.Teardown(c.config.ChannelName)
}
