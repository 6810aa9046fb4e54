package attendant

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/louros-pizzaria/cardapio-digital-sub002/orders"
)

// LogPrinter renders tickets to the log. Stations without a physical printer
// run with this; the thermal-printer integration lives in the panel frontend.
type LogPrinter struct{}

func (LogPrinter) PrintTicket(_ context.Context, order orders.Order) error {
	log.Info().
		Str("order", order.ID).
		Str("customer", order.CustomerName).
		Float64("total", order.Total).
		Msg("TICKET")
	return nil
}

// LogChime logs in place of the panel's notification sound
type LogChime struct{}

func (LogChime) Play() {
	log.Info().Msg("New order chime")
}
