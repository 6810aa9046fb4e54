package attendant

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// PrintGuard tracks which order IDs already produced a ticket. The change
// feed delivers at-least-once, so a reconnect can replay an insert; the guard
// keeps auto-printing idempotent. Entries expire after the TTL (an hour by
// default) and the LRU bound caps memory on busy days.
type PrintGuard struct {
	printed *expirable.LRU[string, time.Time]
}

// NewPrintGuard creates a guard remembering up to size order IDs for ttl
func NewPrintGuard(size int, ttl time.Duration) *PrintGuard {
	return &PrintGuard{
		printed: expirable.NewLRU[string, time.Time](size, nil, ttl),
	}
}

// FirstSighting records the order ID and reports whether it was unseen.
// Only the first call per ID within the TTL returns true.
func (g *PrintGuard) FirstSighting(orderID string) bool {
	if _, seen := g.printed.Get(orderID); seen {
		return false
	}
	g.printed.Add(orderID, time.Now())
	return true
}

// Seen reports whether the order ID was already sighted without recording it
func (g *PrintGuard) Seen(orderID string) bool {
	_, seen := g.printed.Get(orderID)
	return seen
}
