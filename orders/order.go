package orders

import (
	"fmt"
	"time"
)

// ResourceName is the change-feed collection carrying order records
const ResourceName = "orders"

// Status is the order lifecycle state
type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusPreparing      Status = "preparing"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

// Active reports whether the order still needs attendant attention
func (s Status) Active() bool {
	return s != StatusDelivered && s != StatusCancelled
}

// Order is an order row as seen by the attendant and admin views
type Order struct {
	ID           string    `json:"id"`
	CustomerName string    `json:"customerName"`
	Status       Status    `json:"status"`
	Total        float64   `json:"total"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// OrderItem is a single line item
type OrderItem struct {
	ID          string  `json:"id"`
	OrderID     string  `json:"orderId"`
	ProductName string  `json:"productName"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
}

// FromRecord decodes the loosely typed record snapshot carried by a change
// event into an Order. Only id is mandatory; the feed may carry partial rows.
func FromRecord(record map[string]any) (Order, error) {
	if record == nil {
		return Order{}, fmt.Errorf("empty order record")
	}

	id, ok := record["id"].(string)
	if !ok || id == "" {
		return Order{}, fmt.Errorf("order record missing id")
	}

	order := Order{ID: id}

	if name, ok := record["customer_name"].(string); ok {
		order.CustomerName = name
	}
	if status, ok := record["status"].(string); ok {
		order.Status = Status(status)
	}
	switch total := record["total"].(type) {
	case float64:
		order.Total = total
	case int64:
		order.Total = float64(total)
	}

	return order, nil
}
