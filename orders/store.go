package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when an order does not exist
var ErrNotFound = errors.New("order not found")

// Store reads order rows for the dashboard views. Writes happen elsewhere
// (checkout flows); this service only refetches after cache invalidation.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an order read store over an existing pgx pool
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ListActive returns orders still needing attention, oldest first
func (s *Store) ListActive(ctx context.Context) ([]Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, customer_name, status, total, created_at, updated_at
		FROM orders
		WHERE status NOT IN ('delivered', 'cancelled')
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active orders: %w", err)
	}
	defer rows.Close()

	var result []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.CustomerName, &o.Status, &o.Total,
			&o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read orders: %w", err)
	}

	return result, nil
}

// GetByID returns one order
func (s *Store) GetByID(ctx context.Context, id string) (Order, error) {
	var o Order
	err := s.pool.QueryRow(ctx, `
		SELECT id, customer_name, status, total, created_at, updated_at
		FROM orders WHERE id = $1`, id).
		Scan(&o.ID, &o.CustomerName, &o.Status, &o.Total, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("failed to load order %s: %w", id, err)
	}

	return o, nil
}

// Items returns the line items for an order
func (s *Store) Items(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, product_name, quantity, unit_price
		FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order items: %w", err)
	}
	defer rows.Close()

	var result []OrderItem
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductName,
			&item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read order items: %w", err)
	}

	return result, nil
}
