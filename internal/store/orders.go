package store

import (
	"context"
	"fmt"
	"time"
)

// IsFulfilled reports whether the order has already been fully issued.
func (s *Store) IsFulfilled(ctx context.Context, orderID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fulfilled_orders WHERE order_id = ?`, orderID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query fulfilled flag: %w", err)
	}
	return n > 0, nil
}

// MarkFulfilled records order completion. Marking an already-fulfilled
// order again is harmless.
func (s *Store) MarkFulfilled(ctx context.Context, orderID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fulfilled_orders (order_id, fulfilled_at) VALUES (?, ?)
		 ON CONFLICT(order_id) DO NOTHING`,
		orderID, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("mark order fulfilled: %w", err)
	}
	return nil
}
