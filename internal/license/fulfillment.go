package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "keymint/internal/errors"
	"keymint/internal/generator"
)

// FulfillOrder is the order-completion entry point. It walks the order line
// items, decides per product between selling from ACTIVE stock and
// generating on demand, and optionally bulk-delivers the sold keys. The
// operation is idempotent: an order already marked fulfilled is a no-op, so
// a duplicate completion webhook never double-issues keys.
func (m *Manager) FulfillOrder(ctx context.Context, orderID int64, items []OrderItem) (*FulfillmentResult, error) {
	if orderID <= 0 {
		return nil, fmt.Errorf("%w: order id is required", apperrors.ErrValidation)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: order has no line items", apperrors.ErrValidation)
	}

	fulfilled, err := m.orders.IsFulfilled(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("check fulfillment flag: %w", err)
	}
	if fulfilled {
		m.logger.InfoContext(ctx, "order already fulfilled, skipping",
			slog.Int64("order_id", orderID))
		return &FulfillmentResult{OrderID: orderID, AlreadyFulfilled: true}, nil
	}

	result := &FulfillmentResult{OrderID: orderID}
	for _, item := range items {
		if err := m.fulfillItem(ctx, orderID, item, result); err != nil {
			return result, err
		}
	}

	if m.cfg.AutoDeliver {
		sold := StatusSold
		delivered, err := m.repo.UpdateBy(ctx,
			Filter{OrderID: &orderID, Status: &sold},
			Patch{Status: Set(StatusDelivered)})
		if err != nil {
			return result, fmt.Errorf("deliver order %d: %w", orderID, err)
		}
		result.Delivered = delivered
	}

	// A backordered shortfall leaves the order open so a retry after
	// restocking issues the remainder.
	if result.Backordered == 0 {
		if err := m.orders.MarkFulfilled(ctx, orderID); err != nil {
			return result, fmt.Errorf("mark order fulfilled: %w", err)
		}
		m.metrics.recordFulfillment(ctx)
	}

	m.logger.InfoContext(ctx, "order fulfillment finished",
		slog.Int64("order_id", orderID),
		slog.Int("sold_from_stock", result.SoldFromStock),
		slog.Int("generated", result.Generated),
		slog.Int("backordered", result.Backordered),
		slog.Int64("delivered", result.Delivered))
	return result, nil
}

// fulfillItem applies the fulfillment decision tree to one line item.
func (m *Manager) fulfillItem(ctx context.Context, orderID int64, item OrderItem, result *FulfillmentResult) error {
	if item.Quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1 for product %d", apperrors.ErrValidation, item.ProductID)
	}

	product, err := m.products.FindProduct(ctx, item.ProductID)
	if err != nil {
		if errors.Is(err, apperrors.ErrKeyNotFound) {
			// Not a license-selling product.
			return nil
		}
		return fmt.Errorf("resolve product %d: %w", item.ProductID, err)
	}

	perUnit := product.DeliveredQuantity
	if perUnit < 1 {
		perUnit = 1
	}
	needed := item.Quantity * perUnit

	// A retry of a partially fulfilled order must only issue the remainder,
	// so keys already linked to this order and product count against the
	// line item.
	issued, err := m.repo.CountBy(ctx, Filter{OrderID: &orderID, ProductID: &product.ID})
	if err != nil {
		return fmt.Errorf("count issued keys for order %d: %w", orderID, err)
	}
	needed -= int(issued)
	if needed <= 0 {
		return nil
	}

	if product.SellsStock {
		active := StatusActive
		stock, err := m.repo.FindAllBy(ctx, Filter{
			ProductID: &product.ID,
			Status:    &active,
			Limit:     needed,
		})
		if err != nil {
			return fmt.Errorf("fetch stock for product %d: %w", product.ID, err)
		}

		sell := needed
		if len(stock) < needed {
			sell = len(stock)
		}
		if sell > 0 {
			if err := m.SellExistingKeys(ctx, stock, orderID, sell); err != nil {
				return err
			}
			result.SoldFromStock += sell
		}

		shortfall := needed - sell
		if shortfall == 0 {
			return nil
		}
		if product.GeneratorID == nil {
			m.logger.WarnContext(ctx, "stock exhausted with no generator fallback",
				slog.Int64("order_id", orderID),
				slog.Int64("product_id", product.ID),
				slog.Int("shortfall", shortfall))
			result.Backordered += shortfall
			return nil
		}
		generated, err := m.generateSold(ctx, orderID, product, shortfall)
		result.Generated += generated
		return err
	}

	if product.GeneratorID == nil {
		// Neither stock nor generator: the product is misconfigured and
		// nothing can be issued for it.
		result.Backordered += needed
		return nil
	}
	generated, err := m.generateSold(ctx, orderID, product, needed)
	result.Generated += generated
	return err
}

// generateSold generates amount keys for the product's spec and persists
// them directly in SOLD status against the order.
func (m *Manager) generateSold(ctx context.Context, orderID int64, product *Product, amount int) (int, error) {
	spec, err := m.specs.FindSpec(ctx, *product.GeneratorID)
	if err != nil {
		return 0, fmt.Errorf("resolve generator %d: %w", *product.GeneratorID, err)
	}
	batch, err := generator.GenerateBatch(amount, *spec)
	if err != nil {
		return 0, err
	}
	return m.InsertGeneratedKeys(ctx, &orderID, &product.ID, batch, *spec, StatusSold)
}
