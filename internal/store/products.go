package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	apperrors "keymint/internal/errors"
	"keymint/internal/license"
)

// FindProduct resolves a product's license configuration. Unknown products
// return errors.ErrKeyNotFound, which fulfillment treats as "not a
// license-selling product".
func (s *Store) FindProduct(ctx context.Context, id int64) (*license.Product, error) {
	var (
		p           license.Product
		generatorID sql.NullInt64
		sellsStock  int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, sells_stock, generator_id, delivered_quantity
		FROM products WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &sellsStock, &generatorID, &p.DeliveredQuantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrKeyNotFound
		}
		return nil, fmt.Errorf("query product %d: %w", id, err)
	}
	p.SellsStock = sellsStock != 0
	if generatorID.Valid {
		p.GeneratorID = &generatorID.Int64
	}
	return &p, nil
}

// SaveProduct inserts or replaces a product's license configuration. The
// product ID comes from the commerce system, not from this store.
func (s *Store) SaveProduct(ctx context.Context, p *license.Product) error {
	if p.ID <= 0 {
		return fmt.Errorf("%w: product id is required", apperrors.ErrValidation)
	}
	if p.DeliveredQuantity < 1 {
		p.DeliveredQuantity = 1
	}
	if p.GeneratorID != nil {
		if _, err := s.FindSpec(ctx, *p.GeneratorID); err != nil {
			return err
		}
	}
	sellsStock := 0
	if p.SellsStock {
		sellsStock = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, sells_stock, generator_id, delivered_quantity)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			sells_stock = excluded.sells_stock,
			generator_id = excluded.generator_id,
			delivered_quantity = excluded.delivered_quantity`,
		p.ID, p.Name, sellsStock, nullableInt64(p.GeneratorID), p.DeliveredQuantity)
	if err != nil {
		return fmt.Errorf("save product %d: %w", p.ID, err)
	}
	return nil
}

// CountProductsUsingSpec returns how many products reference a generator.
func (s *Store) CountProductsUsingSpec(ctx context.Context, generatorID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE generator_id = ?`, generatorID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count products for generator %d: %w", generatorID, err)
	}
	return n, nil
}
