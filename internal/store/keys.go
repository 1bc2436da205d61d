package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "keymint/internal/errors"
	"keymint/internal/license"
)

const keyColumns = `id, order_id, product_id, license_key, hash, valid_for, expires_at,
	source, status, times_activated, times_activated_max,
	created_at, created_by, updated_at, updated_by`

// Insert persists a new license key row. A hash collision with an existing
// row surfaces as errors.ErrDuplicateKey.
func (s *Store) Insert(ctx context.Context, key *license.Key) (*license.Key, error) {
	now := time.Now().UTC().Unix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO license_keys
			(order_id, product_id, license_key, hash, valid_for, expires_at,
			 source, status, times_activated, times_activated_max,
			 created_at, created_by, updated_at, updated_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableInt64(key.OrderID),
		nullableInt64(key.ProductID),
		key.Ciphertext,
		key.Hash,
		nullableInt(key.ValidFor),
		nullableTime(key.ExpiresAt),
		string(key.Source),
		string(key.Status),
		key.TimesActivated,
		nullableInt(key.TimesActivatedMax),
		now,
		key.CreatedBy,
		now,
		key.UpdatedBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: hash already stored", apperrors.ErrDuplicateKey)
		}
		return nil, fmt.Errorf("insert license key: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert license key id: %w", err)
	}
	return s.FindByID(ctx, id)
}

// FindByID fetches a key by surrogate ID.
func (s *Store) FindByID(ctx context.Context, id int64) (*license.Key, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM license_keys WHERE id = ?`, id)
	return scanKey(row)
}

// FindByHash fetches a key by its deterministic plaintext hash.
func (s *Store) FindByHash(ctx context.Context, hash string) (*license.Key, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM license_keys WHERE hash = ?`, hash)
	return scanKey(row)
}

// FindAllBy returns keys matching the filter, oldest first so stock is sold
// in insertion order.
func (s *Store) FindAllBy(ctx context.Context, filter license.Filter) ([]*license.Key, error) {
	where, args := filterClause(filter)
	query := `SELECT ` + keyColumns + ` FROM license_keys` + where + ` ORDER BY id ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query license keys: %w", err)
	}
	defer rows.Close()

	var keys []*license.Key
	for rows.Next() {
		key, err := scanKeyRow(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// CountBy returns the number of keys matching the filter.
func (s *Store) CountBy(ctx context.Context, filter license.Filter) (int64, error) {
	where, args := filterClause(filter)
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM license_keys`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count license keys: %w", err)
	}
	return count, nil
}

// Update applies a three-state patch to one key and returns the updated row.
func (s *Store) Update(ctx context.Context, id int64, patch license.Patch) (*license.Key, error) {
	sets, args := patchClause(patch)
	if len(sets) == 0 {
		return nil, apperrors.ErrNothingToUpdate
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE license_keys SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: hash already stored", apperrors.ErrDuplicateKey)
		}
		return nil, fmt.Errorf("update license key %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update license key %d: %w", id, err)
	}
	if affected == 0 {
		return nil, apperrors.ErrKeyNotFound
	}
	return s.FindByID(ctx, id)
}

// UpdateBy applies a patch to all keys matching the filter and returns the
// number of affected rows.
func (s *Store) UpdateBy(ctx context.Context, filter license.Filter, patch license.Patch) (int64, error) {
	sets, args := patchClause(patch)
	if len(sets) == 0 {
		return 0, apperrors.ErrNothingToUpdate
	}
	where, whereArgs := filterClause(filter)
	args = append(args, whereArgs...)

	res, err := s.db.ExecContext(ctx,
		`UPDATE license_keys SET `+strings.Join(sets, ", ")+where, args...)
	if err != nil {
		return 0, fmt.Errorf("update license keys: %w", err)
	}
	return res.RowsAffected()
}

// Delete removes the given keys and returns how many rows went away. Status
// policy lives in the lifecycle manager; the store deletes what it is told.
func (s *Store) Delete(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM license_keys WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete license keys: %w", err)
	}
	return res.RowsAffected()
}

// IncrementActivation bumps times_activated by one in a single guarded
// UPDATE, so two concurrent activations can never both pass a nearly
// exhausted cap. When no row qualifies, the key is re-read once to report
// which precondition failed.
func (s *Store) IncrementActivation(ctx context.Context, id int64) (*license.Key, error) {
	now := time.Now().UTC().Unix()
	res, err := s.db.ExecContext(ctx, `
		UPDATE license_keys
		SET times_activated = times_activated + 1, updated_at = ?
		WHERE id = ?
		  AND times_activated_max IS NOT NULL
		  AND times_activated_max > 0
		  AND times_activated < times_activated_max`,
		now, id)
	if err != nil {
		return nil, fmt.Errorf("activate license key %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("activate license key %d: %w", id, err)
	}
	if affected == 1 {
		return s.FindByID(ctx, id)
	}

	key, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if key.TimesActivatedMax == nil || *key.TimesActivatedMax == 0 {
		return nil, fmt.Errorf("%w: key %d", apperrors.ErrActivationNotConfigured, id)
	}
	return nil, fmt.Errorf("%w: key %d at %d/%d",
		apperrors.ErrActivationLimitExceeded, id, key.TimesActivated, *key.TimesActivatedMax)
}

// filterClause renders a Filter into a WHERE clause and its arguments.
func filterClause(filter license.Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if filter.OrderID != nil {
		conds = append(conds, "order_id = ?")
		args = append(args, *filter.OrderID)
	}
	if filter.ProductID != nil {
		conds = append(conds, "product_id = ?")
		args = append(args, *filter.ProductID)
	}
	if filter.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Source != nil {
		conds = append(conds, "source = ?")
		args = append(args, string(*filter.Source))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// patchClause renders a Patch into parameterized SET fragments. Null fields
// clear their column; unset fields do not appear at all.
func patchClause(patch license.Patch) ([]string, []interface{}) {
	var sets []string
	var args []interface{}

	setField := func(column string, f interface {
		IsSet() bool
		IsNull() bool
	}, value interface{}) {
		if !f.IsSet() {
			return
		}
		if f.IsNull() {
			sets = append(sets, column+" = NULL")
			return
		}
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	setField("license_key", patch.Ciphertext, patch.Ciphertext.Value())
	setField("hash", patch.Hash, patch.Hash.Value())
	setField("order_id", patch.OrderID, patch.OrderID.Value())
	setField("product_id", patch.ProductID, patch.ProductID.Value())
	setField("valid_for", patch.ValidFor, patch.ValidFor.Value())
	setField("expires_at", patch.ExpiresAt, patch.ExpiresAt.Value().UTC().Unix())
	setField("source", patch.Source, string(patch.Source.Value()))
	setField("status", patch.Status, string(patch.Status.Value()))
	setField("times_activated_max", patch.TimesActivatedMax, patch.TimesActivatedMax.Value())
	setField("updated_by", patch.UpdatedBy, patch.UpdatedBy.Value())

	if len(sets) > 0 {
		sets = append(sets, "updated_at = ?")
		args = append(args, time.Now().UTC().Unix())
	}
	return sets, args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanKey(row *sql.Row) (*license.Key, error) {
	key, err := scanKeyRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrKeyNotFound
		}
		return nil, err
	}
	return key, nil
}

func scanKeyRow(row rowScanner) (*license.Key, error) {
	var (
		key               license.Key
		orderID           sql.NullInt64
		productID         sql.NullInt64
		validFor          sql.NullInt64
		expiresAt         sql.NullInt64
		timesActivatedMax sql.NullInt64
		createdAt         int64
		updatedAt         int64
		source            string
		status            string
	)
	err := row.Scan(
		&key.ID, &orderID, &productID, &key.Ciphertext, &key.Hash,
		&validFor, &expiresAt, &source, &status,
		&key.TimesActivated, &timesActivatedMax,
		&createdAt, &key.CreatedBy, &updatedAt, &key.UpdatedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan license key: %w", err)
	}

	if orderID.Valid {
		key.OrderID = &orderID.Int64
	}
	if productID.Valid {
		key.ProductID = &productID.Int64
	}
	if validFor.Valid {
		v := int(validFor.Int64)
		key.ValidFor = &v
	}
	if expiresAt.Valid {
		t := time.Unix(expiresAt.Int64, 0).UTC()
		key.ExpiresAt = &t
	}
	if timesActivatedMax.Valid {
		v := int(timesActivatedMax.Int64)
		key.TimesActivatedMax = &v
	}
	key.Source = license.Source(source)
	key.Status = license.Status(status)
	key.CreatedAt = time.Unix(createdAt, 0).UTC()
	key.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &key, nil
}

func nullableInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Unix()
}
