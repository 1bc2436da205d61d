package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "keymint/internal/errors"
	"keymint/internal/generator"
)

const specColumns = `id, name, charset, chunks, chunk_length, separator, prefix, suffix,
	expires_in, times_activated_max`

// CreateSpec persists a new named generator template.
func (s *Store) CreateSpec(ctx context.Context, spec *generator.Spec) (*generator.Spec, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC().Unix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO generators
			(name, charset, chunks, chunk_length, separator, prefix, suffix,
			 expires_in, times_activated_max, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		spec.Name, spec.Charset, spec.Chunks, spec.ChunkLength,
		spec.Separator, spec.Prefix, spec.Suffix,
		spec.ExpiresIn, spec.TimesActivatedMax, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: generator name %q taken", apperrors.ErrDuplicateGeneratorName, spec.Name)
		}
		return nil, fmt.Errorf("insert generator: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert generator id: %w", err)
	}
	return s.FindSpec(ctx, id)
}

// FindSpec fetches a generator template by ID.
func (s *Store) FindSpec(ctx context.Context, id int64) (*generator.Spec, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+specColumns+` FROM generators WHERE id = ?`, id)
	return scanSpec(row)
}

// ListSpecs returns all generator templates.
func (s *Store) ListSpecs(ctx context.Context) ([]*generator.Spec, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+specColumns+` FROM generators ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query generators: %w", err)
	}
	defer rows.Close()

	var specs []*generator.Spec
	for rows.Next() {
		var spec generator.Spec
		if err := rows.Scan(
			&spec.ID, &spec.Name, &spec.Charset, &spec.Chunks, &spec.ChunkLength,
			&spec.Separator, &spec.Prefix, &spec.Suffix,
			&spec.ExpiresIn, &spec.TimesActivatedMax,
		); err != nil {
			return nil, fmt.Errorf("scan generator: %w", err)
		}
		specs = append(specs, &spec)
	}
	return specs, rows.Err()
}

// UpdateSpec replaces a generator template's fields.
func (s *Store) UpdateSpec(ctx context.Context, spec *generator.Spec) (*generator.Spec, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE generators SET
			name = ?, charset = ?, chunks = ?, chunk_length = ?,
			separator = ?, prefix = ?, suffix = ?,
			expires_in = ?, times_activated_max = ?, updated_at = ?
		WHERE id = ?`,
		spec.Name, spec.Charset, spec.Chunks, spec.ChunkLength,
		spec.Separator, spec.Prefix, spec.Suffix,
		spec.ExpiresIn, spec.TimesActivatedMax,
		time.Now().UTC().Unix(), spec.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: generator name %q taken", apperrors.ErrDuplicateGeneratorName, spec.Name)
		}
		return nil, fmt.Errorf("update generator %d: %w", spec.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update generator %d: %w", spec.ID, err)
	}
	if affected == 0 {
		return nil, apperrors.ErrGeneratorNotFound
	}
	return s.FindSpec(ctx, spec.ID)
}

// DeleteSpec removes a generator template. A template still referenced by
// any product cannot be deleted.
func (s *Store) DeleteSpec(ctx context.Context, id int64) error {
	inUse, err := s.CountProductsUsingSpec(ctx, id)
	if err != nil {
		return err
	}
	if inUse > 0 {
		return fmt.Errorf("%w: %d product(s) reference generator %d", apperrors.ErrGeneratorInUse, inUse, id)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM generators WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete generator %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete generator %d: %w", id, err)
	}
	if affected == 0 {
		return apperrors.ErrGeneratorNotFound
	}
	return nil
}

func scanSpec(row *sql.Row) (*generator.Spec, error) {
	var spec generator.Spec
	err := row.Scan(
		&spec.ID, &spec.Name, &spec.Charset, &spec.Chunks, &spec.ChunkLength,
		&spec.Separator, &spec.Prefix, &spec.Suffix,
		&spec.ExpiresIn, &spec.TimesActivatedMax,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrGeneratorNotFound
		}
		return nil, fmt.Errorf("scan generator: %w", err)
	}
	return &spec, nil
}
