package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "keymint/internal/errors"
	"keymint/internal/generator"
)

// Config carries the lifecycle manager settings that were ambient plugin
// options in spirit: whether sold keys are delivered immediately and how
// many collision regeneration rounds are tolerated before giving up.
type Config struct {
	AutoDeliver           bool
	MaxRegenerationRounds int
}

// DefaultConfig returns the manager defaults.
func DefaultConfig() Config {
	return Config{
		AutoDeliver:           false,
		MaxRegenerationRounds: 32,
	}
}

// Manager orchestrates license key generation against persisted state,
// status transitions, activation accounting and order fulfillment.
type Manager struct {
	repo     Repository
	orders   OrderFlags
	products ProductCatalog
	specs    SpecSource
	crypto   Crypto
	cfg      Config
	logger   *slog.Logger
	metrics  *managerMetrics

	now func() time.Time
}

// NewManager wires the lifecycle manager with its collaborators.
func NewManager(repo Repository, orders OrderFlags, products ProductCatalog, specs SpecSource, crypto Crypto, cfg Config, logger *slog.Logger) *Manager {
	if cfg.MaxRegenerationRounds <= 0 {
		cfg.MaxRegenerationRounds = DefaultConfig().MaxRegenerationRounds
	}
	return &Manager{
		repo:     repo,
		orders:   orders,
		products: products,
		specs:    specs,
		crypto:   crypto,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "license_manager")),
		metrics:  newManagerMetrics(),
		now:      time.Now,
	}
}

// CreateKeyRequest describes an explicitly supplied key (import, manual
// entry, or API create).
type CreateKeyRequest struct {
	Key               string
	OrderID           *int64
	ProductID         *int64
	ValidFor          *int
	Status            Status
	Source            Source
	TimesActivatedMax *int
	CreatedBy         string
}

// CreateKey persists a single explicitly supplied key. Duplicate plaintext
// (detected on the hash) is a conflict, never a silent dedup.
func (m *Manager) CreateKey(ctx context.Context, req CreateKeyRequest) (*Key, error) {
	if req.Key == "" {
		return nil, fmt.Errorf("%w: license key is required", apperrors.ErrValidation)
	}
	if !req.Status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", apperrors.ErrValidation, req.Status)
	}
	if !req.Source.Valid() {
		return nil, fmt.Errorf("%w: invalid source %q", apperrors.ErrValidation, req.Source)
	}
	if req.TimesActivatedMax != nil && *req.TimesActivatedMax < 0 {
		return nil, fmt.Errorf("%w: times_activated_max must not be negative", apperrors.ErrValidation)
	}

	ciphertext, err := m.crypto.Encrypt(req.Key)
	if err != nil {
		return nil, fmt.Errorf("encrypt license key: %w", err)
	}

	key := &Key{
		OrderID:           req.OrderID,
		ProductID:         req.ProductID,
		Ciphertext:        ciphertext,
		Hash:              m.crypto.Hash(req.Key),
		ValidFor:          req.ValidFor,
		Source:            req.Source,
		Status:            req.Status,
		TimesActivatedMax: req.TimesActivatedMax,
		CreatedBy:         req.CreatedBy,
	}
	if req.Status == StatusSold && req.ValidFor != nil && *req.ValidFor > 0 {
		expires := m.expiryFrom(*req.ValidFor)
		key.ExpiresAt = &expires
	}

	inserted, err := m.repo.Insert(ctx, key)
	if err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "license key created",
		slog.Int64("key_id", inserted.ID),
		slog.String("source", string(inserted.Source)),
		slog.String("status", string(inserted.Status)))
	return inserted, nil
}

// GenerateKeys generates amount keys from the named spec and persists them,
// resolving collisions against already-persisted hashes. Intended for stock
// replenishment (status ACTIVE/INACTIVE) as well as direct sale (SOLD).
func (m *Manager) GenerateKeys(ctx context.Context, spec generator.Spec, amount int, status Status, orderID, productID *int64) (int, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("%w: invalid status %q", apperrors.ErrValidation, status)
	}
	batch, err := generator.GenerateBatch(amount, spec)
	if err != nil {
		return 0, err
	}
	return m.InsertGeneratedKeys(ctx, orderID, productID, batch, spec, status)
}

// InsertGeneratedKeys persists candidate key strings produced by the
// generator. Candidates whose hash already exists in the store are counted
// as collisions and replaced by a fresh batch of exactly the shortfall,
// repeated until the full amount is persisted. Every round checks the
// latest persisted state, and the hash-unique index backstops concurrent
// inserts racing this loop. Returns the number of keys inserted.
func (m *Manager) InsertGeneratedKeys(ctx context.Context, orderID, productID *int64, candidates []string, spec generator.Spec, status Status) (int, error) {
	inserted := 0
	for round := 0; ; round++ {
		if round > m.cfg.MaxRegenerationRounds {
			return inserted, fmt.Errorf("%w: %d regeneration rounds exhausted for generator %q",
				apperrors.ErrKeyspaceExhausted, m.cfg.MaxRegenerationRounds, spec.Name)
		}

		collisions := 0
		for _, candidate := range candidates {
			hash := m.crypto.Hash(candidate)
			if _, err := m.repo.FindByHash(ctx, hash); err == nil {
				collisions++
				continue
			} else if !errors.Is(err, apperrors.ErrKeyNotFound) {
				return inserted, err
			}

			ciphertext, err := m.crypto.Encrypt(candidate)
			if err != nil {
				return inserted, fmt.Errorf("encrypt generated key: %w", err)
			}
			key := &Key{
				OrderID:    orderID,
				ProductID:  productID,
				Ciphertext: ciphertext,
				Hash:       hash,
				Source:     SourceGenerator,
				Status:     status,
			}
			if spec.TimesActivatedMax > 0 {
				max := spec.TimesActivatedMax
				key.TimesActivatedMax = &max
			}
			if spec.ExpiresIn > 0 {
				validFor := spec.ExpiresIn
				key.ValidFor = &validFor
				// Expiry is a property of the sale event. Stock keys carry
				// only valid_for until they are sold.
				if status == StatusSold {
					expires := m.expiryFrom(spec.ExpiresIn)
					key.ExpiresAt = &expires
				}
			}

			if _, err := m.repo.Insert(ctx, key); err != nil {
				if errors.Is(err, apperrors.ErrDuplicateKey) {
					// Lost a race with a concurrent insert; treat as a
					// collision and regenerate.
					collisions++
					continue
				}
				return inserted, err
			}
			inserted++
		}

		m.metrics.recordGenerated(ctx, len(candidates)-collisions, collisions)
		if collisions == 0 {
			return inserted, nil
		}

		m.logger.WarnContext(ctx, "license key collisions, regenerating",
			slog.Int("collisions", collisions),
			slog.Int("round", round+1),
			slog.String("generator", spec.Name))

		replacement, err := generator.GenerateBatch(collisions, spec)
		if err != nil {
			return inserted, err
		}
		candidates = replacement
	}
}

// SellExistingKeys marks the first amount keys of an ACTIVE stock pool as
// sold to the given order. Expiry is computed per key from its own
// valid_for window, counted from the sale, not from key creation.
func (m *Manager) SellExistingKeys(ctx context.Context, keys []*Key, orderID int64, amount int) error {
	if amount > len(keys) {
		return fmt.Errorf("%w: requested %d keys but only %d available", apperrors.ErrInsufficientStock, amount, len(keys))
	}
	for _, key := range keys[:amount] {
		patch := Patch{
			OrderID: Set(orderID),
			Status:  Set(StatusSold),
		}
		if key.ValidFor != nil && *key.ValidFor > 0 {
			patch.ExpiresAt = Set(m.expiryFrom(*key.ValidFor))
		}
		if _, err := m.repo.Update(ctx, key.ID, patch); err != nil {
			return fmt.Errorf("sell key %d: %w", key.ID, err)
		}
	}
	return nil
}

// Activate increments the activation counter of the key by exactly one.
// The increment is atomic at the storage layer: concurrent activations of
// the same key can never push the counter past its cap.
func (m *Manager) Activate(ctx context.Context, id int64) (*Key, error) {
	key, err := m.repo.IncrementActivation(ctx, id)
	if err != nil {
		m.metrics.recordActivation(ctx, false)
		return nil, err
	}
	m.metrics.recordActivation(ctx, true)
	m.logger.InfoContext(ctx, "license key activated",
		slog.Int64("key_id", key.ID),
		slog.Int("times_activated", key.TimesActivated))
	return key, nil
}

// ActivateByKey resolves the plaintext key via its hash and activates it.
func (m *Manager) ActivateByKey(ctx context.Context, plaintext string) (*Key, error) {
	key, err := m.repo.FindByHash(ctx, m.crypto.Hash(plaintext))
	if err != nil {
		return nil, err
	}
	return m.Activate(ctx, key.ID)
}

// GetByKey resolves a key by its plaintext without mutating it.
func (m *Manager) GetByKey(ctx context.Context, plaintext string) (*Key, error) {
	return m.repo.FindByHash(ctx, m.crypto.Hash(plaintext))
}

// GetByID fetches a key by surrogate ID.
func (m *Manager) GetByID(ctx context.Context, id int64) (*Key, error) {
	return m.repo.FindByID(ctx, id)
}

// ListKeys returns keys matching the filter.
func (m *Manager) ListKeys(ctx context.Context, filter Filter) ([]*Key, error) {
	return m.repo.FindAllBy(ctx, filter)
}

// CountKeys returns the number of keys matching the filter.
func (m *Manager) CountKeys(ctx context.Context, filter Filter) (int64, error) {
	return m.repo.CountBy(ctx, filter)
}

// Reveal decrypts the stored ciphertext of a key. Returns an empty string
// when the ciphertext cannot be opened.
func (m *Manager) Reveal(key *Key) string {
	return m.crypto.Decrypt(key.Ciphertext)
}

// UpdateSelective applies a three-state patch to a key. Content fields
// (license key plaintext, source) are frozen once the key is SOLD,
// DELIVERED or USED. When new plaintext is supplied, ciphertext and hash
// are recomputed together; updating one without the other would break the
// hash-level uniqueness invariant.
func (m *Manager) UpdateSelective(ctx context.Context, id int64, patch Patch) (*Key, error) {
	if patch.Empty() {
		return nil, apperrors.ErrNothingToUpdate
	}
	if patch.Ciphertext.IsSet() || patch.Hash.IsSet() {
		return nil, fmt.Errorf("%w: ciphertext and hash are derived, supply license_key instead", apperrors.ErrValidation)
	}
	if patch.Status.IsSet() && !patch.Status.IsNull() && !patch.Status.Value().Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", apperrors.ErrValidation, patch.Status.Value())
	}
	if patch.Source.IsSet() && !patch.Source.IsNull() && !patch.Source.Value().Valid() {
		return nil, fmt.Errorf("%w: invalid source %q", apperrors.ErrValidation, patch.Source.Value())
	}

	existing, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Status.Immutable() && (patch.LicenseKey.IsSet() || patch.Source.IsSet()) {
		return nil, fmt.Errorf("%w: key %d has status %s", apperrors.ErrImmutableState, id, existing.Status)
	}

	if patch.LicenseKey.IsSet() {
		if patch.LicenseKey.IsNull() || patch.LicenseKey.Value() == "" {
			return nil, fmt.Errorf("%w: license key cannot be cleared", apperrors.ErrValidation)
		}
		plaintext := patch.LicenseKey.Value()
		hash := m.crypto.Hash(plaintext)
		if other, err := m.repo.FindByHash(ctx, hash); err == nil && other.ID != id {
			return nil, fmt.Errorf("%w: another key with the same value exists", apperrors.ErrDuplicateKey)
		} else if err != nil && !errors.Is(err, apperrors.ErrKeyNotFound) {
			return nil, err
		}
		ciphertext, err := m.crypto.Encrypt(plaintext)
		if err != nil {
			return nil, fmt.Errorf("encrypt license key: %w", err)
		}
		patch.Ciphertext = Set(ciphertext)
		patch.Hash = Set(hash)
	}

	updated, err := m.repo.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "license key updated", slog.Int64("key_id", id))
	return updated, nil
}

// DeleteKeys removes the given keys where their status allows it. Sold,
// delivered and used keys are skipped, never deleted; the result reports
// both counts so partial failure is visible to the caller.
func (m *Manager) DeleteKeys(ctx context.Context, ids []int64) (BatchResult, error) {
	if len(ids) == 0 {
		return BatchResult{}, fmt.Errorf("%w: no key ids given", apperrors.ErrValidation)
	}

	var result BatchResult
	deletable := make([]int64, 0, len(ids))
	for _, id := range ids {
		key, err := m.repo.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, apperrors.ErrKeyNotFound) {
				result.Skipped++
				continue
			}
			return result, err
		}
		if !key.Status.Deletable() {
			result.Skipped++
			continue
		}
		deletable = append(deletable, id)
	}

	if len(deletable) > 0 {
		deleted, err := m.repo.Delete(ctx, deletable)
		if err != nil {
			return result, err
		}
		result.Succeeded = int(deleted)
	}

	m.logger.InfoContext(ctx, "license keys deleted",
		slog.Int("succeeded", result.Succeeded),
		slog.Int("skipped", result.Skipped))
	return result, nil
}

// expiryFrom computes a sale-time expiry from a validity window in days.
func (m *Manager) expiryFrom(validForDays int) time.Time {
	return m.now().UTC().Add(time.Duration(validForDays) * 24 * time.Hour)
}
