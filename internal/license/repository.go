package license

import (
	"context"

	"keymint/internal/generator"
)

// Filter narrows repository queries. Nil fields do not constrain.
type Filter struct {
	OrderID   *int64
	ProductID *int64
	Status    *Status
	Source    *Source
	Limit     int
	Offset    int
}

// Repository is the persistence collaborator for license keys. Lookups that
// find nothing return errors.ErrKeyNotFound; Insert returns
// errors.ErrDuplicateKey when the hash already exists, which the collision
// regeneration loop relies on to stay correct under concurrent inserts.
type Repository interface {
	Insert(ctx context.Context, key *Key) (*Key, error)
	FindByID(ctx context.Context, id int64) (*Key, error)
	FindByHash(ctx context.Context, hash string) (*Key, error)
	FindAllBy(ctx context.Context, filter Filter) ([]*Key, error)
	CountBy(ctx context.Context, filter Filter) (int64, error)
	Update(ctx context.Context, id int64, patch Patch) (*Key, error)
	UpdateBy(ctx context.Context, filter Filter, patch Patch) (int64, error)
	Delete(ctx context.Context, ids []int64) (int64, error)

	// IncrementActivation bumps times_activated by exactly one, atomically
	// guarded by the cap at the storage layer. It returns the updated key,
	// errors.ErrActivationLimitExceeded when the cap is reached,
	// errors.ErrActivationNotConfigured when no cap is set, or
	// errors.ErrKeyNotFound.
	IncrementActivation(ctx context.Context, id int64) (*Key, error)
}

// OrderFlags tracks per-order fulfillment completion, the idempotency guard
// for the fulfillment entry point.
type OrderFlags interface {
	IsFulfilled(ctx context.Context, orderID int64) (bool, error)
	MarkFulfilled(ctx context.Context, orderID int64) error
}

// ProductCatalog resolves the license configuration of a product. A product
// unknown to the catalog is not license-selling and is skipped by
// fulfillment.
type ProductCatalog interface {
	FindProduct(ctx context.Context, id int64) (*Product, error)
}

// SpecSource resolves persisted generator specs by ID.
type SpecSource interface {
	FindSpec(ctx context.Context, id int64) (*generator.Spec, error)
}

// Crypto is the encryption/hashing collaborator. Decrypt fails closed and
// returns an empty string on any tamper or key mismatch.
type Crypto interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) string
	Hash(plaintext string) string
}
