// Package services provides the business-logic layer between the HTTP
// handlers and the lifecycle manager.
package services

import (
	"context"
	"log/slog"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	apperrors "keymint/internal/errors"
	"keymint/internal/generator"
	"keymint/internal/license"
	"keymint/internal/store"
)

// LicenseService provides business logic for license key operations.
type LicenseService interface {
	ListKeys(ctx context.Context, filter license.Filter) ([]*KeyView, int64, error)
	GetKey(ctx context.Context, plaintext string) (*KeyView, error)
	CreateKey(ctx context.Context, params CreateKeyParams) (*KeyView, error)
	GenerateKeys(ctx context.Context, params GenerateKeysParams) (int, error)
	UpdateKey(ctx context.Context, plaintext string, patch license.Patch) (*KeyView, error)
	ActivateKey(ctx context.Context, plaintext string) (*KeyView, error)
	ValidateKey(ctx context.Context, plaintext string) (*ValidationView, error)
	DeleteKeys(ctx context.Context, ids []int64) (license.BatchResult, error)

	FulfillOrder(ctx context.Context, orderID int64, items []license.OrderItem) (*license.FulfillmentResult, error)
	StockCount(ctx context.Context, productID int64) (int64, error)
	SaveProduct(ctx context.Context, product *license.Product) error

	CreateGenerator(ctx context.Context, spec *generator.Spec) (*generator.Spec, error)
	GetGenerator(ctx context.Context, id int64) (*generator.Spec, error)
	ListGenerators(ctx context.Context) ([]*generator.Spec, error)
	UpdateGenerator(ctx context.Context, spec *generator.Spec) (*generator.Spec, error)
	DeleteGenerator(ctx context.Context, id int64) error
}

// KeyView is the API-facing projection of a license key. LicenseKey holds
// the decrypted plaintext and is only populated on single-key reads and
// creates, never on listings.
type KeyView struct {
	ID                int64      `json:"id"`
	LicenseKey        string     `json:"license_key,omitempty"`
	OrderID           *int64     `json:"order_id,omitempty"`
	ProductID         *int64     `json:"product_id,omitempty"`
	ValidFor          *int       `json:"valid_for,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	Source            string     `json:"source"`
	Status            string     `json:"status"`
	TimesActivated    int        `json:"times_activated"`
	TimesActivatedMax *int       `json:"times_activated_max,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ValidationView is the response of the non-mutating validate endpoint.
type ValidationView struct {
	TimesActivated       int    `json:"times_activated"`
	TimesActivatedMax    *int   `json:"times_activated_max"`
	RemainingActivations *int   `json:"remaining_activations"`
	Status               string `json:"status"`
}

// CreateKeyParams describes an explicit key create.
type CreateKeyParams struct {
	Key               string
	OrderID           *int64
	ProductID         *int64
	ValidFor          *int
	Status            license.Status
	Source            license.Source
	TimesActivatedMax *int
}

// GenerateKeysParams describes a stock generation request. A non-nil
// OrderID links the generated keys to an order directly.
type GenerateKeysParams struct {
	GeneratorID int64
	Amount      int
	Status      license.Status
	OrderID     *int64
	ProductID   *int64
}

type licenseService struct {
	manager *license.Manager
	store   *store.Store
	logger  *slog.Logger
}

// NewLicenseService creates the license service.
func NewLicenseService(manager *license.Manager, st *store.Store, logger *slog.Logger) LicenseService {
	return &licenseService{
		manager: manager,
		store:   st,
		logger:  logger.With(slog.String("service", "license")),
	}
}

func (s *licenseService) view(key *license.Key, reveal bool) *KeyView {
	v := &KeyView{
		ID:                key.ID,
		OrderID:           key.OrderID,
		ProductID:         key.ProductID,
		ValidFor:          key.ValidFor,
		ExpiresAt:         key.ExpiresAt,
		Source:            string(key.Source),
		Status:            string(key.Status),
		TimesActivated:    key.TimesActivated,
		TimesActivatedMax: key.TimesActivatedMax,
		CreatedAt:         key.CreatedAt,
		UpdatedAt:         key.UpdatedAt,
	}
	if reveal {
		v.LicenseKey = s.manager.Reveal(key)
	}
	return v
}

func (s *licenseService) ListKeys(ctx context.Context, filter license.Filter) ([]*KeyView, int64, error) {
	keys, err := s.manager.ListKeys(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.manager.CountKeys(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	views := make([]*KeyView, 0, len(keys))
	for _, key := range keys {
		views = append(views, s.view(key, false))
	}
	return views, total, nil
}

func (s *licenseService) GetKey(ctx context.Context, plaintext string) (*KeyView, error) {
	key, err := s.manager.GetByKey(ctx, plaintext)
	if err != nil {
		return nil, err
	}
	return s.view(key, true), nil
}

func (s *licenseService) CreateKey(ctx context.Context, params CreateKeyParams) (*KeyView, error) {
	key, err := s.manager.CreateKey(ctx, license.CreateKeyRequest{
		Key:               params.Key,
		OrderID:           params.OrderID,
		ProductID:         params.ProductID,
		ValidFor:          params.ValidFor,
		Status:            params.Status,
		Source:            params.Source,
		TimesActivatedMax: params.TimesActivatedMax,
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "license key created via api",
		slog.String("request_id", chimiddleware.GetReqID(ctx)),
		slog.Int64("key_id", key.ID))
	return s.view(key, true), nil
}

func (s *licenseService) GenerateKeys(ctx context.Context, params GenerateKeysParams) (int, error) {
	spec, err := s.store.FindSpec(ctx, params.GeneratorID)
	if err != nil {
		return 0, err
	}
	status := params.Status
	if status == "" {
		status = license.StatusActive
	}
	return s.manager.GenerateKeys(ctx, *spec, params.Amount, status, params.OrderID, params.ProductID)
}

func (s *licenseService) UpdateKey(ctx context.Context, plaintext string, patch license.Patch) (*KeyView, error) {
	key, err := s.manager.GetByKey(ctx, plaintext)
	if err != nil {
		return nil, err
	}
	updated, err := s.manager.UpdateSelective(ctx, key.ID, patch)
	if err != nil {
		return nil, err
	}
	return s.view(updated, true), nil
}

func (s *licenseService) ActivateKey(ctx context.Context, plaintext string) (*KeyView, error) {
	key, err := s.manager.ActivateByKey(ctx, plaintext)
	if err != nil {
		return nil, err
	}
	return s.view(key, false), nil
}

func (s *licenseService) ValidateKey(ctx context.Context, plaintext string) (*ValidationView, error) {
	key, err := s.manager.GetByKey(ctx, plaintext)
	if err != nil {
		return nil, err
	}
	return &ValidationView{
		TimesActivated:       key.TimesActivated,
		TimesActivatedMax:    key.TimesActivatedMax,
		RemainingActivations: key.RemainingActivations(),
		Status:               string(key.Status),
	}, nil
}

func (s *licenseService) DeleteKeys(ctx context.Context, ids []int64) (license.BatchResult, error) {
	return s.manager.DeleteKeys(ctx, ids)
}

func (s *licenseService) FulfillOrder(ctx context.Context, orderID int64, items []license.OrderItem) (*license.FulfillmentResult, error) {
	return s.manager.FulfillOrder(ctx, orderID, items)
}

func (s *licenseService) StockCount(ctx context.Context, productID int64) (int64, error) {
	if productID <= 0 {
		return 0, apperrors.ErrValidation
	}
	status := license.StatusActive
	return s.manager.CountKeys(ctx, license.Filter{ProductID: &productID, Status: &status})
}

func (s *licenseService) SaveProduct(ctx context.Context, product *license.Product) error {
	return s.store.SaveProduct(ctx, product)
}

func (s *licenseService) CreateGenerator(ctx context.Context, spec *generator.Spec) (*generator.Spec, error) {
	return s.store.CreateSpec(ctx, spec)
}

func (s *licenseService) GetGenerator(ctx context.Context, id int64) (*generator.Spec, error) {
	return s.store.FindSpec(ctx, id)
}

func (s *licenseService) ListGenerators(ctx context.Context) ([]*generator.Spec, error) {
	return s.store.ListSpecs(ctx)
}

func (s *licenseService) UpdateGenerator(ctx context.Context, spec *generator.Spec) (*generator.Spec, error) {
	return s.store.UpdateSpec(ctx, spec)
}

func (s *licenseService) DeleteGenerator(ctx context.Context, id int64) error {
	return s.store.DeleteSpec(ctx, id)
}
