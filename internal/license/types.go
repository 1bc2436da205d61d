package license

import (
	"time"
)

// Status is the lifecycle state of a license key.
type Status string

const (
	StatusInactive  Status = "INACTIVE"
	StatusActive    Status = "ACTIVE"
	StatusSold      Status = "SOLD"
	StatusDelivered Status = "DELIVERED"
	StatusUsed      Status = "USED"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusInactive, StatusActive, StatusSold, StatusDelivered, StatusUsed:
		return true
	}
	return false
}

// Immutable reports whether keys in this status protect their content
// fields. Sold inventory never has its key material or provenance rewritten;
// only metadata such as order linkage may still change.
func (s Status) Immutable() bool {
	switch s {
	case StatusSold, StatusDelivered, StatusUsed:
		return true
	}
	return false
}

// Deletable reports whether keys in this status may be removed. Anything
// that has been sold or handed to a customer stays on record.
func (s Status) Deletable() bool {
	return s == StatusInactive || s == StatusActive
}

// Source is the provenance of a license key.
type Source string

const (
	SourceGenerator Source = "GENERATOR"
	SourceImport    Source = "IMPORT"
	SourceManual    Source = "MANUAL"
	SourceAPI       Source = "API"
)

// Valid reports whether s is a known source value.
func (s Source) Valid() bool {
	switch s {
	case SourceGenerator, SourceImport, SourceManual, SourceAPI:
		return true
	}
	return false
}

// Key is the central license key entity. The plaintext key string is never
// stored: Ciphertext holds the AES-GCM sealed form and Hash a keyed HMAC of
// the plaintext used for equality lookups and uniqueness enforcement.
type Key struct {
	ID                int64      `json:"id"`
	OrderID           *int64     `json:"order_id,omitempty"`
	ProductID         *int64     `json:"product_id,omitempty"`
	Ciphertext        string     `json:"-"`
	Hash              string     `json:"-"`
	ValidFor          *int       `json:"valid_for,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	Source            Source     `json:"source"`
	Status            Status     `json:"status"`
	TimesActivated    int        `json:"times_activated"`
	TimesActivatedMax *int       `json:"times_activated_max,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	CreatedBy         string     `json:"created_by,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
	UpdatedBy         string     `json:"updated_by,omitempty"`
}

// RemainingActivations returns how many activations are left, or nil when
// no cap is configured.
func (k *Key) RemainingActivations() *int {
	if k.TimesActivatedMax == nil {
		return nil
	}
	remaining := *k.TimesActivatedMax - k.TimesActivated
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

// Product is the minimal product configuration the fulfillment policy needs:
// whether the product sells from pre-generated stock, which generator spec
// backs on-demand generation (nil means none), and how many keys one
// purchased unit delivers.
type Product struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	SellsStock        bool   `json:"sells_stock"`
	GeneratorID       *int64 `json:"generator_id,omitempty"`
	DeliveredQuantity int    `json:"delivered_quantity"`
}

// OrderItem is one line item of an order being fulfilled.
type OrderItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// FulfillmentResult reports what an order fulfillment pass did. Backordered
// counts keys that could not be issued because stock ran out and the product
// has no generator fallback; the order stays unfulfilled so a later retry
// can issue the remainder.
type FulfillmentResult struct {
	OrderID          int64 `json:"order_id"`
	AlreadyFulfilled bool  `json:"already_fulfilled"`
	SoldFromStock    int   `json:"sold_from_stock"`
	Generated        int   `json:"generated"`
	Backordered      int   `json:"backordered"`
	Delivered        int64 `json:"delivered"`
}

// BatchResult is the aggregate outcome of a partial-success bulk operation.
type BatchResult struct {
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
}
