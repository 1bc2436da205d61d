package http

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	apperrors "keymint/internal/errors"
	"keymint/internal/license"
	"keymint/internal/services"
)

// OrderHandler exposes the order fulfillment entry point and the product
// configuration endpoints.
type OrderHandler struct {
	service services.LicenseService
	logger  *slog.Logger
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(service services.LicenseService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "order")),
	}
}

// Routes returns a chi router for the order endpoints.
func (h *OrderHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{id}/fulfill", h.Fulfill)
	return r
}

// ProductRoutes returns a chi router for the product endpoints.
func (h *OrderHandler) ProductRoutes() chi.Router {
	r := chi.NewRouter()
	r.Put("/{id}", h.SaveProduct)
	r.Get("/{id}/stock", h.Stock)
	return r
}

// FulfillOrderRequest is the order-completion payload.
type FulfillOrderRequest struct {
	Items []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

// OrderItemRequest is one purchased line item.
type OrderItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,min=1"`
	Quantity  int   `json:"quantity" validate:"required,min=1"`
}

// Bind implements the render.Binder interface.
func (f *FulfillOrderRequest) Bind(r *http.Request) error {
	return validate.Struct(f)
}

// Fulfill handles POST /orders/{id}/fulfill. The operation is idempotent:
// repeating it for a fulfilled order issues nothing.
func (h *OrderHandler) Fulfill(w http.ResponseWriter, r *http.Request) {
	orderID, err := parseID(chi.URLParam(r, "id"), "order id")
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req FulfillOrderRequest
	if err := render.Bind(r, &req); err != nil {
		respondError(w, r, fmt.Errorf("%w: %s", apperrors.ErrValidation, err.Error()))
		return
	}

	items := make([]license.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, license.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	result, err := h.service.FulfillOrder(r.Context(), orderID, items)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "order fulfillment failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Int64("order_id", orderID),
			slog.String("error", err.Error()))
		respondError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, result)
}

// ProductRequest configures a product's license behavior.
type ProductRequest struct {
	Name              string `json:"name"`
	SellsStock        bool   `json:"sells_stock"`
	GeneratorID       *int64 `json:"generator_id"`
	DeliveredQuantity int    `json:"delivered_quantity" validate:"omitempty,min=1"`
}

// Bind implements the render.Binder interface.
func (p *ProductRequest) Bind(r *http.Request) error {
	return validate.Struct(p)
}

// SaveProduct handles PUT /products/{id}
func (h *OrderHandler) SaveProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := parseID(chi.URLParam(r, "id"), "product id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	var req ProductRequest
	if err := render.Bind(r, &req); err != nil {
		respondError(w, r, fmt.Errorf("%w: %s", apperrors.ErrValidation, err.Error()))
		return
	}
	product := &license.Product{
		ID:                productID,
		Name:              req.Name,
		SellsStock:        req.SellsStock,
		GeneratorID:       req.GeneratorID,
		DeliveredQuantity: req.DeliveredQuantity,
	}
	if err := h.service.SaveProduct(r.Context(), product); err != nil {
		respondError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, product)
}

// Stock handles GET /products/{id}/stock, the count of sellable ACTIVE keys.
func (h *OrderHandler) Stock(w http.ResponseWriter, r *http.Request) {
	productID, err := parseID(chi.URLParam(r, "id"), "product id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	count, err := h.service.StockCount(r.Context(), productID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, map[string]interface{}{
		"product_id": productID,
		"stock":      count,
	})
}
