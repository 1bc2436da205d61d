package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "keymint/internal/errors"
	"keymint/internal/license"
	"keymint/internal/services"
)

var validate = validator.New()

// LicenseHandler handles license key HTTP requests.
type LicenseHandler struct {
	service services.LicenseService
	logger  *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service services.LicenseService, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

// Routes returns a chi router for the license endpoints.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Delete("/", h.Delete)
	r.Get("/validate/{key}", h.Validate)
	r.Put("/activate/{key}", h.Activate)
	r.Get("/{key}", h.Get)
	r.Put("/{key}", h.Update)

	return r
}

// CreateLicenseRequest is the POST /licenses payload. Either an explicit
// key or a generator reference must be present.
type CreateLicenseRequest struct {
	LicenseKey        string `json:"license_key" validate:"omitempty,min=1"`
	GeneratorID       *int64 `json:"generator_id"`
	Amount            int    `json:"amount" validate:"omitempty,min=1"`
	OrderID           *int64 `json:"order_id"`
	ProductID         *int64 `json:"product_id"`
	ValidFor          *int   `json:"valid_for" validate:"omitempty,min=1"`
	Status            string `json:"status" validate:"omitempty,oneof=INACTIVE ACTIVE SOLD DELIVERED USED"`
	Source            string `json:"source" validate:"omitempty,oneof=GENERATOR IMPORT MANUAL API"`
	TimesActivatedMax *int   `json:"times_activated_max" validate:"omitempty,min=0"`
}

// Bind implements the render.Binder interface.
func (c *CreateLicenseRequest) Bind(r *http.Request) error {
	if c.LicenseKey == "" && c.GeneratorID == nil {
		return errors.New("either license_key or generator_id is required")
	}
	if c.LicenseKey != "" && c.GeneratorID != nil {
		return errors.New("license_key and generator_id are mutually exclusive")
	}
	if c.GeneratorID != nil && c.Amount < 1 {
		return errors.New("amount is required when generating")
	}
	return validate.Struct(c)
}

// List handles GET /licenses
func (h *LicenseHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	keys, total, err := h.service.ListKeys(r.Context(), filter)
	if err != nil {
		h.logError(r, "list licenses failed", err)
		respondError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, map[string]interface{}{
		"licenses": keys,
		"total":    total,
	})
}

// Get handles GET /licenses/{key}
func (h *LicenseHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	view, err := h.service.GetKey(r.Context(), key)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, view)
}

// Create handles POST /licenses
func (h *LicenseHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("license-handler").Start(r.Context(), "license_handler.create",
		trace.WithAttributes(attribute.String("http.route", "/api/v2/licenses")))
	defer span.End()

	var req CreateLicenseRequest
	if err := render.Bind(r, &req); err != nil {
		respondError(w, r, fmt.Errorf("%w: %s", apperrors.ErrValidation, err.Error()))
		return
	}

	if req.GeneratorID != nil {
		status := license.Status(req.Status)
		if status == "" {
			status = license.StatusActive
		}
		created, err := h.service.GenerateKeys(ctx, services.GenerateKeysParams{
			GeneratorID: *req.GeneratorID,
			Amount:      req.Amount,
			Status:      status,
			OrderID:     req.OrderID,
			ProductID:   req.ProductID,
		})
		if err != nil {
			h.logError(r, "generate licenses failed", err)
			respondError(w, r, err)
			return
		}
		respondData(w, r, http.StatusCreated, map[string]interface{}{"generated": created})
		return
	}

	status := license.Status(req.Status)
	if status == "" {
		status = license.StatusInactive
	}
	source := license.Source(req.Source)
	if source == "" {
		source = license.SourceAPI
	}
	view, err := h.service.CreateKey(ctx, services.CreateKeyParams{
		Key:               req.LicenseKey,
		OrderID:           req.OrderID,
		ProductID:         req.ProductID,
		ValidFor:          req.ValidFor,
		Status:            status,
		Source:            source,
		TimesActivatedMax: req.TimesActivatedMax,
	})
	if err != nil {
		h.logError(r, "create license failed", err)
		respondError(w, r, err)
		return
	}
	respondData(w, r, http.StatusCreated, view)
}

// Update handles PUT /licenses/{key} with three-state field semantics:
// absent fields are untouched, JSON null clears, values set.
func (h *LicenseHandler) Update(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	patch, err := decodePatch(r)
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: %s", apperrors.ErrValidation, err.Error()))
		return
	}

	view, err := h.service.UpdateKey(r.Context(), key, patch)
	if err != nil {
		h.logError(r, "update license failed", err)
		respondError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, view)
}

// Activate handles PUT /licenses/activate/{key}
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	view, err := h.service.ActivateKey(r.Context(), key)
	if err != nil {
		h.logError(r, "activate license failed", err)
		respondError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, view)
}

// Validate handles GET /licenses/validate/{key}
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	view, err := h.service.ValidateKey(r.Context(), key)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, view)
}

// DeleteLicensesRequest is the DELETE /licenses payload.
type DeleteLicensesRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1"`
}

// Bind implements the render.Binder interface.
func (d *DeleteLicensesRequest) Bind(r *http.Request) error {
	return validate.Struct(d)
}

// Delete handles DELETE /licenses. Sold inventory is skipped, not deleted;
// the response reports both counts.
func (h *LicenseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req DeleteLicensesRequest
	if err := render.Bind(r, &req); err != nil {
		respondError(w, r, fmt.Errorf("%w: %s", apperrors.ErrValidation, err.Error()))
		return
	}
	result, err := h.service.DeleteKeys(r.Context(), req.IDs)
	if err != nil {
		h.logError(r, "delete licenses failed", err)
		respondError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, result)
}

func (h *LicenseHandler) logError(r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), msg,
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("error", err.Error()))
}

// decodePatch reads the update payload preserving the absent/null/value
// distinction per field.
func decodePatch(r *http.Request) (license.Patch, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return license.Patch{}, err
	}

	var patch license.Patch
	for field, value := range raw {
		isNull := string(value) == "null"
		switch field {
		case "license_key":
			if isNull {
				patch.LicenseKey = license.Null[string]()
				continue
			}
			var v string
			if err := json.Unmarshal(value, &v); err != nil {
				return patch, fmt.Errorf("invalid license_key: %w", err)
			}
			patch.LicenseKey = license.Set(v)
		case "order_id":
			if isNull {
				patch.OrderID = license.Null[int64]()
				continue
			}
			var v int64
			if err := json.Unmarshal(value, &v); err != nil {
				return patch, fmt.Errorf("invalid order_id: %w", err)
			}
			patch.OrderID = license.Set(v)
		case "product_id":
			if isNull {
				patch.ProductID = license.Null[int64]()
				continue
			}
			var v int64
			if err := json.Unmarshal(value, &v); err != nil {
				return patch, fmt.Errorf("invalid product_id: %w", err)
			}
			patch.ProductID = license.Set(v)
		case "valid_for":
			if isNull {
				patch.ValidFor = license.Null[int]()
				continue
			}
			var v int
			if err := json.Unmarshal(value, &v); err != nil {
				return patch, fmt.Errorf("invalid valid_for: %w", err)
			}
			patch.ValidFor = license.Set(v)
		case "expires_at":
			if isNull {
				patch.ExpiresAt = license.Null[time.Time]()
				continue
			}
			var v time.Time
			if err := json.Unmarshal(value, &v); err != nil {
				return patch, fmt.Errorf("invalid expires_at: %w", err)
			}
			patch.ExpiresAt = license.Set(v)
		case "status":
			if isNull {
				return patch, errors.New("status cannot be null")
			}
			var v string
			if err := json.Unmarshal(value, &v); err != nil {
				return patch, fmt.Errorf("invalid status: %w", err)
			}
			patch.Status = license.Set(license.Status(v))
		case "source":
			if isNull {
				return patch, errors.New("source cannot be null")
			}
			var v string
			if err := json.Unmarshal(value, &v); err != nil {
				return patch, fmt.Errorf("invalid source: %w", err)
			}
			patch.Source = license.Set(license.Source(v))
		case "times_activated_max":
			if isNull {
				patch.TimesActivatedMax = license.Null[int]()
				continue
			}
			var v int
			if err := json.Unmarshal(value, &v); err != nil {
				return patch, fmt.Errorf("invalid times_activated_max: %w", err)
			}
			patch.TimesActivatedMax = license.Set(v)
		default:
			return patch, fmt.Errorf("unknown field %q", field)
		}
	}
	return patch, nil
}
