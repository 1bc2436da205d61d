package http

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apperrors "keymint/internal/errors"
	"keymint/internal/generator"
	"keymint/internal/services"
)

// GeneratorHandler manages the generator spec registry endpoints.
type GeneratorHandler struct {
	service services.LicenseService
	logger  *slog.Logger
}

// NewGeneratorHandler creates a new generator handler
func NewGeneratorHandler(service services.LicenseService, logger *slog.Logger) *GeneratorHandler {
	return &GeneratorHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "generator")),
	}
}

// Routes returns a chi router for the generator endpoints.
func (h *GeneratorHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	return r
}

// GeneratorRequest is the create/update payload for a generator spec.
type GeneratorRequest struct {
	Name              string `json:"name" validate:"required"`
	Charset           string `json:"charset" validate:"required"`
	Chunks            int    `json:"chunks" validate:"required,min=1"`
	ChunkLength       int    `json:"chunk_length" validate:"required,min=1"`
	Separator         string `json:"separator"`
	Prefix            string `json:"prefix"`
	Suffix            string `json:"suffix"`
	ExpiresIn         int    `json:"expires_in" validate:"min=0"`
	TimesActivatedMax int    `json:"times_activated_max" validate:"min=0"`
}

// Bind implements the render.Binder interface.
func (g *GeneratorRequest) Bind(r *http.Request) error {
	return validate.Struct(g)
}

func (g *GeneratorRequest) toSpec() *generator.Spec {
	return &generator.Spec{
		Name:              g.Name,
		Charset:           g.Charset,
		Chunks:            g.Chunks,
		ChunkLength:       g.ChunkLength,
		Separator:         g.Separator,
		Prefix:            g.Prefix,
		Suffix:            g.Suffix,
		ExpiresIn:         g.ExpiresIn,
		TimesActivatedMax: g.TimesActivatedMax,
	}
}

// List handles GET /generators
func (h *GeneratorHandler) List(w http.ResponseWriter, r *http.Request) {
	specs, err := h.service.ListGenerators(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, map[string]interface{}{"generators": specs})
}

// Get handles GET /generators/{id}
func (h *GeneratorHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"), "generator id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	spec, err := h.service.GetGenerator(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, spec)
}

// Create handles POST /generators
func (h *GeneratorHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req GeneratorRequest
	if err := render.Bind(r, &req); err != nil {
		respondError(w, r, fmt.Errorf("%w: %s", apperrors.ErrValidation, err.Error()))
		return
	}
	spec, err := h.service.CreateGenerator(r.Context(), req.toSpec())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "create generator failed",
			slog.String("error", err.Error()))
		respondError(w, r, err)
		return
	}
	respondData(w, r, http.StatusCreated, spec)
}

// Update handles PUT /generators/{id}
func (h *GeneratorHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"), "generator id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	var req GeneratorRequest
	if err := render.Bind(r, &req); err != nil {
		respondError(w, r, fmt.Errorf("%w: %s", apperrors.ErrValidation, err.Error()))
		return
	}
	spec := req.toSpec()
	spec.ID = id
	updated, err := h.service.UpdateGenerator(r.Context(), spec)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, updated)
}

// Delete handles DELETE /generators/{id}. A spec still referenced by a
// product cannot be removed.
func (h *GeneratorHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"), "generator id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := h.service.DeleteGenerator(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, map[string]interface{}{"deleted": id})
}
