package http

import (
	"net/http"

	"github.com/go-chi/render"

	apperrors "keymint/internal/errors"
)

// DataResponse is the success envelope for all v2 endpoints.
type DataResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

func respondData(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	render.Status(r, status)
	render.JSON(w, r, DataResponse{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	problem := apperrors.ProblemFromError(err, r.URL.Path)
	_ = render.Render(w, r, problem)
}
