package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/render"
)

// License domain errors (sentinel errors wrapped by the lifecycle manager
// and mapped to HTTP problems at the transport boundary).
var (
	ErrValidation              = errors.New("validation failed")
	ErrKeyNotFound             = errors.New("license key not found")
	ErrDuplicateKey            = errors.New("license key already exists")
	ErrKeyspaceExhausted       = errors.New("key space exhausted")
	ErrActivationLimitExceeded = errors.New("activation limit exceeded")
	ErrActivationNotConfigured = errors.New("activation limit not configured")
	ErrImmutableState          = errors.New("license key is immutable in its current status")
	ErrInsufficientStock       = errors.New("insufficient license key stock")
	ErrGeneratorNotFound       = errors.New("generator not found")
	ErrGeneratorInUse          = errors.New("generator is referenced by a product")
	ErrDuplicateGeneratorName  = errors.New("generator name already in use")
	ErrOrderAlreadyFulfilled   = errors.New("order already fulfilled")
	ErrNothingToUpdate         = errors.New("no fields to update")
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// Additional fields for extensibility
	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "application/problem+json")
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON custom marshaler to include extensions
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{})
	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}
	for k, v := range pd.Extensions {
		data[k] = v
	}
	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:     problemType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	}
}

// problemStatus maps a domain sentinel to its HTTP status and problem type.
func problemStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNothingToUpdate):
		return http.StatusBadRequest, "/errors/validation", "Validation Failed"
	case errors.Is(err, ErrKeyNotFound), errors.Is(err, ErrGeneratorNotFound):
		return http.StatusNotFound, "/errors/not-found", "Not Found"
	case errors.Is(err, ErrDuplicateKey):
		return http.StatusConflict, "/errors/duplicate-key", "Duplicate License Key"
	case errors.Is(err, ErrGeneratorInUse):
		return http.StatusConflict, "/errors/generator-in-use", "Generator In Use"
	case errors.Is(err, ErrDuplicateGeneratorName):
		return http.StatusConflict, "/errors/duplicate-generator", "Duplicate Generator Name"
	case errors.Is(err, ErrKeyspaceExhausted):
		return http.StatusUnprocessableEntity, "/errors/keyspace-exhausted", "Key Space Exhausted"
	case errors.Is(err, ErrActivationLimitExceeded):
		return http.StatusConflict, "/errors/activation-limit", "Activation Limit Exceeded"
	case errors.Is(err, ErrActivationNotConfigured):
		return http.StatusUnprocessableEntity, "/errors/activation-not-configured", "Activation Not Configured"
	case errors.Is(err, ErrImmutableState):
		return http.StatusConflict, "/errors/immutable", "License Key Immutable"
	case errors.Is(err, ErrInsufficientStock):
		return http.StatusConflict, "/errors/insufficient-stock", "Insufficient Stock"
	default:
		return http.StatusInternalServerError, "/errors/internal", "Internal Server Error"
	}
}

// ProblemFromError converts any error into an RFC 7807 problem, recognizing
// the domain sentinels. Unknown errors map to a generic 500 problem with the
// detail suppressed so internals do not leak to API clients.
func ProblemFromError(err error, instance string) *ProblemDetails {
	status, problemType, title := problemStatus(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		detail = "an internal error occurred"
	}
	return NewProblemDetails(status, problemType, title, detail, instance)
}
