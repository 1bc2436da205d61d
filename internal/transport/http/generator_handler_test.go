package http

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "keymint/internal/errors"
)

func TestGeneratorCreate(t *testing.T) {
	stub := &stubService{}
	handler := NewGeneratorHandler(stub, testLogger()).Routes()

	rec := doJSON(t, handler, http.MethodPost, "/",
		`{"name":"retail","charset":"ABC123","chunks":4,"chunk_length":5,"separator":"-","prefix":"KM-","expires_in":365}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, stub.createdSpec)
	assert.Equal(t, "retail", stub.createdSpec.Name)
	assert.Equal(t, 4, stub.createdSpec.Chunks)
	assert.Equal(t, "KM-", stub.createdSpec.Prefix)
}

func TestGeneratorCreateValidation(t *testing.T) {
	handler := NewGeneratorHandler(&stubService{}, testLogger()).Routes()

	tests := []struct {
		name string
		body string
	}{
		{name: "missing name", body: `{"charset":"ABC","chunks":1,"chunk_length":1}`},
		{name: "missing charset", body: `{"name":"x","chunks":1,"chunk_length":1}`},
		{name: "zero chunks", body: `{"name":"x","charset":"ABC","chunks":0,"chunk_length":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, handler, http.MethodPost, "/", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGeneratorCreateDuplicateName(t *testing.T) {
	handler := NewGeneratorHandler(&stubService{err: apperrors.ErrDuplicateGeneratorName}, testLogger()).Routes()

	rec := doJSON(t, handler, http.MethodPost, "/",
		`{"name":"retail","charset":"ABC","chunks":1,"chunk_length":1}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGeneratorGetAndList(t *testing.T) {
	handler := NewGeneratorHandler(&stubService{}, testLogger()).Routes()

	rec := doJSON(t, handler, http.MethodGet, "/3", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"retail"`)

	rec = doJSON(t, handler, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"generators"`)

	rec = doJSON(t, handler, http.MethodGet, "/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGeneratorDelete(t *testing.T) {
	stub := &stubService{}
	handler := NewGeneratorHandler(stub, testLogger()).Routes()

	rec := doJSON(t, handler, http.MethodDelete, "/5", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 5, stub.deletedSpecID)
}

func TestGeneratorDeleteInUse(t *testing.T) {
	handler := NewGeneratorHandler(&stubService{err: apperrors.ErrGeneratorInUse}, testLogger()).Routes()

	rec := doJSON(t, handler, http.MethodDelete, "/5", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
