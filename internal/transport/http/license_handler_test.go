package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "keymint/internal/errors"
	"keymint/internal/generator"
	"keymint/internal/license"
	"keymint/internal/services"
)

// stubService records the last call and returns canned values, so the tests
// exercise routing, binding and error mapping only.
type stubService struct {
	listFilter    license.Filter
	createParams  services.CreateKeyParams
	genParams     services.GenerateKeysParams
	updateKey     string
	updatePatch   license.Patch
	activated     string
	validated     string
	deletedIDs    []int64
	fulfillOrder  int64
	fulfillItems  []license.OrderItem
	savedProduct  *license.Product
	stockProduct  int64
	createdSpec   *generator.Spec
	deletedSpecID int64

	err error
}

func (s *stubService) view() *services.KeyView {
	return &services.KeyView{ID: 1, LicenseKey: "AAAA-BBBB", Status: "ACTIVE", Source: "API"}
}

func (s *stubService) ListKeys(_ context.Context, filter license.Filter) ([]*services.KeyView, int64, error) {
	s.listFilter = filter
	if s.err != nil {
		return nil, 0, s.err
	}
	return []*services.KeyView{s.view()}, 1, nil
}

func (s *stubService) GetKey(_ context.Context, plaintext string) (*services.KeyView, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.view(), nil
}

func (s *stubService) CreateKey(_ context.Context, params services.CreateKeyParams) (*services.KeyView, error) {
	s.createParams = params
	if s.err != nil {
		return nil, s.err
	}
	return s.view(), nil
}

func (s *stubService) GenerateKeys(_ context.Context, params services.GenerateKeysParams) (int, error) {
	s.genParams = params
	if s.err != nil {
		return 0, s.err
	}
	return params.Amount, nil
}

func (s *stubService) UpdateKey(_ context.Context, plaintext string, patch license.Patch) (*services.KeyView, error) {
	s.updateKey = plaintext
	s.updatePatch = patch
	if s.err != nil {
		return nil, s.err
	}
	return s.view(), nil
}

func (s *stubService) ActivateKey(_ context.Context, plaintext string) (*services.KeyView, error) {
	s.activated = plaintext
	if s.err != nil {
		return nil, s.err
	}
	return s.view(), nil
}

func (s *stubService) ValidateKey(_ context.Context, plaintext string) (*services.ValidationView, error) {
	s.validated = plaintext
	if s.err != nil {
		return nil, s.err
	}
	remaining := 3
	maxAct := 5
	return &services.ValidationView{
		TimesActivated:       2,
		TimesActivatedMax:    &maxAct,
		RemainingActivations: &remaining,
		Status:               "SOLD",
	}, nil
}

func (s *stubService) DeleteKeys(_ context.Context, ids []int64) (license.BatchResult, error) {
	s.deletedIDs = ids
	if s.err != nil {
		return license.BatchResult{}, s.err
	}
	return license.BatchResult{Succeeded: len(ids)}, nil
}

func (s *stubService) FulfillOrder(_ context.Context, orderID int64, items []license.OrderItem) (*license.FulfillmentResult, error) {
	s.fulfillOrder = orderID
	s.fulfillItems = items
	if s.err != nil {
		return nil, s.err
	}
	return &license.FulfillmentResult{OrderID: orderID, SoldFromStock: 1}, nil
}

func (s *stubService) StockCount(_ context.Context, productID int64) (int64, error) {
	s.stockProduct = productID
	if s.err != nil {
		return 0, s.err
	}
	return 7, nil
}

func (s *stubService) SaveProduct(_ context.Context, product *license.Product) error {
	s.savedProduct = product
	return s.err
}

func (s *stubService) CreateGenerator(_ context.Context, spec *generator.Spec) (*generator.Spec, error) {
	s.createdSpec = spec
	if s.err != nil {
		return nil, s.err
	}
	out := *spec
	out.ID = 1
	return &out, nil
}

func (s *stubService) GetGenerator(_ context.Context, id int64) (*generator.Spec, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &generator.Spec{ID: id, Name: "retail"}, nil
}

func (s *stubService) ListGenerators(_ context.Context) ([]*generator.Spec, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []*generator.Spec{{ID: 1, Name: "retail"}}, nil
}

func (s *stubService) UpdateGenerator(_ context.Context, spec *generator.Spec) (*generator.Spec, error) {
	if s.err != nil {
		return nil, s.err
	}
	return spec, nil
}

func (s *stubService) DeleteGenerator(_ context.Context, id int64) error {
	s.deletedSpecID = id
	return s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func doJSON(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestLicenseList(t *testing.T) {
	stub := &stubService{}
	handler := NewLicenseHandler(stub, testLogger()).Routes()

	rec := doJSON(t, handler, http.MethodGet, "/?status=ACTIVE&product_id=7&limit=10", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
	require.NotNil(t, stub.listFilter.Status)
	assert.Equal(t, license.StatusActive, *stub.listFilter.Status)
	require.NotNil(t, stub.listFilter.ProductID)
	assert.EqualValues(t, 7, *stub.listFilter.ProductID)
	assert.Equal(t, 10, stub.listFilter.Limit)
}

func TestLicenseListBadQuery(t *testing.T) {
	handler := NewLicenseHandler(&stubService{}, testLogger()).Routes()

	rec := doJSON(t, handler, http.MethodGet, "/?status=BOGUS", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/problem+json")
}

func TestLicenseCreateExplicitKey(t *testing.T) {
	stub := &stubService{}
	handler := NewLicenseHandler(stub, testLogger()).Routes()

	rec := doJSON(t, handler, http.MethodPost, "/",
		`{"license_key":"AAAA-BBBB","status":"ACTIVE","source":"IMPORT","valid_for":30}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "AAAA-BBBB", stub.createParams.Key)
	assert.Equal(t, license.StatusActive, stub.createParams.Status)
	assert.Equal(t, license.SourceImport, stub.createParams.Source)
	require.NotNil(t, stub.createParams.ValidFor)
	assert.Equal(t, 30, *stub.createParams.ValidFor)
}

func TestLicenseCreateGenerated(t *testing.T) {
	stub := &stubService{}
	handler := NewLicenseHandler(stub, testLogger()).Routes()

	rec := doJSON(t, handler, http.MethodPost, "/",
		`{"generator_id":3,"amount":25,"order_id":42}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.EqualValues(t, 3, stub.genParams.GeneratorID)
	assert.Equal(t, 25, stub.genParams.Amount)
	assert.Equal(t, license.StatusActive, stub.genParams.Status, "generation defaults to ACTIVE stock")
	require.NotNil(t, stub.genParams.OrderID)
	assert.EqualValues(t, 42, *stub.genParams.OrderID)
	assert.Contains(t, rec.Body.String(), `"generated":25`)
}

func TestLicenseCreateBindFailures(t *testing.T) {
	handler := NewLicenseHandler(&stubService{}, testLogger()).Routes()

	tests := []struct {
		name string
		body string
	}{
		{name: "neither key nor generator", body: `{}`},
		{name: "both key and generator", body: `{"license_key":"K","generator_id":1,"amount":1}`},
		{name: "generator without amount", body: `{"generator_id":1}`},
		{name: "bad status", body: `{"license_key":"K","status":"PENDING"}`},
		{name: "bad source", body: `{"license_key":"K","source":"WEB"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, handler, http.MethodPost, "/", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestLicenseActivate(t *testing.T) {
	stub := &stubService{}
	handler := NewLicenseHandler(stub, testLogger()).Routes()

	rec := doJSON(t, handler, http.MethodPut, "/activate/AAAA-BBBB", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AAAA-BBBB", stub.activated)
}

func TestLicenseActivateErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "limit reached", err: apperrors.ErrActivationLimitExceeded, want: http.StatusConflict},
		{name: "not configured", err: apperrors.ErrActivationNotConfigured, want: http.StatusUnprocessableEntity},
		{name: "unknown key", err: apperrors.ErrKeyNotFound, want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewLicenseHandler(&stubService{err: tt.err}, testLogger()).Routes()
			rec := doJSON(t, handler, http.MethodPut, "/activate/AAAA-BBBB", "")
			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), "application/problem+json")
		})
	}
}

func TestLicenseValidate(t *testing.T) {
	stub := &stubService{}
	handler := NewLicenseHandler(stub, testLogger()).Routes()

	rec := doJSON(t, handler, http.MethodGet, "/validate/AAAA-BBBB", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AAAA-BBBB", stub.validated)
	assert.Contains(t, rec.Body.String(), `"remaining_activations":3`)
}

func TestLicenseDelete(t *testing.T) {
	stub := &stubService{}
	handler := NewLicenseHandler(stub, testLogger()).Routes()

	rec := doJSON(t, handler, http.MethodDelete, "/", `{"ids":[1,2,3]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{1, 2, 3}, stub.deletedIDs)
	assert.Contains(t, rec.Body.String(), `"succeeded":3`)

	rec = doJSON(t, handler, http.MethodDelete, "/", `{"ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLicenseUpdatePatchSemantics(t *testing.T) {
	stub := &stubService{}
	handler := NewLicenseHandler(stub, testLogger()).Routes()

	rec := doJSON(t, handler, http.MethodPut, "/AAAA-BBBB",
		`{"valid_for":null,"times_activated_max":10,"status":"ACTIVE"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AAAA-BBBB", stub.updateKey)

	patch := stub.updatePatch
	assert.True(t, patch.ValidFor.IsSet())
	assert.True(t, patch.ValidFor.IsNull(), "JSON null must clear the field")
	assert.True(t, patch.TimesActivatedMax.IsSet())
	assert.Equal(t, 10, patch.TimesActivatedMax.Value())
	assert.Equal(t, license.StatusActive, patch.Status.Value())
	assert.False(t, patch.OrderID.IsSet(), "absent fields stay unset")
	assert.False(t, patch.LicenseKey.IsSet())
}

func TestLicenseUpdateRejectsBadPatch(t *testing.T) {
	handler := NewLicenseHandler(&stubService{}, testLogger()).Routes()

	tests := []struct {
		name string
		body string
	}{
		{name: "null status", body: `{"status":null}`},
		{name: "null source", body: `{"source":null}`},
		{name: "unknown field", body: `{"hash":"forged"}`},
		{name: "wrong type", body: `{"valid_for":"ten"}`},
		{name: "not json", body: `nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, handler, http.MethodPut, "/AAAA-BBBB", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestDecodePatchExpiresAt(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "/k",
		strings.NewReader(`{"expires_at":"2026-09-01T00:00:00Z"}`))
	patch, err := decodePatch(req)
	require.NoError(t, err)
	require.True(t, patch.ExpiresAt.IsSet())
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), patch.ExpiresAt.Value())
}
