//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/underwrite-cli/internal/config"
	"github.com/sells-group/underwrite-cli/internal/failure"
	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/pipeline"
	"github.com/sells-group/underwrite-cli/internal/store"
)

const multifamilyJSON = `{
  "address": "100 Main St, Springfield",
  "year_built": 1990,
  "assessed_value": 2000000,
  "unit_count": 40,
  "vacancy": 0.05,
  "units": [{"bedrooms": 2, "bathrooms": 1, "quantity": 10, "rent_avm": 1200}]
}`

const singleFamilyJSON = `{
  "address": "7 Elm Ct",
  "year_built": 1975,
  "square_footage": 1500,
  "bedrooms": 3,
  "units": [{"bedrooms": 3, "bathrooms": 2, "quantity": 1, "rent_avm": 2000, "rent_fmr": 1800}]
}`

func newTestRouter(t *testing.T) (http.Handler, *appEnv) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	env := newEnv(st, &config.Config{})
	t.Cleanup(env.Close)
	return buildRouter(env, []string{"https://app.example.com"}), env
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func createVia(t *testing.T, h http.Handler, body string) model.Property {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/properties", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var p model.Property
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	return p
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestRouter_Health(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "ok", decodeBody(t, rr)["status"])
}

func TestRouter_CORSPreflight(t *testing.T) {
	h, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/properties", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_MultifamilyLifecycle(t *testing.T) {
	h, _ := newTestRouter(t)

	p := createVia(t, h, multifamilyJSON)
	assert.Equal(t, model.FamilyMultiFamily, p.Family)
	assert.Equal(t, model.StageNotStarted, p.Stage)

	rr := do(t, h, http.MethodPost, "/properties/"+p.ID+"/run", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, string(model.StageComplete), decodeBody(t, rr)["stage"])

	rr = do(t, h, http.MethodGet, "/properties/"+p.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var status propertyStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, "100 Main St, Springfield", status.Address)
	assert.Equal(t, "1220000", status.Meta[model.MetaOfferPrice])
	assert.Equal(t, 1, status.Results[model.ResultFinancialProjection])
	assert.Len(t, status.StageRuns, 3)

	rr = do(t, h, http.MethodGet, "/properties/"+p.ID+"/report", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/markdown")
	assert.Contains(t, rr.Body.String(), "# Investment Summary: 100 Main St, Springfield")

	rr = do(t, h, http.MethodPost, "/properties/"+p.ID+"/advance", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestRouter_PatchDerivedResultRejected(t *testing.T) {
	h, env := newTestRouter(t)
	p := createVia(t, h, multifamilyJSON)

	rr := do(t, h, http.MethodPost, "/properties/"+p.ID+"/run", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rows, err := env.Store.QueryResults(context.Background(), p.ID, model.ResultFinancialProjection, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rr = do(t, h, http.MethodPatch, "/results/"+rows[0].ID, `{"offer_price": 1}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.NotEmpty(t, decodeBody(t, rr)["error"])

	rr = do(t, h, http.MethodGet, "/properties/"+p.ID+"/report", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "$1,220,000.00")
}

func TestRouter_StageRunAndAdvance(t *testing.T) {
	h, _ := newTestRouter(t)
	p := createVia(t, h, multifamilyJSON)

	rr := do(t, h, http.MethodPost, "/properties/"+p.ID+"/stages/financial_projection/run", "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, h, http.MethodPost, "/properties/"+p.ID+"/stages/rent_lookup/run", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/properties/"+p.ID+"/advance", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, string(model.StageExpenseRatio), decodeBody(t, rr)["stage"])

	rr = do(t, h, http.MethodPost, "/properties/"+p.ID+"/advance", "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, h, http.MethodPost, "/properties/"+p.ID+"/stages/expense_ratio/run", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, string(model.StageExpenseRatio), decodeBody(t, rr)["stage"])
}

func TestRouter_ResidentialNeedsComps(t *testing.T) {
	h, env := newTestRouter(t)
	p := createVia(t, h, singleFamilyJSON)

	rr := do(t, h, http.MethodPost, "/properties/"+p.ID+"/run", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, string(failure.KindMissingDependency), decodeBody(t, rr)["kind"])

	rr = do(t, h, http.MethodGet, "/properties/"+p.ID+"/report", "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	comps := `{"source": "mls", "comps": [
	  {"address": "1 Oak", "price": 300000, "squareFootage": 1500},
	  {"address": "2 Oak", "price": 999999, "squareFootage": 1000}
	]}`
	rr = do(t, h, http.MethodPost, "/properties/"+p.ID+"/comps", comps)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.EqualValues(t, 2, decodeBody(t, rr)["imported"])

	rows, err := env.Store.QueryResults(context.Background(), p.ID, model.ResultSalesComp, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	rr = do(t, h, http.MethodPatch, "/results/"+rows[1].ID, `{"excluded": true}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, h, http.MethodPost, "/properties/"+p.ID+"/run", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, h, http.MethodGet, "/properties/"+p.ID+"/report", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "$300,000.00")
}

func TestRouter_ConfigurationFailure(t *testing.T) {
	h, _ := newTestRouter(t)
	p := createVia(t, h, `{
	  "address": "9 Future Way",
	  "year_built": 2500,
	  "assessed_value": 2000000,
	  "unit_count": 40,
	  "units": [{"bedrooms": 2, "bathrooms": 1, "quantity": 10, "rent_avm": 1200}]
	}`)

	rr := do(t, h, http.MethodPost, "/properties/"+p.ID+"/run", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, string(failure.KindConfiguration), decodeBody(t, rr)["kind"])
}

func TestRouter_BadRequests(t *testing.T) {
	h, _ := newTestRouter(t)
	p := createVia(t, h, multifamilyJSON)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"intake missing address", http.MethodPost, "/properties", `{"units": [{"bedrooms": 1, "bathrooms": 1, "quantity": 1}]}`, http.StatusBadRequest},
		{"intake unknown field", http.MethodPost, "/properties", `{"address": "x", "colour": "red", "units": [{"bedrooms": 1, "bathrooms": 1, "quantity": 1}]}`, http.StatusBadRequest},
		{"intake negative rent", http.MethodPost, "/properties", `{"address": "x", "units": [{"bedrooms": 1, "bathrooms": 1, "quantity": 1, "rent_avm": -900}]}`, http.StatusBadRequest},
		{"comps not json", http.MethodPost, "/properties/" + p.ID + "/comps", `nope`, http.StatusBadRequest},
		{"comps empty", http.MethodPost, "/properties/" + p.ID + "/comps", `{"comps": []}`, http.StatusBadRequest},
		{"comps zero price", http.MethodPost, "/properties/" + p.ID + "/comps", `{"comps": [{"address": "a", "price": 0}]}`, http.StatusBadRequest},
		{"comps unknown property", http.MethodPost, "/properties/missing/comps", `{"comps": [{"address": "a", "price": 1}]}`, http.StatusNotFound},
		{"patch empty", http.MethodPatch, "/results/abc", `{}`, http.StatusBadRequest},
		{"patch unknown result", http.MethodPatch, "/results/abc", `{"excluded": true}`, http.StatusNotFound},
		{"get unknown property", http.MethodGet, "/properties/missing", "", http.StatusNotFound},
		{"run unknown property", http.MethodPost, "/properties/missing/run", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
			assert.NotEmpty(t, decodeBody(t, rr)["error"])
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", eris.Wrap(store.ErrNotFound, "property x"), http.StatusNotFound},
		{"unknown stage", eris.Wrap(pipeline.ErrUnknownStage, "run"), http.StatusBadRequest},
		{"stage ahead", eris.Wrap(pipeline.ErrStageAhead, "run"), http.StatusConflict},
		{"incomplete", pipeline.ErrStageIncomplete, http.StatusConflict},
		{"terminal", pipeline.ErrTerminal, http.StatusConflict},
		{"derived result", eris.Wrap(store.ErrDerivedResult, "patch"), http.StatusConflict},
		{"missing dependency", failure.NewMissingDependency("expense_ratio", "expense_rate"), http.StatusConflict},
		{"configuration", failure.NewConfigurationError("year_built", nil), http.StatusUnprocessableEntity},
		{"degenerate", failure.NewDegenerate("noi", "zero"), http.StatusUnprocessableEntity},
		{"internal", errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
