package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hcpcs-cli/internal/model"
)

func serveGet(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouter_Health(t *testing.T) {
	h := newRouter(seededStore(t, testConfig(t)))

	w := serveGet(t, h, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRouter_CodeHistory(t *testing.T) {
	h := newRouter(seededStore(t, testConfig(t)))

	w := serveGet(t, h, "/codes/A0001")
	require.Equal(t, http.StatusOK, w.Code)

	var rows []model.CodeRow
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "Ambulance service", rows[0].LongDescription)
	assert.Equal(t, model.DatePtr("2023-07-01"), rows[0].EndDate)
	assert.Equal(t, "Ambulance service, revised", rows[1].LongDescription)
	assert.Nil(t, rows[1].EndDate)
}

func TestRouter_CodeNotFound(t *testing.T) {
	h := newRouter(seededStore(t, testConfig(t)))

	w := serveGet(t, h, "/codes/Z9999")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"code not found"}`, w.Body.String())
}

func TestRouter_ListCodes(t *testing.T) {
	h := newRouter(seededStore(t, testConfig(t)))

	var rows []model.CodeRow
	w := serveGet(t, h, "/codes/?active=true")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	assert.Len(t, rows, 3)

	w = serveGet(t, h, "/codes/?group=J")
	require.Equal(t, http.StatusOK, w.Code)
	rows = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "J0120", rows[0].HCPCSCode)

	w = serveGet(t, h, "/codes/?group=Q")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())

	w = serveGet(t, h, "/codes/?limit=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_Reports(t *testing.T) {
	h := newRouter(seededStore(t, testConfig(t)))

	w := serveGet(t, h, "/reports/groups")
	require.Equal(t, http.StatusOK, w.Code)
	var groups []model.GroupCount
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &groups))
	assert.Equal(t, []model.GroupCount{{GroupCode: "A", Count: 3}, {GroupCode: "J", Count: 1}}, groups)

	w = serveGet(t, h, "/reports/categories?top=1")
	require.Equal(t, http.StatusOK, w.Code)
	var cats []model.CategoryCount
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cats))
	assert.Equal(t, []model.CategoryCount{{CategoryName: "A Codes", Count: 3}}, cats)

	w = serveGet(t, h, "/reports/categories?top=0")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serveGet(t, h, "/reports/multi-version")
	require.Equal(t, http.StatusOK, w.Code)
	var multi []model.MultiVersionCode
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &multi))
	assert.Equal(t, []model.MultiVersionCode{{HCPCSCode: "A0001", Versions: 2}}, multi)
}

func TestRouter_Expired(t *testing.T) {
	h := newRouter(seededStore(t, testConfig(t)))

	w := serveGet(t, h, "/reports/expired")
	require.Equal(t, http.StatusOK, w.Code)
	var expired []model.ExpiredCode
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &expired))
	require.Len(t, expired, 1)
	assert.Equal(t, "A0001", expired[0].HCPCSCode)
	assert.Equal(t, model.DatePtr("2023-07-01"), expired[0].EndDate)

	w = serveGet(t, h, "/reports/expired?expired_before=2023-01-01")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())

	w = serveGet(t, h, "/reports/expired?active_by=yesterday")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_CORS(t *testing.T) {
	h := newRouter(seededStore(t, testConfig(t)))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.org")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestIntParam(t *testing.T) {
	n, err := intParam("", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = intParam("12", 7)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	_, err = intParam("x", 7)
	assert.Error(t, err)
}
