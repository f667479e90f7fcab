package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func assertAPIError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	body := decodeJSON[map[string]any](t, rec)
	assert.Equal(t, code, body["error"])
}

func seedDashboard(t *testing.T, store *memoryStore) {
	t.Helper()
	seedReport(t, store, "2024-03-0001", reportSourceImport, sampleRecord("Theft", "Talon Uno", "Pending", "2024-03-02"))
	seedReport(t, store, "2024-03-0002", reportSourceManual, sampleRecord("Robbery", "Pilar", "Solved", "2024-03-05"))
	seedReport(t, store, "2024-03-0003", reportSourceImport, sampleRecord("Estafa", "Talon Uno", "Ongoing", "2024-03-09"))
	seedReport(t, store, "2024-03-0004", reportSourceManual, sampleRecord("Theft", "Zapote", "Unsolved", "2024-02-20"))
}

func listReports(t *testing.T, app *App, query url.Values) *ReportPage {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/operator/reports?"+query.Encode(), nil)
	rec := app.serve(t, req, &staffSession)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decodeJSON[ReportPage](t, rec)
	return &page
}

func blotterNumbers(page *ReportPage) []string {
	out := []string{}
	for _, report := range page.Reports {
		out = append(out, report.BlotterNo)
	}
	return out
}

func TestOperatorRoutesRequireSession(t *testing.T) {
	app, _ := newTestApp(t)
	rec := app.serve(t, httptest.NewRequest(http.MethodGet, "/api/v1/operator/reports", nil), nil)
	assertAPIError(t, rec, http.StatusUnauthorized, "unauthorized")
}

func TestCatalogIsPublic(t *testing.T) {
	app, _ := newTestApp(t)
	rec := app.serve(t, httptest.NewRequest(http.MethodGet, "/api/v1/catalog", nil), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Talon Uno")
	assert.Contains(t, rec.Body.String(), "Index Crimes")
}

func TestOperatorReportsListFilters(t *testing.T) {
	app, store := newTestApp(t)
	seedDashboard(t, store)

	all := listReports(t, app, url.Values{})
	assert.Equal(t, 4, all.TotalCount)
	assert.Equal(t, []string{"2024-03-0003", "2024-03-0002", "2024-03-0001", "2024-03-0004"}, blotterNumbers(all))

	tests := []struct {
		name  string
		query url.Values
		want  []string
	}{
		{"barangay folds case", url.Values{"barangay": {"talon uno"}}, []string{"2024-03-0003", "2024-03-0001"}},
		{"offense", url.Values{"offense": {"theft"}}, []string{"2024-03-0001", "2024-03-0004"}},
		{"category", url.Values{"category": {"Index Crimes"}}, []string{"2024-03-0002", "2024-03-0001", "2024-03-0004"}},
		{"unknown category", url.Values{"category": {"Space Crimes"}}, []string{}},
		{"status", url.Values{"status": {"solved"}}, []string{"2024-03-0002"}},
		{"source", url.Values{"source": {"Manual"}}, []string{"2024-03-0002", "2024-03-0004"}},
		{"date range", url.Values{"from": {"2024-03-01"}, "to": {"2024-03-05"}}, []string{"2024-03-0002", "2024-03-0001"}},
		{"search", url.Values{"search": {"0003"}}, []string{"2024-03-0003"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, blotterNumbers(listReports(t, app, tt.query)))
		})
	}
}

func TestOperatorReportsPagination(t *testing.T) {
	app, store := newTestApp(t)
	seedDashboard(t, store)

	page := listReports(t, app, url.Values{"page": {"2"}, "page_size": {"3"}})
	assert.Equal(t, 4, page.TotalCount)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, []string{"2024-03-0004"}, blotterNumbers(page))
}

func TestOperatorReportsRejectsInvalidFilters(t *testing.T) {
	app, _ := newTestApp(t)
	for _, query := range []string{"from=2024-13-01", "to=yesterday", "from=2024-03-10&to=2024-03-01", "source=fax"} {
		rec := app.serve(t, httptest.NewRequest(http.MethodGet, "/api/v1/operator/reports?"+query, nil), &staffSession)
		assertAPIError(t, rec, http.StatusBadRequest, "invalid_filter")
	}
}

func TestReportSummaryHandler(t *testing.T) {
	app, store := newTestApp(t)
	seedDashboard(t, store)

	rec := app.serve(t, httptest.NewRequest(http.MethodGet, "/api/v1/operator/reports/summary", nil), &staffSession)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ReportSummary{Total: 4, Pending: 1, Ongoing: 1, Solved: 1, Unsolved: 1, MostCommonOffense: "Theft"}, decodeJSON[ReportSummary](t, rec))

	rec = app.serve(t, httptest.NewRequest(http.MethodGet, "/api/v1/operator/reports/summary?barangay=Pilar", nil), &staffSession)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ReportSummary{Total: 1, Solved: 1, MostCommonOffense: "Robbery"}, decodeJSON[ReportSummary](t, rec))
}

func TestNextBlotterHandler(t *testing.T) {
	app, store := newTestApp(t)
	seedDashboard(t, store)

	rec := app.serve(t, httptest.NewRequest(http.MethodGet, "/api/v1/operator/reports/next-blotter", nil), &staffSession)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"blotterNo": "2024-03-0005"}, decodeJSON[map[string]string](t, rec))
}

func manualPayloadBody() map[string]any {
	return map[string]any{
		"dateEncoded":     "2024-03-15 10:00",
		"barangay":        "talon dos",
		"street":          "Real Street",
		"typeOfPlace":     "Residential",
		"dateReported":    "2024-03-15",
		"timeReported":    "09:30",
		"dateCommitted":   "2024-03-14",
		"timeCommitted":   "22:00",
		"modeOfReporting": "Walk-in",
		"stageOfFelony":   "Consummated",
		"offense":         "Theft",
		"narrative":       "Mobile phone taken from a parked tricycle.",
		"victim":          map[string]any{"name": "Ana Reyes"},
		"location":        map[string]any{"lat": 14.4445, "lng": 120.9939},
	}
}

func TestFileManualReport(t *testing.T) {
	app, store := newTestApp(t)

	rec := app.serve(t, jsonRequest(t, http.MethodPost, "/api/v1/operator/reports/manual", manualPayloadBody()), &staffSession)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decodeJSON[Report](t, rec)
	assert.Equal(t, "2024-03-0001", created.BlotterNo)
	assert.Equal(t, reportSourceManual, created.Source)
	assert.Equal(t, "Talon Dos", created.Barangay)
	assert.Equal(t, "Solved", created.Status)
	assert.Equal(t, "N/A", created.Suspect.Name)
	assert.Equal(t, "Ana Reyes", created.Victim.Name)
	assert.InDelta(t, 14.4445, created.Location.Lat, 1e-9)
	assert.Equal(t, staffSession.Email, created.CreatedBy)

	stored, err := store.GetReport(context.Background(), created.PublicID)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15 10:00", stored.DateEncoded)
}

func TestFileManualReportValidation(t *testing.T) {
	app, _ := newTestApp(t)

	body := manualPayloadBody()
	delete(body, "location")
	rec := app.serve(t, jsonRequest(t, http.MethodPost, "/api/v1/operator/reports/manual", body), &staffSession)
	assertAPIError(t, rec, http.StatusBadRequest, "invalid_report")
	assert.Contains(t, rec.Body.String(), "Please select a location on the map.")

	body = manualPayloadBody()
	body["status"] = "Closed"
	rec = app.serve(t, jsonRequest(t, http.MethodPost, "/api/v1/operator/reports/manual", body), &staffSession)
	assertAPIError(t, rec, http.StatusBadRequest, "invalid_status")
}

func TestFileManualReportDuplicateBlotter(t *testing.T) {
	app, store := newTestApp(t)
	seedDashboard(t, store)

	body := manualPayloadBody()
	body["blotterNo"] = "2024-03-0002"
	rec := app.serve(t, jsonRequest(t, http.MethodPost, "/api/v1/operator/reports/manual", body), &staffSession)
	assertAPIError(t, rec, http.StatusConflict, "duplicate_blotter")
}

func TestCreateReportHandler(t *testing.T) {
	app, _ := newTestApp(t)

	rec := app.serve(t, jsonRequest(t, http.MethodPost, "/api/v1/operator/reports", map[string]any{
		"report": map[string]any{"offense": "Robbery", "barangay": "ZAPOTE", "status": "ongoing"},
	}), &staffSession)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decodeJSON[Report](t, rec)
	assert.Equal(t, reportSourceImport, created.Source)
	assert.Equal(t, "Zapote", created.Barangay)
	assert.Equal(t, "Ongoing", created.Status)
	assert.Equal(t, "2024-03-15", created.DateCommitted)
	assert.Equal(t, "2024-03-15 10:00", created.DateEncoded)

	rec = app.serve(t, jsonRequest(t, http.MethodPost, "/api/v1/operator/reports", map[string]any{}), &staffSession)
	assertAPIError(t, rec, http.StatusBadRequest, "invalid_payload")
}

func TestReportStatusAndDetails(t *testing.T) {
	app, store := newTestApp(t)
	seeded := seedReport(t, store, "2024-03-0001", reportSourceManual, sampleRecord("Theft", "Pilar", "Pending", "2024-03-01"))
	path := "/api/v1/operator/reports/" + seeded.PublicID

	rec := app.serve(t, jsonRequest(t, http.MethodPost, path+"/status", map[string]string{"status": "ongoing"}), &adminSession)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Ongoing", decodeJSON[Report](t, rec).Status)

	rec = app.serve(t, httptest.NewRequest(http.MethodGet, path, nil), &staffSession)
	require.Equal(t, http.StatusOK, rec.Code)
	details := decodeJSON[ReportDetails](t, rec)
	assert.Equal(t, "Ongoing", details.Report.Status)
	require.Len(t, details.Events, 2)
	assert.Equal(t, "created", details.Events[0].Type)
	assert.Equal(t, "status_changed", details.Events[1].Type)

	rec = app.serve(t, jsonRequest(t, http.MethodPost, path+"/status", map[string]string{"status": "archived"}), &adminSession)
	assertAPIError(t, rec, http.StatusBadRequest, "invalid_status")

	rec = app.serve(t, httptest.NewRequest(http.MethodGet, "/api/v1/operator/reports/NOPE0000", nil), &staffSession)
	assertAPIError(t, rec, http.StatusNotFound, "report_not_found")
}

func TestGeocodeHandler(t *testing.T) {
	app, _ := newTestApp(t)

	rec := app.serve(t, httptest.NewRequest(http.MethodGet, "/api/v1/operator/geocode?lat=14.4&lng=121", nil), &staffSession)
	assertAPIError(t, rec, http.StatusServiceUnavailable, "geocoder_disabled")

	stub := &stubGeocoder{result: &GeocodeResult{Address: "Real Street", Locality: "Las Piñas"}}
	app.geocoder = stub

	rec = app.serve(t, httptest.NewRequest(http.MethodGet, "/api/v1/operator/geocode?lat=14.4&lng=121", nil), &staffSession)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON[map[string]any](t, rec)
	assert.Equal(t, true, body["found"])
	assert.Equal(t, "Real Street, Las Piñas", body["label"])

	rec = app.serve(t, httptest.NewRequest(http.MethodGet, "/api/v1/operator/geocode?lat=95&lng=121", nil), &staffSession)
	assertAPIError(t, rec, http.StatusBadRequest, "invalid_coordinates")

	stub.result = nil
	rec = app.serve(t, httptest.NewRequest(http.MethodGet, "/api/v1/operator/geocode?lat=14.4&lng=121", nil), &staffSession)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"found": false}`, rec.Body.String())

	stub.err = errors.New("upstream down")
	rec = app.serve(t, httptest.NewRequest(http.MethodGet, "/api/v1/operator/geocode?lat=14.4&lng=121", nil), &staffSession)
	assertAPIError(t, rec, http.StatusBadGateway, "geocode_failed")
}

func TestGeocodeHandlerRateLimitsPerOperator(t *testing.T) {
	app, _ := newTestApp(t)
	app.geocoder = &stubGeocoder{}

	for i := 0; i < geocodeRateLimitRequests; i++ {
		rec := app.serve(t, httptest.NewRequest(http.MethodGet, "/api/v1/operator/geocode?lat=14.4&lng=121", nil), &staffSession)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := app.serve(t, httptest.NewRequest(http.MethodGet, "/api/v1/operator/geocode?lat=14.4&lng=121", nil), &staffSession)
	assertAPIError(t, rec, http.StatusTooManyRequests, "rate_limited")

	rec = app.serve(t, httptest.NewRequest(http.MethodGet, "/api/v1/operator/geocode?lat=14.4&lng=121", nil), &adminSession)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOperatorLoginFlow(t *testing.T) {
	app, store := newTestApp(t)
	seedOperator(t, store, "Desk@Station.example", "correct horse", "staff")

	rec := app.serve(t, jsonRequest(t, http.MethodPost, "/api/v1/operator/auth/login", map[string]string{
		"email": " desk@station.EXAMPLE ", "password": "wrong",
	}), nil)
	assertAPIError(t, rec, http.StatusUnauthorized, "invalid_credentials")

	rec = app.serve(t, jsonRequest(t, http.MethodPost, "/api/v1/operator/auth/login", map[string]string{
		"email": " desk@station.EXAMPLE ", "password": "correct horse",
	}), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]string{"email": "desk@station.example", "role": "staff"}, decodeJSON[map[string]string](t, rec))

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == operatorCookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie, "expected session cookie")
	assert.True(t, cookie.HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/operator/auth/session", nil)
	req.AddCookie(cookie)
	rec = app.serve(t, req, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, OperatorSession{Email: "desk@station.example", Role: "staff"}, decodeJSON[OperatorSession](t, rec))

	rec = app.serve(t, jsonRequest(t, http.MethodPost, "/api/v1/operator/auth/logout", nil), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Header().Get("Set-Cookie"), operatorCookieName+"=;"))
}

func TestOperatorLoginRateLimit(t *testing.T) {
	app, _ := newTestApp(t)
	for i := 0; i < loginRateLimitRequests; i++ {
		rec := app.serve(t, jsonRequest(t, http.MethodPost, "/api/v1/operator/auth/login", map[string]string{"email": "x@y.z", "password": "nope"}), nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := app.serve(t, jsonRequest(t, http.MethodPost, "/api/v1/operator/auth/login", map[string]string{"email": "x@y.z", "password": "nope"}), nil)
	assertAPIError(t, rec, http.StatusTooManyRequests, "rate_limited")
}
