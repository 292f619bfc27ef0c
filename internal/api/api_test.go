package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/autopo-forecast/internal/api/middleware"
	"github.com/andresuchdata/autopo-forecast/internal/drive"
	"github.com/andresuchdata/autopo-forecast/internal/events"
	"github.com/andresuchdata/autopo-forecast/internal/metrics"
	"github.com/andresuchdata/autopo-forecast/internal/pipeline"
	"github.com/andresuchdata/autopo-forecast/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var pattern = []float64{12, -4, 7, 3, -9, 15, -2, 6, -11, 4, 1, -8}

func rows(n int, inventory float64) []map[string]interface{} {
	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]map[string]interface{}, n)
	for t := 0; t < n; t++ {
		out[t] = map[string]interface{}{
			"date":            start.AddDate(0, t, 0).Format("2006-01-02"),
			"sales":           120 + 3*float64(t) + pattern[t%12],
			"inventory_level": inventory,
		}
	}
	return out
}

func newTestRouter(services *Services) *gin.Engine {
	if services == nil {
		cfg := pipeline.DefaultConfig()
		cfg.OutputDir = ""
		services = &Services{Forecast: service.NewForecastService(cfg, nil, nil)}
	}
	return NewRouter(services, Options{Logger: zerolog.Nop()})
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func errorKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["kind"]
}

func TestHealth(t *testing.T) {
	rec := doJSON(t, newTestRouter(nil), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunForecast(t *testing.T) {
	router := newTestRouter(nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/forecast/run", map[string]interface{}{
		"name":         "sku-9",
		"observations": rows(36, 40),
		"horizon":      2,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp service.ForecastResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sku-9", resp.Run.Name)
	assert.Equal(t, 8, resp.Holdout.Len())
	require.NotNil(t, resp.Outlook)
	assert.Len(t, resp.Outlook.Points, 2)
}

func TestRunForecast_Errors(t *testing.T) {
	router := newTestRouter(nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/forecast/run", map[string]interface{}{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad := rows(36, 40)
	bad[3]["sales"] = -1
	rec = doJSON(t, router, http.MethodPost, "/api/v1/forecast/run", map[string]interface{}{"observations": bad})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "DataError", errorKind(t, rec))

	rec = doJSON(t, router, http.MethodPost, "/api/v1/forecast/run", map[string]interface{}{"observations": rows(12, 40)})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "TrainingError", errorKind(t, rec))

	baddate := rows(36, 40)
	baddate[0]["date"] = "yesterday"
	rec = doJSON(t, router, http.MethodPost, "/api/v1/forecast/run", map[string]interface{}{"observations": baddate})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadForecast(t *testing.T) {
	var csv strings.Builder
	csv.WriteString("date,sales,inventory_level\n")
	for _, r := range rows(30, 25) {
		fmt.Fprintf(&csv, "%s,%v,%v\n", r["date"], r["sales"], r["inventory_level"])
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "history.csv")
	require.NoError(t, err)
	_, err = io.WriteString(part, csv.String())
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("horizon", "3"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/forecast/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp service.ForecastResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "history.csv", resp.Run.Name)
	assert.Equal(t, 30, resp.Run.InputRows)
	require.NotNil(t, resp.Outlook)
	assert.Len(t, resp.Outlook.Points, 3)
}

func uploadRequest(t *testing.T, fields map[string]string) *http.Request {
	t.Helper()
	var csv strings.Builder
	csv.WriteString("date,sales,inventory_level\n")
	for _, r := range rows(30, 25) {
		fmt.Fprintf(&csv, "%s,%v,%v\n", r["date"], r["sales"], r["inventory_level"])
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "history.csv")
	require.NoError(t, err)
	_, err = io.WriteString(part, csv.String())
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/forecast/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadForecast_TrainRatio(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(rec, uploadRequest(t, map[string]string{
		"seasonal_periods": "4",
		"train_ratio":      "0.6",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp service.ForecastResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	n := resp.Run.CleanedRows
	assert.Equal(t, 4, resp.Run.SeasonalPeriods)
	assert.Len(t, resp.Actual, n-int(float64(n)*0.6))
}

func TestUploadForecast_InvalidFormFields(t *testing.T) {
	tests := map[string]string{
		"seasonal_periods": "abc",
		"horizon":          "3.5",
		"train_ratio":      "most",
		"confidence_level": "high",
	}
	for field, value := range tests {
		t.Run(field, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newTestRouter(nil).ServeHTTP(rec, uploadRequest(t, map[string]string{field: value}))
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), "invalid form field")
		})
	}
}

func TestInventoryMetrics(t *testing.T) {
	router := newTestRouter(nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/inventory/metrics", map[string]interface{}{
		"observations":      rows(10, 40),
		"holding_cost_rate": 0.5,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp service.InventoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.InDelta(t, 40, resp.Metrics["average_inventory"], 1e-12)
	assert.InDelta(t, 20, resp.Metrics["holding_cost"], 1e-12)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/inventory/metrics", map[string]interface{}{
		"observations": rows(10, 0),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "DivisionError", errorKind(t, rec))
}

func TestRequestID(t *testing.T) {
	router := newTestRouter(nil)

	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(middleware.RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(middleware.RequestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	cfg.OutputDir = ""
	m := metrics.New()
	router := NewRouter(
		&Services{Forecast: service.NewForecastService(cfg, nil, nil, pipeline.WithObserver(m))},
		Options{Logger: zerolog.Nop(), Metrics: m},
	)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/forecast/run", map[string]interface{}{
		"observations": rows(36, 40),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `autopo_forecast_http_requests_total{method="POST",route="/api/v1/forecast/run",status="200"} 1`)
	assert.Contains(t, body, `autopo_forecast_pipeline_runs_total{status="completed"} 1`)
}

func TestRunEventsStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := events.NewHub(zerolog.Nop())
	go hub.Run(ctx)
	require.Eventually(t, hub.Running, time.Second, 5*time.Millisecond)

	cfg := pipeline.DefaultConfig()
	cfg.OutputDir = ""
	svc := service.NewForecastService(cfg, nil, nil, pipeline.WithObserver(hub))
	srv := httptest.NewServer(NewRouter(&Services{Forecast: svc, Events: hub}, Options{Logger: zerolog.Nop()}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/events/runs", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	body, err := json.Marshal(map[string]interface{}{"name": "sku-ws", "observations": rows(36, 40)})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/api/v1/forecast/run", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev events.RunEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "sku-ws", ev.Name)
	assert.Equal(t, "completed", string(ev.Status))
}

func TestInvalidateCache(t *testing.T) {
	rec := doJSON(t, newTestRouter(nil), http.MethodDelete, "/api/v1/forecast/cache", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRuns_WithoutRepository(t *testing.T) {
	router := newTestRouter(nil)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/forecast/runs", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/forecast/runs/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type emptySource struct{}

func (emptySource) ListFiles(context.Context, string) ([]*drive.File, error) {
	return []*drive.File{{ID: "1", Name: "a.csv"}}, nil
}

func (emptySource) GetFile(context.Context, string) (*drive.File, error) {
	return nil, fmt.Errorf("not found")
}

func (emptySource) DownloadFile(context.Context, string, io.Writer) error { return nil }

func (emptySource) FindFolderByPath(context.Context, string) (string, error) { return "root", nil }

func TestDriveRoutesMounted(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	cfg.OutputDir = ""
	svc := service.NewForecastService(cfg, nil, nil)
	src := emptySource{}
	driveHandler := drive.NewHandler(src, drive.NewLoader(src, nil, "", zerolog.Nop()), svc)

	router := newTestRouter(&Services{Forecast: svc, Drive: driveHandler})
	rec := doJSON(t, router, http.MethodGet, "/api/drive/files", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "a.csv")
}

func TestNormalizeAllowedOrigins(t *testing.T) {
	origins, all := normalizeAllowedOrigins([]string{"http://a.test, http://b.test", " "})
	assert.False(t, all)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, origins)

	_, all = normalizeAllowedOrigins([]string{"*"})
	assert.True(t, all)
}
