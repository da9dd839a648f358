package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aristath/gridlens/internal/clients/marketapi"
	"github.com/aristath/gridlens/internal/domain"
	"github.com/aristath/gridlens/internal/fetch"
	"github.com/aristath/gridlens/internal/modules/dashboard"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type stubAPI struct {
	mu          sync.Mutex
	samples     []domain.RawSample
	forecast    *marketapi.ForecastResponse
	forecastErr error
}

func (s *stubAPI) Historical(ctx context.Context, q marketapi.HistoricalQuery) (*marketapi.HistoricalResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &marketapi.HistoricalResponse{Data: s.samples, Count: len(s.samples)}, nil
}

func (s *stubAPI) Forecast(ctx context.Context, q marketapi.ForecastQuery) (*marketapi.ForecastResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forecastErr != nil {
		return nil, s.forecastErr
	}
	return s.forecast, nil
}

func (s *stubAPI) LatestDate(ctx context.Context) (*marketapi.LatestDateInfo, error) {
	return &marketapi.LatestDateInfo{LatestDate: "2025-03-30"}, nil
}

func (s *stubAPI) PredictionDetail(ctx context.Context, id string) (*marketapi.PredictionDetail, error) {
	if id != "12" {
		return nil, domain.NewResponseError("/history/"+id, http.StatusNotFound, "Prediction not found")
	}
	return &marketapi.PredictionDetail{
		ID:          12,
		ModelUsed:   "conv",
		Predictions: marketapi.Predictions{Flat: []float64{40, 41}},
		Timestamps:  []string{"2025-03-30T01:00:00", "2025-03-30T02:00:00"},
	}, nil
}

func (s *stubAPI) PredictionHistory(ctx context.Context, f marketapi.PredictionHistoryFilters) (*marketapi.PredictionHistoryResponse, error) {
	results := []marketapi.PredictionDetail{
		{ID: 12, ModelUsed: "conv", Predictions: marketapi.Predictions{Flat: []float64{40, 41}}},
		{ID: 11, ModelUsed: "lstm", Predictions: marketapi.Predictions{Series: map[string][]float64{domain.IndicatorSpotSpain: {1}}}},
	}
	if f.ModelUsed != "" {
		kept := results[:0]
		for _, p := range results {
			if p.ModelUsed == f.ModelUsed {
				kept = append(kept, p)
			}
		}
		results = kept
	}
	return &marketapi.PredictionHistoryResponse{
		Count:          2,
		Results:        results,
		FiltersApplied: map[string]interface{}{"model_used": f.ModelUsed, "limit": f.Limit},
		ReturnedCount:  len(results),
	}, nil
}

func (s *stubAPI) PredictionHistoryStats(ctx context.Context) (*marketapi.PredictionHistoryStats, error) {
	return &marketapi.PredictionHistoryStats{
		TotalPredictions: 2,
		ModelsUsed:       marketapi.ModelCounts{"conv": 1, "lstm": 1},
	}, nil
}

func newStubAPI() *stubAPI {
	return &stubAPI{
		samples: []domain.RawSample{
			domain.NewRawSample("2025-03-30T10:00:00Z", map[string]float64{
				domain.IndicatorSolar: 20, domain.IndicatorWind: 20, domain.IndicatorSpotSpain: 55,
			}),
		},
		forecast: &marketapi.ForecastResponse{
			Predictions: marketapi.Predictions{Series: map[string][]float64{domain.IndicatorSpotSpain: {60, 61}}},
			Timestamps:  []string{"2025-03-30T11:00:00", "2025-03-30T12:00:00"},
			ModelUsed:   "lstm",
		},
	}
}

func setupRouter(t *testing.T, api *stubAPI) (*chi.Mux, *dashboard.Service) {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	service := dashboard.NewService(api, dashboard.Settings{}, logger)
	handler := NewHandler(service, logger)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		handler.RegisterRoutes(r)
		handler.RegisterStreamRoutes(r)
	})
	return r, service
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return response
}

func TestHandleGetReferenceDate(t *testing.T) {
	router, _ := setupRouter(t, newStubAPI())

	req := httptest.NewRequest("GET", "/api/dashboard/reference-date", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	response := decode(t, w)
	data := response["data"].(map[string]interface{})
	assert.Equal(t, "2025-03-30", data["date"])
	assert.Equal(t, "api", data["source"])
	assert.NotNil(t, response["metadata"])
}

func TestHandleGetIndicators(t *testing.T) {
	router, _ := setupRouter(t, newStubAPI())

	req := httptest.NewRequest("GET", "/api/dashboard/indicators", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Len(t, data["indicators"], len(domain.AllIndicators))
	assert.Len(t, data["models"], len(dashboard.Models))
}

func TestHandleGetOverview(t *testing.T) {
	tests := []struct {
		name           string
		query          string
		expectedStatus int
		validate       func(*testing.T, map[string]interface{})
	}{
		{
			name:           "defaults",
			query:          "",
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, response map[string]interface{}) {
				data := response["data"].(map[string]interface{})
				window := data["window"].(map[string]interface{})
				assert.Equal(t, "2025-03-30", window["end_date"])
				assert.Equal(t, false, window["can_go_next"])
				assert.Equal(t, float64(1), data["sample_count"])
				assert.Len(t, data["energy_mix"], 2)
			},
		},
		{
			name:           "explicit window and metrics",
			query:          "?end_date=2025-03-16&days=3&metrics=solar_14,%20wind_12&refresh=true",
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, response map[string]interface{}) {
				data := response["data"].(map[string]interface{})
				assert.Equal(t, []interface{}{"solar_14", "wind_12"}, data["metrics"])
				window := data["window"].(map[string]interface{})
				assert.Equal(t, "2025-03-13", window["start_date"])
				assert.Equal(t, "2025-03-23", window["next_end_date"])
			},
		},
		{
			name:           "unknown metric",
			query:          "?metrics=coal_99",
			expectedStatus: http.StatusBadRequest,
			validate: func(t *testing.T, response map[string]interface{}) {
				assert.Equal(t, "metrics", response["field"])
				assert.Contains(t, response["error"], "coal_99")
			},
		},
		{
			name:           "invalid days",
			query:          "?days=-1",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid refresh",
			query:          "?refresh=maybe",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := setupRouter(t, newStubAPI())

			req := httptest.NewRequest("GET", "/api/dashboard/overview"+tt.query, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.validate != nil {
				tt.validate(t, decode(t, w))
			}
		})
	}
}

func TestHandlePostForecast(t *testing.T) {
	router, _ := setupRouter(t, newStubAPI())

	body := `{"labels": ["daily_spot_market_600_España"], "include_historical": false}`
	req := httptest.NewRequest("POST", "/api/dashboard/forecast", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "lstm", data["model_used"])
	chart := data["chart"].(map[string]interface{})
	assert.Len(t, chart["points"], 2)
	assert.Equal(t, float64(0), chart["forecast_start_index"])
}

func TestHandlePostForecast_Errors(t *testing.T) {
	t.Run("invalid body", func(t *testing.T) {
		router, _ := setupRouter(t, newStubAPI())
		req := httptest.NewRequest("POST", "/api/dashboard/forecast", strings.NewReader("{"))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("no labels", func(t *testing.T) {
		router, _ := setupRouter(t, newStubAPI())
		req := httptest.NewRequest("POST", "/api/dashboard/forecast", strings.NewReader("{}"))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "labels", decode(t, w)["field"])
	})

	t.Run("upstream failure", func(t *testing.T) {
		api := newStubAPI()
		api.forecastErr = domain.NewResponseError("/predict", http.StatusBadRequest, "Model not trained")
		router, _ := setupRouter(t, api)

		req := httptest.NewRequest("POST", "/api/dashboard/forecast", strings.NewReader(`{"labels": ["daily_spot_market_600_España"]}`))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadGateway, w.Code)
		response := decode(t, w)
		assert.Equal(t, "Model not trained", response["error"])
		assert.Equal(t, "response", response["kind"])
		assert.Equal(t, float64(http.StatusBadRequest), response["upstream_status"])
	})
}

func TestHandleGetPrediction(t *testing.T) {
	router, service := setupRouter(t, newStubAPI())

	req := httptest.NewRequest("GET", "/api/dashboard/predictions/12", nil)
	req.Header.Set(ViewHeader, "tab-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	prediction := data["prediction"].(map[string]interface{})
	assert.Equal(t, "conv", prediction["model_used"])
	assert.Equal(t, fetch.StatusSuccess, service.View("tab-1").PredictionDetailState().Status)

	req = httptest.NewRequest("GET", "/api/dashboard/predictions/12", nil)
	req.Header.Set(ViewHeader, "tab-2")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("DELETE", "/api/dashboard/predictions/current", nil)
	req.Header.Set(ViewHeader, "tab-1")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	data = decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "idle", data["status"])
	assert.Nil(t, service.View("tab-1").PredictionDetailState().Data)
	assert.NotNil(t, service.View("tab-2").PredictionDetailState().Data, "closing one view leaves the others open")
}

func TestHandleGetPrediction_Errors(t *testing.T) {
	router, _ := setupRouter(t, newStubAPI())

	req := httptest.NewRequest("GET", "/api/dashboard/predictions/abc", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest("GET", "/api/dashboard/predictions/99", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "Prediction not found", decode(t, w)["error"])

	req = httptest.NewRequest("DELETE", "/api/dashboard/predictions/current", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code, "closing needs a view")
	assert.Equal(t, "view", decode(t, w)["field"])
}

func TestHandleGetPredictionHistory(t *testing.T) {
	tests := []struct {
		name           string
		query          string
		expectedStatus int
		validate       func(*testing.T, map[string]interface{})
	}{
		{
			name:           "defaults",
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, response map[string]interface{}) {
				data := response["data"].(map[string]interface{})
				assert.Equal(t, float64(2), data["returned_count"])
				filters := data["filters"].(map[string]interface{})
				assert.Equal(t, float64(dashboard.DefaultHistoryLimit), filters["limit"])
				results := data["results"].([]interface{})
				first := results[0].(map[string]interface{})
				assert.Equal(t, dashboard.FormatLegacyList, first["format"])
				assert.Equal(t, float64(2), first["values"])
			},
		},
		{
			name:           "model filter",
			query:          "?model_used=lstm&limit=10&refresh=true",
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, response map[string]interface{}) {
				data := response["data"].(map[string]interface{})
				results := data["results"].([]interface{})
				require.Len(t, results, 1)
				first := results[0].(map[string]interface{})
				assert.Equal(t, dashboard.FormatMultiLabel, first["format"])
				assert.Equal(t, []interface{}{domain.IndicatorSpotSpain}, first["variables"])
			},
		},
		{
			name:           "non numeric limit",
			query:          "?limit=all",
			expectedStatus: http.StatusBadRequest,
			validate: func(t *testing.T, response map[string]interface{}) {
				assert.Equal(t, "limit", response["field"])
			},
		},
		{
			name:           "bad date",
			query:          "?date_to=tomorrow",
			expectedStatus: http.StatusBadRequest,
			validate: func(t *testing.T, response map[string]interface{}) {
				assert.Equal(t, "date_to", response["field"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := setupRouter(t, newStubAPI())

			req := httptest.NewRequest("GET", "/api/dashboard/predictions"+tt.query, nil)
			req.Header.Set(ViewHeader, "history")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.validate != nil {
				tt.validate(t, decode(t, w))
			}
		})
	}
}

func TestHandleGetPredictionStats(t *testing.T) {
	router, _ := setupRouter(t, newStubAPI())

	req := httptest.NewRequest("GET", "/api/dashboard/predictions/stats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(2), data["total_predictions"])
	assert.Equal(t, map[string]interface{}{"conv": float64(1), "lstm": float64(1)}, data["models_used"])

	req = httptest.NewRequest("GET", "/api/dashboard/predictions/stats?refresh=often", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlePostForecast_MalformedUpstreamPayload(t *testing.T) {
	api := newStubAPI()
	api.forecast = &marketapi.ForecastResponse{
		Predictions: marketapi.Predictions{Series: map[string][]float64{domain.IndicatorSpotSpain: {60, 61, 62}}},
		Timestamps:  []string{"2025-03-30T11:00:00"},
	}
	router, _ := setupRouter(t, api)

	req := httptest.NewRequest("POST", "/api/dashboard/forecast", strings.NewReader(`{"labels": ["daily_spot_market_600_España"]}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	response := decode(t, w)
	assert.Equal(t, "parse", response["kind"])
	assert.Nil(t, response["field"])
}

func TestHandleViews(t *testing.T) {
	router, service := setupRouter(t, newStubAPI())

	req := httptest.NewRequest("GET", "/api/dashboard/forecast/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code, "status polling needs a view")

	req = httptest.NewRequest("GET", "/api/dashboard/forecast/status?view="+strings.Repeat("x", 200), nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest("GET", "/api/dashboard/forecast/status", nil)
	req.Header.Set(ViewHeader, "tab-1")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "idle", decode(t, w)["data"].(map[string]interface{})["status"])
	assert.Equal(t, 1, service.ViewCount())

	req = httptest.NewRequest("DELETE", "/api/dashboard/views/current", nil)
	req.Header.Set(ViewHeader, "tab-1")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["data"].(map[string]interface{})["closed"])
	assert.Equal(t, 0, service.ViewCount())
}

func TestHandleForecastStream(t *testing.T) {
	router, service := setupRouter(t, newStubAPI())
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/dashboard/forecast/stream"
	_, resp, err := websocket.Dial(ctx, base, nil)
	require.Error(t, err, "a stream needs a view")
	if resp != nil {
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}

	conn, _, err := websocket.Dial(ctx, base+"?view=tab-1", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var initial dashboard.ForecastStatus
	require.NoError(t, wsjson.Read(ctx, conn, &initial))
	assert.Equal(t, fetch.StatusIdle, initial.Status)

	// Another view's forecast is not pushed to this stream
	_, err = service.View("tab-2").Forecast(ctx, dashboard.ForecastRequest{Labels: []string{domain.IndicatorSpotSpain}})
	require.NoError(t, err)

	_, err = service.View("tab-1").Forecast(ctx, dashboard.ForecastRequest{Labels: []string{domain.IndicatorSpotSpain}})
	require.NoError(t, err)

	var loading, done dashboard.ForecastStatus
	require.NoError(t, wsjson.Read(ctx, conn, &loading))
	require.NoError(t, wsjson.Read(ctx, conn, &done))
	assert.Equal(t, fetch.StatusLoading, loading.Status)
	assert.Equal(t, uint64(1), loading.Generation)
	assert.Equal(t, fetch.StatusSuccess, done.Status)
	assert.Equal(t, "lstm", done.ModelUsed)
	assert.Equal(t, 2, done.Steps)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
}
