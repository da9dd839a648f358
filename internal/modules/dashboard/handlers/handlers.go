// Package handlers provides HTTP handlers for the market dashboard.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/gridlens/internal/domain"
	"github.com/aristath/gridlens/internal/modules/dashboard"
	"github.com/rs/zerolog"
)

// ViewHeader names the dashboard view a request belongs to. Websocket
// clients, which cannot set headers, pass the view query parameter instead.
const ViewHeader = "X-View-ID"

const maxViewIDLength = 128

// Handler handles dashboard HTTP requests
type Handler struct {
	service *dashboard.Service
	log     zerolog.Logger
}

// NewHandler creates a new dashboard handler
func NewHandler(service *dashboard.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "dashboard").Logger(),
	}
}

// viewID extracts the view id of r, empty when the request carries none
func viewID(r *http.Request) (string, error) {
	id := r.Header.Get(ViewHeader)
	if id == "" {
		id = r.URL.Query().Get("view")
	}
	if len(id) > maxViewIDLength {
		return "", domain.NewValidationError("view", "id longer than %d characters", maxViewIDLength)
	}
	return id, nil
}

func requiredViewID(r *http.Request) (string, error) {
	id, err := viewID(r)
	if err == nil && id == "" {
		err = domain.NewValidationError("view", "the %s header or view query parameter is required", ViewHeader)
	}
	return id, err
}

// view resolves the view of r. Requests without a view id get a fresh one
// that nothing else shares.
func (h *Handler) view(w http.ResponseWriter, r *http.Request) (*dashboard.View, bool) {
	id, err := viewID(r)
	if err != nil {
		h.writeError(w, err, "Invalid view")
		return nil, false
	}
	return h.service.View(id), true
}

// registeredView resolves the view of r for operations that only make sense
// across requests, such as status polling and streams.
func (h *Handler) registeredView(w http.ResponseWriter, r *http.Request) (*dashboard.View, bool) {
	id, err := requiredViewID(r)
	if err != nil {
		h.writeError(w, err, "Invalid view")
		return nil, false
	}
	return h.service.View(id), true
}

// HandleGetReferenceDate handles GET /api/dashboard/reference-date
func (h *Handler) HandleGetReferenceDate(w http.ResponseWriter, r *http.Request) {
	h.writeData(w, http.StatusOK, h.service.ReferenceDate(r.Context()))
}

// HandleGetIndicators handles GET /api/dashboard/indicators
func (h *Handler) HandleGetIndicators(w http.ResponseWriter, r *http.Request) {
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"indicators":       domain.AllIndicators,
		"default_metrics":  domain.DefaultSelectedMetrics,
		"forecast_columns": domain.ForecastColumns,
		"energy_groups":    domain.EnergyGroups,
		"regional_prices":  domain.RegionalPriceGroups,
		"models":           dashboard.Models,
	})
}

// HandleGetOverview handles GET /api/dashboard/overview
//
// Query: end_date (YYYY-MM-DD), days, metrics (comma separated), refresh.
func (h *Handler) HandleGetOverview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := dashboard.OverviewRequest{EndDate: q.Get("end_date")}

	if daysStr := q.Get("days"); daysStr != "" {
		days, err := strconv.Atoi(daysStr)
		if err != nil || days <= 0 {
			http.Error(w, "days must be a positive integer", http.StatusBadRequest)
			return
		}
		req.Days = days
	}

	if metrics := q.Get("metrics"); metrics != "" {
		for _, m := range strings.Split(metrics, ",") {
			if m = strings.TrimSpace(m); m != "" {
				req.Metrics = append(req.Metrics, m)
			}
		}
	}

	if refresh := q.Get("refresh"); refresh != "" {
		b, err := strconv.ParseBool(refresh)
		if err != nil {
			http.Error(w, "refresh must be a boolean", http.StatusBadRequest)
			return
		}
		req.Refresh = b
	}

	view, ok := h.view(w, r)
	if !ok {
		return
	}

	overview, err := view.Overview(r.Context(), req)
	if err != nil {
		h.writeError(w, err, "Failed to build overview")
		return
	}

	h.writeData(w, http.StatusOK, overview)
}

// HandlePostForecast handles POST /api/dashboard/forecast
func (h *Handler) HandlePostForecast(w http.ResponseWriter, r *http.Request) {
	var req dashboard.ForecastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	view, ok := h.view(w, r)
	if !ok {
		return
	}

	result, err := view.Forecast(r.Context(), req)
	if err != nil {
		h.writeError(w, err, "Failed to run forecast")
		return
	}

	h.writeData(w, http.StatusOK, result)
}

// HandleGetForecastStatus handles GET /api/dashboard/forecast/status
func (h *Handler) HandleGetForecastStatus(w http.ResponseWriter, r *http.Request) {
	view, ok := h.registeredView(w, r)
	if !ok {
		return
	}
	h.writeData(w, http.StatusOK, view.ForecastStatus())
}

// HandleGetPrediction handles GET /api/dashboard/predictions/{id}
func (h *Handler) HandleGetPrediction(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := strconv.Atoi(id); err != nil {
		http.Error(w, "Invalid prediction id", http.StatusBadRequest)
		return
	}

	view, ok := h.view(w, r)
	if !ok {
		return
	}

	detail, err := view.PredictionDetail(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "Failed to get prediction")
		return
	}

	h.writeData(w, http.StatusOK, detail)
}

// HandleClosePrediction handles DELETE /api/dashboard/predictions/current
func (h *Handler) HandleClosePrediction(w http.ResponseWriter, r *http.Request) {
	view, ok := h.registeredView(w, r)
	if !ok {
		return
	}

	if _, err := view.PredictionDetail(r.Context(), ""); err != nil {
		h.writeError(w, err, "Failed to close prediction")
		return
	}

	state := view.PredictionDetailState()
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"status":     state.Status,
		"generation": state.Generation,
	})
}

// HandleGetPredictionHistory handles GET /api/dashboard/predictions
//
// Query: model_used, date_from, date_to, prediction_date, hours_ahead, limit, refresh.
func (h *Handler) HandleGetPredictionHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := dashboard.PredictionHistoryRequest{}
	req.ModelUsed = q.Get("model_used")
	req.DateFrom = q.Get("date_from")
	req.DateTo = q.Get("date_to")
	req.PredictionDate = q.Get("prediction_date")

	var err error
	if req.HoursAhead, err = queryInt(q.Get("hours_ahead"), "hours_ahead"); err != nil {
		h.writeError(w, err, "Invalid filters")
		return
	}
	if req.Limit, err = queryInt(q.Get("limit"), "limit"); err != nil {
		h.writeError(w, err, "Invalid filters")
		return
	}
	if req.Refresh, err = queryBool(q.Get("refresh"), "refresh"); err != nil {
		h.writeError(w, err, "Invalid filters")
		return
	}

	view, ok := h.view(w, r)
	if !ok {
		return
	}

	list, err := view.PredictionHistory(r.Context(), req)
	if err != nil {
		h.writeError(w, err, "Failed to list predictions")
		return
	}

	h.writeData(w, http.StatusOK, list)
}

// HandleGetPredictionStats handles GET /api/dashboard/predictions/stats
func (h *Handler) HandleGetPredictionStats(w http.ResponseWriter, r *http.Request) {
	refresh, err := queryBool(r.URL.Query().Get("refresh"), "refresh")
	if err != nil {
		h.writeError(w, err, "Invalid query")
		return
	}

	view, ok := h.view(w, r)
	if !ok {
		return
	}

	stats, err := view.PredictionHistoryStats(r.Context(), refresh)
	if err != nil {
		h.writeError(w, err, "Failed to get prediction stats")
		return
	}

	h.writeData(w, http.StatusOK, stats)
}

// HandleCloseView handles DELETE /api/dashboard/views/current
func (h *Handler) HandleCloseView(w http.ResponseWriter, r *http.Request) {
	id, err := requiredViewID(r)
	if err != nil {
		h.writeError(w, err, "Invalid view")
		return
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{
		"view":   id,
		"closed": h.service.CloseView(id),
	})
}

func queryInt(value, field string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, domain.NewValidationError(field, "%q is not an integer", value)
	}
	return n, nil
}

func queryBool(value, field string) (bool, error) {
	if value == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, domain.NewValidationError(field, "%q is not a boolean", value)
	}
	return b, nil
}

// writeError maps service errors to HTTP statuses
func (h *Handler) writeError(w http.ResponseWriter, err error, msg string) {
	status := http.StatusInternalServerError
	body := map[string]interface{}{"error": msg}

	var ve *domain.ValidationError
	var fe *domain.FetchError
	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
		body["error"] = ve.Error()
		body["field"] = ve.Field
	case errors.As(err, &fe):
		status = http.StatusBadGateway
		body["error"] = fe.Message
		body["kind"] = fe.Kind
		if fe.StatusCode != 0 {
			body["upstream_status"] = fe.StatusCode
		}
	case errors.Is(err, dashboard.ErrSuperseded):
		status = http.StatusConflict
		body["error"] = err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Int("status", status).Msg(msg)
	} else {
		h.log.Debug().Err(err).Int("status", status).Msg(msg)
	}

	h.writeJSON(w, status, body)
}

// writeData wraps data in the response envelope
func (h *Handler) writeData(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
