package marketapi

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// API paths
const (
	PathHistorical        = "/api/v1/historical"
	PathPredict           = "/api/v1/predict/"
	PathLatestDate        = "/api/v1/data/latest-date/"
	PathPredictionHistory = "/api/v1/predictions/history/"
	PathPredictionStats   = "/api/v1/predictions/history/stats/"
)

// HistoricalQuery selects a window of historical samples
type HistoricalQuery struct {
	Days    int
	Columns []string // Empty requests every column
	EndDate string   // YYYY-MM-DD, empty for the latest data
}

// Key is the request path with its query string. Equal queries yield equal keys.
func (q HistoricalQuery) Key() string {
	v := url.Values{}
	v.Set("days", strconv.Itoa(q.Days))
	if len(q.Columns) > 0 {
		v.Set("columns", strings.Join(q.Columns, ","))
	}
	if q.EndDate != "" {
		v.Set("end_date", q.EndDate)
	}
	return PathHistorical + "?" + v.Encode()
}

// ParseHistoricalQuery reverses HistoricalQuery.Key
func ParseHistoricalQuery(key string) (HistoricalQuery, error) {
	u, err := url.Parse(key)
	if err != nil {
		return HistoricalQuery{}, fmt.Errorf("invalid historical key %q: %w", key, err)
	}
	if u.Path != PathHistorical {
		return HistoricalQuery{}, fmt.Errorf("not a historical key: %q", key)
	}

	v := u.Query()
	days, err := strconv.Atoi(v.Get("days"))
	if err != nil || days <= 0 {
		return HistoricalQuery{}, fmt.Errorf("invalid days in historical key %q", key)
	}

	q := HistoricalQuery{Days: days, EndDate: v.Get("end_date")}
	if cols := v.Get("columns"); cols != "" {
		q.Columns = strings.Split(cols, ",")
	}
	return q, nil
}

// ForecastQuery is the body of a predict request
type ForecastQuery struct {
	ModelName      string `json:"model_name"`
	HoursAhead     int    `json:"hours_ahead"`
	InputHours     int    `json:"input_hours"`
	PredictionDate string `json:"prediction_date"`
}

// Key identifies the forecast for caching and request de-duplication
func (q ForecastQuery) Key() string {
	v := url.Values{}
	v.Set("model_name", q.ModelName)
	v.Set("hours_ahead", strconv.Itoa(q.HoursAhead))
	v.Set("input_hours", strconv.Itoa(q.InputHours))
	v.Set("prediction_date", q.PredictionDate)
	return PathPredict + "?" + v.Encode()
}

// ParseForecastQuery reverses ForecastQuery.Key
func ParseForecastQuery(key string) (ForecastQuery, error) {
	u, err := url.Parse(key)
	if err != nil {
		return ForecastQuery{}, fmt.Errorf("invalid forecast key %q: %w", key, err)
	}
	if u.Path != PathPredict {
		return ForecastQuery{}, fmt.Errorf("not a forecast key: %q", key)
	}

	v := u.Query()
	hoursAhead, err := strconv.Atoi(v.Get("hours_ahead"))
	if err != nil {
		return ForecastQuery{}, fmt.Errorf("invalid hours_ahead in forecast key %q", key)
	}
	inputHours, err := strconv.Atoi(v.Get("input_hours"))
	if err != nil {
		return ForecastQuery{}, fmt.Errorf("invalid input_hours in forecast key %q", key)
	}

	return ForecastQuery{
		ModelName:      v.Get("model_name"),
		HoursAhead:     hoursAhead,
		InputHours:     inputHours,
		PredictionDate: v.Get("prediction_date"),
	}, nil
}

// PredictionDetailKey is the history path of one stored prediction
func PredictionDetailKey(id string) string {
	return PathPredictionHistory + url.PathEscape(id) + "/"
}

// ParsePredictionDetailKey extracts the prediction id from PredictionDetailKey
func ParsePredictionDetailKey(key string) (string, error) {
	rest, ok := strings.CutPrefix(key, PathPredictionHistory)
	if !ok {
		return "", fmt.Errorf("not a prediction detail key: %q", key)
	}
	id, err := url.PathUnescape(strings.TrimSuffix(rest, "/"))
	if err != nil || id == "" {
		return "", fmt.Errorf("invalid prediction id in key %q", key)
	}
	return id, nil
}

// PredictionHistoryFilters narrows the stored prediction list. Zero values
// are not sent.
type PredictionHistoryFilters struct {
	ModelUsed      string `json:"model_used,omitempty"`
	DateFrom       string `json:"date_from,omitempty"` // YYYY-MM-DD, on creation time
	DateTo         string `json:"date_to,omitempty"`   // YYYY-MM-DD, on creation time
	PredictionDate string `json:"prediction_date,omitempty"`
	HoursAhead     int    `json:"hours_ahead,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// Key is the list path with the filters as query string. Equal filters yield
// equal keys.
func (f PredictionHistoryFilters) Key() string {
	v := url.Values{}
	if f.ModelUsed != "" {
		v.Set("model_used", f.ModelUsed)
	}
	if f.DateFrom != "" {
		v.Set("date_from", f.DateFrom)
	}
	if f.DateTo != "" {
		v.Set("date_to", f.DateTo)
	}
	if f.PredictionDate != "" {
		v.Set("prediction_date", f.PredictionDate)
	}
	if f.HoursAhead != 0 {
		v.Set("hours_ahead", strconv.Itoa(f.HoursAhead))
	}
	if f.Limit != 0 {
		v.Set("limit", strconv.Itoa(f.Limit))
	}
	if len(v) == 0 {
		return PathPredictionHistory
	}
	return PathPredictionHistory + "?" + v.Encode()
}

// ParsePredictionHistoryKey reverses PredictionHistoryFilters.Key
func ParsePredictionHistoryKey(key string) (PredictionHistoryFilters, error) {
	u, err := url.Parse(key)
	if err != nil {
		return PredictionHistoryFilters{}, fmt.Errorf("invalid prediction history key %q: %w", key, err)
	}
	if u.Path != PathPredictionHistory {
		return PredictionHistoryFilters{}, fmt.Errorf("not a prediction history key: %q", key)
	}

	v := u.Query()
	f := PredictionHistoryFilters{
		ModelUsed:      v.Get("model_used"),
		DateFrom:       v.Get("date_from"),
		DateTo:         v.Get("date_to"),
		PredictionDate: v.Get("prediction_date"),
	}
	if s := v.Get("hours_ahead"); s != "" {
		if f.HoursAhead, err = strconv.Atoi(s); err != nil {
			return PredictionHistoryFilters{}, fmt.Errorf("invalid hours_ahead in prediction history key %q", key)
		}
	}
	if s := v.Get("limit"); s != "" {
		if f.Limit, err = strconv.Atoi(s); err != nil {
			return PredictionHistoryFilters{}, fmt.Errorf("invalid limit in prediction history key %q", key)
		}
	}
	return f, nil
}
