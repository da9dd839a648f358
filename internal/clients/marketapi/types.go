package marketapi

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/aristath/gridlens/internal/domain"
)

// TimeRange is the span covered by a historical response
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// HistoricalResponse is the payload of GET /api/v1/historical
type HistoricalResponse struct {
	Data      []domain.RawSample `json:"data"`
	Columns   []string           `json:"columns"`
	Count     int                `json:"count"`
	TimeRange TimeRange          `json:"time_range"`
}

// InputData describes the window the model read its inputs from
type InputData struct {
	HoursUsed int    `json:"hours_used"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// ForecastResponse is the payload of POST /api/v1/predict/
type ForecastResponse struct {
	Predictions Predictions `json:"predictions"`
	Timestamps  []string    `json:"timestamps"`
	ModelUsed   string      `json:"model_used"`
	InputData   InputData   `json:"input_data"`
}

// SuggestedDefaults are window end dates proposed by the API
type SuggestedDefaults struct {
	EndDate string `json:"end_date"`
	Days30  string `json:"days_30"`
	Days90  string `json:"days_90"`
	Days365 string `json:"days_365"`
}

// LatestDateInfo is the payload of GET /api/v1/data/latest-date/
type LatestDateInfo struct {
	LatestDate         string            `json:"latest_date"`
	OldestDate         string            `json:"oldest_date"`
	TotalDaysAvailable int               `json:"total_days_available"`
	TotalRecords       int               `json:"total_records"`
	Timezone           string            `json:"timezone"`
	SuggestedDefaults  SuggestedDefaults `json:"suggested_defaults"`
}

// PredictionDetail is one stored prediction from the history endpoint
type PredictionDetail struct {
	ID             int         `json:"id"`
	ModelUsed      string      `json:"model_used"`
	HoursAhead     int         `json:"hours_ahead"`
	InputHours     int         `json:"input_hours"`
	PredictionDate string      `json:"prediction_date"`
	Predictions    Predictions `json:"predictions"`
	Timestamps     []string    `json:"timestamps"`
	Error          *string     `json:"error"`
	CreatedAt      string      `json:"created_at"`
}

// PredictionHistoryResponse is the payload of GET /api/v1/predictions/history/.
// Results carry no timestamps; open one with PredictionDetail to chart it.
type PredictionHistoryResponse struct {
	Count          int                    `json:"count"`
	Results        []PredictionDetail     `json:"results"`
	FiltersApplied map[string]interface{} `json:"filters_applied"`
	ReturnedCount  int                    `json:"returned_count"`
}

// DateRange is the creation span of the stored predictions
type DateRange struct {
	Oldest string `json:"oldest"`
	Newest string `json:"newest"`
}

// PredictionFormats counts stored predictions per payload shape
type PredictionFormats struct {
	LegacyList int `json:"legacy_list"`
	MultiLabel int `json:"multi_label"`
	Unknown    int `json:"unknown"`
}

// ModelCounts is the number of stored predictions per model
type ModelCounts map[string]int

// UnmarshalJSON accepts an object, or an empty array when nothing is stored
func (m *ModelCounts) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		if len(items) > 0 {
			return fmt.Errorf("models_used: expected an object, got a list of %d items", len(items))
		}
		*m = ModelCounts{}
		return nil
	}

	var counts map[string]int
	if err := json.Unmarshal(trimmed, &counts); err != nil {
		return err
	}
	*m = counts
	return nil
}

// PredictionHistoryStats is the payload of GET /api/v1/predictions/history/stats/
type PredictionHistoryStats struct {
	TotalPredictions       int               `json:"total_predictions"`
	ModelsUsed             ModelCounts       `json:"models_used"`
	DateRange              *DateRange        `json:"date_range"`
	AverageHoursAhead      float64           `json:"average_hours_ahead"`
	RecentPredictions7Days int               `json:"recent_predictions_7_days"`
	PredictionFormats      PredictionFormats `json:"prediction_formats"`
}

// PredictionColumns is the column order of multi-label predictions returned
// as one row per step
var PredictionColumns = []string{
	domain.IndicatorScheduledDemand372,
	domain.IndicatorSpotSpain,
	domain.IndicatorSpotPortugal,
}

// Predictions holds the predicted values in whichever shape the API sent:
// keyed by metric, a single flat series, or one row of columns per step.
type Predictions struct {
	Series map[string][]float64
	Flat   []float64
	Rows   [][]float64
}

// UnmarshalJSON accepts an object, a flat array, a nested array or null
func (p *Predictions) UnmarshalJSON(data []byte) error {
	*p = Predictions{}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	switch trimmed[0] {
	case '{':
		return json.Unmarshal(trimmed, &p.Series)
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		if len(raw) > 0 && bytes.HasPrefix(bytes.TrimSpace(raw[0]), []byte("[")) {
			return json.Unmarshal(trimmed, &p.Rows)
		}
		return json.Unmarshal(trimmed, &p.Flat)
	default:
		return fmt.Errorf("unsupported predictions payload starting with %q", trimmed[0])
	}
}

// MarshalJSON writes the shape that was received
func (p Predictions) MarshalJSON() ([]byte, error) {
	switch {
	case p.Series != nil:
		return json.Marshal(p.Series)
	case p.Rows != nil:
		return json.Marshal(p.Rows)
	case p.Flat != nil:
		return json.Marshal(p.Flat)
	default:
		return []byte("null"), nil
	}
}

// Empty reports whether no predicted values were received
func (p Predictions) Empty() bool {
	return len(p.Series) == 0 && len(p.Flat) == 0 && len(p.Rows) == 0
}

// ByMetric returns the predictions keyed by metric. A flat series belongs to
// the Spanish spot price; row columns follow PredictionColumns.
func (p Predictions) ByMetric() (map[string][]float64, error) {
	out := make(map[string][]float64)

	switch {
	case p.Series != nil:
		for k, v := range p.Series {
			out[k] = append([]float64(nil), v...)
		}

	case p.Flat != nil:
		out[domain.IndicatorSpotSpain] = append([]float64(nil), p.Flat...)

	case p.Rows != nil:
		for i, row := range p.Rows {
			if len(row) > len(PredictionColumns) {
				return nil, fmt.Errorf("prediction step %d has %d columns, at most %d are known",
					i, len(row), len(PredictionColumns))
			}
			// A single-column row is a price-only forecast
			if len(row) == 1 {
				out[domain.IndicatorSpotSpain] = append(out[domain.IndicatorSpotSpain], row[0])
				continue
			}
			for j, v := range row {
				out[PredictionColumns[j]] = append(out[PredictionColumns[j]], v)
			}
		}
	}

	return out, nil
}

// errorBody is the error payload of a non-2xx response
type errorBody struct {
	Error string `json:"error"`
}
