package dashboard

import (
	"context"

	"github.com/aristath/gridlens/internal/clients/marketapi"
	"github.com/aristath/gridlens/internal/domain"
	"github.com/aristath/gridlens/internal/fetch"
	"github.com/aristath/gridlens/internal/reconcile"
)

// PredictionDetailView is a stored prediction with its chart
type PredictionDetailView struct {
	Prediction marketapi.PredictionDetail `json:"prediction"`
	Chart      reconcile.Result           `json:"chart"`
}

// PredictionDetail loads one stored prediction. An empty id closes the view:
// the controller resets to idle, any in-flight load is discarded and nil is
// returned.
func (v *View) PredictionDetail(ctx context.Context, id string) (*PredictionDetailView, error) {
	v.touch()
	if id == "" {
		v.detail.Issue(ctx, nil)
		return nil, nil
	}

	key := marketapi.PredictionDetailKey(id)
	sub := v.detail.Ensure(detached(ctx), &fetch.Descriptor{Key: key})
	detail, err := await(ctx, v.detail, sub)
	if err != nil {
		return nil, err
	}

	byMetric, err := detail.Predictions.ByMetric()
	if err != nil {
		return nil, domain.NewParseError(key, err)
	}

	in := reconcile.Input{
		ForecastValues:     byMetric,
		ForecastTimestamps: detail.Timestamps,
		Location:           v.service.settings.Location,
	}
	// Stored predictions without timestamps start the hour after their date
	if len(detail.Timestamps) == 0 {
		if base, err := reconcile.ParseTimestamp(detail.PredictionDate); err == nil {
			in.BaseTime = base
		}
	}

	chart, err := reconcile.Reconcile(in)
	if err != nil {
		return nil, upstreamError(key, err)
	}

	return &PredictionDetailView{Prediction: detail, Chart: chart}, nil
}

// PredictionDetailState reports whether a detail view is open and loading
func (v *View) PredictionDetailState() fetch.State[marketapi.PredictionDetail] {
	return v.detail.State()
}
