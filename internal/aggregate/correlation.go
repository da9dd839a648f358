package aggregate

import (
	"math"

	"github.com/aristath/gridlens/internal/domain"
	"github.com/aristath/gridlens/internal/reconcile"
	"gonum.org/v1/gonum/stat"
)

// CorrelationPair is one sample of the generation/price scatter
type CorrelationPair struct {
	Datetime        string  `json:"datetime"`
	TotalGeneration float64 `json:"total_generation"`
	Renewable       float64 `json:"renewable"`
	RenewableShare  float64 `json:"renewable_share"`
	Price           float64 `json:"price"`
	Hour            int     `json:"hour"`
}

// ComputeCorrelationPairs pairs each sample's total generation with its price.
// Samples whose total generation is <= 0 carry no generation data and are
// dropped, whatever their price. An absent price pairs as zero.
func (a *Aggregator) ComputeCorrelationPairs(samples []domain.RawSample, energyGroups []domain.MetricGroup, priceKey string) ([]CorrelationPair, error) {
	if err := a.ValidateGroups(energyGroups); err != nil {
		return nil, err
	}
	if !a.known[priceKey] {
		return nil, domain.NewValidationError("price_key", "unknown indicator %q", priceKey)
	}

	pairs := make([]CorrelationPair, 0, len(samples))
	for _, s := range samples {
		var total, renewable float64
		for _, g := range energyGroups {
			v := groupValue(s, g)
			total += v
			if a.renewable[g.Name] {
				renewable += v
			}
		}
		if total <= 0 {
			continue
		}

		hour := 0
		if at, err := reconcile.ParseTimestamp(s.Datetime); err == nil {
			hour = at.In(a.loc).Hour()
		}

		pairs = append(pairs, CorrelationPair{
			Datetime:        s.Datetime,
			TotalGeneration: total,
			Renewable:       renewable,
			RenewableShare:  renewable / total * 100,
			Price:           s.ValueOrZero(priceKey),
			Hour:            hour,
		})
	}
	return pairs, nil
}

// Correlation returns the Pearson coefficient between total generation and
// price. NaN when fewer than two pairs exist or either side is constant.
func Correlation(pairs []CorrelationPair) float64 {
	if len(pairs) < 2 {
		return math.NaN()
	}
	x := make([]float64, len(pairs))
	y := make([]float64, len(pairs))
	for i, p := range pairs {
		x[i] = p.TotalGeneration
		y[i] = p.Price
	}
	return stat.Correlation(x, y, nil)
}

// CategoryRow holds every category's value for one sample
type CategoryRow struct {
	Datetime    string             `json:"datetime"`
	DisplayTime string             `json:"display_time"`
	Hour        int                `json:"hour"`
	Values      map[string]float64 `json:"values"`
}

// categoryDisplayLayout matches the month/day hour labels of the trend charts
const categoryDisplayLayout = "Jan 2 15:04"

// CategorySeries returns per-sample category sums for trend and stacked-area views
func (a *Aggregator) CategorySeries(samples []domain.RawSample, groups []domain.MetricGroup) ([]CategoryRow, error) {
	if err := a.ValidateGroups(groups); err != nil {
		return nil, err
	}

	rows := make([]CategoryRow, 0, len(samples))
	for _, s := range samples {
		row := CategoryRow{
			Datetime: s.Datetime,
			Values:   make(map[string]float64, len(groups)),
		}
		if at, err := reconcile.ParseTimestamp(s.Datetime); err == nil {
			local := at.In(a.loc)
			row.Hour = local.Hour()
			row.DisplayTime = local.Format(categoryDisplayLayout)
		}
		for _, g := range groups {
			row.Values[g.Name] = groupValue(s, g)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ComputeCorrelationPairs uses the Default aggregator
func ComputeCorrelationPairs(samples []domain.RawSample, energyGroups []domain.MetricGroup, priceKey string) ([]CorrelationPair, error) {
	return Default.ComputeCorrelationPairs(samples, energyGroups, priceKey)
}
