package domain

// Indicator keys exposed by the market data API
const (
	IndicatorSpotSpain    = "daily_spot_market_600_España"
	IndicatorSpotPortugal = "daily_spot_market_600_Portugal"

	IndicatorScheduledDemand365 = "scheduled_demand_365"
	IndicatorScheduledDemand358 = "scheduled_demand_358"
	IndicatorScheduledDemand372 = "scheduled_demand_372"
	IndicatorPeninsulaForecast  = "peninsula_forecast_460"

	IndicatorHydraulic71 = "hydraulic_71"
	IndicatorHydraulic36 = "hydraulic_36"
	IndicatorHydraulic1  = "hydraulic_1"
	IndicatorSolar       = "solar_14"
	IndicatorWind        = "wind_12"
	IndicatorNuclear39   = "nuclear_39"
	IndicatorNuclear4    = "nuclear_4"
	IndicatorNuclear74   = "nuclear_74"

	IndicatorPriceBaleares = "average_demand_price_573_Baleares"
	IndicatorPriceCanarias = "average_demand_price_573_Canarias"
	IndicatorPriceCeuta    = "average_demand_price_573_Ceuta"
	IndicatorPriceMelilla  = "average_demand_price_573_Melilla"
)

// AllIndicators lists every column of the historical dataset, in API order
var AllIndicators = []string{
	IndicatorSpotSpain,
	IndicatorSpotPortugal,
	IndicatorScheduledDemand365,
	IndicatorScheduledDemand358,
	IndicatorScheduledDemand372,
	IndicatorPeninsulaForecast,
	IndicatorHydraulic71,
	IndicatorHydraulic36,
	IndicatorHydraulic1,
	IndicatorSolar,
	IndicatorWind,
	IndicatorNuclear39,
	IndicatorNuclear4,
	IndicatorNuclear74,
	IndicatorPriceBaleares,
	IndicatorPriceCanarias,
	IndicatorPriceCeuta,
	IndicatorPriceMelilla,
}

// KnownIndicators is the default registry used to validate group definitions
var KnownIndicators = func() map[string]bool {
	m := make(map[string]bool, len(AllIndicators))
	for _, k := range AllIndicators {
		m[k] = true
	}
	return m
}()

// ForecastColumns are the columns requested alongside a forecast
var ForecastColumns = []string{
	IndicatorSpotSpain,
	IndicatorSpotPortugal,
	IndicatorScheduledDemand372,
	IndicatorPeninsulaForecast,
}

// EnergyGroups are the generation categories of the energy mix
var EnergyGroups = []MetricGroup{
	{Name: "Solar", Keys: []string{IndicatorSolar}},
	{Name: "Wind", Keys: []string{IndicatorWind}},
	{Name: "Hydraulic", Keys: []string{IndicatorHydraulic71, IndicatorHydraulic36, IndicatorHydraulic1}},
	{Name: "Nuclear", Keys: []string{IndicatorNuclear39, IndicatorNuclear4, IndicatorNuclear74}},
}

// RenewableGroups names the EnergyGroups counted as renewable
var RenewableGroups = []string{"Solar", "Wind"}

// RegionalPriceGroups are the non-peninsular demand price regions
var RegionalPriceGroups = []MetricGroup{
	{Name: "Baleares", Keys: []string{IndicatorPriceBaleares}},
	{Name: "Canarias", Keys: []string{IndicatorPriceCanarias}},
	{Name: "Ceuta", Keys: []string{IndicatorPriceCeuta}},
	{Name: "Melilla", Keys: []string{IndicatorPriceMelilla}},
}

// DefaultSelectedMetrics are the overview metrics shown when none are chosen
var DefaultSelectedMetrics = []string{
	IndicatorHydraulic1,
	IndicatorSolar,
	IndicatorWind,
	IndicatorNuclear4,
}
