package clientdata

import "time"

// TTL constants per cache table.
// These are added to time.Now() when storing to calculate expires_at.
const (
	TTLHistorical       = 15 * time.Minute // Hourly data, the current window may still fill in
	TTLForecast         = 5 * time.Minute  // Predictions depend on the latest input window
	TTLLatestDate       = time.Hour        // Reference date moves once per ingest
	TTLPredictionDetail = 24 * time.Hour   // Stored predictions never change
	TTLPredictionList   = time.Minute      // Every forecast run appends to the history
	TTLPredictionStats  = 5 * time.Minute  // Aggregates over the whole history
)
