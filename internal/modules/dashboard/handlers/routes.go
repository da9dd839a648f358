package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the request/response dashboard routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/dashboard", func(r chi.Router) {
		r.Get("/reference-date", h.HandleGetReferenceDate)
		r.Get("/indicators", h.HandleGetIndicators)
		r.Get("/overview", h.HandleGetOverview)

		r.Post("/forecast", h.HandlePostForecast)
		r.Get("/forecast/status", h.HandleGetForecastStatus)

		r.Delete("/views/current", h.HandleCloseView)

		r.Route("/predictions", func(r chi.Router) {
			r.Get("/", h.HandleGetPredictionHistory)
			r.Get("/stats", h.HandleGetPredictionStats)
			r.Delete("/current", h.HandleClosePrediction)
			r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
				id := chi.URLParam(r, "id")
				h.HandleGetPrediction(w, r, id)
			})
		})
	})
}

// RegisterStreamRoutes registers long-lived routes that must not run under a
// request timeout
func (h *Handler) RegisterStreamRoutes(r chi.Router) {
	r.Get("/dashboard/forecast/stream", h.HandleForecastStream)
}
