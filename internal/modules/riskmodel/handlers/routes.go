package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all risk scoring routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/risk", func(r chi.Router) {
		r.Post("/score", h.HandleScore)
		r.Post("/simulate", h.HandleSimulate)
		r.Get("/scores", h.HandleGetScores)

		r.Route("/model", func(r chi.Router) {
			r.Get("/stats", h.HandleGetStats)
			r.Get("/importance", h.HandleGetImportance)
			r.Post("/load", h.HandleLoad)
			r.Post("/train", h.HandleTrain)
		})
	})
}
