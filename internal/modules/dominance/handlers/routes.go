package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers optimisation, scenario and run history routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/optimize", func(r chi.Router) {
		r.Post("/", h.HandleOptimize)
		r.Post("/batch", h.HandleOptimizeBatch)
	})
	r.Post("/scenarios/problem", h.HandleBuildProblem)
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", h.HandleListRuns)
		r.Get("/{id}", h.HandleGetRun)
	})
}
