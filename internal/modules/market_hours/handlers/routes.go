package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all market phase routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/market", func(r chi.Router) {
		r.Get("/phase", h.HandleGetPhase)
		r.Get("/sessions", h.HandleGetSessions)
	})
}
