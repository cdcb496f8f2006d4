package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// conditionalHTTPLogger only logs HTTP requests when HTTP logging is enabled
func (h *Handlers) conditionalHTTPLogger(next http.Handler) http.Handler {
	logger := middleware.Logger(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Log != nil && h.Log.IsHTTPLoggingEnabled() {
			logger.ServeHTTP(w, r)
		} else {
			next.ServeHTTP(w, r)
		}
	})
}

// Router returns a configured chi router with all routes
func (h *Handlers) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.conditionalHTTPLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RedirectSlashes)
	if h.cors != nil {
		r.Use(h.cors.Handler)
	}

	r.Get("/healthz", h.handleHealth)

	// The websocket outlives the request timeout below.
	r.Get("/ws/{boxId}", h.handleWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		// Operator session
		r.Post("/api/login", h.handleLogin)
		r.Post("/api/logout", h.handleLogout)
		r.Get("/api/session", h.handleSession)

		// Boxes (public reads)
		r.Get("/api/boxes", h.handleListBoxes)
		r.Get("/api/state/{boxId}", h.handleState)
		r.Get("/api/boxes/{boxId}/ranking", h.handleRanking)
		r.Get("/api/boxes/{boxId}/podium", h.handlePodium)
		r.Get("/api/boxes/{boxId}/routes/{route}", h.handleRouteStandings)
		r.Get("/api/boxes/{boxId}/judge-link", h.handleJudgeLink)
		r.Get("/api/boxes/{boxId}/qr", h.handleJudgeQR)

		// Command intake
		r.Post("/api/cmd", h.handleCommand)

		// Results
		r.Get("/api/results", h.handleListResultCategories)
		r.Get("/api/results/{category}", h.handleGetResults)

		// Operator only
		r.Group(func(r chi.Router) {
			r.Use(h.Auth.RequireOperator)
			r.Post("/api/boxes", h.handleIngestRoster)
			r.Delete("/api/boxes/{boxId}", h.handleDeleteBox)
			r.Delete("/api/results/{category}", h.handleDeleteResults)
			r.Get("/api/settings", h.handleGetSettings)
			r.Put("/api/settings", h.handleUpdateSettings)
		})
	})

	return r
}
