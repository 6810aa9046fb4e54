package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes registers all admin API routes using chi router
func RegisterRoutes(mux *http.ServeMux, handlers *Handlers) {
	r := chi.NewRouter()

	r.Get("/health", handlers.handleHealth)

	r.Route("/schedule", func(r chi.Router) {
		r.Get("/", handlers.handleGetSchedule)
		r.Put("/", handlers.handlePutSchedule)
		r.Get("/status", handlers.handleScheduleStatus)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", handlers.handleListOrders)
		r.Get("/{id}", func(w http.ResponseWriter, req *http.Request) {
			handlers.handleGetOrder(w, req, chi.URLParam(req, "id"))
		})
	})

	r.Route("/realtime", func(r chi.Router) {
		r.Get("/metrics", handlers.handleRealtimeMetrics)
		r.Post("/{channel}/reconnect", func(w http.ResponseWriter, req *http.Request) {
			handlers.handleForceReconnect(w, req, chi.URLParam(req, "channel"))
		})
	})

	// Mount chi router under /admin
	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	log.Info().Msg("Admin endpoints enabled at /admin/*")
}
