// Package httpapi exposes the federation endpoints over HTTP: the OCM
// share and notification receivers, the federated DAV surface, and the
// operational endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/fedcal/fedcal/internal/federation"
	"github.com/fedcal/fedcal/internal/metrics"
	"github.com/fedcal/fedcal/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	Inbound  *federation.InboundService
	Outbound *federation.OutboundService
	Notifier *federation.Notifier
	DAV      http.Handler

	Calendars store.CalendarRepository
	Objects   store.CalendarObjectRepository
	Shares    store.OutgoingShareRepository

	// Health reports backend connectivity; wired to the store's ping.
	Health func(ctx context.Context) error

	PrometheusEnabled bool
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// writeError maps a handler error to its protocol status with a JSON body.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, federation.StatusOf(err), map[string]string{"message": err.Error()})
}

// Routes creates the HTTP router with all federation endpoints.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if s.Health != nil {
			if err := s.Health(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.PrometheusEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Post("/ocm/shares", s.ReceiveShare)
	r.Post("/ocm/notifications", s.ReceiveNotification)

	// Local calendar surface: sharing out and object writes that fan out
	// change notifications to sharees.
	r.Route("/v1/calendars/{owner}/{calendar}", func(r chi.Router) {
		r.Post("/shares", s.ShareCalendar)
		r.Put("/objects/{object}", s.PutObject)
		r.Delete("/objects/{object}", s.DeleteObject)
	})

	r.Mount("/dav", http.StripPrefix("/dav", s.DAV))

	log.Info().Msg("HTTP routes registered")
	return r
}
