// Package http exposes the metering and settlement REST surface.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/application"
)

type Handler struct {
	service *application.Service
}

func NewHandler(service *application.Service) *Handler {
	return &Handler{service: service}
}

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { writeSuccess(w, http.StatusOK, "ok", nil) })
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) { writeSuccess(w, http.StatusOK, "ready", nil) })
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Post("/ledger/{did}/charge", handler.charge)
			r.Get("/ledger/{did}", handler.getLedgerState)
			r.Get("/ledger/held", handler.listHeld)
			r.Post("/ledger/{did}/override", handler.overrideBalance)
			r.Post("/settlement/run", handler.runSettlement)
			r.Get("/claims", handler.listClaims)
		})
	})
	return r
}
