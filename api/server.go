/*
server.go - HTTP server setup and routing

PURPOSE:
  Wires the chi router: middleware, CORS, the API route tree, Prometheus
  metrics, and the liveness probe. Handlers live in handlers.go.
*/
package api

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// =============================================================================
// SERVER
// =============================================================================

type Server struct {
	handler *Handler
	router  *chi.Mux
	port    int
}

func NewServer(handler *Handler, port int) *Server {
	s := &Server{handler: handler, router: chi.NewRouter(), port: port}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Admin-Token"},
		MaxAge:         300,
	}))

	h := s.handler

	r.Route("/api", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.CreateAccount)
			r.Get("/", h.ListAccounts)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetAccount)
				r.Post("/close", h.CloseAccount)
				r.Get("/balance", h.GetBalance)
				r.Post("/deposit", h.Deposit)
				r.Post("/withdraw", h.Withdraw)
				r.Get("/transactions", h.GetHistory)
				r.Get("/transactions/export", h.ExportHistory)
				r.Get("/summary", h.GetSummary)
			})
		})

		r.Post("/transfers", h.Transfer)
		r.Post("/credits", h.ExternalCredit)
		r.Get("/mirror/status", h.MirrorStatus)

		r.Delete("/admin/accounts/{id}", h.DeleteAccount)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", h.Healthz)
}

// Router exposes the mux for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start blocks serving HTTP until the listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	log.Printf("listening on %s", addr)
	return http.ListenAndServe(addr, s.router)
}
