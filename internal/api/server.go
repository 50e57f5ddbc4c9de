package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/checks"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/screening"
)

// Server is the HTTP front end: alert intake, synchronous
// investigation, and rule and transaction management.
type Server struct {
	handler *Handler
	router  *chi.Mux
	http    *http.Server
}

// NewServer wires the handler into a routed chi mux. Health endpoints
// are open; everything else requires a tenant header.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, scr *screening.Engine, registry *checks.Registry, version string) *Server {
	h := NewHandler(repo, cache, bus, eng, scr, registry, version, cfg.IntakeLimitPerMin)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(Trace)
	r.Use(RequestLogger)
	r.Use(Recover)
	r.Use(CORS)
	r.Use(middleware.Compress(5))

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)

	r.Group(func(r chi.Router) {
		r.Use(RequireTenant)

		r.Post("/investigate", h.Investigate)

		r.Post("/alerts", h.IntakeAlert)
		r.Get("/alerts/{id}/investigation", h.GetAlertInvestigation)
		r.Get("/investigations/{id}", h.GetInvestigation)

		r.Get("/checks", h.ListChecks)

		r.Post("/transactions", h.CreateTransaction)
		r.Get("/transactions/{id}", h.GetTransaction)
		r.Get("/customers/{id}/transactions", h.ListCustomerTransactions)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Post("/", h.CreateRule)
			r.Post("/reload", h.ReloadRules)
			r.Get("/{id}", h.GetRule)
			r.Delete("/{id}", h.DeleteRule)
		})
	})

	return &Server{
		handler: h,
		router:  r,
		http: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           r,
			ReadTimeout:       time.Duration(cfg.ReadTimeout) * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      time.Duration(cfg.WriteTimeout) * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
	}
}

// Start serves requests until Shutdown or a listener error.
func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

// Shutdown stops accepting connections and drains in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Router exposes the mux so tests can drive it without a listener.
func (s *Server) Router() *chi.Mux {
	return s.router
}
