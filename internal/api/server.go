package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edvin/pacgate/internal/api/handler"
	mw "github.com/edvin/pacgate/internal/api/middleware"
	"github.com/edvin/pacgate/internal/config"
	"github.com/edvin/pacgate/internal/core"
	"github.com/edvin/pacgate/internal/gate"
	"github.com/edvin/pacgate/internal/pac"
)

type Server struct {
	router   chi.Router
	logger   zerolog.Logger
	services *core.Services
	pool     *pgxpool.Pool
	cfg      *config.Config

	gate     *gate.Gate
	limiter  *gate.RateLimiter
	pacCache *pac.Cache
}

func NewServer(logger zerolog.Logger, pool *pgxpool.Pool, services *core.Services, cfg *config.Config) *Server {
	limiter := gate.NewRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)

	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger,
		services: services,
		pool:     pool,
		cfg:      cfg,
		limiter:  limiter,
		gate:     gate.New(services.Device, limiter),
		pacCache: pac.NewCache(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	// PAC fetch endpoint. No admin auth: the device token is the credential.
	pacHandler := handler.NewPAC(s.gate, s.services.Rule, s.pacCache, s.services.Usage, s.cfg.PACCacheMaxAge)
	s.router.Get("/pac", pacHandler.Serve)
	s.router.Get("/pac/{token}", pacHandler.Serve)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.Auth(s.services.AdminKey))

		// Dashboard
		dashboard := handler.NewDashboard(s.services.Device, s.services.Usage)
		r.Get("/dashboard/stats", dashboard.Stats)

		// Devices
		device := handler.NewDevice(s.services.Device, s.services.Rule, s.pacCache)
		r.Get("/devices", device.List)
		r.Post("/devices", device.Create)
		r.Get("/devices/{id}", device.Get)
		r.Put("/devices/{id}", device.Update)
		r.Delete("/devices/{id}", device.Delete)
		r.Post("/devices/{id}/rotate-token", device.RotateToken)
		r.Put("/devices/{id}/allowlist", device.SetAllowList)
		r.Post("/devices/{id}/enable", device.Enable)
		r.Post("/devices/{id}/disable", device.Disable)

		// Rules
		rule := handler.NewRule(s.services.Rule, s.services.Device)
		r.Get("/rules/global", rule.GetGlobal)
		r.Put("/rules/global", rule.SetGlobal)
		r.Get("/devices/{id}/rules", rule.GetForDevice)
		r.Put("/devices/{id}/rules", rule.SetForDevice)
		r.Get("/devices/{id}/rules/effective", rule.GetEffective)
		r.Get("/devices/{id}/resolve", rule.Resolve)

		// Usage
		usage := handler.NewUsage(s.services.Usage)
		r.Get("/usage/records", usage.ListRecords)
		r.Get("/usage/stats", usage.Stats)

		// Admin keys
		adminKey := handler.NewAdminKey(s.services.AdminKey)
		r.Get("/admin-keys", adminKey.List)
		r.Post("/admin-keys", adminKey.Create)
		r.Get("/admin-keys/{id}", adminKey.Get)
		r.Delete("/admin-keys/{id}", adminKey.Revoke)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops background workers owned by the server.
func (s *Server) Close() {
	s.limiter.Close()
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.pool.Ping(ctx); err != nil {
		checks["db"] = err.Error()
		healthy = false
	} else {
		checks["db"] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(checks)
}
