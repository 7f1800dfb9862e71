// Package gateway exposes the marketplace over HTTP. Handlers stay thin:
// parse, validate, call the service, map kind-tagged errors to status codes.
package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"botmarket/core/jobs"
	"botmarket/escrow"
	"botmarket/events"
	"botmarket/gateway/middleware"
	"botmarket/x402"
)

// Config carries the gateway-level settings.
type Config struct {
	// EscrowWallet is advertised as the deposit destination on job creation.
	EscrowWallet string
	// AssetMint is echoed in deposit instructions.
	AssetMint string
	// DemoMode mounts the unverified activation endpoint.
	DemoMode bool
	// AdminAPIKey gates the admin surface; empty disables it.
	AdminAPIKey     string
	AdminAllowedIPs []string
}

// Server wires the HTTP surface over the marketplace services.
type Server struct {
	service     *jobs.Service
	coordinator *escrow.Coordinator
	paywall     *x402.Paywall
	bus         *events.Bus
	cfg         Config
	logger      *slog.Logger
	startedAt   time.Time
}

// NewServer builds the server. The bus may be nil when event introspection is
// not wanted on the admin surface.
func NewServer(service *jobs.Service, coordinator *escrow.Coordinator, paywall *x402.Paywall, bus *events.Bus, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		service:     service,
		coordinator: coordinator,
		paywall:     paywall,
		bus:         bus,
		cfg:         cfg,
		logger:      logger,
		startedAt:   time.Now().UTC(),
	}
}

// Router assembles the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.SecurityHeaders)

	obs := middleware.NewObservability(s.logger)
	limiter := middleware.NewRateLimiter()

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", obs.MetricsHandler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(limiter.Middleware)
		api.Use(obs.Middleware("api"))

		api.Route("/jobs", func(jr chi.Router) {
			jr.Post("/", s.handleCreateJob)
			jr.Get("/", s.handleListJobs)
			jr.Get("/open", s.handleListOpenJobs)
			jr.Route("/{id}", func(job chi.Router) {
				job.Get("/", s.handleGetJob)
				job.Post("/deposit", s.handleDeposit)
				job.Post("/cancel", s.handleCancel)
				job.Post("/claim", s.handleClaim)
				job.Post("/complete", s.handleComplete)
				job.Get("/verify", s.handleVerify)
				job.Post("/verify-hash", s.handleVerifyHash)
				if s.cfg.DemoMode {
					job.Post("/activate", s.handleDemoActivate)
				}
			})
		})

		api.Get("/results/{jobID}", s.handleResult)
	})

	admin := middleware.NewAdminAuth(s.cfg.AdminAPIKey, s.cfg.AdminAllowedIPs)
	r.Route("/admin", func(ar chi.Router) {
		ar.Use(admin.Middleware)
		ar.Use(obs.Middleware("admin"))
		ar.Get("/stats", s.handleAdminStats)
		ar.Get("/escrows", s.handleAdminEscrows)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	s.paywall.ServeResult(w, r, chi.URLParam(r, "jobID"))
}
