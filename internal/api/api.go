// Package api serves the provider directory and the verification workflow
// over HTTP.
package api

import (
	"context"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/verifymyprovider/vmp/internal/confidence"
	"github.com/verifymyprovider/vmp/internal/config"
	"github.com/verifymyprovider/vmp/internal/directory"
	"github.com/verifymyprovider/vmp/internal/freshness"
	"github.com/verifymyprovider/vmp/internal/model"
	"github.com/verifymyprovider/vmp/internal/monitoring"
	"github.com/verifymyprovider/vmp/internal/verification"
)

// Directory is the read side of the directory store.
type Directory interface {
	Ping(ctx context.Context) error
	SearchProviders(ctx context.Context, f directory.ProviderFilter) ([]model.Provider, int, error)
	GetProvider(ctx context.Context, npi string) (*model.Provider, error)
	ListAcceptances(ctx context.Context, npi string) ([]model.ProviderPlanAcceptance, error)
	SearchPlans(ctx context.Context, f directory.PlanFilter) ([]model.InsurancePlan, error)
	GetPlan(ctx context.Context, planID string) (*model.InsurancePlan, error)
	GetLocation(ctx context.Context, id int64) (*model.Location, error)
	ListProvidersAtLocation(ctx context.Context, locationID int64, limit int) ([]model.Provider, error)
	ListVerifications(ctx context.Context, npi, planID string, limit int) ([]model.VerificationLog, error)
}

// Verifier records verifications, votes and reviews.
type Verifier interface {
	Submit(ctx context.Context, sub verification.Submission) (*verification.SubmitResult, error)
	Vote(ctx context.Context, verificationID, voter string, dir model.VoteDirection) (directory.VoteResult, error)
	Review(ctx context.Context, verificationID string, approved bool) (*model.ProviderPlanAcceptance, error)
}

// Stats produces the monitoring snapshot for the admin stats endpoint.
type Stats interface {
	Collect(ctx context.Context, lookbackHours int) (*monitoring.MetricsSnapshot, error)
}

// Deps bundles what the server needs. Stats may be nil.
type Deps struct {
	Directory Directory
	Verifier  Verifier
	Scorer    *confidence.Scorer
	Freshness *freshness.Evaluator
	Stats     Stats
	Registry  *prometheus.Registry
}

// Server is the HTTP API.
type Server struct {
	deps     Deps
	cfg      config.ServerConfig
	lookback int
	metrics  *Metrics
	cache    *cache.Cache
	limiters *cache.Cache
	proxies  []netip.Prefix
	now      func() time.Time

	genMu sync.Mutex
	gens  map[string]uint64
}

// New creates a Server. lookbackHours is passed to the stats collector.
func New(deps Deps, cfg config.ServerConfig, lookbackHours int) (*Server, error) {
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	m, err := NewMetrics(deps.Registry)
	if err != nil {
		return nil, err
	}
	ttl := time.Duration(cfg.CacheTTLSecs) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if cfg.VerifyPerHour <= 0 {
		cfg.VerifyPerHour = 10
	}
	if cfg.VotePerMinute <= 0 {
		cfg.VotePerMinute = 10
	}
	proxies, err := parseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	return &Server{
		deps:     deps,
		cfg:      cfg,
		lookback: lookbackHours,
		metrics:  m,
		cache:    cache.New(ttl, 2*ttl),
		limiters: cache.New(time.Hour, 10*time.Minute),
		proxies:  proxies,
		now:      time.Now,
		gens:     make(map[string]uint64),
	}, nil
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.realIP)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Admin-Secret"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.cached)
			r.Get("/providers/search", s.handleSearchProviders)
			r.Get("/providers/{npi}", s.handleGetProvider)
			r.Get("/providers/{npi}/plans", s.handleProviderPlans)
			r.Get("/plans/search", s.handleSearchPlans)
			r.Get("/plans/{planID}", s.handleGetPlan)
			r.Get("/locations/{id}", s.handleGetLocation)
			r.Get("/verify/{npi}/{planID}", s.handleListVerifications)
		})

		r.With(s.rateLimit("verify", s.cfg.VerifyPerHour, time.Hour)).
			Post("/verify", s.handleSubmit)
		r.With(s.rateLimit("vote", s.cfg.VotePerMinute, time.Minute)).
			Post("/verify/{id}/vote", s.handleVote)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/verifications/{id}/review", s.handleReview)
			r.Get("/stats", s.handleStats)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code, db := "ok", http.StatusOK, "ok"
	if err := s.deps.Directory.Ping(ctx); err != nil {
		status, code, db = "degraded", http.StatusServiceUnavailable, "unreachable"
	}
	writeJSON(w, code, map[string]string{"status": status, "database": db})
}
