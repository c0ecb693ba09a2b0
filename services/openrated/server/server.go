// Package server exposes the market engine over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"openrate/core/events"
	"openrate/gateway/auth"
	"openrate/gateway/middleware"
	"openrate/native/market"
	"openrate/observability"
	"openrate/storage/ledger"
)

// Exporter writes audit snapshots.
type Exporter interface {
	Export(ctx context.Context, baseDir string) (*ledger.ExportResult, error)
}

// Config captures the dependencies of the HTTP API. Engine and Auth are
// required; the rest are optional.
type Config struct {
	Engine        *market.Engine
	Auth          *auth.Authenticator
	Operator      *middleware.OperatorAuth
	Limiter       *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Events        *events.Broadcaster
	Exporter      Exporter
	ExportDir     string
	Metrics       *observability.GatewayMetrics
	Logger        *slog.Logger
	// Health reports storage reachability for /healthz.
	Health func(context.Context) error
}

// Server serves the openrate API.
type Server struct {
	engine    *market.Engine
	auth      *auth.Authenticator
	operator  *middleware.OperatorAuth
	limiter   *middleware.RateLimiter
	obs       *middleware.Observability
	cors      middleware.CORSConfig
	events    *events.Broadcaster
	exporter  Exporter
	exportDir string
	metrics   *observability.GatewayMetrics
	logger    *slog.Logger
	health    func(context.Context) error

	router http.Handler
}

// New builds the server and its router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		engine:    cfg.Engine,
		auth:      cfg.Auth,
		operator:  cfg.Operator,
		limiter:   cfg.Limiter,
		obs:       cfg.Observability,
		cors:      cfg.CORS,
		events:    cfg.Events,
		exporter:  cfg.Exporter,
		exportDir: cfg.ExportDir,
		metrics:   cfg.Metrics,
		logger:    logger.With("component", "openrated.server"),
		health:    cfg.Health,
	}
	srv.router = otelhttp.NewHandler(srv.buildRouter(), "openrated")
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if s.obs != nil {
		r.Use(s.obs.Middleware)
	}
	r.Use(middleware.CORS(s.cors))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(public chi.Router) {
			public.Use(s.limit("public"))
			public.Get("/mints/{mint}", s.handleGetMint)
			public.Get("/mints/{mint}/market", s.handleMarketForMint)
			public.Get("/markets/{id}", s.handleGetMarket)
			public.Get("/markets/{id}/vault", s.handleGetVault)
			public.Get("/markets/{id}/bids", s.handleListBids)
			public.Get("/bids/{id}", s.handleGetBid)
			public.Get("/borrows/{id}", s.handleGetBorrow)
			public.Get("/accounts/{address}/balances/{mint}", s.handleGetBalance)
			public.Get("/events", s.handleEvents)
		})
		v1.Group(func(signed chi.Router) {
			signed.Use(s.limit("signed"))
			signed.Use(auth.Middleware(s.auth, s.authFailed))
			signed.Post("/markets", s.handleInitializeMarket)
			signed.Post("/markets/{id}/bids", s.handlePlaceBid)
			signed.Post("/bids/{id}/borrow", s.handleBorrow)
			signed.Post("/bids/{id}/cancel", s.handleCancelBid)
			signed.Post("/bids/{id}/claim", s.handleClaimProceeds)
			signed.Post("/borrows/{id}/repay", s.handleRepay)
		})
	})

	if s.operator != nil {
		r.Route("/ops", func(ops chi.Router) {
			ops.Use(s.limit("ops"))
			ops.With(s.operator.Require(middleware.ScopeMint)).Post("/mints", s.handleRegisterMint)
			ops.With(s.operator.Require(middleware.ScopeMint)).Post("/mints/{mint}/credit", s.handleCredit)
			ops.With(s.operator.Require(middleware.ScopeExport)).Post("/exports", s.handleExport)
		})
	}
	return r
}

func (s *Server) limit(group string) func(http.Handler) http.Handler {
	if s.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return s.limiter.Middleware(group)
}

func (s *Server) authFailed(w http.ResponseWriter, r *http.Request, err error) {
	s.metrics.RecordAuthFailure("signature")
	s.logger.Debug("signed request rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
	writeError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse(s.engine.HaltedMarkets())
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.logger.Error("health check failed", slog.Any("error", err))
			resp.Status = "unavailable"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
