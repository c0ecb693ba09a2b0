package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"openrate/config"
	"openrate/core/events"
	"openrate/crypto"
	"openrate/gateway/auth"
	"openrate/gateway/middleware"
	nativecommon "openrate/native/common"
	"openrate/native/market"
	"openrate/observability"
	"openrate/observability/logging"
	telemetry "openrate/observability/otel"
	"openrate/services/openrated/server"
	"openrate/storage/ledger"
	"openrate/storage/lock"
)

func main() {
	configPath := flag.String("config", "", "path to openrated configuration")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logging.Setup("openrated", os.Getenv("OPENRATE_ENV")).Error("openrated exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, logCloser, err := logging.SetupWithOptions(cfg.LoggingOptions())
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logCloser.Close()
	logger.Info("configuration loaded",
		slog.String("listen", cfg.Listen),
		slog.String("database", cfg.Database.Driver),
		slog.String("dsn", logging.MaskValue(cfg.Database.DSN)),
		slog.Bool("redis", cfg.Redis.Enabled()),
		slog.Bool("operator", cfg.Operator.Enabled()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	params, err := market.LoadParams(cfg.ParamsPath)
	if err != nil {
		return err
	}

	storeOpts := []ledger.Option{ledger.WithLogger(logger.With("component", "ledger"))}
	if cfg.Database.Serializable {
		storeOpts = append(storeOpts, ledger.WithSerializable(cfg.Database.Retries))
	}
	store, err := ledger.Open(cfg.Database.Driver, cfg.Database.DSN, storeOpts...)
	if err != nil {
		return err
	}
	defer store.Close()

	engine := market.NewEngine(store, params)
	engine.SetLogger(logger.With("component", "market"))
	engine.SetMetrics(observability.Ledger())
	authorities, err := parseAuthorities(params.Authorities)
	if err != nil {
		return err
	}
	engine.SetAuthorities(authorities)
	if params.Paused {
		engine.SetPauses(nativecommon.NewPauses(market.ModuleName))
		logger.Warn("market operations paused by parameters")
	}
	health := []func(context.Context) error{store.Ping}
	if cfg.Redis.Enabled() {
		sequencer, err := lock.Dial(ctx, lock.Config{
			Addr:          cfg.Redis.Addr,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			TLSEnabled:    cfg.Redis.TLS,
			TTL:           cfg.Redis.LockTTL,
			RetryInterval: cfg.Redis.RetryInterval,
		})
		if err != nil {
			return err
		}
		defer sequencer.Close()
		engine.SetSequencer(sequencer)
		health = append(health, sequencer.Ping)
	}

	broadcaster := events.NewBroadcaster()
	engine.SetEmitter(events.MultiEmitter{broadcaster, eventLog{logger.With("component", "events")}})

	var nonces auth.NoncePersistence
	if cfg.Auth.NonceDB != "" {
		db, err := auth.OpenLevelDBNonces(cfg.Auth.NonceDB)
		if err != nil {
			return err
		}
		defer db.Close()
		nonces = db
	}
	authenticator := auth.NewAuthenticator(auth.Config{
		TimestampSkew: cfg.Auth.TimestampSkew,
		NonceTTL:      cfg.Auth.NonceTTL,
		NonceCapacity: cfg.Auth.NonceCapacity,
	}, time.Now, nonces)
	if nonces != nil {
		if err := authenticator.HydrateNonces(ctx, time.Now().Add(-authenticator.NonceTTL())); err != nil {
			return fmt.Errorf("hydrate nonces: %w", err)
		}
	}

	gatewayMetrics := observability.Gateway()
	var operator *middleware.OperatorAuth
	if cfg.Operator.Enabled() {
		operator = middleware.NewOperatorAuth(middleware.OperatorAuthConfig{
			HMACSecret: cfg.Operator.JWTSecret,
			Issuer:     cfg.Operator.Issuer,
			Audience:   cfg.Operator.Audience,
			ClockSkew:  cfg.Operator.ClockSkew,
		}, logger, gatewayMetrics.RecordAuthFailure)
	} else {
		logger.Warn("operator routes disabled; set operator.jwtSecret to enable minting")
	}

	srv := server.New(server.Config{
		Engine:        engine,
		Auth:          authenticator,
		Operator:      operator,
		Limiter:       middleware.NewRateLimiter(cfg.RateLimits, gatewayMetrics.RecordThrottle),
		Observability: middleware.NewObservability(cfg.Service, logger, gatewayMetrics, cfg.Logging.LogRequests),
		CORS:          cfg.CORS,
		Events:        broadcaster,
		Exporter:      store,
		ExportDir:     cfg.ExportDir,
		Metrics:       gatewayMetrics,
		Logger:        logger,
		Health:        allHealthy(health...),
	})

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("openrated listening", slog.String("addr", listener.Addr().String()))
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func parseAuthorities(raw []string) ([][20]byte, error) {
	out := make([][20]byte, 0, len(raw))
	for _, value := range raw {
		addr, err := crypto.ParseAccount(value)
		if err != nil {
			return nil, fmt.Errorf("market authority %q: %w", value, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

func allHealthy(checks ...func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// eventLog records committed ledger events at debug level.
type eventLog struct{ logger *slog.Logger }

func (l eventLog) Emit(evt events.Event) {
	payload := evt.Event()
	if payload == nil {
		return
	}
	attrs := make([]any, 0, len(payload.Attributes))
	for k, v := range payload.Attributes {
		attrs = append(attrs, slog.String(k, v))
	}
	l.logger.Debug(payload.Type, attrs...)
}
