// Command panelauthd serves the panel's authentication endpoints and an
// authorization gateway for every route in the default route table.
//
// Process settings come from the environment:
//
//	PANELAUTH_LISTEN           listen address (default :8080)
//	PANELAUTH_CONFIG           engine config file (YAML, JSON or TOML)
//	PANELAUTH_ALLOWED_ORIGINS  CORS origins, separated by ';'
//	REDIS_ADDR                 Redis address (default localhost:6379)
//	DATABASE_URL               PostgreSQL DSN for the principal store
//	LOG_LEVEL                  debug, info, warn or error
//
// Engine settings come from the config file and PANELAUTH_* overrides
// (see panelauth.LoadConfig). The config file is watched and reapplied.
//
// Create the first administrator with:
//
//	PANELAUTH_BOOTSTRAP_PASSWORD=... panelauthd -bootstrap-admin root
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	panelauth "github.com/MrEthical07/panelAuth"
	"github.com/MrEthical07/panelAuth/metrics/export/prometheus"
	"github.com/MrEthical07/panelAuth/middleware"
	"github.com/MrEthical07/panelAuth/principal/postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

type serverEnv struct {
	Listen         string   `env:"PANELAUTH_LISTEN,default=:8080"`
	ConfigFile     string   `env:"PANELAUTH_CONFIG"`
	AllowedOrigins []string `env:"PANELAUTH_ALLOWED_ORIGINS"`
	RedisAddr      string   `env:"REDIS_ADDR,default=localhost:6379"`
	DatabaseURL    string   `env:"DATABASE_URL,required"`
	LogLevel       string   `env:"LOG_LEVEL,default=info"`
}

func main() {
	bootstrap := flag.String("bootstrap-admin", "", "create an administrator with this username and exit")
	flag.Parse()

	if err := run(*bootstrap); err != nil {
		fmt.Fprintln(os.Stderr, "panelauthd:", err)
		os.Exit(1)
	}
}

func run(bootstrapAdmin string) error {
	var env serverEnv
	if err := envdecode.StrictDecode(&env); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	logger := newLogger(env.LogLevel)

	cfg, v, err := panelauth.LoadConfig(env.ConfigFile)
	if err != nil {
		return err
	}
	for _, w := range cfg.Lint().BySeverity(panelauth.LintWarn) {
		logger.Warn("config lint", "code", w.Code, "severity", w.Severity.String(), "message", w.Message)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, env.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(db); err != nil {
		return err
	}
	store := postgres.New(db)

	if bootstrapAdmin != "" {
		return bootstrapAdministrator(ctx, store, cfg, bootstrapAdmin, os.Getenv("PANELAUTH_BOOTSTRAP_PASSWORD"))
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{env.RedisAddr}})
	defer rdb.Close()

	engine, err := panelauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithPrincipalStore(store).
		WithLogger(logger).
		WithAuditSink(panelauth.NewSlogSink(logger.With("component", "audit"))).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	if v.ConfigFileUsed() != "" {
		if err := panelauth.WatchConfig(v, engine, logger); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              env.Listen,
		Handler:           newRouter(engine, logger, env.AllowedOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", env.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRouter(engine *panelauth.Engine, logger *slog.Logger, origins []string) http.Handler {
	opts := middleware.Options{Cookie: engine.Config().Cookie}
	auth := middleware.NewHandler(engine, opts, logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if len(origins) > 0 {
		r.Use(cors.Handler(auth.CORSOptions(origins)))
	}

	r.Get("/healthz", healthHandler(engine))
	if engine.Config().Metrics.Enabled {
		r.Handle("/metrics", prometheus.NewPrometheusExporter(engine).Handler())
	}

	r.Mount("/auth", auth.Routes())
	mountPanel(r, engine, opts)
	mountSecurityCenter(r, engine, opts, logger)
	return r
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
