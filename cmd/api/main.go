// Package main is the entry point for the API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/qwermap/qwermap/internal/api"
	"github.com/qwermap/qwermap/internal/attest"
	"github.com/qwermap/qwermap/internal/config"
	"github.com/qwermap/qwermap/internal/db"
	"github.com/qwermap/qwermap/internal/gate"
	"github.com/qwermap/qwermap/internal/health"
	"github.com/qwermap/qwermap/internal/middleware"
	"github.com/qwermap/qwermap/internal/moderation"
	"github.com/qwermap/qwermap/internal/place"
	"github.com/qwermap/qwermap/internal/registry"
	"github.com/qwermap/qwermap/internal/safety"
	"github.com/qwermap/qwermap/internal/tracing"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configFile := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Qwermap API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, errs := config.Load(*configFile)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	logAttrs := make([]any, 0, 2*len(cfg.LogSummary()))
	for k, v := range cfg.LogSummary() {
		logAttrs = append(logAttrs, k, v)
	}
	logger.Info("configuration loaded", logAttrs...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	tracerProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  api.ServiceName,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.TracingOTLPEndpoint,
		SamplingRate: cfg.TracingSamplingRate,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Place store
	initCtx, cancelInit := context.WithTimeout(ctx, 15*time.Second)
	pool, err := db.Open(initCtx, cfg.DatabaseURL)
	cancelInit()
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	repo := place.NewPostgresRepository(pool, logger)

	// Rate/dedupe gate
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	gateMetrics := gate.NewMetrics()
	if err := gateMetrics.Register(promRegistry); err != nil {
		logger.Error("failed to register gate metrics", "error", err)
		os.Exit(1)
	}
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(promRegistry); err != nil {
		logger.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}

	g := gate.NewRedis(redisClient, gateMetrics)

	// Attestation client
	var attestClient attest.Client
	if cfg.AttestationURL != "" && cfg.AttestationKeypairPath != "" {
		attestClient, err = attest.NewHTTPClient(cfg.AttestationURL, cfg.AttestationKeypairPath, attest.DefaultTimeout)
		if err != nil {
			logger.Error("failed to create attestation client", "error", err)
			os.Exit(1)
		}
	} else {
		attestClient = attest.Unconfigured{}
	}

	// Domain services
	reg := registry.New(repo, g, attestClient, registry.Config{
		SubmitPerHour:       cfg.SubmitPerHour,
		UpvotePerHour:       cfg.UpvotePerHour,
		Window:              time.Duration(cfg.RateWindowSec) * time.Second,
		AutoApprove:         cfg.SubmitAutoApprove,
		AttestationRequired: cfg.AttestationRequired,
	}, logger)
	workflow := moderation.NewWorkflow(repo, logger)
	aggregator := safety.NewAggregator(repo, false)

	router := api.NewRouter(api.RouterConfig{
		Places:     api.NewPlaceHandlers(reg, logger),
		Safety:     api.NewSafetyHandlers(aggregator, logger),
		Moderation: api.NewModerationHandlers(workflow, logger),
		Health: api.NewHealthHandlers(api.HealthHandlersConfig{
			DBChecker:    health.NewDBChecker(pool),
			RedisChecker: health.NewRedisChecker(redisClient),
		}),
		Logger:         logger,
		HTTPMetrics:    httpMetrics,
		Registry:       promRegistry,
		CORSOrigins:    cfg.CORSOrigins,
		TracingEnabled: cfg.TracingEnabled,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
