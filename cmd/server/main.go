package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"basegraph.app/chorus/common/id"
	"basegraph.app/chorus/common/logger"
	"basegraph.app/chorus/common/otel"
	"basegraph.app/chorus/core/config"
	"basegraph.app/chorus/core/db"
	"basegraph.app/chorus/internal/http/handler"
	"basegraph.app/chorus/internal/http/middleware"
	httprouter "basegraph.app/chorus/internal/http/router"
	"basegraph.app/chorus/internal/queue"
	"basegraph.app/chorus/internal/service"
	"basegraph.app/chorus/internal/store"
	"basegraph.app/chorus/internal/tuning"
)

const (
	shutdownTimeout = 10 * time.Second
	streamMaxLen    = 100_000
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel, string(config.ServiceTypeServer))
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "chorus server starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	if err := database.Migrate(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to migrate database", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	producer := queue.NewRedisProducer(redisClient, cfg.Pipeline.RedisStream, slog.Default(), queue.WithMaxLen(streamMaxLen))
	defer producer.Close()

	// The server only reads the default quiet window; the worker watches the file.
	tune, err := tuning.Load(cfg.Worker.TuningFile)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load tuning file", "error", err, "path", cfg.Worker.TuningFile)
		os.Exit(1)
	}

	services := service.NewServices(service.ServicesConfig{
		Stores:       store.NewStores(database.Conn()),
		TxRunner:     service.NewTxRunner(database),
		Producer:     producer,
		DefaultQuiet: tune.Current().DefaultQuietHours(),
		Backends: []service.Backend{
			{Name: "primary", Provider: cfg.PrimaryLLM.Provider, Model: cfg.PrimaryLLM.Model, APIKey: cfg.PrimaryLLM.APIKey},
			{Name: "direct", Provider: cfg.DirectLLM.Provider, Model: cfg.DirectLLM.Model, APIKey: cfg.DirectLLM.APIKey},
			{Name: "classifier", Provider: cfg.ClassifierLLM.Provider, Model: cfg.ClassifierLLM.Model, APIKey: cfg.ClassifierLLM.APIKey},
		},
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	checks := map[string]handler.Check{
		"postgres": database.Ping,
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(cfg, services, checks),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.InfoContext(ctx, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	exitCode := 0
	if err := g.Wait(); err != nil {
		slog.ErrorContext(ctx, "server stopped with error", "error", err)
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func setupRouter(cfg config.Config, services *service.Services, checks map[string]handler.Check) *gin.Engine {
	router := gin.New()

	// OTel creates the span, then Recovery and Logger see its trace context.
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger("/health", "/ready", "/metrics"))
	router.Use(middleware.Metrics())

	httprouter.SetupRoutes(router, services, httprouter.RouterConfig{
		APIKey:      cfg.APIKey,
		TraceHeader: cfg.Pipeline.TraceHeaderName,
		RateLimit:   cfg.APIRateLimit,
		Checks:      checks,
	})

	return router
}

const banner = `
  ____ _   _  ___  ____  _   _ ____
 / ___| | | |/ _ \|  _ \| | | / ___|
| |   | |_| | | | | |_) | | | \___ \
| |___|  _  | |_| |  _ <| |_| |___) |
 \____|_| |_|\___/|_| \_\\___/|____/  server
`
