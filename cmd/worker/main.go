package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mileusna/crontab"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"basegraph.app/chorus/common/background"
	"basegraph.app/chorus/common/id"
	"basegraph.app/chorus/common/llm"
	"basegraph.app/chorus/common/logger"
	"basegraph.app/chorus/common/otel"
	"basegraph.app/chorus/core/config"
	"basegraph.app/chorus/core/db"
	"basegraph.app/chorus/internal/admission"
	"basegraph.app/chorus/internal/agenda"
	"basegraph.app/chorus/internal/backend"
	"basegraph.app/chorus/internal/brain"
	"basegraph.app/chorus/internal/cadence"
	"basegraph.app/chorus/internal/http/handler"
	"basegraph.app/chorus/internal/countdown"
	"basegraph.app/chorus/internal/intent"
	"basegraph.app/chorus/internal/lock"
	"basegraph.app/chorus/internal/memory"
	"basegraph.app/chorus/internal/notify"
	"basegraph.app/chorus/internal/queue"
	"basegraph.app/chorus/internal/quiet"
	"basegraph.app/chorus/internal/responder"
	"basegraph.app/chorus/internal/store"
	"basegraph.app/chorus/internal/tuning"
	"basegraph.app/chorus/internal/worker"
)

const (
	entityCacheTTL     = 5 * time.Minute
	classifierTimeout  = 10 * time.Second
	recoveryLockExpiry = 30 * time.Second
	webhookTimeout     = 5 * time.Second
	shutdownTimeout    = 30 * time.Second
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel, string(config.ServiceTypeWorker))
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "chorus worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Pipeline.RedisGroup,
		"consumer_name", cfg.Pipeline.RedisConsumer)

	// The server uses node 1.
	if err := id.Init(cfg.Worker.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	// The agenda reads entities and tasks at startup, so the worker cannot
	// wait for the server to create the schema.
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

	tune, err := tuning.Load(cfg.Worker.TuningFile)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load tuning file", "error", err, "path", cfg.Worker.TuningFile)
		os.Exit(1)
	}

	clients, err := newClients(cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create llm clients", "error", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tune.Watch(runCtx)
	sup := background.New(ctx)

	stores := store.NewStores(database.Conn())
	entities, err := store.NewCachedEntities(stores.Entities(), cfg.Worker.EntityCache, entityCacheTTL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create entity cache", "error", err)
		os.Exit(1)
	}

	sinks := []notify.Sink{notify.NewRedisSink(redisClient, cfg.Notify.Channel)}
	if cfg.Notify.WebhookEnabled() {
		sinks = append(sinks, notify.NewWebhookSink(cfg.Notify.WebhookURL, webhookTimeout))
	}

	filter := quiet.NewFilter(quiet.FromSettings(tune.Current().DefaultQuietHours()), nil)

	// The orchestrator schedules reminders through the agenda, and the agenda
	// originates through the orchestrator.
	agendaRef := &lateAgenda{}

	orch := brain.New(brain.Deps{
		Conversations: stores.Conversations(),
		Messages:      stores.Messages(),
		Entities:      entities,
		Primary:       backend.NewLLMGenerator(clients.primary, "primary"),
		Direct:        backend.NewLLMGenerator(clients.direct, "direct"),
		Classifier:    intent.NewLLMClassifier(clients.classifier, classifierTimeout),
		Selector:      responder.New(tune, newRand()),
		Gate:          admission.New(tune),
		Pacer:         cadence.NewPacer(tune, newRand()),
		Summarizer:    memory.NewSummarizer(stores.Messages(), entities, clients.primary, tune, sup),
		Notifier:      notify.NewFanout(sup, sinks...),
		Reminders:     agendaRef,
		Quiet:         agendaRef,
		Tuning:        tune,
		Supervisor:    sup,
	})

	ag := agenda.New(agenda.Deps{
		Conversations: stores.Conversations(),
		Entities:      entities,
		Tasks:         stores.Tasks(),
		Settings:      stores.Settings(),
		Brain:         orch,
		Filter:        filter,
		Tuning:        tune,
		Supervisor:    sup,
	}, countdown.WithLocker(lock.New(redisClient, cfg.Worker.RecoveryLock, recoveryLockExpiry, 0)))
	agendaRef.Agenda = ag

	consumer, err := queue.NewRedisConsumer(ctx, redisClient, queue.ConsumerConfig{
		Stream:       cfg.Pipeline.RedisStream,
		Group:        cfg.Pipeline.RedisGroup,
		Consumer:     cfg.Pipeline.RedisConsumer,
		DLQStream:    cfg.Pipeline.RedisDLQStream,
		BatchSize:    16,
		Block:        5 * time.Second,
		MaxAttempts:  cfg.Worker.MaxAttempts,
		RequeueDelay: time.Second,
		DLQMaxLen:    10000,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	dispatcher := worker.NewDispatcher(orch, ag, worker.WithEntityCache(entities))
	w := worker.New(consumer, dispatcher, worker.Config{MaxAttempts: cfg.Worker.MaxAttempts})

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:    cfg.Pipeline.RedisStream,
		Group:     cfg.Pipeline.RedisGroup,
		Consumer:  cfg.Pipeline.RedisConsumer + "-reclaimer",
		MinIdle:   cfg.Worker.ReclaimMinIdle,
		Interval:  cfg.Worker.ReclaimEvery,
		BatchSize: 10,
	}, consumer, w.Handle)

	ctab := crontab.New()
	if err := ctab.AddJob("* * * * *", func() {
		filter.Flush(runCtx)
	}); err != nil {
		slog.ErrorContext(ctx, "failed to schedule quiet flush", "error", err)
		os.Exit(1)
	}

	admin := &http.Server{
		Addr:              ":" + cfg.Worker.AdminPort,
		Handler: newAdminRouter(cfg, ag, map[string]handler.Check{
			"postgres": database.Ping,
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return ag.Run(gctx) })
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error {
		reclaimer.Run(gctx)
		return nil
	})
	g.Go(func() error {
		slog.InfoContext(ctx, "admin server starting", "port", cfg.Worker.AdminPort)
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctab.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
		defer cancel()
		return admin.Shutdown(shutdownCtx)
	})

	slog.InfoContext(ctx, "worker initialized and running")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.ErrorContext(ctx, "worker stopped with error", "error", err)
	}

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	// In-flight passes finish their current segment and stop.
	if err := sup.Stop(shutdownCtx); err != nil {
		slog.WarnContext(ctx, "shutdown timeout exceeded", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

type llmClients struct {
	primary    llm.Client
	direct     llm.Client
	classifier llm.Client
}

// newClients builds the generation clients. Direct and classifier fall back to
// the primary client when they are not configured.
func newClients(cfg config.Config) (llmClients, error) {
	primary, err := llm.New(llmConfig(cfg.PrimaryLLM))
	if err != nil {
		return llmClients{}, fmt.Errorf("primary: %w", err)
	}
	out := llmClients{primary: primary, direct: primary, classifier: primary}

	if cfg.DirectLLM.Enabled() {
		if out.direct, err = llm.New(llmConfig(cfg.DirectLLM)); err != nil {
			return llmClients{}, fmt.Errorf("direct: %w", err)
		}
	} else {
		slog.Warn("direct backend not configured, falling back to primary")
	}
	if cfg.ClassifierLLM.Enabled() {
		if out.classifier, err = llm.New(llmConfig(cfg.ClassifierLLM)); err != nil {
			return llmClients{}, fmt.Errorf("classifier: %w", err)
		}
	}
	return out, nil
}

func llmConfig(c config.LLMConfig) llm.Config {
	return llm.Config{
		Provider:  c.Provider,
		APIKey:    c.APIKey,
		BaseURL:   c.BaseURL,
		Model:     c.Model,
		MaxTokens: c.MaxTokens,
	}
}

func newRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// lateAgenda is set once the agenda exists; nothing calls it before Run.
type lateAgenda struct {
	*agenda.Agenda
}

const banner = `
  ____ _   _  ___  ____  _   _ ____
 / ___| | | |/ _ \|  _ \| | | / ___|
| |   | |_| | | | | |_) | | | \___ \
| |___|  _  | |_| |  _ <| |_| |___) |
 \____|_| |_|\___/|_| \_\\___/|____/  worker
`
