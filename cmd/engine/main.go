// cmd/engine/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"settlement-engine/internal/common/aws"
	"settlement-engine/internal/common/config"
	"settlement-engine/internal/common/crypto"
	"settlement-engine/internal/common/database"
	commonhttp "settlement-engine/internal/common/http"
	"settlement-engine/internal/common/logger"
	"settlement-engine/internal/common/observability"
	"settlement-engine/internal/conditions"
	"settlement-engine/internal/events"
	"settlement-engine/internal/scheduler"
	"settlement-engine/internal/settlement"
	"settlement-engine/internal/store"
	"settlement-engine/internal/store/memory"
	"settlement-engine/internal/store/postgres"
	"settlement-engine/internal/templates"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting settlement engine...",
		zap.String("version", cfg.App.Version),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("queue", cfg.Scheduler.Driver),
	)

	obs := observability.New(cfg.App.Name, cfg.Observability.JaegerEndpoint)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Sealer ---
	ring := crypto.NewKeyRing()
	for party, key := range cfg.Security.PartyKeys {
		if err := ring.RegisterEncoded(party, key); err != nil {
			zapLog.Fatal("invalid party key", zap.String("partyId", party), zap.Error(err))
		}
	}
	sealer, err := crypto.NewSealer(cfg.Security.EncryptionKey, ring)
	if err != nil {
		zapLog.Fatal("sealer init failed", zap.Error(err))
	}

	// --- Store ---
	var st store.Store
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		var pg *database.PostgresClient
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			zapLog.Fatal("postgres migration failed", zap.Error(err))
		}
		st = postgres.New(pg.DB, sealer)
		zapLog.Info("PostgreSQL connected successfully")
	default:
		st = memory.New()
		zapLog.Warn("Using in-memory store; state is lost on exit")
	}

	// --- Redis (queue and template cache) ---
	var rdb *database.RedisClient
	if cfg.Scheduler.Driver == config.QueueRedis || cfg.Template.CacheTTL > 0 {
		err = retryWithBackoff(func() error {
			var err error
			rdb, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return rdb.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer rdb.Close()
		zapLog.Info("Redis connected successfully")
	}

	var queue scheduler.Queue = scheduler.NewMemoryQueue()
	if cfg.Scheduler.Driver == config.QueueRedis {
		queue = scheduler.NewRedisQueue(rdb.Client, cfg.Scheduler.QueueKey, scheduler.WithQueueLogger(log))
	}

	deps := settlement.Deps{
		Config:        cfg,
		Store:         st,
		Sealer:        sealer,
		Queue:         queue,
		Observability: obs,
	}
	if cfg.Template.CacheTTL > 0 {
		deps.TemplateCache = templates.NewRedisCache(rdb.Client, config.GetDuration(cfg.Template.CacheTTL), log)
	}

	// --- External collaborators ---
	if cfg.Credit.BaseURL != "" {
		deps.Credit = conditions.NewHTTPCreditSignal(commonhttp.NewClient(config.GetDuration(cfg.Credit.Timeout)), cfg.Credit.BaseURL)
	}

	if cfg.Integrations.AWS.SNS.Enabled {
		sns, err := aws.NewSNSClient(ctx, cfg.Integrations.AWS.Region, cfg.Integrations.AWS.SNS.TopicARN)
		if err != nil {
			zapLog.Fatal("sns client failed", zap.Error(err))
		}
		deps.Publisher = events.NewSNSPublisher(sns, log)
		zapLog.Info("Lifecycle events publishing to SNS", zap.String("topic", cfg.Integrations.AWS.SNS.TopicARN))
	}

	if cfg.Audit.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		if err := esClient.EnsureIndex(ctx, cfg.Audit.Index, events.TransactionIndexMapping); err != nil {
			zapLog.Fatal("audit index setup failed", zap.Error(err))
		}
		deps.Audit = events.NewTransactionIndexer(esClient.Client, cfg.Audit.Index)
		zapLog.Info("Elasticsearch connected successfully")
	}

	app, err := settlement.NewApp(deps, log)
	if err != nil {
		zapLog.Fatal("engine init failed", zap.Error(err))
	}

	var defs []templates.Definition
	if path := cfg.Template.RegistryPath; path != "" {
		defs, err = templates.LoadDefinitions(path)
		if err != nil {
			zapLog.Fatal("template registry load failed", zap.Error(err))
		}
	}
	if err := app.Seed(ctx, defs); err != nil {
		zapLog.Fatal("template seeding failed", zap.Error(err))
	}
	zapLog.Info("Templates seeded", zap.Int("registryTemplates", len(defs)))

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, "healthy")
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, "ready")
	})
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.Observability.MetricsAddr, Handler: mux}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- app.Run(runCtx) }()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	awaitShutdown(shutdownCtx, sigCh, done, stop, zapLog)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error closing health server", zap.Error(err))
	}

	zapLog.Info("Settlement engine stopped gracefully")
}

// awaitShutdown blocks until a signal arrives or the engine stops on its own,
// then cancels the engine and waits for it within ctx.
func awaitShutdown(ctx context.Context, sigCh <-chan os.Signal, done <-chan error, stop context.CancelFunc, log *zap.Logger) {
	select {
	case <-sigCh:
		log.Info("Shutdown signal received, stopping scheduler...")
	case err := <-done:
		log.Error("Engine stopped unexpectedly", zap.Error(err))
		stop()
		return
	}
	stop()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Scheduler stopped with error", zap.Error(err))
		}
	case <-ctx.Done():
		log.Warn("Scheduler did not stop before the shutdown deadline")
	}
}

func writeStatus(w http.ResponseWriter, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	})
}
