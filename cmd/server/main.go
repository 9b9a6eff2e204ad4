package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/giftscout-telemetry/internal/alerting"
	"github.com/ignite/giftscout-telemetry/internal/api"
	"github.com/ignite/giftscout-telemetry/internal/config"
	"github.com/ignite/giftscout-telemetry/internal/engine"
	"github.com/ignite/giftscout-telemetry/internal/kvstore"
	"github.com/ignite/giftscout-telemetry/internal/pkg/distlock"
	"github.com/ignite/giftscout-telemetry/internal/pkg/logger"
	"github.com/ignite/giftscout-telemetry/internal/sysmetrics"
	"github.com/ignite/giftscout-telemetry/internal/transport"
	"github.com/ignite/giftscout-telemetry/internal/vitals"
)

var log = logger.New("server")

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

// openStore returns nil when the configured store cannot be opened; the
// engine then keeps its ledger in memory for this process.
func openStore(ctx context.Context, cfg config.StorageConfig, deps kvstore.Deps) kvstore.Store {
	store, err := kvstore.Open(ctx, cfg, deps)
	if err != nil {
		log.Error("storage unavailable, ledger will not persist", "type", cfg.Type, "error", err)
		return nil
	}
	return store
}

func main() {
	cfg, err := config.LoadFromEnv(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if cfg.Log.RedactPII != nil {
		logger.SetRedactPII(*cfg.Log.RedactPII)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, continuing without it", "addr", cfg.Redis.Addr, "error", err)
			redisClient.Close()
			redisClient = nil
		} else {
			log.Info("redis connected", "addr", cfg.Redis.Addr)
		}
	}

	var db *sql.DB
	if cfg.Storage.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.Storage.DatabaseURL)
		if err != nil {
			log.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		db.SetMaxOpenConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		log.Info("database configured", "host", extractHost(cfg.Storage.DatabaseURL))
	}

	store := openStore(ctx, cfg.Storage, kvstore.Deps{Redis: redisClient, DB: db})

	sessionID := uuid.NewString()
	tr, err := transport.New(ctx, cfg.Transport, sessionID, cfg.Telemetry.MaxRetries)
	if err != nil {
		log.Error("failed to initialize transport", "type", cfg.Transport.Type, "error", err)
		os.Exit(1)
	}

	sinks := alerting.Multi{alerting.NewLogSink()}
	if cfg.Alerts.EmailEnabled {
		sesClient, err := alerting.NewSESClient(ctx, cfg.Alerts.Region, cfg.Alerts.AccessKey, cfg.Alerts.SecretKey)
		if err != nil {
			log.Error("SES alerts disabled", "error", err)
		} else if sink, err := alerting.NewSESSink(sesClient, cfg.Alerts.From, cfg.Alerts.To); err != nil {
			log.Error("SES alerts disabled", "error", err)
		} else {
			sinks = append(sinks, sink)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	source := vitals.NewBeaconSource()
	opts := engine.OptionsFromConfig(cfg)
	opts.Store = store
	opts.Transport = tr
	opts.Source = source
	opts.Memory = sysmetrics.ProcessMemory()
	opts.AlertSink = sinks
	opts.Registerer = reg
	opts.SessionID = sessionID
	if cfg.Backend.Enabled && cfg.Backend.APIURL != "" {
		opts.Backend = transport.NewBackendLogger(cfg.Backend.APIURL, &http.Client{Timeout: cfg.Backend.Timeout()}, cfg.Backend.Timeout())
	}
	if cfg.Telemetry.DistributedSweeping {
		// nil when neither backend is available; the sweep then runs unguarded
		opts.SweepLock = distlock.NewLock(redisClient, db, "ledger-sweep", 10*time.Minute)
	}

	eng := engine.New(opts)
	eng.Init(ctx)

	server := api.NewServer(cfg.Server, eng, source, reg)
	go func() {
		log.Info("telemetry server listening", "addr", server.Addr(), "transport", cfg.Transport.Type, "storage", cfg.Storage.Type)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		log.Error("engine shutdown", "error", err)
	}
	cancel()

	if redisClient != nil {
		redisClient.Close()
	}
	if db != nil {
		db.Close()
	}
	log.Info("server stopped")
}
