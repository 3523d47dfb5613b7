// Command syncd runs the full sync pipeline in one process: job queue,
// fetch adapters, normalize, link, and analysis stages, plus the
// operational HTTP endpoints (health, metrics).
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

	"github.com/redis/go-redis/v9"

	"github.com/Mythidas/MSPByte-Remake-sub005/adapter"
	"github.com/Mythidas/MSPByte-Remake-sub005/analysis/alerting"
	"github.com/Mythidas/MSPByte-Remake-sub005/analysis/loadctx"
	"github.com/Mythidas/MSPByte-Remake-sub005/analysis/workflow"
	"github.com/Mythidas/MSPByte-Remake-sub005/bus"
	"github.com/Mythidas/MSPByte-Remake-sub005/config"
	"github.com/Mythidas/MSPByte-Remake-sub005/connector"
	"github.com/Mythidas/MSPByte-Remake-sub005/connector/m365"
	"github.com/Mythidas/MSPByte-Remake-sub005/health"
	"github.com/Mythidas/MSPByte-Remake-sub005/linker"
	"github.com/Mythidas/MSPByte-Remake-sub005/metric"
	"github.com/Mythidas/MSPByte-Remake-sub005/natsclient"
	"github.com/Mythidas/MSPByte-Remake-sub005/pkg/contenthash"
	"github.com/Mythidas/MSPByte-Remake-sub005/pkg/retry"
	"github.com/Mythidas/MSPByte-Remake-sub005/processor"
	"github.com/Mythidas/MSPByte-Remake-sub005/queue"
	"github.com/Mythidas/MSPByte-Remake-sub005/scheduler"
	"github.com/Mythidas/MSPByte-Remake-sub005/store"
	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file (JSON)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "syncd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting syncd",
		"environment", cfg.Service.Environment,
		"instance", cfg.Service.InstanceID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := metric.NewRegistry()

	// Message bus.
	nc, err := natsclient.NewClient(cfg.NATS.URLs[0],
		natsclient.WithClientName(cfg.Service.Name),
		natsclient.WithLogger(natsLogger{logger}),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait.Std()),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			v := 0.0
			if healthy {
				v = 1.0
			}
			metrics.Core.BusConnected.Set(v)
		}),
	)
	if err != nil {
		return err
	}
	if err := nc.Connect(ctx); err != nil {
		return err
	}
	msgBus := bus.NewNATSBus(nc, logger,
		bus.WithStream(cfg.NATS.StreamName),
		bus.WithQueueGroup(cfg.NATS.QueueGroup))
	if err := msgBus.EnsureStream(ctx); err != nil {
		return err
	}

	// Document store and repositories.
	pg, err := store.NewPostgres(cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	pg.SetPoolLimits(cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns)
	if err := pg.EnsureSchema(ctx); err != nil {
		return err
	}
	entities := store.NewEntities(pg)
	relationships := store.NewRelationships(pg)
	alertsRepo := store.NewAlerts(pg)
	history := store.NewHistory(pg)

	// Job queue over Redis.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	q := queue.New(queue.NewRedisBackend(rdb), msgBus, history, metrics, logger, queue.Config{
		Concurrency:       cfg.Queue.Concurrency,
		PollInterval:      cfg.Queue.PollInterval.Std(),
		VisibilityTimeout: cfg.Queue.VisibilityTimeout.Std(),
		MaxAttempts:       cfg.Queue.MaxAttempts,
		Backoff: retry.Config{
			InitialDelay: cfg.Queue.InitialBackoff.Std(),
			MaxDelay:     cfg.Queue.MaxBackoff.Std(),
			Multiplier:   2.0,
		},
	})

	// Connectors and stage components.
	hasher := contenthash.NewHasher()
	registry := connector.NewRegistry()

	proc := processor.New(entities, msgBus,
		processor.WithMetrics(metrics), processor.WithLogger(logger))
	lnk := linker.New(entities, relationships, msgBus,
		linker.WithMetrics(metrics), linker.WithLogger(logger))

	if m365cfg := cfg.Connectors.Microsoft365; m365cfg != nil {
		c := m365.New(m365.Config{
			TenantID:     m365cfg.TenantID,
			ClientID:     m365cfg.ClientID,
			ClientSecret: m365cfg.ClientSecret,
		})
		if err := registry.Register(c); err != nil {
			return err
		}
		m365.RegisterHashing(hasher)
		m365.RegisterNormalizers(proc)
		m365.RegisterLinkRules(lnk)
	}

	loader := loadctx.NewLoader(entities, relationships, []types.EntityType{
		types.EntityIdentity, types.EntityGroup, types.EntityRole,
		types.EntityPolicy, types.EntityDevice,
	})
	alerts := alerting.NewService(alertsRepo,
		alerting.WithMetrics(metrics), alerting.WithLogger(logger))
	engine, err := workflow.NewEngine(loader, entities, alerts, msgBus,
		[]workflow.Node{workflow.AdminTagger(), workflow.MFAEnforcementEvaluator()},
		workflow.WithMetrics(metrics), workflow.WithLogger(logger))
	if err != nil {
		return err
	}

	// Subscribe stages before the queue starts dispatching.
	for _, integrationType := range registry.Types() {
		c, err := registry.Get(integrationType)
		if err != nil {
			return err
		}
		a := adapter.New(c, msgBus, q, hasher,
			adapter.WithMetrics(metrics), adapter.WithLogger(logger))
		if err := a.Start(ctx); err != nil {
			return err
		}
	}
	if err := proc.Start(ctx); err != nil {
		return err
	}
	if err := lnk.Start(ctx); err != nil {
		return err
	}
	if err := engine.Start(ctx); err != nil {
		return err
	}
	if err := q.Start(ctx); err != nil {
		return err
	}

	// Sync cadences for every configured data source.
	sched := scheduler.New(q, nil, logger)
	for _, dsCfg := range cfg.DataSources {
		c, err := registry.Get(dsCfg.IntegrationType)
		if err != nil {
			return err
		}
		ds := scheduler.DataSource{
			ID:              dsCfg.ID,
			TenantID:        dsCfg.TenantID,
			IntegrationType: dsCfg.IntegrationType,
		}
		if _, err := sched.Register(ds, c.SupportedEntityTypes()); err != nil {
			return err
		}
	}

	// Operational HTTP: health and metrics.
	monitor := health.NewMonitor(cfg.Service.Name)
	monitor.Register("bus", func(context.Context) error {
		if !nc.IsHealthy() {
			return fmt.Errorf("nats connection %s", nc.Status())
		}
		return nil
	})
	monitor.Register("queue", q.HealthCheck)
	monitor.Register("store", pg.HealthCheck)
	for _, integrationType := range registry.Types() {
		c, _ := registry.Get(integrationType)
		monitor.Register("connector/"+integrationType, c.CheckHealth)
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", monitor.Handler())
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()
	logger.Info("syncd running", "http_addr", cfg.HTTP.Addr)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := q.Stop(shutdownTimeout); err != nil {
		logger.Error("queue shutdown failed", "error", err)
	}
	if err := msgBus.Close(shutdownCtx); err != nil {
		logger.Error("bus shutdown failed", "error", err)
	}
	if err := rdb.Close(); err != nil {
		logger.Error("redis close failed", "error", err)
	}
	return nil
}

// natsLogger routes the NATS client's internal logging through slog.
type natsLogger struct {
	l *slog.Logger
}

func (n natsLogger) Printf(format string, v ...any) { n.l.Info(fmt.Sprintf(format, v...)) }
func (n natsLogger) Errorf(format string, v ...any) { n.l.Error(fmt.Sprintf(format, v...)) }
func (n natsLogger) Debugf(format string, v ...any) { n.l.Debug(fmt.Sprintf(format, v...)) }

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
