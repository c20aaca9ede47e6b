package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/aevon-lab/tally/internal/aggregation"
	"github.com/aevon-lab/tally/internal/control"
	corecfg "github.com/aevon-lab/tally/internal/core/config"
	"github.com/aevon-lab/tally/internal/core/metric"
	"github.com/aevon-lab/tally/internal/core/storage"
	"github.com/aevon-lab/tally/internal/core/storage/clickhouse"
	"github.com/aevon-lab/tally/internal/core/storage/postgres"
	"github.com/aevon-lab/tally/internal/core/storage/redisstore"
	"github.com/aevon-lab/tally/internal/ingestion"
	"github.com/aevon-lab/tally/internal/migrations"
	"github.com/aevon-lab/tally/internal/processors"
	"github.com/aevon-lab/tally/internal/projection"
	"github.com/aevon-lab/tally/internal/server"
	"github.com/aevon-lab/tally/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "tally.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Bootstrap logger, replaced once the config is known.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Log))

	if err := run(cfg); err != nil {
		slog.Error("Tally stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

func run(cfg *corecfg.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Initialize Storage (PostgreSQL primary + optional read replica)
	primary, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	adapter := postgres.NewAdapter(primary)
	defer adapter.Close()

	replica := primary
	if cfg.Database.ReplicaDSN != "" {
		replica, err = postgres.Open(cfg.Database.ReplicaDSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err != nil {
			return fmt.Errorf("initialize read replica: %w", err)
		}
		defer replica.Close()
	}

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(primary, cfg.Database.AutoMigrate); err != nil {
		return fmt.Errorf("run database migrations: %w", err)
	}

	// 3. Processor definitions and their stores
	defs, err := enabledDefinitions(cfg.Aggregation, cfg.Analytics.Enabled)
	if err != nil {
		return err
	}

	metricAdapter := postgres.NewMetricAdapter(primary, replica, defs)
	if err := adapter.ValidateSchema(ctx, metricAdapter.Tables()...); err != nil {
		return fmt.Errorf("validate schema: %w", err)
	}

	stores := aggregation.Stores{
		Cursors:  adapter,
		Dirty:    adapter,
		Metrics:  metricAdapter,
		Signals:  []storage.SignalSource{metricAdapter},
		Families: []storage.FamilySource{metricAdapter},
		Sink:     aggregation.LogSink{},
	}
	checks := []server.Option{server.WithHealthCheck("postgres", primary.PingContext)}
	if replica != primary {
		checks = append(checks, server.WithHealthCheck("postgres_replica", replica.PingContext))
	}

	// 3.1. Analytics store (ClickHouse view events)
	if cfg.Analytics.Enabled {
		conn, err := openAnalytics(ctx, cfg.Analytics)
		if err != nil {
			return err
		}
		defer conn.Close()

		source := clickhouse.NewAnalyticsSource(conn, defs)
		stores.Signals = append(stores.Signals, source)
		stores.Families = append(stores.Families, source)
		checks = append(checks, server.WithHealthCheck("clickhouse", conn.Ping))
	}

	// 3.2. Redis (dirty queue backend and affected-id stream)
	if cfg.Redis.Enabled {
		rdb, err := redisstore.Open(ctx, redisstore.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("initialize redis: %w", err)
		}
		defer rdb.Close()

		if cfg.DirtyQueue.Backend == "redis" {
			stores.Dirty = redisstore.NewDirtyQueue(rdb, cfg.Redis.KeyPrefix)
		}
		if cfg.Redis.StreamEnabled {
			stores.Sink = redisstore.NewAffectedStream(rdb, cfg.Redis.KeyPrefix+":affected", cfg.Redis.StreamMaxLen)
		}
		checks = append(checks, server.WithHealthCheck("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}
	slog.Info("[Tally] Stores initialized",
		"dirty_queue", cfg.DirtyQueue.Backend,
		"analytics", cfg.Analytics.Enabled,
		"affected_stream", cfg.Redis.StreamEnabled,
		"replica", replica != primary,
	)

	// 4. Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewDBStatsCollector(adapter.DB(), "primary"))
	metrics := telemetry.NewManager(telemetry.WithRegistry(registry))

	// 5. Engine
	var gate *aggregation.LagGate
	if cfg.LagGate.Enabled {
		threshold, initial, maxInterval := cfg.LagGate.Durations()
		gate = aggregation.NewLagGate(postgres.NewLagProbe(replica), aggregation.LagGateConfig{
			Threshold:       threshold,
			InitialInterval: initial,
			MaxInterval:     maxInterval,
		}, metrics)
	}

	engine, err := aggregation.NewEngine(defs, stores, aggregation.EngineConfig{
		SignalConcurrency: cfg.Aggregation.SignalConcurrency,
		SignalOverlap:     cfg.Aggregation.SignalOverlapDuration(),
		Processors:        processorOptions(cfg.Aggregation),
		Gate:              gate,
		Metrics:           metrics,
	})
	if err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	defer engine.Close()

	intervals, rankSchedules := schedules(cfg.Aggregation)
	rankScheduler, err := aggregation.NewRankScheduler(engine, rankSchedules)
	if err != nil {
		return fmt.Errorf("initialize rank scheduler: %w", err)
	}

	// 6. HTTP surface
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), cfg.Server.Mode,
		append(checks, server.WithMetrics(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))...)
	ingestion.NewService(stores.Dirty, entityTypes(defs), cfg.Server.MaxBodySizeMB).RegisterRoutes(srv.Engine)
	projection.NewService(metricAdapter, adapter, engine).RegisterRoutes(srv.Engine)
	control.NewService(engine).RegisterRoutes(srv.Engine)

	// 7. Start Services
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Aggregation.Enabled {
		g.Go(func() error { return aggregation.NewScheduler(engine, intervals).Start(gctx) })
		g.Go(func() error { return rankScheduler.Start(gctx) })
	} else {
		slog.Info("Aggregation schedulers disabled by config, runs only via the API")
	}
	g.Go(func() error {
		err := srv.Run(gctx)
		cancel()
		return err
	})
	return g.Wait()
}

// enabledDefinitions returns the built-in definitions enabled in config. Without
// an analytics store the view signals and families are dropped.
func enabledDefinitions(cfg corecfg.AggregationConfig, analytics bool) ([]metric.Definition, error) {
	builtin := make(map[string]metric.Definition)
	for _, def := range processors.All() {
		builtin[def.Name] = def
	}

	var defs []metric.Definition
	for _, name := range cfg.EnabledProcessors() {
		def, ok := builtin[name]
		if !ok {
			return nil, fmt.Errorf("aggregation.processors.%s: no such processor", name)
		}
		if !analytics {
			def = def.WithoutAnalytics()
		}
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("no processor enabled")
	}
	return defs, nil
}

func processorOptions(cfg corecfg.AggregationConfig) map[string]aggregation.ProcessorOptions {
	out := make(map[string]aggregation.ProcessorOptions, len(cfg.Processors))
	for name, p := range cfg.Processors {
		out[name] = aggregation.ProcessorOptions{
			BatchSize:         p.BatchSize,
			Concurrency:       p.Concurrency,
			ThrottlePerSecond: p.ThrottlePerSecond,
		}
	}
	return out
}

func schedules(cfg corecfg.AggregationConfig) (map[string]time.Duration, map[string]string) {
	intervals := make(map[string]time.Duration)
	ranks := make(map[string]string)
	for name, p := range cfg.Processors {
		if !p.Enabled {
			continue
		}
		intervals[name] = p.IntervalDuration()
		ranks[name] = p.RankSchedule
	}
	return intervals, ranks
}

func entityTypes(defs []metric.Definition) []string {
	seen := make(map[string]bool)
	var out []string
	for _, def := range defs {
		if !seen[def.EntityType] {
			seen[def.EntityType] = true
			out = append(out, def.EntityType)
		}
	}
	return out
}

func openAnalytics(ctx context.Context, cfg corecfg.AnalyticsConfig) (driver.Conn, error) {
	conn, err := clickhouse.Open(ctx, clickhouse.Options{
		Addr:         strings.Split(cfg.Addr, ","),
		Database:     cfg.Database,
		Username:     cfg.Username,
		Password:     cfg.Password,
		MaxOpenConns: cfg.MaxOpenConns,
		DialTimeout:  cfg.DialTimeoutDuration(),
	})
	if err != nil {
		return nil, fmt.Errorf("initialize analytics store: %w", err)
	}
	return conn, nil
}

func newLogger(cfg corecfg.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
