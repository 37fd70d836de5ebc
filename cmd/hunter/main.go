package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"house_hunter/internal/config"
	"house_hunter/internal/domain"
	"house_hunter/internal/geo"
	"house_hunter/internal/metrics"
	"house_hunter/internal/publisher"
	"house_hunter/internal/scheduler"
	"house_hunter/internal/score"
	"house_hunter/internal/service"
	"house_hunter/internal/source/funda"
	"house_hunter/internal/storage/memory"
	"house_hunter/internal/storage/notion"
	"house_hunter/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run the pipeline once and exit")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	// Without a score table no listing can be enriched, so nothing runs.
	scores, err := score.LoadFile(cfg.ScoreSource, score.DefaultColumns)
	if err != nil {
		logger.Error("failed to load score table", "path", cfg.ScoreSource, "error", err)
		os.Exit(1)
	}
	logger.Info("loaded score table",
		"path", cfg.ScoreSource,
		"prefixes", scores.Len(),
		"skipped_rows", scores.Skipped(),
		"year", scores.Year(),
	)

	store, runState, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("failed to open record store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	source, err := funda.New(funda.Config{
		BaseURL:        cfg.Source.BaseURL,
		SearchType:     cfg.Source.SearchType,
		MinPrice:       cfg.Source.MinPrice,
		MaxPrice:       cfg.Source.MaxPrice,
		DaysSince:      cfg.Source.DaysSince,
		PropertyType:   cfg.Source.PropertyType,
		MaxPages:       cfg.Source.MaxPages,
		Timeout:        cfg.Source.Timeout,
		MaxAttempts:    cfg.Source.Retry.MaxAttempts,
		InitialBackoff: cfg.Source.Retry.InitialBackoff,
		MaxBackoff:     cfg.Source.Retry.MaxBackoff,
	}, logger)
	if err != nil {
		logger.Error("failed to create source", "error", err)
		os.Exit(1)
	}

	var pub service.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	var collector service.Metrics
	if cfg.Metrics.Addr != "" {
		collector = startMetricsServer(ctx, cfg.Metrics.Addr, logger)
	}

	geoClient, err := geo.NewClient(cfg.Geo.BaseURL, cfg.APIKey, cfg.Geo.Timeout)
	if err != nil {
		logger.Error("failed to create geo client", "error", err)
		os.Exit(1)
	}
	geoConfig := geo.Config{
		Country:        cfg.Geo.Country,
		TravelMode:     cfg.Geo.TravelMode,
		DepartureHour:  *cfg.Geo.DepartureHour,
		MinInterval:    cfg.Geo.MinInterval,
		MaxAttempts:    cfg.Geo.Retry.MaxAttempts,
		InitialBackoff: cfg.Geo.Retry.InitialBackoff,
		MaxBackoff:     cfg.Geo.Retry.MaxBackoff,
	}

	// The enricher pins its departure time, so each run gets a fresh one.
	runner := scheduler.RunnerFunc(func(ctx context.Context) (*domain.RunReport, error) {
		enricher := geo.NewEnricher(geoClient, geoConfig, time.Now(), logger)
		pipeline := service.NewPipeline(
			source,
			store,
			enricher,
			scores,
			runState,
			pub,
			collector,
			logger,
			service.PipelineConfig{
				Cities:          cfg.Pipeline.Cities,
				ReferencePoints: cfg.Pipeline.ReferencePoints,
				Concurrency:     cfg.Pipeline.Concurrency,
			},
		)
		return pipeline.Run(ctx)
	})

	interval := cfg.Pipeline.Interval
	if *once {
		interval = 0
	}

	sched := scheduler.NewScheduler(runner, interval, cfg.Pipeline.RunTimeout, logger)
	if cfg.Pipeline.Schedule != "" && !*once {
		sched, err = scheduler.NewCronScheduler(runner, cfg.Pipeline.Schedule, cfg.Pipeline.RunTimeout, logger)
		if err != nil {
			logger.Error("invalid pipeline schedule", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("starting house hunter",
		"source", source.Name(),
		"store", cfg.Store.Driver,
		"cities", cfg.Pipeline.Cities,
		"interval", interval,
		"schedule", cfg.Pipeline.Schedule,
	)

	if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("pipeline failed", "error", err)
		os.Exit(1)
	}
}

func openStore(cfg *config.Config, logger *slog.Logger) (service.RecordStore, service.RunStateStore, func(), error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		if err := postgres.Migrate(cfg.Database.URL()); err != nil {
			return nil, nil, nil, err
		}
		db, err := postgres.Connect(cfg.Database.DSN())
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("connected to database", "host", cfg.Database.Host, "dbname", cfg.Database.DBName)
		return postgres.NewListingStore(db), postgres.NewRunStateStore(db), func() { db.Close() }, nil

	case config.StoreMemory:
		logger.Warn("using in-memory record store; nothing survives a restart")
		return memory.NewStore(), nil, func() {}, nil

	default:
		store, err := notion.New(notion.Config{
			BaseURL:         cfg.Store.BaseURL,
			Token:           cfg.StoreCredential,
			DatabaseID:      cfg.StoreTargetID,
			ReferencePoints: cfg.ReferencePoints,
			Timeout:         cfg.Store.Timeout,
			MaxAttempts:     cfg.Store.Retry.MaxAttempts,
			InitialBackoff:  cfg.Store.Retry.InitialBackoff,
			MaxBackoff:      cfg.Store.Retry.MaxBackoff,
		}, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, nil, func() {}, nil
	}
}

func startMetricsServer(ctx context.Context, addr string, logger *slog.Logger) *metrics.Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	server := &http.Server{
		Addr:              addr,
		Handler:           metrics.NewRouter(collector, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return collector
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
