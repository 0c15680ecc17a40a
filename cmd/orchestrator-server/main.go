package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/triage-ai/palisade/services/orchestrator/internal/agents"
	"github.com/triage-ai/palisade/services/orchestrator/internal/api"
	"github.com/triage-ai/palisade/services/orchestrator/internal/config"
	"github.com/triage-ai/palisade/services/orchestrator/internal/events"
	"github.com/triage-ai/palisade/services/orchestrator/internal/intervention"
	"github.com/triage-ai/palisade/services/orchestrator/internal/orchestrator"
	"github.com/triage-ai/palisade/services/orchestrator/internal/ratelimit"
	"github.com/triage-ai/palisade/services/orchestrator/internal/safety"
	"github.com/triage-ai/palisade/services/orchestrator/internal/safety/checks"
	"github.com/triage-ai/palisade/services/orchestrator/internal/storage"
	"github.com/triage-ai/palisade/services/orchestrator/internal/telemetry"
	"github.com/triage-ai/palisade/services/orchestrator/internal/tools"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

const serviceName = "palisade.orchestrator"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load(os.Getenv("ORCHESTRATOR_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Logger
	logger := mustBuildLogger(cfg.Log.Level)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	logger.Info("starting orchestrator",
		zap.String("version", version),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Int("grpc_port", cfg.GRPC.Port),
		zap.Float64("confidence_threshold", cfg.Routing.ConfidenceThreshold),
		zap.String("intervention_mode", cfg.Intervention.Mode),
	)

	// Telemetry
	shutdownTelemetry, err := telemetry.Init(serviceName, version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		logger.Fatal("telemetry init failed", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	// Event bus and subscribers
	bus := events.NewBus(logger)

	var writer storage.EventWriter
	if cfg.ClickHouse.DSN != "" {
		chWriter, err := storage.NewClickHouseWriter(context.Background(), cfg.ClickHouse.DSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer", zap.Error(err))
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no clickhouse.dsn set, using log writer")
	}
	defer writer.Close()
	defer storage.Subscribe(bus, writer)()

	// ClickHouse reader for the events endpoints
	var eventReader storage.EventReader
	if cfg.ClickHouse.DSN != "" {
		chReader, err := storage.NewClickHouseReader(context.Background(), cfg.ClickHouse.DSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
		} else {
			defer func() { _ = chReader.Close() }()
			eventReader = chReader
			logger.Info("clickhouse reader connected")
		}
	}

	metrics, err := telemetry.NewEventMetrics(otel.Meter(serviceName))
	if err != nil {
		logger.Fatal("metrics init failed", zap.Error(err))
	}
	defer metrics.Subscribe(bus)()

	// Tool registry
	var registryOpts []tools.Option
	var pgSource *tools.PostgresSource
	if cfg.Postgres.DSN != "" {
		db, err := sql.Open("pgx", cfg.Postgres.DSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(context.Background()); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		pgSource = tools.NewPostgresSource(tools.PostgresSourceConfig{
			DB:       db,
			CacheTTL: cfg.Tools.CacheTTL,
			Logger:   logger,
		})
		registryOpts = append(registryOpts, tools.WithLookup(pgSource))
		logger.Info("postgres tool source connected")
	} else {
		logger.Info("no postgres.dsn set, tools come from tools.file only")
	}

	registryOpts = append(registryOpts, tools.WithDefaultTimeout(cfg.Tools.DefaultTimeout))
	registry := tools.NewRegistry(logger, registryOpts...)
	if cfg.Tools.File != "" {
		descs, err := tools.LoadFile(cfg.Tools.File)
		if err != nil {
			logger.Fatal("failed to load tools file", zap.String("path", cfg.Tools.File), zap.Error(err))
		}
		if err := registry.RegisterAll(descs); err != nil {
			logger.Fatal("failed to register tools", zap.Error(err))
		}
	}
	if pgSource != nil {
		preloadTools(registry, pgSource, logger)
	}

	// Agents
	agentDescs := agents.DefaultAgents()
	if cfg.Agents.File != "" {
		agentDescs, err = agents.LoadFile(cfg.Agents.File)
		if err != nil {
			logger.Fatal("failed to load agents file", zap.String("path", cfg.Agents.File), zap.Error(err))
		}
	}
	catalog, err := agents.NewCatalog(agentDescs)
	if err != nil {
		logger.Fatal("invalid agent catalog", zap.Error(err))
	}
	processor := agents.NewHTTPProcessor(cfg.Agents.Timeout)

	// Safety classifier
	classifier := safety.NewClassifier(safety.Config{
		Checks: []safety.Check{
			checks.NewPatternCheck(),
			checks.NewModerationCheck(),
			checks.NewContextualCheck(ratelimit.NewWindow(), ratelimit.Rule{
				MaxCalls: cfg.Safety.UserRate.MaxCalls,
				Window:   cfg.Safety.UserRate.Window,
			}),
		},
		CheckTimeout: cfg.Safety.CheckTimeout,
		Violations:   safety.NewViolationTracker(cfg.Safety.ViolationMax, cfg.Safety.DecayWindow, time.Now),
		Tools:        registry,
		Logger:       logger,
	})

	// Reviewer gateway
	var queue *intervention.QueueGateway
	var gateway intervention.Gateway
	switch cfg.Intervention.Mode {
	case config.InterventionApprove:
		gateway = intervention.StaticGateway{Decision: intervention.Response{Approved: true, Reason: "auto-approved"}}
	case config.InterventionReject:
		gateway = intervention.StaticGateway{Decision: intervention.Reject("auto-rejected")}
	default:
		queue = intervention.NewQueueGateway(logger)
		gateway = queue
	}
	gateway = intervention.WithTimeout(gateway, cfg.Intervention.Timeout)

	orch, err := orchestrator.New(orchestrator.Config{
		Classifier:          classifier,
		Tools:               registry,
		Agents:              catalog,
		Router:              agents.NewKeywordRouter(catalog),
		Processor:           processor,
		Handoffer:           processor,
		Invoker:             tools.NewHTTPInvoker(),
		Gateway:             gateway,
		Sampler:             orchestrator.RuntimeSampler{},
		Recovery:            orchestrator.LogRecovery{Logger: logger},
		Events:              bus,
		ConfidenceThreshold: cfg.Routing.ConfidenceThreshold,
		SampleInterval:      cfg.Resources.SampleInterval,
		Limits: orchestrator.Limits{
			MaxMemoryMB:   cfg.Resources.MaxMemoryMB,
			MaxGoroutines: cfg.Resources.MaxGoroutines,
		},
		Logger: logger,
		Tracer: otel.Tracer(serviceName),
	})
	if err != nil {
		logger.Fatal("orchestrator init failed", zap.Error(err))
	}

	// HTTP API server
	httpServer := &http.Server{
		Addr: cfg.HTTP.Addr(),
		Handler: api.NewRouter(&api.Dependencies{
			Orchestrator: orch,
			Tools:        registry,
			Agents:       catalog,
			Queue:        queue,
			EventReader:  eventReader,
			Logger:       logger,
		}),
		ReadTimeout: 10 * time.Second,
		// Pipelines may wait on a reviewer.
		WriteTimeout: cfg.Intervention.Timeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// gRPC health server
	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			Time:              30 * time.Second,
			Timeout:           5 * time.Second,
		}),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPC.Addr())
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.GRPC.Addr()), zap.Error(err))
	}
	go func() {
		logger.Info("grpc health server listening", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	grpcServer.GracefulStop()

	logger.Info("orchestrator stopped")
}

// preloadTools registers every enabled tool from Postgres up front. Tools
// added later are still found lazily through the registry's lookup.
func preloadTools(registry *tools.Registry, src *tools.PostgresSource, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	descs, err := src.LoadAll(ctx)
	if err != nil {
		logger.Warn("tool preload failed, relying on lazy lookup", zap.Error(err))
		return
	}
	for _, d := range descs {
		if err := registry.Register(d); err != nil && !errors.Is(err, tools.ErrAlreadyRegistered) {
			logger.Warn("skipping tool", zap.String("tool_id", d.ID), zap.Error(err))
		}
	}
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
