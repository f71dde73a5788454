package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lotwise/driveline/internal/adsqueue"
	"github.com/lotwise/driveline/internal/breaker"
	"github.com/lotwise/driveline/internal/budget"
	"github.com/lotwise/driveline/internal/engine"
	"github.com/lotwise/driveline/internal/events"
	"github.com/lotwise/driveline/internal/expressions"
	"github.com/lotwise/driveline/internal/insights"
	"github.com/lotwise/driveline/internal/logging"
	"github.com/lotwise/driveline/internal/metrics"
	"github.com/lotwise/driveline/internal/ops"
	"github.com/lotwise/driveline/internal/push"
	"github.com/lotwise/driveline/internal/scheduler"
	"github.com/lotwise/driveline/internal/secrets"
	"github.com/lotwise/driveline/internal/store"
	"github.com/lotwise/driveline/internal/tenant"
	"github.com/lotwise/driveline/internal/tools"
	"github.com/lotwise/driveline/internal/validation"
	"github.com/lotwise/driveline/pkg/mcp"
	"github.com/lotwise/driveline/pkg/schema"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "version") {
		printVersion()
		return
	}
	if err := run(); err != nil {
		slog.Error("driveline exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()

	// Stdout carries the MCP transport, so logs go to stderr.
	logger := slog.New(logging.NewCorrelationHandler(
		slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}),
	))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store.
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	// Metrics.
	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector(promReg)

	// Event buses: the in-process bus always runs (SSE, push mirroring);
	// Redis is an optional second leg for sibling services.
	memBus := events.NewMemoryBus()
	var pub events.Publisher = memBus
	if cfg.RedisAddr != "" {
		redisBus, rErr := events.NewRedisBus(cfg.RedisAddr, cfg.RedisChannel, logger)
		if rErr != nil {
			return fmt.Errorf("connect redis bus: %w", rErr)
		}
		defer redisBus.Close()
		pub = events.NewFanout(logger, memBus, redisBus)
		logger.Info("redis event bus attached", "addr", cfg.RedisAddr, "channel", cfg.RedisChannel)
	}
	pub = events.NewMetered(pub, collector)

	replayLog := events.NewReplayLog(events.ReplayLogConfig{
		MaxCorrelations: cfg.ReplayMaxCorrelations,
		MaxEntries:      cfg.ReplayMaxEntries,
	})

	// Push: the WebSocket hub is wrapped by the MCP notifier so agent
	// sessions get the same messages as notifications. The MCP server is
	// bound after it exists.
	hub := push.NewHub()
	mcpSessions := mcp.NewSessionRegistry()
	pusher := mcp.NewNotifier(hub, mcpSessions)

	// Tenancy and budgets.
	tenants := tenant.NewManager(st, pub, logger)
	tracker := budget.NewTracker(st, collector, logger)
	estimator := budget.NewEstimator("", 0)

	// Breakers.
	bcfg := breaker.DefaultConfig()
	if cfg.BreakerFailures > 0 {
		bcfg.FailureThreshold = cfg.BreakerFailures
	}
	if cfg.BreakerCooldownSeconds > 0 {
		bcfg.Cooldown = time.Duration(cfg.BreakerCooldownSeconds) * time.Second
	}
	breakers := breaker.NewRegistry(bcfg, collector)

	// Insights: OpenAI when a key is present, canned answers otherwise.
	var insightsClient insights.Client
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		insightsClient = insights.NewOpenAIClient(key, cfg.OpenAIModel)
	} else {
		insightsClient = insights.NewStaticClient()
		logger.Info("OPENAI_API_KEY not set, insights respond with static analysis")
	}

	// Ads task queue.
	queue := adsqueue.NewMemoryQueue(adsqueue.Config{
		Capacity: cfg.QueueCapacity,
		Workers:  cfg.QueueWorkers,
	}, pub, collector, logger)
	if err := queue.RegisterHandler(adsqueue.TaskTypeCreateCampaign, adsqueue.NewCampaignHandler(pub, logger)); err != nil {
		return fmt.Errorf("register campaign handler: %w", err)
	}
	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("start ads queue: %w", err)
	}
	defer queue.Close()

	// Tool registry.
	registry := tools.NewRegistry(st)
	if _, err := registry.RegisterPack("dealer", tools.DealerTools()); err != nil {
		return fmt.Errorf("register dealer tools: %w", err)
	}
	if _, err := registry.RegisterPack("ads", tools.AdsTools(queue)); err != nil {
		return fmt.Errorf("register ads tools: %w", err)
	}
	if _, err := registry.RegisterPack("analytics", tools.AnalyticsTools(insightsClient, breakers, pub)); err != nil {
		return fmt.Errorf("register analytics tools: %w", err)
	}
	for _, tool := range tools.UtilityTools() {
		if err := registry.Register(tool); err != nil {
			return fmt.Errorf("register utility tool: %w", err)
		}
	}
	logger.Info("tool registry ready", "tools", registry.Count())

	// Validation and expressions.
	paramValidator, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return fmt.Errorf("build param validator: %w", err)
	}
	conditions, err := expressions.NewCompiler()
	if err != nil {
		return fmt.Errorf("build condition compiler: %w", err)
	}
	wfValidator, err := validation.NewWorkflowValidator(registry, conditions)
	if err != nil {
		return fmt.Errorf("build workflow validator: %w", err)
	}

	// Secrets vault feeds ${{secrets.KEY}} interpolation when configured.
	var secretSource expressions.SecretSource
	if pass := os.Getenv("DRIVELINE_VAULT_PASSPHRASE"); pass != "" {
		vault, vErr := secrets.NewAESVault(st, secrets.VaultConfig{
			Passphrase: pass,
			Salt:       []byte(os.Getenv("DRIVELINE_VAULT_SALT")),
		})
		if vErr != nil {
			return fmt.Errorf("open secrets vault: %w", vErr)
		}
		secretSource = vault
	}
	interp := expressions.NewInterpolator(secretSource)

	// Executor and engine.
	executor := tools.NewExecutor(registry, tenants, tracker, estimator,
		paramValidator, pub, replayLog, pusher, collector, logger)
	eng := engine.NewEngine(executor, wfValidator, conditions, interp,
		pub, replayLog, pusher, collector, logger,
		engine.Config{MaxWorkflows: cfg.MaxWorkflows})

	// Scheduler.
	var sched *scheduler.Scheduler
	if cfg.Scheduler {
		sched = scheduler.NewScheduler(eng, time.Duration(cfg.SchedulerIntervalSeconds)*time.Second, logger)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	// Ops HTTP server.
	opsServer := ops.NewServer(cfg.OpsAddr, ops.Deps{
		Tenants:   tenants,
		Budget:    tracker,
		Engine:    eng,
		Tools:     registry,
		Breakers:  breakers,
		Scheduler: sched,
		Bus:       memBus,
		Push:      push.NewWSHandler(hub, tenants, logger),
		Gatherer:  promReg,
		Logger:    logger,
		DefaultLimits: schema.SandboxLimits{
			HourlyTokenLimit:     cfg.DefaultHourlyTokens,
			DailyTokenLimit:      cfg.DefaultDailyTokens,
			DailyCostLimitMicros: cfg.DefaultDailyCostMicros,
		},
	})
	if err := opsServer.Start(); err != nil {
		return fmt.Errorf("start ops server: %w", err)
	}

	// MCP stdio server.
	mcpSrv := mcp.NewDrivelineServer(mcp.DrivelineServerDeps{
		Executor: executor,
		Engine:   eng,
		Resolver: tenants,
		Catalog:  registry,
		Sessions: mcpSessions,
		Logger:   logger,
		Version:  version,
	})
	pusher.Bind(mcpSrv.MCPServer())

	logger.Info("driveline ready", "version", version, "ops_addr", opsServer.Addr(), "db", cfg.DBPath)

	// Serve MCP on stdio until the client closes stdin or a signal arrives.
	serveErr := mcpSrv.Serve(ctx)

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown", "error", err)
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}

func parseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
