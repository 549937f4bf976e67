// Package main provides the concord binary entry point.
// Concord is an autonomous governance agent that routes issues through
// a staged pipeline with model routing, quality gating, and human
// approval for high-risk actions.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	// Register LLM providers via init()
	_ "github.com/concordlabs/concord/llm/providers"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/spf13/cobra"

	"github.com/concordlabs/concord/config"
	"github.com/concordlabs/concord/events"
	"github.com/concordlabs/concord/govern"
	"github.com/concordlabs/concord/llm"
	"github.com/concordlabs/concord/metrics"
	"github.com/concordlabs/concord/model"
	"github.com/concordlabs/concord/pipeline"
	"github.com/concordlabs/concord/quality"
	"github.com/concordlabs/concord/router"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "concord"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "concord",
		Short: "Autonomous governance agent",
		Long: `Concord routes governance signals through a staged pipeline:
intake, issue detection, specialist work, document production,
dual-house review, and execution. High-risk actions lock until a
human approves them.

Model routing classifies each task, selects the cheapest capable
model, and falls back through a chain under a daily cost budget.`,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(runCmd(&configPath, &logLevel))
	cmd.AddCommand(serveCmd(&configPath, &logLevel))
	cmd.AddCommand(modelsCmd(&configPath, &logLevel))
	cmd.AddCommand(initCmd(&logLevel))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func runCmd(configPath, logLevel *string) *cobra.Command {
	var (
		issueID      string
		workflowType string
		riskLevel    string
	)

	cmd := &cobra.Command{
		Use:   "run [signal...]",
		Short: "Run one governance pipeline to completion",
		Long: `Run drives a single governance run through all nine stages and
prints the result. Positional arguments become intake signals; an
existing issue can be referenced with --issue instead.

High-risk runs stop at execution with status "locked" and must be
resumed after approval.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogging(*logLevel)

			if issueID == "" && len(args) == 0 {
				return fmt.Errorf("provide at least one signal argument or --issue")
			}

			rt, err := newApp(cmd.Context(), *configPath, logger)
			if err != nil {
				return err
			}
			defer rt.close()

			trigger := pipeline.Trigger{
				IssueID:      issueID,
				WorkflowType: pipeline.WorkflowType(workflowType),
				RiskLevel:    pipeline.RiskLevel(strings.ToUpper(riskLevel)),
			}
			for i, content := range args {
				trigger.Signals = append(trigger.Signals, pipeline.Signal{
					ID:      fmt.Sprintf("cli-%d", i),
					Source:  "cli",
					Content: content,
				})
			}

			result, err := rt.engine.Run(cmd.Context(), trigger)
			if err != nil {
				return err
			}
			return printResult(result)
		},
	}

	cmd.Flags().StringVar(&issueID, "issue", "", "Existing issue ID to process")
	cmd.Flags().StringVar(&workflowType, "workflow", "", "Workflow type (A-E)")
	cmd.Flags().StringVar(&riskLevel, "risk", "", "Preset risk level (LOW, MID, HIGH)")

	cmd.AddCommand(&cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resume a locked pipeline run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogging(*logLevel)

			rt, err := newApp(cmd.Context(), *configPath, logger)
			if err != nil {
				return err
			}
			defer rt.close()

			result, err := rt.engine.Resume(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if result == nil {
				return fmt.Errorf("no run found with ID %s", args[0])
			}
			return printResult(result)
		},
	})

	return cmd
}

func serveCmd(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run as a long-lived service",
		Long: `Serve keeps the engine resident, watches the model catalog for
changes, sweeps model health, and exposes prometheus metrics until
interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogging(*logLevel)

			rt, err := newApp(cmd.Context(), *configPath, logger)
			if err != nil {
				return err
			}
			defer rt.close()

			signalCtx, signalCancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer signalCancel()

			if rt.cfg.Models.WatchCatalog {
				watcher, err := rt.registry.WatchCatalog(signalCtx, rt.cfg.Models.CatalogPath)
				if err != nil {
					logger.Warn("Catalog watch unavailable", "error", err)
				} else {
					defer func() { _ = watcher.Stop() }()
				}
			}
			rt.registry.StartSweep(signalCtx, time.Minute)

			if addr := rt.cfg.Metrics.ListenAddr; addr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", rt.metrics.Handler())
				srv := &http.Server{Addr: addr, Handler: mux}
				go func() {
					logger.Info("Serving metrics", "addr", addr)
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("Metrics server failed", "error", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			logger.Info("Concord ready", "version", Version)
			<-signalCtx.Done()
			logger.Info("Received shutdown signal")
			return nil
		},
	}
}

func modelsCmd(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the model catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogging(*logLevel)

			cfg, err := loadConfig(*configPath, logger)
			if err != nil {
				return err
			}

			registry := model.NewRegistry(model.WithLogger(logger))
			count, err := registry.LoadCatalog(cfg.Models.CatalogPath)
			if err != nil {
				return fmt.Errorf("load catalog: %w", err)
			}

			fmt.Printf("%d models from %s\n\n", count, cfg.Models.CatalogPath)
			for _, entry := range registry.List() {
				fmt.Printf("%-20s tier=%d provider=%-10s status=%-11s $%.4f/1k\n",
					entry.ID, entry.Tier, entry.Provider, entry.Status, entry.CostPer1KTokens)
			}
			return nil
		},
	}
}

func initCmd(logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the default user config",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogging(*logLevel)
			return config.NewLoader(logger).EnsureUserConfig()
		},
	}
}

func setupLogging(logLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func loadConfig(configPath string, logger *slog.Logger) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}
	return config.NewLoader(logger).Load()
}

// app bundles the wired platform for one command invocation.
type app struct {
	cfg      *config.Config
	bus      *events.Bus
	registry *model.Registry
	router   *router.Router
	engine   *pipeline.Engine
	metrics  *metrics.Metrics

	natsClient *natsclient.Client
	bridge     *events.NATSBridge
	unobserve  func()
}

func newApp(ctx context.Context, configPath string, logger *slog.Logger) (*app, error) {
	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return nil, err
	}

	rt := &app{cfg: cfg, bus: events.NewBus(64)}

	rt.metrics = metrics.New()
	rt.unobserve = rt.metrics.Observe(rt.bus)

	rt.registry = model.NewRegistry(
		model.WithBus(rt.bus),
		model.WithLogger(logger),
	)
	count, err := rt.registry.LoadCatalog(cfg.Models.CatalogPath)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	logger.Info("Model catalog loaded", "count", count, "path", cfg.Models.CatalogPath)

	routerOpts := []router.Option{
		router.WithBus(rt.bus),
		router.WithLogger(logger),
		router.WithQualityGate(quality.NewGate(quality.WithLogger(logger))),
	}
	for name, endpoint := range map[string]string{
		"openai":    cfg.Models.OpenAIEndpoint,
		"anthropic": cfg.Models.AnthropicEndpoint,
	} {
		codec := llm.GetCodec(name)
		if codec == nil {
			continue
		}
		client := llm.NewHTTPClient(codec, endpoint,
			llm.WithLogger(logger),
			llm.WithCircuitBreaker(llm.NewCircuitBreaker(llm.DefaultBreakerConfig())))
		routerOpts = append(routerOpts, router.WithProvider(name, client))
	}

	rt.router = router.New(rt.registry, router.Config{
		DailyBudgetUSD:  cfg.Router.DailyBudgetUSD,
		BudgetWarnRatio: cfg.Router.BudgetWarnRatio,
		RetrySameModel:  !cfg.Router.DisableSameModelRetry,
	}, routerOpts...)

	documents := govern.NewDocumentRegistry()
	services := pipeline.Services{
		SafeAutonomy: govern.NewSafeAutonomy(),
		Orchestrator: govern.NewOrchestrator(documents),
		Documents:    documents,
		DualHouse:    govern.NewDualHouse(),
		Router:       rt.router,
	}

	engineOpts := []pipeline.Option{
		pipeline.WithBus(rt.bus),
		pipeline.WithLogger(logger),
	}

	if cfg.NATS.URL != "" {
		nc, err := connectToNATS(ctx, cfg.NATS.URL, logger)
		if err != nil {
			rt.close()
			return nil, err
		}
		rt.natsClient = nc
		rt.bridge = events.NewNATSBridge(rt.bus, nc, logger)

		if bucket := cfg.Pipeline.ContextBucket; bucket != "" {
			store, err := pipeline.NewKVContextStore(ctx, nc, bucket)
			if err != nil {
				rt.close()
				return nil, fmt.Errorf("create context store: %w", err)
			}
			engineOpts = append(engineOpts, pipeline.WithStore(store))
			logger.Info("Pipeline contexts persisted", "bucket", bucket)
		}
	}

	rt.engine = pipeline.NewEngine(services, pipeline.Config{
		StageTimeout:       cfg.Pipeline.StageTimeout,
		MaxRetriesPerStage: cfg.Pipeline.MaxRetriesPerStage,
	}, engineOpts...)

	return rt, nil
}

func (rt *app) close() {
	if rt.bridge != nil {
		rt.bridge.Stop()
	}
	if rt.natsClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rt.natsClient.Close(ctx)
	}
	if rt.unobserve != nil {
		rt.unobserve()
	}
	if rt.bus != nil {
		rt.bus.Close()
	}
}

func connectToNATS(ctx context.Context, url string, logger *slog.Logger) (*natsclient.Client, error) {
	// Environment variable override takes precedence
	if envURL := os.Getenv("NATS_URL"); envURL != "" {
		url = envURL
	}

	logger.Info("Connecting to NATS", "url", url)

	client, err := natsclient.NewClient(url,
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(-1),
		natsclient.WithReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, wrapNATSError(err, url)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, wrapNATSError(err, url)
	}

	logger.Info("Connected to NATS", "url", url)
	return client, nil
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

Start a NATS server or clear nats.url in the config to run without
event forwarding.`, err, url)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}

func printResult(result *pipeline.Result) error {
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
