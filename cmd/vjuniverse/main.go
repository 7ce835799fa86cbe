// Package main implements the entry point for the VJUniverse engine: an
// audio-reactive shader host driven over OSC, with optional NATS event
// publishing, a status WebSocket, and Prometheus metrics. The shipped binary
// runs headless on the no-op renderer; a render host links the engine package
// and plugs in its own backend.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/abossard/vjuniverse/binding"
	"github.com/abossard/vjuniverse/component"
	"github.com/abossard/vjuniverse/config"
	"github.com/abossard/vjuniverse/engine"
	"github.com/abossard/vjuniverse/health"
	"github.com/abossard/vjuniverse/input/oscudp"
	"github.com/abossard/vjuniverse/metric"
	"github.com/abossard/vjuniverse/natsclient"
	"github.com/abossard/vjuniverse/output/natsbridge"
	"github.com/abossard/vjuniverse/output/statusws"
	"github.com/abossard/vjuniverse/shader"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "vjuniverse"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	metricsRegistry := metric.NewRegistry()

	natsClient := connectBus(signalCtx, cfg, logger)
	if natsClient != nil {
		defer func() { _ = natsClient.Close(context.Background()) }()
	}

	registry, rules, err := loadShaderLibrary(cfg, logger)
	if err != nil {
		return err
	}

	receiver, err := oscudp.NewReceiver(oscudp.Deps{
		Name:            "osc-udp",
		Port:            cfg.OSC.Port,
		Bind:            cfg.OSC.Bind,
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("create OSC receiver: %w", err)
	}

	var statusServer *statusws.Server
	if cfg.Status.Enabled {
		statusServer = statusws.NewServer(statusws.Deps{
			Name:     "status-ws",
			Port:     cfg.Status.Port,
			Interval: cfg.Status.Interval,
			Logger:   logger,
		})
	}

	bridge := natsbridge.NewBridge(natsbridge.Deps{
		Name:      "nats-bridge",
		Client:    natsClient,
		FrameRate: cfg.NATS.FrameRate,
	})

	manager := component.NewManager(logger)
	manager.Add(receiver)
	if statusServer != nil {
		manager.Add(statusServer)
	}
	manager.Add(bridge)

	metricsServer, err := startMetrics(cfg, metricsRegistry, manager, logger)
	if err != nil {
		return err
	}
	if metricsServer != nil {
		defer func() { _ = metricsServer.Stop(cliCfg.ShutdownTimeout) }()
	}

	if err := manager.StartAll(signalCtx); err != nil {
		return fmt.Errorf("start components: %w", err)
	}

	input := engine.Drainer(receiver)
	if natsClient != nil {
		feed, err := natsbridge.NewCommandFeed(logger.With("component", "command-feed"))
		if err != nil {
			_ = manager.StopAll(cliCfg.ShutdownTimeout)
			return fmt.Errorf("create command feed: %w", err)
		}
		if err := feed.Subscribe(signalCtx, natsClient); err != nil {
			slog.Warn("Bus command subscription failed", "subject", natsbridge.SubjectCommand, "error", err)
		} else {
			input = engine.MergeDrainers(receiver, feed)
		}
	}

	session, err := buildSession(cfg, registry, rules, input, bridge, statusServer, metricsRegistry, logger)
	if err != nil {
		_ = manager.StopAll(cliCfg.ShutdownTimeout)
		return err
	}

	if cfg.Shaders.InitialShader != "" {
		if err := session.Activate(signalCtx, cfg.Shaders.InitialShader, time.Now()); err != nil {
			slog.Warn("Initial shader activation failed", "shader", cfg.Shaders.InitialShader, "error", err)
		}
	}

	slog.Info("VJUniverse started",
		"osc_port", receiver.Port(),
		"shaders", registry.Count(),
		"nats", natsClient != nil,
		"tick_rate", cfg.Audio.TickRate)

	g, gctx := errgroup.WithContext(signalCtx)
	g.Go(func() error {
		return tickLoop(gctx, session, cfg.Audio.TickRate)
	})
	runErr := g.Wait()

	slog.Info("Shutting down")
	if err := manager.StopAll(cliCfg.ShutdownTimeout); err != nil {
		slog.Error("Error stopping components", "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	slog.Info("VJUniverse shutdown complete")
	return runErr
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting VJUniverse (audio-reactive shader engine)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// startMetrics starts the Prometheus endpoint when configured, serving the
// aggregated component health alongside the metrics.
func startMetrics(
	cfg *config.Config,
	registry *metric.Registry,
	manager *component.Manager,
	logger *slog.Logger,
) (*metric.Server, error) {
	if !cfg.Metrics.Enabled {
		return nil, nil
	}
	server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry, logger)
	server.SetHealthHandler(health.Handler(appName, manager))
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("start metrics server: %w", err)
	}
	return server, nil
}

// connectBus connects to NATS when enabled. Connection failure is logged and
// tolerated: the bridge degrades to counted skips and the engine runs on.
func connectBus(ctx context.Context, cfg *config.Config, logger *slog.Logger) *natsclient.Client {
	if !cfg.NATS.Enabled {
		return nil
	}

	client, err := natsclient.NewClient(cfg.NATS.URL,
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
		natsclient.WithLogger(logger),
	)
	if err != nil {
		slog.Warn("NATS client creation failed, running without bus", "error", err)
		return nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		slog.Warn("NATS connection failed, running without bus", "url", cfg.NATS.URL, "error", err)
	}
	return client
}

// loadShaderLibrary scans the shader directory and loads binding rules.
func loadShaderLibrary(cfg *config.Config, logger *slog.Logger) (*shader.Registry, []binding.Rule, error) {
	registry := shader.NewRegistry(cfg.Shaders.Dir,
		shader.WithReloadInterval(cfg.Shaders.ReloadInterval),
		shader.WithRegistryLogger(logger),
	)
	if err := registry.Scan(); err != nil {
		return nil, nil, fmt.Errorf("scan shader directory %s: %w", cfg.Shaders.Dir, err)
	}

	var rules []binding.Rule
	if cfg.Shaders.RulesFile != "" {
		loaded, err := binding.LoadRules(cfg.Shaders.RulesFile)
		if err != nil {
			return nil, nil, fmt.Errorf("load binding rules %s: %w", cfg.Shaders.RulesFile, err)
		}
		rules = loaded
		slog.Info("Binding rules loaded", "path", cfg.Shaders.RulesFile, "count", len(rules))
	}

	return registry, rules, nil
}

// buildSession assembles the engine session on the headless renderer.
func buildSession(
	cfg *config.Config,
	registry *shader.Registry,
	rules []binding.Rule,
	input engine.Drainer,
	bridge *natsbridge.Bridge,
	statusServer *statusws.Server,
	metricsRegistry *metric.Registry,
	logger *slog.Logger,
) (*engine.Session, error) {
	var capture *shader.CaptureScheduler
	if cfg.Shaders.PreviewDir != "" {
		if err := os.MkdirAll(cfg.Shaders.PreviewDir, 0o755); err != nil {
			return nil, fmt.Errorf("create preview directory: %w", err)
		}
		capture = shader.NewCaptureScheduler(cfg.Shaders.PreviewDir, cfg.Shaders.CaptureDelay)
	}

	var errorLog *shader.ErrorLog
	if cfg.Shaders.ErrorLog != "" {
		errorLog = shader.NewErrorLog(cfg.Shaders.ErrorLog)
	}

	session, err := engine.NewSession(engine.Deps{
		Name:            "engine",
		Registry:        registry,
		Transpiler:      shader.NewTranspiler(logger),
		Renderer:        &engine.NopRenderer{},
		Input:           input,
		Bridge:          bridge,
		Status:          statusServer,
		Capture:         capture,
		ErrorLog:        errorLog,
		Rules:           rules,
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	session.Extractor().SetOnsetThreshold(cfg.Audio.OnsetThreshold)
	session.SetSongStyle(cfg.Audio.SongStyle)
	return session, nil
}

// tickLoop drives the session at the configured rate until ctx is done.
func tickLoop(ctx context.Context, session *engine.Session, rate float64) error {
	interval := time.Duration(float64(time.Second) / rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			session.Tick(ctx, now, dt)
		}
	}
}
