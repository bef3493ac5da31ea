package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/entrhq/pilot/pkg/automation/browser"
	"github.com/entrhq/pilot/pkg/config"
	"github.com/entrhq/pilot/pkg/llm"
	"github.com/entrhq/pilot/pkg/llm/openai"
	"github.com/entrhq/pilot/pkg/logging"
	"github.com/entrhq/pilot/pkg/plan"
	"github.com/entrhq/pilot/pkg/router"
	"github.com/entrhq/pilot/pkg/server"
	"github.com/entrhq/pilot/pkg/session"
	"github.com/entrhq/pilot/pkg/sitescript"
	"github.com/entrhq/pilot/pkg/types"
	"github.com/spf13/cobra"
)

var (
	flagListen   string
	flagEndpoint string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WebSocket server",
	Long: `Starts the WebSocket server and the automation session manager.

The session attaches to the Chrome tab at session.cdp_endpoint, either on
startup (session.auto_start) or on the first request that needs it.
SIGINT or SIGTERM shuts down gracefully.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		if flagListen != "" {
			cfg.Server.Listen = flagListen
		}
		if flagEndpoint != "" {
			cfg.Session.CDPEndpoint = flagEndpoint
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&flagListen, "listen", "l", "", "Listen address (overrides server.listen)")
	serveCmd.Flags().StringVar(&flagEndpoint, "cdp-endpoint", "", "Chrome DevTools endpoint (overrides session.cdp_endpoint)")
}

// app holds the wired components of a running server.
type app struct {
	factory *browser.Factory
	manager *session.Manager
	server  *server.Server
}

func serve(ctx context.Context, cfg *config.Config) error {
	if err := logging.Configure(logging.Options{
		Level:  cfg.Logging.Level,
		Dir:    cfg.Logging.Dir,
		Format: cfg.Logging.Format,
	}); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	defer func() { _ = logging.Shutdown() }()

	logger := logging.MustLogger("pilot")
	if cfg.Source != "" {
		logger.Infof("loaded config from %s", cfg.Source)
	}

	a, err := build(cfg)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Session.AutoStart {
		go func() {
			if err := a.manager.Start(ctx); err != nil {
				logger.Warnf("auto start failed: %v", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.ListenAndServe() }()

	select {
	case err = <-errCh:
		if err != nil {
			logger.Errorf("server stopped: %v", err)
		}
	case <-ctx.Done():
		logger.Infof("shutting down")
	}

	return errors.Join(err, a.shutdown(cfg, logger))
}

// build wires the provider, browser factory, session, planner, router and server.
func build(cfg *config.Config) (*app, error) {
	providerOpts := []openai.ProviderOption{
		openai.WithModel(cfg.LLM.Model),
		openai.WithTemperature(cfg.LLM.Temperature),
	}
	if cfg.LLM.BaseURL != "" {
		providerOpts = append(providerOpts, openai.WithBaseURL(cfg.LLM.BaseURL))
	}
	provider, err := openai.NewProvider(cfg.LLM.APIKey, providerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}

	scripts, err := sitescript.Load(cfg.SiteScripts.File)
	if err != nil {
		return nil, err
	}

	engine := browser.NewLLMEngine(provider, browser.WithEngineLogger(logging.MustLogger("engine")))
	factory := browser.NewFactory(browser.FactoryConfig{
		Endpoint: cfg.Session.CDPEndpoint,
		TabURL:   cfg.Session.TabURL,
	}, engine, logging.MustLogger("browser"))

	sessionLogger := logging.MustLogger("session")
	manager := session.NewManager(factory, session.Options{
		MaxReconnectAttempts: cfg.Session.MaxReconnectAttempts,
		ReconnectInterval:    cfg.Session.ReconnectInterval,
		StartRetries:         cfg.Session.StartRetries,
		StartRetryDelay:      cfg.Session.StartRetryDelay,
		StabilizeDelay:       cfg.Session.StabilizeDelay,
		StatusMessage:        cfg.Session.StatusMessage,
		Logger:               sessionLogger,
	})
	manager.Subscribe(logEvents(sessionLogger))
	executor := session.NewExecutor(manager, cfg.Session.MaxRetries)

	planner := plan.NewLLMPlanner(llm.WithModel(provider, cfg.PlannerModel()))
	plans := plan.NewExecutor(planner, executor, logging.MustLogger("plan"))

	r := router.New(router.Deps{
		Manager:          manager,
		Executor:         executor,
		Plans:            plans,
		Scripts:          scripts,
		Logger:           logging.MustLogger("router"),
		OperationTimeout: cfg.Session.OperationTimeout,
	})

	srv := server.New(cfg.Server, r, manager, logging.MustLogger("server"))
	return &app{factory: factory, manager: manager, server: srv}, nil
}

func (a *app) shutdown(cfg *config.Config, logger *logging.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := a.manager.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("session stop: %w", err))
	}
	if err := a.factory.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("browser driver shutdown: %w", err))
	}
	if len(errs) == 0 {
		logger.Infof("shutdown complete")
	}
	return errors.Join(errs...)
}

// logEvents writes session lifecycle events to logger.
func logEvents(logger *logging.Logger) func(types.SessionEvent) {
	return func(e types.SessionEvent) {
		switch {
		case e.Type == types.EventTypeTaskStarted:
			logger.Debugf("task started: %v (attempt %d)", e.Metadata["operation"], e.Attempt)
		case e.IsFailure():
			logger.Warnf("session %s: %v", e.Type, e.Error)
		default:
			logger.Infof("session %s (state %s)", e.Type, e.State)
		}
	}
}
