// Package main is the entry point for the normwatch binary.
// It runs the regulatory monitoring service and provides rule-table tooling.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/normwatch/normwatch-oss/internal/governance"
	"github.com/normwatch/normwatch-oss/pkg/adapters"
	"github.com/normwatch/normwatch-oss/pkg/classify"
	"github.com/normwatch/normwatch-oss/pkg/config"
	"github.com/normwatch/normwatch-oss/pkg/domain"
	"github.com/normwatch/normwatch-oss/pkg/escalate"
	"github.com/normwatch/normwatch-oss/pkg/events"
	"github.com/normwatch/normwatch-oss/pkg/executor"
	"github.com/normwatch/normwatch-oss/pkg/feed"
	"github.com/normwatch/normwatch-oss/pkg/ledger"
	"github.com/normwatch/normwatch-oss/pkg/logging"
	"github.com/normwatch/normwatch-oss/pkg/scheduler"
	"github.com/normwatch/normwatch-oss/pkg/server"
	"github.com/normwatch/normwatch-oss/pkg/storage"
	"github.com/normwatch/normwatch-oss/pkg/telemetry"
)

const (
	telemetryShutdownTimeout = 5 * time.Second
	gracefulShutdownTimeout  = 10 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for normwatch
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "normwatch",
		Short: "Regulatory publication monitor for child-protection compliance",
		Long: `normwatch polls an official gazette feed for regulatory changes that
affect child-protection compliance documentation, classifies each change,
and drives the resulting remediation actions to completion. Critical
changes are held for human validation before they are communicated.`,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateRulesCmd())

	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring service",
		RunE:  runServe,
	}

	cmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	cmd.Flags().String("listen", "", "Admin API listen address (overrides config)")
	cmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")

	return cmd
}

func newValidateRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-rules <file>",
		Short: "Validate a classification rule table without starting the service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := classify.LoadRuleSet(args[0])
			if err != nil {
				return err
			}
			cmd.Printf("%s: ok (%d relevance keywords, %d type patterns, %d domain mappings)\n",
				args[0], len(rules.RelevanceKeywords), len(rules.TypePatterns), len(rules.DomainMappings))
			return nil
		},
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.ListenAddress = listen
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
	})
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: "normwatch",
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer shutdownCancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	sched, srv, cleanup, err := buildService(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	go sched.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		logger.Error("admin server error", "error", err)
		return err
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during shutdown", "error", err)
	}

	logger.Info("normwatch stopped")
	return nil
}

// buildService wires every component from configuration. The returned
// cleanup closes watchers and stores.
func buildService(cfg *config.Config, logger *slog.Logger) (*scheduler.Scheduler, *server.Server, func(), error) {
	metrics := telemetry.NewMetrics()

	changeStore := storage.NewMemoryChangeStore()
	runStore := storage.NewMemoryRunStore(0)

	led := ledger.New(ledger.Config{
		Store:       changeStore,
		MaxAttempts: cfg.Monitor.MaxAttempts,
		Logger:      logger,
	})

	rules := classify.DefaultRuleSet()
	var rulesProvider *config.RulesProvider
	if cfg.Rules.File != "" {
		var err error
		rulesProvider, err = config.NewRulesProvider(cfg.Rules.File, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("rules setup: %w", err)
		}
		rules = rulesProvider.Current()
	}

	classifier, err := classify.NewClassifier(rules, logger)
	if err != nil {
		if rulesProvider != nil {
			_ = rulesProvider.Close()
		}
		return nil, nil, nil, fmt.Errorf("classifier setup: %w", err)
	}

	var breaker *governance.CircuitBreaker
	if cfg.Feed.BreakerMaxFailures > 0 {
		breaker = governance.NewCircuitBreaker(governance.CircuitBreakerConfig{
			MaxFailures: cfg.Feed.BreakerMaxFailures,
			Cooldown:    cfg.Feed.BreakerCooldown.Std(),
		})
	}
	feedSource := feed.NewHTTPFeedSource(feed.HTTPConfig{
		Endpoint: cfg.Feed.Endpoint,
		Timeout:  cfg.Feed.Timeout.Std(),
		Breaker:  breaker,
		Logger:   logger,
	})

	ports := adapters.NewLogAdapters(logger)
	exec := executor.New(executor.Config{
		Ledger: led,
		Handlers: executor.Handlers{
			Templates: ports,
			Protocols: ports,
			Training:  ports,
			Notifier:  ports,
		},
		Recipients: cfg.Monitor.Recipients,
		Workers:    cfg.Monitor.Workers,
		Logger:     logger,
		Metrics:    metrics,
	})

	gate := escalate.New(escalate.Config{
		Ledger:  led,
		Alerter: ports,
		Logger:  logger,
		Metrics: metrics,
	})

	topic := events.NewTopic[domain.RegulatoryChange]()

	sched := scheduler.New(scheduler.Config{
		Feed:         feedSource,
		Filter:       classify.NewFilter(rules.RelevanceKeywords),
		Classifier:   classifier,
		Ledger:       led,
		Executor:     exec,
		Gate:         gate,
		Runs:         runStore,
		Topic:        topic,
		Interval:     cfg.Monitor.Interval.Std(),
		RetryDelay:   cfg.Monitor.RetryDelay.Std(),
		CycleTimeout: cfg.Monitor.CycleTimeout.Std(),
		Lookback:     cfg.Monitor.Lookback.Std(),
		Logger:       logger,
		Metrics:      metrics,
	})

	go gate.Watch(context.Background(), topic)
	if rulesProvider != nil {
		go watchRules(rulesProvider, sched, logger)
	}

	srv := server.New(server.Config{
		ListenAddress: cfg.Server.ListenAddress,
		Trigger:       sched,
		Ledger:        led,
		Gate:          gate,
		Runs:          runStore,
		Metrics:       metrics,
		Logger:        logger,
	})

	cleanup := func() {
		topic.Close()
		if rulesProvider != nil {
			if err := rulesProvider.Close(); err != nil {
				logger.Error("rules provider close failed", "error", err)
			}
		}
		_ = changeStore.Close()
		_ = runStore.Close()
	}
	return sched, srv, cleanup, nil
}

// watchRules applies rule-table reloads to the running scheduler.
func watchRules(provider *config.RulesProvider, sched *scheduler.Scheduler, logger *slog.Logger) {
	for rules := range provider.Subscribe() {
		classifier, err := classify.NewClassifier(rules, logger)
		if err != nil {
			logger.Error("reloaded rules rejected", "error", err)
			continue
		}
		sched.SwapRules(classify.NewFilter(rules.RelevanceKeywords), classifier)
	}
}
