package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/verisight/riskwatch/internal/adapters/assessor"
	"github.com/verisight/riskwatch/internal/adapters/duckdb"
	appconfig "github.com/verisight/riskwatch/internal/config"
	"github.com/verisight/riskwatch/internal/core/services"
	"github.com/verisight/riskwatch/pkg/console"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:]); err != nil {
			logger.Error("token command failed", "error", err)
			os.Exit(1)
		}
		return
	}

	logger.Info("starting riskwatch")
	if err := run(logger); err != nil {
		logger.Error("riskwatch startup failed", "error", err)
		os.Exit(1)
	}
}

// runToken manages the backend API token in the OS keyring:
// `riskwatch token set <value>` and `riskwatch token clear`.
func runToken(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: riskwatch token set <value> | riskwatch token clear")
	}
	switch args[0] {
	case "set":
		if len(args) < 2 || strings.TrimSpace(args[1]) == "" {
			return fmt.Errorf("usage: riskwatch token set <value>")
		}
		return appconfig.StoreAPIToken(args[1])
	case "clear":
		return appconfig.DeleteAPIToken()
	default:
		return fmt.Errorf("unknown token command %q", args[0])
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	cfgPath := os.Getenv("RISKWATCH_CONFIG")
	if cfgPath == "" {
		cfgPath = "riskwatch.yml"
	}
	cfg, err := appconfig.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Backend.APIToken = appconfig.ResolveAPIToken()

	// Fail fast if the embedded backend contract is broken.
	if _, err := assessor.Contract(ctx); err != nil {
		return err
	}

	store, err := duckdb.NewStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("init persistence: %w", err)
	}
	defer store.Close()

	client := assessor.NewClient(assessor.Config{
		BaseURL:           cfg.Backend.BaseURL,
		APIToken:          cfg.Backend.APIToken,
		RequestTimeout:    cfg.Backend.RequestTimeout,
		PollRatePerSecond: cfg.Backend.PollRatePerSecond,
	})

	eventBus := services.NewEventBus(logger)
	notifier := services.NewBusNotifier(eventBus)
	policy := services.NewRetryPolicy(cfg.Polling)
	registry := services.NewJobRegistry(ctx, logger, client, store,
		services.NewTimerScheduler(), notifier, policy, cfg.Polling.MaxConcurrentJobs)

	// Pick up a job left in flight by a previous run before the console
	// starts accepting new ones.
	if err := registry.ResumeFromPersistence(ctx); err != nil {
		logger.Warn("resume from persistence failed (non-fatal)", "error", err)
	}

	apiServer := console.NewServer(logger, registry, eventBus)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Console.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	httpServer := &http.Server{
		Addr:              cfg.Console.ListenAddr,
		Handler:           c.Handler(apiServer.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting console api server", "addr", cfg.Console.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("console server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down console server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
