package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/pulsegate/internal/api"
	"github.com/mattjoyce/pulsegate/internal/auth"
	"github.com/mattjoyce/pulsegate/internal/command"
	"github.com/mattjoyce/pulsegate/internal/config"
	"github.com/mattjoyce/pulsegate/internal/dispatch"
	"github.com/mattjoyce/pulsegate/internal/events"
	"github.com/mattjoyce/pulsegate/internal/lock"
	"github.com/mattjoyce/pulsegate/internal/log"
	"github.com/mattjoyce/pulsegate/internal/queue"
	"github.com/mattjoyce/pulsegate/internal/safety"
	"github.com/mattjoyce/pulsegate/internal/storage"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "system":
		os.Exit(runSystemNoun(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "start":
		os.Exit(runStart(args))
	case "version":
		fmt.Printf("pulsegate version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`pulsegate - Safety-gated command gateway for remote actuators

Usage:
  pulsegate <noun> <action> [flags]

System Commands:
  system start      Start the gateway service in foreground

Config Commands:
  config check      Validate syntax and integrity of the configuration
  config pin        Authorize current config content (update pinned hash)

General:
  version           Show version information
  help              Show this help message
`)
}

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: pulsegate system start [--config path]")
		return 1
	}
	switch args[0] {
	case "start":
		return runStart(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", args[0])
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: pulsegate config <check|pin> [--config path]")
		return 1
	}
	action := args[0]
	fs := flag.NewFlagSet("config "+action, flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	_ = fs.Parse(args[1:])

	switch action {
	case "check":
		if _, err := config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Config invalid: %v\n", err)
			return 1
		}
		if _, err := config.VerifyPin(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Config integrity: %v\n", err)
			return 1
		}
		fmt.Println("Config OK")
		return 0
	case "pin":
		if _, err := config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Refusing to pin invalid config: %v\n", err)
			return 1
		}
		hash, err := config.WritePin(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to pin config: %v\n", err)
			return 1
		}
		fmt.Printf("Pinned %s (%s)\n", *configPath, hash)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")

	if hash, err := config.VerifyPin(*configPath); err != nil {
		logger.Error("config integrity check failed", "error", err)
		return 1
	} else if hash == "" {
		logger.Warn("config is not pinned; run 'pulsegate config pin' to authorize it")
	}

	if cfg.Service.PIDFile != "" {
		pidLock, err := lock.Acquire(cfg.Service.PIDFile)
		if err != nil {
			logger.Error("failed to acquire pid lock", "error", err)
			return 1
		}
		defer func() { _ = pidLock.Release() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.OpenSQLite(ctx, cfg.Storage.Path)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		return 1
	}
	defer func() { _ = db.Close() }()
	history := storage.NewHistory(db)

	hub := events.NewHub(256)

	gate := safety.NewLimitPolicy(safetyLimits(cfg))

	client := dispatch.New(dispatch.Config{
		BaseURL:         cfg.Dispatch.BaseURL,
		APIKey:          cfg.Dispatch.APIKey,
		Timeout:         cfg.Dispatch.Timeout,
		MaxConcurrent:   cfg.Dispatch.MaxConcurrent,
		RateLimitMax:    cfg.Dispatch.RateLimitMax,
		RateLimitWindow: cfg.Dispatch.RateLimitWindow,
		MaxRetries:      cfg.Dispatch.MaxRetries,
		RetryBase:       cfg.Dispatch.RetryBase,
		DeviceCooldown:  cfg.Dispatch.DeviceCooldown,
		MinDuration:     cfg.Dispatch.MinDuration,
		MaxDuration:     cfg.Dispatch.MaxDuration,
	})
	defer client.Destroy()

	q := queue.New(queue.Config{
		Capacity:       cfg.Queue.Capacity,
		Retention:      cfg.Queue.Retention,
		InterItemDelay: cfg.Queue.InterItemDelay,
		RetryDelay:     cfg.Queue.RetryDelay,
		MaxRetries:     cfg.Queue.MaxRetries,
	}, gate, client, history, hub)

	errCh := make(chan error, 2)
	go func() {
		if err := q.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("queue loop: %w", err)
		}
	}()

	if cfg.API.Enabled {
		srv := api.New(api.Config{
			Listen: cfg.API.Listen,
			Tokens: apiTokens(cfg),
		}, q, client, history, hub, log.WithComponent("api"))
		go func() {
			if err := srv.Start(ctx); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("api server: %w", err)
			}
		}()
	}

	logger.Info("pulsegate started", "name", cfg.Service.Name, "version", version)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return 0
	case err := <-errCh:
		logger.Error("fatal error", "error", err)
		return 1
	}
}

// safetyLimits converts the config safety section into policy limits.
func safetyLimits(cfg *config.Config) map[command.Kind]safety.KindLimit {
	out := make(map[command.Kind]safety.KindLimit, len(cfg.Safety))
	for kindName, limit := range cfg.Safety {
		kind, err := command.ParseKind(kindName)
		if err != nil {
			continue // validated at load time
		}
		out[kind] = safety.KindLimit{
			Enabled:      limit.Enabled,
			MaxIntensity: limit.MaxIntensity,
			MaxDuration:  limit.MaxDuration,
		}
	}
	return out
}

func apiTokens(cfg *config.Config) []auth.TokenConfig {
	out := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		out = append(out, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	return out
}
