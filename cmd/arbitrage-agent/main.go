// Arbitrage Agent — a platform that runs one automated cross-venue
// arbitrage trading agent per user against a pair of binary prediction
// market venues: an AMM-priced venue A and an order-book venue B.
//
// Architecture:
//
//	main.go                      — entry point: loads platform + per-user config, starts the Supervisor, serves the operator API, waits for SIGINT/SIGTERM
//	internal/supervisor          — owns every managed user's agent lifecycle: create, start, stop, remove, status
//	internal/agent               — per-user scan → detect → size → execute loop
//	internal/quote               — fuses venue A AMM prices with venue B's live order book into one snapshot
//	internal/detector            — turns a quote snapshot into ranked, fee/gas-netted arbitrage opportunities
//	internal/sizing              — Kelly-fraction position sizing plus the risk gate (caps, daily loss guard)
//	internal/executor            — places both legs, polls for fills, classifies the outcome, runs the unwind protocol
//	internal/venue               — venue A (AMM) and venue B (CLOB) adapters plus venue B's live quote feed
//	internal/signer              — EIP-712/EOA/proxy wallet signing, shared by both venue adapters
//	internal/store               — append-only transition log plus per-position JSON snapshots, survives restarts
//	internal/api                 — local operator HTTP surface over the Supervisor
//
// How it makes money:
//
//	When venue A's YES price plus venue B's NO price settles below 1.00
//	(after fees and gas), buying both sides guarantees a payout of 1.00
//	regardless of market resolution. The agent detects that condition,
//	sizes a trade with a half-Kelly fraction bounded by venue liquidity
//	and configured caps, and submits both legs concurrently. A leg that
//	doesn't fill gets unwound: the filled leg is sold back while the
//	agent is paused. The pause lifts when the unwind order fills; if it
//	does not fill, the agent stays paused.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/polyarb/agent/internal/api"
	"github.com/polyarb/agent/internal/config"
	"github.com/polyarb/agent/internal/supervisor"
)

func main() {
	platformPath := "configs/platform.yaml"
	if p := os.Getenv("ARB_PLATFORM_CONFIG"); p != "" {
		platformPath = p
	}
	usersDir := "configs/users"
	if d := os.Getenv("ARB_USERS_DIR"); d != "" {
		usersDir = d
	}

	platformCfg, err := config.LoadPlatform(platformPath)
	if err != nil {
		slog.Error("failed to load platform config", "error", err, "path", platformPath)
		os.Exit(1)
	}
	if err := platformCfg.Validate(); err != nil {
		slog.Error("invalid platform config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(platformCfg.Logging.Level)}
	if platformCfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	if platformCfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	userConfigs, err := loadUserConfigs(usersDir)
	if err != nil {
		logger.Error("failed to load user configs", "error", err, "dir", usersDir)
		os.Exit(1)
	}
	if len(userConfigs) == 0 {
		logger.Error("no user configs found", "dir", usersDir)
		os.Exit(1)
	}

	sup := supervisor.New(platformCfg.MaxConcurrentAgents, platformCfg.Store.DataDir, platformCfg.DryRun, logger)

	for _, uc := range userConfigs {
		if err := sup.Create(uc); err != nil {
			logger.Error("failed to create agent", "user_id", uc.UserID, "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup.ResumeAll(ctx)

	for _, uc := range userConfigs {
		if err := sup.Start(ctx, uc.UserID); err != nil {
			logger.Error("failed to start agent", "user_id", uc.UserID, "error", err)
		}
	}
	logger.Info("arbitrage agent platform started", "users", len(userConfigs), "max_concurrent", platformCfg.MaxConcurrentAgents)

	apiServer := api.NewServer(platformCfg.API, sup, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("operator api failed", "error", err)
		}
	}()
	logger.Info("operator api listening", "addr", platformCfg.API.ListenAddr)

	<-ctx.Done()
	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop operator api", "error", err)
	}

	sup.ExportAudit()
	sup.StopAll()
	logger.Info("arbitrage agent platform stopped")
}

// loadUserConfigs reads every *.yaml file in dir as one user's config.
func loadUserConfigs(dir string) ([]config.UserConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read users dir: %w", err)
	}

	var configs []config.UserConfig
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		uc, err := config.LoadUser(path)
		if err != nil {
			return nil, fmt.Errorf("load user config %s: %w", path, err)
		}
		if err := uc.Validate(); err != nil {
			return nil, fmt.Errorf("invalid user config %s: %w", path, err)
		}
		configs = append(configs, *uc)
	}
	return configs, nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
