package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nexus/internal/announce"
	"nexus/internal/config"
	"nexus/internal/db"
	"nexus/internal/game"
)

func main() {
	runOnce := flag.Bool("once", false, "run one election sweep and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		logger.Error("load policy failed", "file", cfg.PolicyFile, "err", err)
		os.Exit(1)
	}

	store, release, err := db.OpenBackend(ctx, cfg.Store)
	if err != nil {
		logger.Error("store open failed", "kind", cfg.Store.Kind, "err", err)
		os.Exit(1)
	}
	defer release()

	opts := []game.Option{game.WithPolicy(policy)}
	if cfg.Announce.Enabled() {
		discord, err := announce.NewDiscord(cfg.Announce.DiscordToken, cfg.Announce.DiscordChannelID, logger)
		if err != nil {
			logger.Error("discord announcer init failed", "err", err)
			os.Exit(1)
		}
		defer discord.Close()
		opts = append(opts, game.WithAnnouncer(discord, cfg.Announce.MinCoins))
	}
	svc := game.NewService(store, logger, opts...)

	if *runOnce {
		held, err := svc.RunElection(ctx)
		if err != nil {
			logger.Error("election sweep failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed", "election_held", held)
		return
	}

	ticker := time.NewTicker(cfg.ElectionSweepEvery)
	defer ticker.Stop()

	logger.Info("worker started", "sweep_every", cfg.ElectionSweepEvery.String(), "store", cfg.Store.Kind)
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			if err := store.Ping(ctx); err != nil {
				logger.Error("store ping failed", "err", err)
				continue
			}
			held, err := svc.RunElection(ctx)
			if err != nil {
				logger.Error("election sweep failed", "err", err)
				continue
			}
			logger.Debug("election sweep complete", "election_held", held)
		}
	}
}
