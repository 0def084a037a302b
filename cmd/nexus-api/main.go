package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nexus/internal/announce"
	"nexus/internal/api"
	"nexus/internal/auth"
	"nexus/internal/config"
	"nexus/internal/db"
	"nexus/internal/game"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadAPIFromEnv()
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
	gameSvc := game.NewService(store, logger, opts...)

	authClient := auth.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseAnonKey)
	var resolver auth.Resolver = authClient
	if cfg.SupabaseJWTSecret != "" {
		resolver = auth.NewJWTVerifier(cfg.SupabaseJWTSecret, authClient)
	}

	server := api.New(cfg, logger, authClient, resolver, gameSvc)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("nexus api listening", "addr", cfg.Addr, "store", cfg.Store.Kind, "announce", cfg.Announce.Enabled())
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
