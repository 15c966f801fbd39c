package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Yuzoo0703/Trae-chat-room/internal/auth"
	"github.com/Yuzoo0703/Trae-chat-room/internal/config"
	"github.com/Yuzoo0703/Trae-chat-room/internal/directory"
	"github.com/Yuzoo0703/Trae-chat-room/internal/logging"
	"github.com/Yuzoo0703/Trae-chat-room/internal/relay"
	"github.com/Yuzoo0703/Trae-chat-room/internal/server"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML/JSON config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // best-effort flush

	store, err := directory.NewFileStore(cfg.Data.UsersPath)
	if err != nil {
		logger.Fatal("open user directory", zap.Error(err))
	}
	logger.Info("user directory ready", zap.String("path", store.Path()))

	tokens, err := auth.NewTokenService(jwtSecret(cfg, logger))
	if err != nil {
		logger.Fatal("init token service", zap.Error(err))
	}

	adminPassword, err := cfg.AdminPassword()
	if err != nil {
		logger.Warn("admin API disabled", zap.Error(err))
		adminPassword = ""
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := relay.NewService(logger, store, relay.Options{
		DefaultTTLSeconds: cfg.Relay.DefaultTTLSeconds,
	})
	srv := server.New(cfg, logger, store, svc, tokens, adminPassword)

	if err := srv.Start(ctx); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

// jwtSecret reads the configured secret, falling back to an ephemeral one.
// With an ephemeral secret every restart invalidates outstanding sessions,
// which is acceptable for development but logged loudly.
func jwtSecret(cfg config.Config, logger *zap.Logger) string {
	if secret, err := cfg.JWTSecret(); err == nil {
		return secret
	}

	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		logger.Fatal("generate ephemeral jwt secret", zap.Error(err))
	}
	logger.Warn("jwt secret env unset; using ephemeral secret",
		zap.String("env", cfg.Auth.JWTSecretEnv))
	return hex.EncodeToString(raw[:])
}
