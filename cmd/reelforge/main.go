package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heimdex/reelforge/internal/api"
	"github.com/heimdex/reelforge/internal/artifacts"
	"github.com/heimdex/reelforge/internal/concat"
	"github.com/heimdex/reelforge/internal/config"
	"github.com/heimdex/reelforge/internal/db"
	"github.com/heimdex/reelforge/internal/logging"
	"github.com/heimdex/reelforge/internal/profiles"
	"github.com/heimdex/reelforge/internal/provider"
	"github.com/heimdex/reelforge/internal/studio"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	config.LoadDotEnv()
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting reelforge",
		"version", config.Version,
		"commit", config.GitCommit,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
		"db_driver", cfg.DBDriver(),
	)

	database, err := db.Open(db.Options{
		Driver: db.Dialect(cfg.DBDriver()),
		Path:   cfg.DBPath(),
		URL:    cfg.DatabaseURL(),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := studio.NewRepository(database.Conn(), database.Dialect())

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	registry, err := profiles.Load(cfg.ModelsFile())
	if err != nil {
		return fmt.Errorf("failed to load model profiles: %w", err)
	}
	logger.Info("model profiles loaded", "count", len(registry.List()), "default", registry.Default().ID)

	var client provider.Client
	if cfg.ProviderToken() != "" {
		client = provider.NewHTTPClient(cfg.ProviderBaseURL(), cfg.ProviderToken(), config.DefaultProviderTimeout, logger)
		logger.Info("generation provider enabled", "base_url", cfg.ProviderBaseURL())
	} else {
		client = provider.NewStubClient(logger)
		logger.Warn("no provider token configured, using stub generator")
	}

	var verifier studio.SignatureVerifier
	if cfg.WebhookSecret() != "" {
		verifier = provider.NewVerifier(cfg.WebhookSecret(), cfg.WebhookTolerance())
	} else {
		logger.Warn("no webhook secret configured, all provider webhooks will be rejected")
	}

	concatProvider, doctor, err := newConcatProvider(cfg, logger)
	if err != nil {
		return err
	}

	svc := studio.NewService(repo, studio.Options{
		Registry:        registry,
		Generator:       client,
		Verifier:        verifier,
		Concat:          concatProvider,
		WebhookBaseURL:  cfg.PublicBaseURL(),
		DispatchTimeout: cfg.DispatchTimeout(),
		CompileTimeout:  cfg.CompileTimeout(),
		Logger:          logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := studio.NewRunner(svc, repo, client, cfg.RunnerInterval(), cfg.StaleJobAfter(), logger)
	go runner.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		Service:        svc,
		Repository:     repo,
		Registry:       registry,
		Runner:         runner,
		Doctor:         doctor,
		Artifacts:      artifacts.NewStore(cfg.ArtifactsDir(), logger),
		AllowedOrigins: cfg.AllowedOrigins(),
		ConcatMode:     cfg.ConcatMode(),
		Logger:         logger,
		StartTime:      startTime,
		Version:        config.Version,
	})

	fmt.Println()
	fmt.Println("reelforge " + config.Version)
	fmt.Printf("  API URL:     %s\n", cfg.PublicBaseURL())
	fmt.Printf("  Webhook URL: %s/webhooks/generation\n", cfg.PublicBaseURL())
	fmt.Printf("  Auth Token:  %s\n", authToken)
	fmt.Println()

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// newConcatProvider selects the concatenation backend. The doctor is only
// returned for the local ffmpeg backend.
func newConcatProvider(cfg config.Config, logger *slog.Logger) (concat.Provider, *concat.CachedDoctor, error) {
	if cfg.ConcatMode() == "http" {
		logger.Info("remote concatenation enabled", "base_url", cfg.ConcatBaseURL())
		return concat.NewHTTPProvider(cfg.ConcatBaseURL(), cfg.ConcatToken(), config.DefaultConcatHTTPTimeout, logger), nil, nil
	}

	ff, err := concat.NewFFmpegProvider(concat.FFmpegConfig{
		FFmpegPath:    cfg.FFmpegPath(),
		OutputDir:     cfg.ArtifactsDir(),
		PublicBaseURL: cfg.PublicBaseURL(),
		Timeout:       cfg.CompileTimeout(),
		Logger:        logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize ffmpeg concatenation: %w", err)
	}

	doctor := concat.NewCachedDoctor(ff, logger)
	probeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if caps, err := doctor.Refresh(probeCtx); err != nil {
		logger.Warn("initial ffmpeg probe failed", "error", err)
	} else {
		logger.Info("ffmpeg detected", "version", caps.Version, "path", logging.SanitizePath(caps.Path))
	}
	return ff, doctor, nil
}

func ensureAuthToken(repo studio.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, api.AuthTokenKey)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, api.AuthTokenKey, token); err != nil {
		return "", err
	}

	return token, nil
}
