package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-flashcall-auth/internal/application/flashcall"
	"github.com/go-flashcall-auth/internal/config"
	"github.com/go-flashcall-auth/internal/infrastructure/africastalking"
	jwtinfra "github.com/go-flashcall-auth/internal/infrastructure/jwt"
	"github.com/go-flashcall-auth/internal/infrastructure/sns"
	"github.com/go-flashcall-auth/internal/pkg/logging"
	"github.com/go-flashcall-auth/internal/pkg/metrics"
	transporthttp "github.com/go-flashcall-auth/internal/transport/http"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()

	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := newSessionStore(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.ATAPIKey == "" {
		logger.Warn("AT_API_KEY is empty; call placement will be rejected by the provider")
	}
	caller := africastalking.NewVoiceClient(
		africastalking.VoiceURL(cfg.ATEnvironment, cfg.ATVoiceURL),
		cfg.ATUsername, cfg.ATAPIKey, nil, logger.Named("voice"),
	)

	deps := flashcall.ServiceDeps{
		Store:       store,
		Caller:      caller,
		Logger:      logger.Named("flashcall"),
		Metrics:     metrics.New(prometheus.DefaultRegisterer),
		CodeLength:  cfg.CodeLength,
		MaxAttempts: cfg.MaxVerifyAttempts,
		CallTimeout: cfg.CallTimeout,
	}

	// Events are optional: without a topic nothing is published.
	if cfg.SNSTopicARN != "" {
		client, err := sns.NewClient(ctx, cfg)
		if err != nil {
			logger.Warn("SNS publisher not available", zap.Error(err))
		} else {
			deps.Publisher = sns.NewPublisher(client, cfg.SNSTopicARN)
		}
	}

	// Proof tokens are optional: missing keys only disable them.
	var proofs *jwtinfra.Provider
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		proofs = p
		deps.Signer = p
	} else {
		logger.Warn("JWT provider not available, proof tokens disabled", zap.Error(err))
	}

	svc := flashcall.NewService(deps)

	routerDeps := &transporthttp.Deps{FlashCall: svc, Gatherer: prometheus.DefaultGatherer}
	if proofs != nil {
		routerDeps.ProofVerifier = proofs
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      transporthttp.NewRouter(ctx, cfg, routerDeps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting",
			zap.String("port", cfg.AppPort),
			zap.String("env", cfg.AppEnv),
			zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		svc.RunCleanup(gctx, cfg.CleanupInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("forced shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
