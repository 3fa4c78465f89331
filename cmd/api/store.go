package main

import (
	"context"
	"fmt"

	"github.com/go-flashcall-auth/internal/application/flashcall"
	"github.com/go-flashcall-auth/internal/config"
	"github.com/go-flashcall-auth/internal/domain"
	"github.com/go-flashcall-auth/internal/infrastructure/dynamo"
	"github.com/go-flashcall-auth/internal/infrastructure/memory"
	redisinfra "github.com/go-flashcall-auth/internal/infrastructure/redis"
	"github.com/go-flashcall-auth/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// newSessionStore selects the backend named by STORE_BACKEND. The returned
// func releases any connections the backend holds.
func newSessionStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (flashcall.SessionStore, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreMemory, "":
		st := memory.NewSessionStore(domain.SessionTTL)
		metrics.RegisterStoredSessions(reg, st.Len)
		return st, func() {}, nil

	case config.StoreRedis:
		client, err := redisinfra.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return redisinfra.NewSessionStore(client, domain.SessionTTL), func() { _ = client.Close() }, nil

	case config.StoreDynamo:
		client, err := dynamo.NewClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		dynamo.Bootstrap(ctx, client, cfg.SessionsTable, logger.Named("dynamo"))
		return dynamo.NewSessionStore(client, cfg.SessionsTable, domain.SessionTTL), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}
