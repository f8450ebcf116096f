package kvstore

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/concussionrehab/internal/domain/providers"
	"github.com/zatekoja/concussionrehab/internal/infrastructure/clients/postgres"
	redisclient "github.com/zatekoja/concussionrehab/internal/infrastructure/clients/redis"
	"github.com/zatekoja/concussionrehab/pkg/config"
)

// Open connects the store backend selected by cfg.Store.Backend. The
// returned close function releases the backend connection.
func Open(ctx context.Context, cfg *config.Config) (providers.KeyValueStore, func() error, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendRedis:
		client, err := redisclient.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Info().Str("addr", cfg.Redis.RedisAddr()).Str("prefix", client.KeyPrefix()).Msg("Using Redis learning store")
		return NewRedisStore(client), client.Close, nil

	case config.StoreBackendPostgres:
		client, err := postgres.NewClient(ctx, &cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		store := NewPostgresStore(client, cfg.Database.Table)
		if err := store.EnsureSchema(ctx); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to prepare learning store table: %w", err)
		}
		log.Info().Str("table", cfg.Database.Table).Msg("Using PostgreSQL learning store")
		return store, client.Close, nil

	case config.StoreBackendMemory, "":
		log.Warn().Msg("Using in-memory learning store; data is lost on restart")
		return NewMemoryStore(), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
}
