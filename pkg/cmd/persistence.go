package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowgraph/pkg/persistence"
	"github.com/dukex/flowgraph/pkg/persistence/file"
	"github.com/dukex/flowgraph/pkg/persistence/memory"
	"github.com/dukex/flowgraph/pkg/persistence/postgresql"
	"github.com/dukex/flowgraph/pkg/persistence/redisstore"
	"github.com/redis/go-redis/v9"
)

var supportedPersistenceProviders = []string{"file", "memory", "postgres", "postgresql", "redis", "rediss"}

// NewPersistence returns the workflow store selected by the scheme of databaseURL. Redis URLs
// reuse client when it is not nil; a URL without a known scheme is a file store root.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string, client redis.UniversalClient) persistence.WorkflowStore {
	provider := parsePersistenceProvider(databaseURL)

	switch provider {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create PostgreSQL persistence: %w", err))
		}

		return store
	case "redis", "rediss":
		if client != nil {
			return redisstore.NewWorkflows(client)
		}

		store, err := redisstore.Open(databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create Redis persistence: %w", err))
		}

		return store
	case "memory":
		return memory.New()
	default:
		return file.NewPersistence(databaseURL)
	}
}

// NewRedisClient connects to the Redis server at url.
func NewRedisClient(url string) redis.UniversalClient {
	opts, err := redis.ParseURL(url)
	if err != nil {
		panic(fmt.Errorf("invalid redis url: %w", err))
	}

	return redis.NewClient(opts)
}

func parsePersistenceProvider(databaseURL string) string {
	parts := strings.Split(databaseURL, "://")

	provider := parts[0]
	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}
