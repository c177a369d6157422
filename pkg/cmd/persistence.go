package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/portal-processes/pkg/persistence"
	"github.com/dukex/portal-processes/pkg/persistence/file"
	"github.com/dukex/portal-processes/pkg/persistence/memory"
	"github.com/dukex/portal-processes/pkg/persistence/postgresql"
	"github.com/jonboulle/clockwork"
)

var supportedPersistenceProviders = []string{"file", "memory", "postgres", "postgresql"}

// NewPersistence selects the storage backend by the scheme of databaseURL.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string, clock clockwork.Clock) (persistence.Persistence, error) {
	provider, err := parsePersistenceProvider(databaseURL)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "initializing persistence", "provider", provider)

	switch provider {
	case "postgres", "postgresql":
		postgres, err := postgresql.NewPersistence(ctx, logger, databaseURL, postgresql.WithClock(clock))
		if err != nil {
			return nil, err
		}

		return postgres, nil
	case "memory":
		return memory.NewStore(memory.WithClock(clock)), nil
	default:
		filePersistence, err := file.NewPersistence(databaseURL, memory.WithClock(clock))
		if err != nil {
			return nil, err
		}

		return filePersistence, nil
	}
}

func parsePersistenceProvider(databaseURL string) (string, error) {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "", fmt.Errorf("database url %q has no scheme, expected one of %v", databaseURL, supportedPersistenceProviders)
	}

	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider, nil
		}
	}

	return "", fmt.Errorf("unsupported persistence provider %q, expected one of %v", provider, supportedPersistenceProviders)
}
