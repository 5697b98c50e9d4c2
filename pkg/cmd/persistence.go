package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Jcateye/omini-channel/pkg/persistence"
	"github.com/Jcateye/omini-channel/pkg/persistence/file"
	"github.com/Jcateye/omini-channel/pkg/persistence/postgresql"
)

// NewPersistence picks the store implementation from the URL scheme:
// postgres://... for PostgreSQL, anything else is treated as a file path.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to initialize postgres persistence: %w", err))
		}

		return p
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
	}
}

func parseProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return scheme
}
