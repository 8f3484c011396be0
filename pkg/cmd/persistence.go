// Package cmd wires shared infrastructure for the botherd binaries.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dmateus/botherd/pkg/persistence"
	"github.com/dmateus/botherd/pkg/persistence/file"
	"github.com/dmateus/botherd/pkg/persistence/postgresql"
)

// NewPersistence builds the store implied by the database URL scheme:
// postgres:// or postgresql:// for PostgreSQL, anything else for the
// file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(databaseURL)
	}
}

func parseProvider(databaseURL string) string {
	parts := strings.SplitN(databaseURL, "://", 2)
	if len(parts) < 2 {
		return "file"
	}

	return parts[0]
}
