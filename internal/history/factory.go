package history

import (
	"context"
	"strings"
)

// NewStore creates a postgres-indexed store when configured, otherwise the
// local JSON-indexed one. Audio files live on disk either way.
func NewStore(ctx context.Context, databaseURL, cacheDir string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewFSStore(cacheDir)
	}
	return NewPostgresStore(ctx, databaseURL, cacheDir)
}
