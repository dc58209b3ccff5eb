package history

import (
	"context"
	"strings"
)

// NewStore returns a PostgreSQL store when databaseURL is set, otherwise an in-memory one.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
