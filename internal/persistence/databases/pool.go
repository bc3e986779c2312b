package databases

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"centurion/internal/storage"
)

// OpenPool opens the primary application pool, sized for the runtime's own
// hot-path traffic. Backend-specific pools (search/vector/graph) use the
// smaller newPgPool defaults in factory.go instead.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	return storage.OpenPool(ctx, dsn)
}
