package history

import (
	"context"
	"fmt"
)

// Open builds the Store named by backend ("memory", "sqlite", "postgres"),
// using dsn where applicable.
func Open(ctx context.Context, backend, dsn string) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemory(1000), nil
	case "sqlite":
		if dsn == "" {
			dsn = "file:monto-broker-history.db?cache=shared"
		}
		return NewSQLite(dsn)
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("history backend postgres requires a dsn")
		}
		return NewPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown history backend %q", backend)
	}
}
