// Package history stores a diagnostics-only log of resolved GET/PUT
// requests. It is never consulted by ProductCache or Resolver — losing it
// changes nothing about correctness, only observability.
package history

import (
	"context"
	"time"

	"github.com/monto-broker/broker/internal/model"
)

// Entry is one recorded request outcome.
type Entry struct {
	Timestamp  time.Time
	Service    model.Identifier
	Product    model.ProductIdentifier
	Success    bool
	ErrorKind  string // empty on success
	DurationMS int64
}

// Store persists and queries Entry records. Implementations: memory (the
// zero-config default), sqlite, postgres.
type Store interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}
