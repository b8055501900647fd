package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/monto-broker/broker/internal/history/migrations"
	"github.com/monto-broker/broker/internal/model"
)

// PostgresStore persists history to a shared Postgres database via pgx,
// for multi-replica broker deployments that want a durable, queryable
// diagnostics log outside any one process.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a connection pool against dsn and applies pending
// goose migrations using the pgx stdlib adapter (goose requires
// database/sql).
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres history db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres history db: %w", err)
	}

	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()
	goose.SetBaseFS(migrations.Postgres)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, err
	}
	if err := goose.Up(sqlDB, "postgres"); err != nil {
		return nil, fmt.Errorf("applying postgres history migrations: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Record(ctx context.Context, e Entry) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO request_history
			(ts, service_id, product_name, product_language, product_path, success, error_kind, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.Timestamp, e.Service.String(), e.Product.Name.String(), e.Product.Language.String(),
		e.Product.Path, e.Success, e.ErrorKind, e.DurationMS)
	return err
}

func (p *PostgresStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
		SELECT ts, service_id, product_name, product_language, product_path, success, error_kind, duration_ms
		FROM request_history ORDER BY ts DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts time.Time
		var serviceID, name, lang, path string
		if err := rows.Scan(&ts, &serviceID, &name, &lang, &path, &e.Success, &e.ErrorKind, &e.DurationMS); err != nil {
			return nil, err
		}
		e.Timestamp = ts
		svcID, err := model.ParseIdentifier(serviceID)
		if err != nil {
			return nil, err
		}
		e.Service = svcID
		e.Product = model.ProductIdentifier{Name: model.OtherProductName(name), Language: model.OtherLanguage(lang), Path: path}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
