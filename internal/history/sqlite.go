package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/monto-broker/broker/internal/history/migrations"
	"github.com/monto-broker/broker/internal/model"
)

// SQLiteStore persists history to a local SQLite file via the pure-Go
// modernc.org/sqlite driver (no cgo, unlike mattn/go-sqlite3 — see
// DESIGN.md for why that swap was made).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if necessary) a SQLite history database at dsn
// and applies pending goose migrations.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite history db: %w", err)
	}
	goose.SetBaseFS(migrations.SQLite)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, err
	}
	if err := goose.Up(db, "sqlite"); err != nil {
		return nil, fmt.Errorf("applying sqlite history migrations: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_history
			(ts, service_id, product_name, product_language, product_path, success, error_kind, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UTC().Format(time.RFC3339Nano), e.Service.String(),
		e.Product.Name.String(), e.Product.Language.String(), e.Product.Path,
		e.Success, e.ErrorKind, e.DurationMS)
	return err
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, service_id, product_name, product_language, product_path, success, error_kind, duration_ms
		FROM request_history ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts, serviceID, name, lang, path string
		if err := rows.Scan(&ts, &serviceID, &name, &lang, &path, &e.Success, &e.ErrorKind, &e.DurationMS); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		e.Timestamp = parsed
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

func (s *SQLiteStore) Close() error { return s.db.Close() }
