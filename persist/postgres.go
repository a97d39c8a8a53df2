package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/alexjoedt/docpub/document"
)

// PostgresStore keeps articles in PostgreSQL.
type PostgresStore struct {
	db  *sql.DB
	log *slog.Logger
}

// NewPostgresStore creates the schema if needed.
func NewPostgresStore(ctx context.Context, db *sql.DB, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PostgresStore{db: db, log: logger}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrating postgres schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS articles (
		id UUID PRIMARY KEY,
		title TEXT NOT NULL,
		cover_url TEXT NOT NULL DEFAULT '',
		body BYTEA NOT NULL,
		body_encoding TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, title string, body document.Document, coverURL string) (string, error) {
	id, encoded, err := prepare(title, body)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO articles (id, title, cover_url, body, body_encoding, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
		id, title, coverURL, encoded, bodyEncoding, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to insert article: %w", err)
	}
	s.log.Info("article created", "id", id, "bytes", len(encoded))
	return id, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (document.Article, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT title, cover_url, body, body_encoding FROM articles WHERE id = $1", id)

	var (
		a        document.Article
		body     []byte
		encoding string
	)
	err := row.Scan(&a.Title, &a.CoverURL, &body, &encoding)
	if errors.Is(err, sql.ErrNoRows) {
		return document.Article{}, fmt.Errorf("article %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return document.Article{}, fmt.Errorf("failed to get article: %w", err)
	}
	if a.Body, err = decodeBody(encoding, body); err != nil {
		return document.Article{}, fmt.Errorf("article %s: %w", id, err)
	}
	return a, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }
