package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alexjoedt/docpub/document"
)

// SQLiteStore keeps articles in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLiteStore creates the schema if needed.
func NewSQLiteStore(ctx context.Context, db *sql.DB, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SQLiteStore{db: db, log: logger}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrating sqlite schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS articles (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		cover_url TEXT NOT NULL DEFAULT '',
		body BLOB NOT NULL,
		body_encoding TEXT NOT NULL,
		created_at TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *SQLiteStore) Create(ctx context.Context, title string, body document.Document, coverURL string) (string, error) {
	id, encoded, err := prepare(title, body)
	if err != nil {
		return "", err
	}
	query := `INSERT INTO articles (id, title, cover_url, body, body_encoding, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		id, title, coverURL, encoded, bodyEncoding, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("failed to insert article: %w", err)
	}
	s.log.Info("article created", "id", id, "bytes", len(encoded))
	return id, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (document.Article, error) {
	query := `SELECT title, cover_url, body, body_encoding FROM articles WHERE id = ?`
	var (
		a        document.Article
		body     []byte
		encoding string
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&a.Title, &a.CoverURL, &body, &encoding)
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

func (s *SQLiteStore) Close() error { return s.db.Close() }
