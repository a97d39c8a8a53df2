// Package persist stores published articles. Only fully resolved documents
// are accepted: Create fails with document.ErrUnresolved while any image
// still points at staged content.
//
// Bodies are stored as the serialized op list compressed with zstd.
package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/alexjoedt/docpub/document"
)

var (
	ErrNotFound     = errors.New("article not found")
	ErrInvalidTitle = errors.New("article title is empty")
)

// Creator creates an article and returns its identifier.
type Creator interface {
	Create(ctx context.Context, title string, body document.Document, coverURL string) (string, error)
}

// Store is a complete persistence backend.
type Store interface {
	Creator
	Get(ctx context.Context, id string) (document.Article, error)
	Close() error
}

// Driver names a persistence backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverMemory   Driver = "memory"
)

// Open connects to the backend named by driver. dsn is a file path or
// connection string; it is ignored for the memory driver.
func Open(ctx context.Context, driver Driver, dsn string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "persist", "driver", string(driver))

	switch driver {
	case "", DriverSQLite:
		if dsn == "" {
			dsn = "docpub.db"
		}
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite %s: %w", dsn, err)
		}
		// A single connection serializes writers.
		db.SetMaxOpenConns(1)
		s, err := NewSQLiteStore(ctx, db, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		s, err := NewPostgresStore(ctx, db, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported persistence driver: %s", driver)
	}
}

// prepare validates an article and encodes its body.
func prepare(title string, body document.Document) (string, []byte, error) {
	if strings.TrimSpace(title) == "" {
		return "", nil, ErrInvalidTitle
	}
	encoded, err := encodeBody(body)
	if err != nil {
		return "", nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", nil, fmt.Errorf("generating article id: %w", err)
	}
	return id.String(), encoded, nil
}
