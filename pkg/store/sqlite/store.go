// Package sqlite implements store.Backend on a SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/llm-immersive/immersive/pkg/store"
)

// Store is a SQLite-backed key-value store partitioned into areas.
type Store struct {
	db *sql.DB
	sq sq.StatementBuilderType
}

const createKVTable = `
CREATE TABLE IF NOT EXISTS kv_entries (
	area TEXT NOT NULL,
	key TEXT NOT NULL,
	value BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (area, key)
);
`

// New opens (or creates) the database at dbPath and migrates the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}

	if _, err := db.Exec(createKVTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store db: %w", err)
	}

	return &Store{
		db: db,
		sq: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}, nil
}

// Area returns the KV view for one storage area.
func (s *Store) Area(name string) store.KV {
	return &area{s: s, name: name}
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type area struct {
	s    *Store
	name string
}

func (a *area) Get(ctx context.Context, key string) ([]byte, error) {
	query, args, err := a.s.sq.Select("value").
		From("kv_entries").
		Where(sq.Eq{"area": a.name, "key": key}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get: %w", err)
	}

	var value []byte
	if err := a.s.db.QueryRowContext(ctx, query, args...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("store get %s/%s: %w", a.name, key, err)
	}
	return value, nil
}

func (a *area) Set(ctx context.Context, key string, value []byte) error {
	query, args, err := a.s.sq.Insert("kv_entries").
		Columns("area", "key", "value", "updated_at").
		Values(a.name, key, value, time.Now().UTC()).
		Suffix("ON CONFLICT(area, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build set: %w", err)
	}

	if _, err := a.s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store set %s/%s: %w", a.name, key, err)
	}
	return nil
}

func (a *area) Delete(ctx context.Context, key string) error {
	query, args, err := a.s.sq.Delete("kv_entries").
		Where(sq.Eq{"area": a.name, "key": key}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	if _, err := a.s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store delete %s/%s: %w", a.name, key, err)
	}
	return nil
}
