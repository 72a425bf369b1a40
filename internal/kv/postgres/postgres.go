// Package postgres is a Store on a PostgreSQL table with a jsonb value
// column, for deployments that talk to the database directly instead of
// through PostgREST.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/commerce_layer/internal/kv"
)

// DefaultTable is the table used when Config.Table is empty.
const DefaultTable = "kv_store"

var tableNameRE = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

var _ kv.Store = (*Store)(nil)

// Config configures the Postgres store.
type Config struct {
	DSN   string
	Table string
	// EnsureSchema creates the table when it does not exist.
	EnsureSchema bool
}

// Store implements kv.Store on one table.
type Store struct {
	db    *sqlx.DB
	table string
	owned bool
}

type row struct {
	Key   string `db:"key"`
	Value []byte `db:"value"`
}

// Open connects with cfg.DSN.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres: dsn is required")
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, kv.Unavailable("postgres connect", err)
	}
	s, err := New(db, cfg.Table)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	if cfg.EnsureSchema {
		if err := s.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// New wraps an existing handle. The caller keeps ownership of db.
func New(db *sqlx.DB, table string) (*Store, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableNameRE.MatchString(table) {
		return nil, fmt.Errorf("postgres: invalid table name %q", table)
	}
	return &Store{db: db, table: table}, nil
}

// EnsureSchema creates the backing table if needed.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key        TEXT PRIMARY KEY,
			value      JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table))
	if err != nil {
		return kv.Unavailable("postgres ensure schema", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if err := kv.ValidateKey(key); err != nil {
		return nil, false, err
	}
	var value []byte
	err := s.db.GetContext(ctx, &value, fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.table), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, kv.Unavailable("postgres get", err)
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}
	if err := kv.ValidateValue(value); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (key, value, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, s.table), key, string(value))
	if err != nil {
		return kv.Unavailable("postgres set", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table), key); err != nil {
		return kv.Unavailable("postgres delete", err)
	}
	return nil
}

// likeEscaper escapes LIKE wildcards so the prefix matches literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *Store) GetByPrefix(ctx context.Context, prefix string) ([]kv.Entry, error) {
	if err := kv.ValidatePrefix(prefix); err != nil {
		return nil, err
	}
	var rows []row
	err := s.db.SelectContext(ctx, &rows, fmt.Sprintf(`
		SELECT key, value FROM %s
		WHERE key LIKE $1 ESCAPE '\'
		ORDER BY key COLLATE "C"
	`, s.table), likeEscaper.Replace(prefix)+"%")
	if err != nil {
		return nil, kv.Unavailable("postgres scan", err)
	}
	entries := make([]kv.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, kv.Entry{Key: r.Key, Value: r.Value})
	}
	return entries, nil
}

func (s *Store) MGet(ctx context.Context, keys []string) ([]json.RawMessage, error) {
	if err := kv.ValidateKeys(keys); err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	var rows []row
	err := s.db.SelectContext(ctx, &rows, fmt.Sprintf(`SELECT key, value FROM %s WHERE key = ANY($1)`, s.table), pq.Array(keys))
	if err != nil {
		return nil, kv.Unavailable("postgres mget", err)
	}
	found := make(map[string][]byte, len(rows))
	for _, r := range rows {
		found[r.Key] = r.Value
	}
	for i, key := range keys {
		if v, ok := found[key]; ok {
			out[i] = v
		}
	}
	return out, nil
}

func (s *Store) CompareAndSet(ctx context.Context, key string, expected, value json.RawMessage) (bool, error) {
	if err := kv.ValidateKey(key); err != nil {
		return false, err
	}
	if err := kv.ValidateValue(value); err != nil {
		return false, err
	}

	var (
		res sql.Result
		err error
	)
	if expected == nil {
		res, err = s.db.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (key, value, updated_at)
			VALUES ($1, $2::jsonb, now())
			ON CONFLICT (key) DO NOTHING
		`, s.table), key, string(value))
	} else {
		if err := kv.ValidateValue(expected); err != nil {
			return false, err
		}
		res, err = s.db.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET value = $3::jsonb, updated_at = now()
			WHERE key = $1 AND value = $2::jsonb
		`, s.table), key, string(expected), string(value))
	}
	if err != nil {
		return false, kv.Unavailable("postgres compare-and-set", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, kv.Unavailable("postgres compare-and-set", err)
	}
	return n == 1, nil
}

func (s *Store) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return kv.Unavailable("postgres ping", err)
	}
	return nil
}

// Close closes the handle if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
