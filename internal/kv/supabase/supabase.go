// Package supabase is the production Store: one PostgREST table plus two
// RPC functions for atomic compare-and-set and exact prefix scans.
package supabase

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/R3E-Network/commerce_layer/internal/kv"
	"github.com/R3E-Network/commerce_layer/supabase/client"
)

// DefaultTable is the table used when Config.Table is empty.
const DefaultTable = "kv_store"

// mgetChunk bounds the keys sent in one in.(...) filter.
const mgetChunk = 100

//go:embed schema.sql
var schemaSQL string

var tableNameRE = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

var _ kv.Store = (*Store)(nil)

// Config configures the Supabase store.
type Config struct {
	Table string
}

// Store implements kv.Store over PostgREST.
type Store struct {
	client *client.Client
	table  string
	casFn  string
	scanFn string
}

// New wraps c. The table's companion functions are <table>_compare_and_set
// and <table>_scan_prefix.
func New(c *client.Client, cfg Config) (*Store, error) {
	if c == nil {
		return nil, errors.New("supabase: client is required")
	}
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	if !tableNameRE.MatchString(table) {
		return nil, fmt.Errorf("supabase: invalid table name %q", table)
	}
	return &Store{
		client: c,
		table:  table,
		casFn:  table + "_compare_and_set",
		scanFn: table + "_scan_prefix",
	}, nil
}

// Schema returns the SQL that creates the table and functions for table.
func Schema(table string) string {
	if table == "" || table == DefaultTable {
		return schemaSQL
	}
	return strings.ReplaceAll(schemaSQL, DefaultTable, table)
}

type row struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// check turns a transport error or non-2xx response into ErrUnavailable.
func check(op string, resp *client.Response, err error) error {
	if err != nil {
		return kv.Unavailable(op, err)
	}
	if apiErr := resp.Error(); apiErr != nil {
		return kv.Unavailable(op, apiErr)
	}
	return nil
}

func decodeRows(op string, resp *client.Response) ([]row, error) {
	var rows []row
	if err := resp.JSON(&rows); err != nil {
		return nil, kv.Unavailable(op, fmt.Errorf("unexpected response: %w", err))
	}
	return rows, nil
}

func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if err := kv.ValidateKey(key); err != nil {
		return nil, false, err
	}
	resp, err := s.client.From(s.table).Select("key,value").Eq("key", key).Limit(1).Execute(ctx)
	if err := check("supabase get", resp, err); err != nil {
		return nil, false, err
	}
	rows, err := decodeRows("supabase get", resp)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0].Value, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}
	if err := kv.ValidateValue(value); err != nil {
		return err
	}
	resp, err := s.client.From(s.table).Upsert("key").Minimal().
		ExecuteInsert(ctx, []row{{Key: key, Value: value}})
	return check("supabase set", resp, err)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}
	resp, err := s.client.From(s.table).Eq("key", key).Minimal().ExecuteDelete(ctx)
	return check("supabase delete", resp, err)
}

func (s *Store) GetByPrefix(ctx context.Context, prefix string) ([]kv.Entry, error) {
	if err := kv.ValidatePrefix(prefix); err != nil {
		return nil, err
	}
	resp, err := s.client.RPC(ctx, s.scanFn, map[string]any{"p_prefix": prefix})
	if err := check("supabase scan", resp, err); err != nil {
		return nil, err
	}
	rows, err := decodeRows("supabase scan", resp)
	if err != nil {
		return nil, err
	}

	entries := make([]kv.Entry, 0, len(rows))
	for _, r := range rows {
		if !strings.HasPrefix(r.Key, prefix) {
			continue
		}
		entries = append(entries, kv.Entry{Key: r.Key, Value: r.Value})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (s *Store) MGet(ctx context.Context, keys []string) ([]json.RawMessage, error) {
	if err := kv.ValidateKeys(keys); err != nil {
		return nil, err
	}
	found := make(map[string]json.RawMessage, len(keys))
	for start := 0; start < len(keys); start += mgetChunk {
		end := start + mgetChunk
		if end > len(keys) {
			end = len(keys)
		}
		resp, err := s.client.From(s.table).Select("key,value").In("key", keys[start:end]).Execute(ctx)
		if err := check("supabase mget", resp, err); err != nil {
			return nil, err
		}
		rows, err := decodeRows("supabase mget", resp)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			found[r.Key] = r.Value
		}
	}

	out := make([]json.RawMessage, len(keys))
	for i, key := range keys {
		out[i] = found[key]
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
	params := map[string]any{
		"p_key":      key,
		"p_insert":   expected == nil,
		"p_expected": nil,
		"p_value":    value,
	}
	if expected != nil {
		if err := kv.ValidateValue(expected); err != nil {
			return false, err
		}
		params["p_expected"] = expected
	}

	resp, err := s.client.RPC(ctx, s.casFn, params)
	if err := check("supabase compare-and-set", resp, err); err != nil {
		return false, err
	}
	var swapped bool
	if err := resp.JSON(&swapped); err != nil {
		return false, kv.Unavailable("supabase compare-and-set", fmt.Errorf("unexpected response: %w", err))
	}
	return swapped, nil
}

func (s *Store) Health(ctx context.Context) error {
	resp, err := s.client.From(s.table).Select("key").Limit(1).Execute(ctx)
	if err := check("supabase health", resp, err); err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return kv.Unavailable("supabase health", fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}

// Close is a no-op; the HTTP client holds no per-store resources.
func (s *Store) Close() error {
	return nil
}
