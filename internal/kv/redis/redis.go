// Package redis is a Store on Redis. Each record is a hash under a key prefix
// holding the value as written and its canonical form for compare-and-set.
// A sorted-set index keeps record keys in byte order for prefix scans.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/commerce_layer/internal/kv"
)

// DefaultPrefix namespaces all Redis keys written by the store.
const DefaultPrefix = "commerce:kv:"

var _ kv.Store = (*Store)(nil)

// Config configures the Redis store.
type Config struct {
	// URL is a redis:// URL. It wins over Addr when both are set.
	URL  string
	Addr string
	// Prefix defaults to DefaultPrefix.
	Prefix string
}

// Store implements kv.Store on a Redis client.
type Store struct {
	client *redis.Client
	prefix string
	index  string
	owned  bool
}

// Record hash fields.
const (
	valueField     = "v"
	canonicalField = "c"
)

// casScript swaps the value only when the stored canonical form matches.
// An empty ARGV[1] means the key must be absent.
var casScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'c')
if ARGV[1] == '' then
  if cur then return 0 end
else
  if (not cur) or cur ~= ARGV[1] then return 0 end
end
redis.call('HSET', KEYS[1], 'v', ARGV[2], 'c', ARGV[3])
redis.call('ZADD', KEYS[2], 0, ARGV[4])
return 1
`)

// Open connects to Redis using cfg.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	var opts *redis.Options
	switch {
	case cfg.URL != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("redis: parse url: %w", err)
		}
		opts = parsed
	case cfg.Addr != "":
		opts = &redis.Options{Addr: cfg.Addr}
	default:
		return nil, fmt.Errorf("redis: url or addr is required")
	}

	client := redis.NewClient(opts)
	s := New(client, cfg.Prefix)
	s.owned = true
	if err := s.Health(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing client. The caller keeps ownership of client.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{
		client: client,
		prefix: prefix + "r:",
		index:  prefix + "index",
	}
}

func (s *Store) recordKey(key string) string {
	return s.prefix + key
}

func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if err := kv.ValidateKey(key); err != nil {
		return nil, false, err
	}
	v, err := s.client.HGet(ctx, s.recordKey(key), valueField).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, kv.Unavailable("redis get", err)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}
	canonical, err := kv.Canonical(value)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.recordKey(key), valueField, []byte(value), canonicalField, []byte(canonical))
		pipe.ZAdd(ctx, s.index, &redis.Z{Score: 0, Member: key})
		return nil
	})
	if err != nil {
		return kv.Unavailable("redis set", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.recordKey(key))
		pipe.ZRem(ctx, s.index, key)
		return nil
	})
	if err != nil {
		return kv.Unavailable("redis delete", err)
	}
	return nil
}

// lexRange returns the ZRANGEBYLEX bounds covering every key with prefix.
// 0xff never occurs in UTF-8, so prefix+"\xff" sorts after all such keys.
func lexRange(prefix string) *redis.ZRangeBy {
	if prefix == "" {
		return &redis.ZRangeBy{Min: "-", Max: "+"}
	}
	return &redis.ZRangeBy{Min: "[" + prefix, Max: "(" + prefix + "\xff"}
}

func (s *Store) GetByPrefix(ctx context.Context, prefix string) ([]kv.Entry, error) {
	if err := kv.ValidatePrefix(prefix); err != nil {
		return nil, err
	}
	keys, err := s.client.ZRangeByLex(ctx, s.index, lexRange(prefix)).Result()
	if err != nil {
		return nil, kv.Unavailable("redis scan", err)
	}
	entries := []kv.Entry{}
	if len(keys) == 0 {
		return entries, nil
	}

	values, err := s.mget(ctx, keys)
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		// Deleted between the index read and MGET.
		if v == nil {
			continue
		}
		entries = append(entries, kv.Entry{Key: keys[i], Value: v})
	}
	return entries, nil
}

func (s *Store) MGet(ctx context.Context, keys []string) ([]json.RawMessage, error) {
	if err := kv.ValidateKeys(keys); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []json.RawMessage{}, nil
	}
	return s.mget(ctx, keys)
}

func (s *Store) mget(ctx context.Context, keys []string) ([]json.RawMessage, error) {
	cmds := make([]*redis.StringCmd, len(keys))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.HGet(ctx, s.recordKey(key), valueField)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, kv.Unavailable("redis mget", err)
	}
	out := make([]json.RawMessage, len(keys))
	for i, cmd := range cmds {
		v, err := cmd.Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return nil, kv.Unavailable("redis mget", err)
		default:
			out[i] = v
		}
	}
	return out, nil
}

func (s *Store) CompareAndSet(ctx context.Context, key string, expected, value json.RawMessage) (bool, error) {
	if err := kv.ValidateKey(key); err != nil {
		return false, err
	}
	canonical, err := kv.Canonical(value)
	if err != nil {
		return false, err
	}
	want := ""
	if expected != nil {
		c, err := kv.Canonical(expected)
		if err != nil {
			return false, err
		}
		want = string(c)
	}

	keys := []string{s.recordKey(key), s.index}
	n, err := casScript.Run(ctx, s.client, keys, want, string(value), string(canonical), key).Int()
	if err != nil {
		return false, kv.Unavailable("redis compare-and-set", err)
	}
	return n == 1, nil
}

func (s *Store) Health(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return kv.Unavailable("redis ping", err)
	}
	return nil
}

// Close closes the client if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
