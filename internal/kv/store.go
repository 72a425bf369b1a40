// Package kv defines the flat, prefix-scannable key/value store every domain
// module persists through, plus the namespace scoping and typed repository
// built on top of it.
package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxKeyLength is the longest key, in bytes, any backend accepts.
const MaxKeyLength = 512

var (
	// ErrUnavailable means the persistence engine could not be reached.
	ErrUnavailable = errors.New("kv: store unavailable")
	// ErrInvalidKey means a key was empty or malformed.
	ErrInvalidKey = errors.New("kv: invalid key")
	// ErrInvalidValue means a value was not a JSON document.
	ErrInvalidValue = errors.New("kv: invalid value")
)

// Entry is one stored record.
type Entry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Store is the persistence contract shared by all modules.
//
// A lookup miss is never an error: Get reports it through the bool and MGet
// through a nil slot. Failures wrap ErrUnavailable, ErrInvalidKey or
// ErrInvalidValue.
type Store interface {
	// Get returns the value stored under key.
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	// Set upserts value under key. The last write wins.
	Set(ctx context.Context, key string, value json.RawMessage) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// GetByPrefix returns every record whose key starts with prefix, sorted
	// by key. An empty prefix matches every key.
	GetByPrefix(ctx context.Context, prefix string) ([]Entry, error)
	// MGet returns one slot per key in input order; nil marks a miss.
	MGet(ctx context.Context, keys []string) ([]json.RawMessage, error)
	// CompareAndSet replaces the value under key with value only if the
	// current value is JSON-equal to expected. A nil expected means the key
	// must be absent. It reports whether the write happened.
	CompareAndSet(ctx context.Context, key string, expected, value json.RawMessage) (bool, error)
	// Health reports whether the backend is reachable.
	Health(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}

// ValidateKey checks the key rules every backend enforces.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key is empty", ErrInvalidKey)
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key exceeds %d bytes", ErrInvalidKey, MaxKeyLength)
	}
	if !utf8.ValidString(key) {
		return fmt.Errorf("%w: key is not valid UTF-8", ErrInvalidKey)
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: key contains control character %U", ErrInvalidKey, r)
		}
	}
	return nil
}

// ValidateKeys runs ValidateKey over keys.
func ValidateKeys(keys []string) error {
	for _, key := range keys {
		if err := ValidateKey(key); err != nil {
			return err
		}
	}
	return nil
}

// ValidatePrefix checks a scan prefix. The empty prefix is allowed.
func ValidatePrefix(prefix string) error {
	if prefix == "" {
		return nil
	}
	return ValidateKey(prefix)
}

// ValidateValue checks that value is a single JSON document.
func ValidateValue(value json.RawMessage) error {
	if len(bytes.TrimSpace(value)) == 0 {
		return fmt.Errorf("%w: value is empty", ErrInvalidValue)
	}
	if !json.Valid(value) {
		return fmt.Errorf("%w: value is not valid JSON", ErrInvalidValue)
	}
	return nil
}

// Canonical re-encodes value with sorted object keys and no insignificant
// whitespace, so that JSON-equal documents become byte-equal. Numbers keep
// their literal form.
func Canonical(value json.RawMessage) (json.RawMessage, error) {
	doc, err := decodeDocument(value)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return out, nil
}

// EqualJSON reports whether a and b encode the same JSON document.
func EqualJSON(a, b json.RawMessage) bool {
	da, err := decodeDocument(a)
	if err != nil {
		return false
	}
	db, err := decodeDocument(b)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(da, db)
}

func decodeDocument(value json.RawMessage) (interface{}, error) {
	if err := ValidateValue(value); err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return normalizeNumbers(doc), nil
}

// normalizeNumbers rewrites json.Number literals that denote the same value
// ("1", "1.0", "1e0") to one exact decimal form.
func normalizeNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			t[k] = normalizeNumbers(child)
		}
		return t
	case []interface{}:
		for i, child := range t {
			t[i] = normalizeNumbers(child)
		}
		return t
	case json.Number:
		return canonicalNumber(t)
	default:
		return v
	}
}

// maxExactExponent bounds the decimal exponents expanded exactly. Literals
// with larger exponents are compared as written.
const maxExactExponent = 1000

func canonicalNumber(n json.Number) json.Number {
	lit := string(n)
	if i := strings.IndexAny(lit, "eE"); i >= 0 {
		exp, err := strconv.Atoi(lit[i+1:])
		if err != nil || exp > maxExactExponent || exp < -maxExactExponent {
			return n
		}
	}
	r, ok := new(big.Rat).SetString(lit)
	if !ok {
		return n
	}
	if r.IsInt() {
		return json.Number(r.Num().String())
	}
	return json.Number(r.FloatString(decimalPlaces(r.Denom())))
}

// decimalPlaces returns how many fractional digits print 1/d exactly. d
// comes from a decimal literal, so it only has the prime factors 2 and 5.
func decimalPlaces(d *big.Int) int {
	twos := int(d.TrailingZeroBits())
	rest := new(big.Int).Rsh(d, uint(twos))
	one, five := big.NewInt(1), big.NewInt(5)
	fives := 0
	for rest.Cmp(one) > 0 {
		rest.Quo(rest, five)
		fives++
	}
	return max(twos, fives)
}

// Unavailable wraps cause as ErrUnavailable with op context.
func Unavailable(op string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, cause)
}
