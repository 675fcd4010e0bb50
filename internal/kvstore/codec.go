package kvstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// schemaVersionJSON is the one-byte prefix spec.md §6 requires ahead
// of every structured entry's payload.
const schemaVersionJSON byte = 1

// Store wraps a Backend with typed, versioned (de)serialization so
// callers work with Go values instead of raw bytes. It mirrors
// original_source/kv.rs's KvStore<B>::load/store, generalized from
// Rust generics to Go generics.
type Store struct {
	backend Backend
}

// New wraps backend in a typed Store.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// Backend exposes the underlying untyped backend, e.g. for ScanPrefix
// calls that need raw keys rather than decoded values.
func (s *Store) Backend() Backend { return s.backend }

// LoadJSON reads key and decodes it into dst. It returns (false, nil)
// when the key doesn't exist, matching spec.md's NotFound-is-not-an
// -error rule.
func LoadJSON[T any](ctx context.Context, s *Store, key string, dst *T) (bool, error) {
	raw, err := s.backend.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if raw == nil {
		return false, nil
	}
	if len(raw) < 1 {
		return false, fmt.Errorf("load %s: truncated entry", key)
	}
	if err := json.Unmarshal(raw[1:], dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// StoreJSON encodes v with the one-byte schema-version prefix and
// writes it to key.
func StoreJSON[T any](ctx context.Context, s *Store, key string, v T) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	raw := append([]byte{schemaVersionJSON}, body...)
	if err := s.backend.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// schemaVersionCBOR is the version byte for the one namespace
// (album:*:cue) that spec.md §3 calls out as binary-encoded rather
// than structured JSON.
const schemaVersionCBOR byte = 1

// LoadCBOR is LoadJSON's CBOR counterpart, used only for the CUE
// cache entry.
func LoadCBOR[T any](ctx context.Context, s *Store, key string, dst *T) (bool, error) {
	raw, err := s.backend.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if raw == nil {
		return false, nil
	}
	if len(raw) < 1 {
		return false, fmt.Errorf("load %s: truncated entry", key)
	}
	if err := cbor.Unmarshal(raw[1:], dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// StoreCBOR is StoreJSON's CBOR counterpart.
func StoreCBOR[T any](ctx context.Context, s *Store, key string, v T) error {
	body, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	raw := append([]byte{schemaVersionCBOR}, body...)
	if err := s.backend.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// ScanPrefix returns raw entries under prefix in key order.
func (s *Store) ScanPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	return s.backend.ScanPrefix(ctx, prefix)
}

// Close closes the underlying backend.
func (s *Store) Close() error { return s.backend.Close() }
