package kvstore

import (
	"context"
	"os"
	"testing"
)

func tempSQLite(t *testing.T) *SQLiteBackend {
	t.Helper()
	path := "test-kv.db"
	t.Cleanup(func() {
		os.Remove(path)
		os.Remove(path + "-shm")
		os.Remove(path + "-wal")
	})

	b, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open sqlite backend: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestSQLiteBackendOpenAndMigrate(t *testing.T) {
	b := tempSQLite(t)

	version, err := b.schemaVersion()
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("expected schema version %d, got %d", currentSchemaVersion, version)
	}

	var count int
	if err := b.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='kv'",
	).Scan(&count); err != nil {
		t.Fatalf("query kv table: %v", err)
	}
	if count != 1 {
		t.Errorf("expected kv table to exist")
	}
}

func TestSQLiteBackendGetPutDelete(t *testing.T) {
	b := tempSQLite(t)
	ctx := context.Background()

	if v, err := b.Get(ctx, "track:abc:tag"); err != nil || v != nil {
		t.Fatalf("expected (nil, nil) for missing key, got (%v, %v)", v, err)
	}

	if err := b.Put(ctx, "track:abc:tag", []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, err := b.Get(ctx, "track:abc:tag")
	if err != nil || string(v) != "v1" {
		t.Fatalf("expected v1, got (%s, %v)", v, err)
	}

	if err := b.Put(ctx, "track:abc:tag", []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, _ = b.Get(ctx, "track:abc:tag")
	if string(v) != "v2" {
		t.Fatalf("expected v2 after overwrite, got %s", v)
	}

	if err := b.Delete(ctx, "track:abc:tag"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if v, _ := b.Get(ctx, "track:abc:tag"); v != nil {
		t.Fatalf("expected nil after delete, got %v", v)
	}
}

func TestSQLiteBackendScanPrefix(t *testing.T) {
	b := tempSQLite(t)
	ctx := context.Background()

	for _, kv := range []struct{ k, v string }{
		{"track:1:tag", "a"},
		{"track:2:tag", "b"},
		{"album:1:index", "c"},
	} {
		if err := b.Put(ctx, kv.k, []byte(kv.v)); err != nil {
			t.Fatalf("put %s: %v", kv.k, err)
		}
	}

	entries, err := b.ScanPrefix(ctx, "track:")
	if err != nil {
		t.Fatalf("scan prefix: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Key != "track:1:tag" || entries[1].Key != "track:2:tag" {
		t.Errorf("unexpected key order: %v", entries)
	}
}
