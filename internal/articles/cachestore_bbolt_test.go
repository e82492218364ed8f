package articles

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestBoltCacheStore(t *testing.T) *BoltCacheStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := NewBoltCacheStore(path)
	if err != nil {
		t.Fatalf("NewBoltCacheStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBoltCacheStore_SetGetRoundTrip(t *testing.T) {
	store := openTestBoltCacheStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "k1", []byte("hello"), 300, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || string(got) != "hello" {
		t.Fatalf("Get = %q, %v, want hello, true", got, ok)
	}
}

func TestBoltCacheStore_MissingKeyReturnsFalse(t *testing.T) {
	store := openTestBoltCacheStore(t)
	_, ok, err := store.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected miss")
	}
}

func TestBoltCacheStore_ExpiredEntryMasksAsMiss(t *testing.T) {
	store := openTestBoltCacheStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "k1", []byte("hello"), -1, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	_, ok, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected expired entry to read as a miss")
	}
}

func TestBoltCacheStore_DelRemovesKey(t *testing.T) {
	store := openTestBoltCacheStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "k1", []byte("hello"), 300, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Del(ctx, "k1"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	_, ok, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected miss after delete")
	}
}

func TestBoltCacheStore_UseOldTtlKeepsExistingExpiry(t *testing.T) {
	store := openTestBoltCacheStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "k1", []byte("v1"), -1, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// useOldTTL should preserve the already-expired TTL, not extend it.
	if err := store.Set(ctx, "k1", []byte("v2"), 300, true); err != nil {
		t.Fatalf("Set with useOldTTL: %v", err)
	}
	_, ok, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected the preserved expired TTL to still mask as a miss")
	}
}

func TestBoltCacheStore_SetExpireBumpsTtlWithoutRewrite(t *testing.T) {
	store := openTestBoltCacheStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "k1", []byte("hello"), -1, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.SetExpire(ctx, "k1", 300); err != nil {
		t.Fatalf("SetExpire: %v", err)
	}
	got, ok, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || string(got) != "hello" {
		t.Fatalf("Get = %q, %v, want hello, true after refresh", got, ok)
	}
}

func TestBoltCacheStore_ExistsReflectsExpiry(t *testing.T) {
	store := openTestBoltCacheStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "k1", []byte("hello"), 300, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	exists, err := store.Exists(ctx, "k1")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Error("expected Exists=true for a fresh key")
	}

	if err := store.Set(ctx, "k2", []byte("old"), -1, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	exists, err = store.Exists(ctx, "k2")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("expected Exists=false for an expired key")
	}
}
