package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local Redis on DB 15 and skips the test when
// none is running.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewManager(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	manager := NewManager(client, Options{TTL: time.Minute})
	if manager == nil {
		t.Fatal("NewManager returned nil")
	}
	if manager.redis != client {
		t.Error("Manager redis client not set correctly")
	}
	if manager.TTL() != time.Minute {
		t.Errorf("TTL() = %v, want %v", manager.TTL(), time.Minute)
	}
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil, Options{})
}

func TestManager_SetAndGet(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client, Options{TTL: time.Minute, StaleTTL: time.Hour})
	ctx := context.Background()

	key := PageKey{URL: "https://data.example/items/2020"}
	entry := &Entry{
		Data:       []byte(`{"results":[{"a":1}]}`),
		ETag:       `"abc123"`,
		FreshUntil: time.Now().Add(time.Minute),
		CachedAt:   time.Now(),
	}

	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got.Data) != string(entry.Data) {
		t.Errorf("Data = %s, want %s", got.Data, entry.Data)
	}
	if got.ETag != entry.ETag {
		t.Errorf("ETag = %v, want %v", got.ETag, entry.ETag)
	}
	if !got.IsFresh() {
		t.Error("entry should be fresh")
	}
}

func TestManager_GetMiss(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client, Options{TTL: time.Minute})

	_, err := manager.Get(context.Background(), PageKey{URL: "https://h/none"})
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestManager_StaleEntryKeptAndRefreshed(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client, Options{TTL: time.Minute, StaleTTL: time.Hour})
	ctx := context.Background()

	key := PageKey{URL: "https://data.example/items/2021"}
	stale := &Entry{
		Data:       []byte(`{}`),
		ETag:       `"v1"`,
		FreshUntil: time.Now().Add(-time.Second),
		CachedAt:   time.Now().Add(-2 * time.Minute),
	}
	if err := manager.Set(ctx, key, stale); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.IsFresh() {
		t.Fatal("entry should be stale")
	}

	if err := manager.Refresh(ctx, key, got); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	again, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() after refresh error = %v", err)
	}
	if !again.IsFresh() {
		t.Error("entry should be fresh after Refresh")
	}
}

func TestManager_SetExpiredIsNoop(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client, Options{TTL: time.Minute})
	ctx := context.Background()

	key := PageKey{URL: "https://h/old"}
	entry := &Entry{Data: []byte(`{}`), FreshUntil: time.Now().Add(-time.Hour)}
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestManager_Delete(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client, Options{TTL: time.Minute})
	ctx := context.Background()

	key := PageKey{URL: "https://h/del"}
	_ = manager.Set(ctx, key, &Entry{Data: []byte(`{}`), FreshUntil: time.Now().Add(time.Minute)})

	if err := manager.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() after Delete error = %v, want ErrCacheMiss", err)
	}
}
