package privacy

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestRedis connects to a local Redis or skips the test.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisCache_SetGetDelete(t *testing.T) {
	client := newTestRedis(t)
	cache := NewRedisCache(client)
	ctx := context.Background()

	key := CacheKey("test-user-" + strconv.FormatInt(time.Now().UnixNano(), 10))
	defer client.Del(ctx, key)

	if _, err := cache.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("Get() on missing key error = %v, want ErrCacheMiss", err)
	}

	if err := cache.Set(ctx, key, `{"precisionLevel":"city"}`, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := cache.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != `{"precisionLevel":"city"}` {
		t.Errorf("Get() = %q", got)
	}

	ttl, err := client.TTL(ctx, key).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, want within (0, 1m]", ttl)
	}

	if err := cache.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := cache.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() after Delete error = %v, want ErrCacheMiss", err)
	}
}

func TestRedisCache_WithSettingsStore(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	userID := "test-user-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	defer client.Del(ctx, CacheKey(userID))

	repo := NewInMemorySettingsRepository()
	store := newTestStore(repo, NewRedisCache(client))

	if _, err := store.Update(ctx, userID, SettingsUpdate{PrecisionLevel: precisionPtr(PrecisionCity)}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, err := store.Get(ctx, userID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.PrecisionLevel != PrecisionCity {
		t.Errorf("PrecisionLevel = %q, want city", got.PrecisionLevel)
	}
	if repo.Reads() != 1 {
		t.Errorf("store reads = %d, want 1 (second read served by Redis)", repo.Reads())
	}
}
