package privacy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

var errBoom = errors.New("boom")

// faultyCache wraps an InMemoryCache and injects failures.
type faultyCache struct {
	*InMemoryCache

	mu        sync.Mutex
	getErr    error
	setErr    error
	deleteErr error
	sets      int
	deletes   int
}

func newFaultyCache() *faultyCache {
	return &faultyCache{InMemoryCache: NewInMemoryCache()}
}

func (c *faultyCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	err := c.getErr
	c.mu.Unlock()
	if err != nil {
		return "", err
	}
	return c.InMemoryCache.Get(ctx, key)
}

func (c *faultyCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	c.sets++
	err := c.setErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.InMemoryCache.Set(ctx, key, value, ttl)
}

func (c *faultyCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	c.deletes++
	err := c.deleteErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.InMemoryCache.Delete(ctx, key)
}

func (c *faultyCache) counts() (sets, deletes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets, c.deletes
}

func boolPtr(b bool) *bool { return &b }

func intPtr(i int) *int { return &i }

func precisionPtr(p PrecisionLevel) *PrecisionLevel { return &p }
