package privacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrCacheRefresh is returned by Update when the store write committed but the
// cached copy could neither be replaced nor removed.
var ErrCacheRefresh = errors.New("privacy settings cache refresh failed")

// DefaultSettingsCacheTTL bounds how long a cached settings record may be served.
const DefaultSettingsCacheTTL = time.Hour

// CacheKeyPrefix prefixes every settings cache key.
const CacheKeyPrefix = "privacy:location:"

var tracer = otel.Tracer("github.com/onnwee/geoprivacy/internal/privacy")

// CacheKey returns the cache key for a user's settings.
func CacheKey(userID string) string {
	return CacheKeyPrefix + userID
}

// SettingsGetter resolves a user's settings.
type SettingsGetter interface {
	Get(ctx context.Context, userID string) (Settings, error)
}

// SettingsStoreConfig configures a SettingsStore.
type SettingsStoreConfig struct {
	// CacheTTL is the expiry set on cached records. Default: 1 hour.
	CacheTTL time.Duration
	// Logger for cache fallbacks and write failures.
	Logger *slog.Logger
	// Metrics for cache hit tracking. Optional.
	Metrics *Metrics
	// Now overrides the clock used for UpdatedAt. Default: time.Now.
	Now func() time.Time
}

// SettingsStore is a read-through cache over the settings repository.
// Resolution order is cache, then store, then DefaultSettings.
//
// Concurrent updates for the same user are not locked; the last write wins.
type SettingsStore struct {
	repo    SettingsRepository
	cache   Cache
	ttl     time.Duration
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewSettingsStore creates a settings store.
func NewSettingsStore(repo SettingsRepository, cache Cache, config SettingsStoreConfig) *SettingsStore {
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultSettingsCacheTTL
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &SettingsStore{
		repo:    repo,
		cache:   cache,
		ttl:     config.CacheTTL,
		logger:  config.Logger,
		metrics: config.Metrics,
		now:     config.Now,
	}
}

// Get returns the user's settings. A missing row resolves to DefaultSettings,
// which is returned without being written to the cache or the store.
// Cache failures fall through to the store; store failures are returned.
func (s *SettingsStore) Get(ctx context.Context, userID string) (Settings, error) {
	ctx, span := tracer.Start(ctx, "privacy.SettingsStore.Get")
	defer span.End()

	key := CacheKey(userID)

	if cached, ok := s.readCache(ctx, key, userID); ok {
		span.SetAttributes(attribute.String("privacy.settings.source", "cache"))
		return cached, nil
	}

	settings, err := s.repo.GetSettings(ctx, userID)
	if errors.Is(err, ErrSettingsNotFound) {
		span.SetAttributes(attribute.String("privacy.settings.source", "default"))
		return DefaultSettings(), nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "settings lookup failed")
		return Settings{}, fmt.Errorf("failed to load privacy settings for %s: %w", userID, err)
	}

	span.SetAttributes(attribute.String("privacy.settings.source", "store"))
	s.writeCache(ctx, key, userID, settings)
	return settings, nil
}

// Update merges the partial update over the current settings, persists the
// full record with a fresh UpdatedAt, then refreshes the cache entry.
// The store write always precedes the cache refresh.
func (s *SettingsStore) Update(ctx context.Context, userID string, update SettingsUpdate) (Settings, error) {
	ctx, span := tracer.Start(ctx, "privacy.SettingsStore.Update")
	defer span.End()

	current, err := s.Get(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "settings lookup failed")
		return Settings{}, err
	}

	merged := update.Apply(current)
	merged.UpdatedAt = s.now().UTC()

	if err := merged.Validate(); err != nil {
		return Settings{}, err
	}

	if err := s.repo.UpsertSettings(ctx, userID, merged); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "settings write failed")
		return Settings{}, fmt.Errorf("failed to save privacy settings for %s: %w", userID, err)
	}

	key := CacheKey(userID)
	if err := s.setCache(ctx, key, merged); err != nil {
		s.logger.Warn("failed to refresh privacy settings cache, evicting",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		if delErr := s.cache.Delete(ctx, key); delErr != nil {
			s.logger.Error("failed to evict stale privacy settings",
				slog.String("user_id", userID),
				slog.String("error", delErr.Error()))
			span.RecordError(delErr)
			return merged, fmt.Errorf("%w: %w", ErrCacheRefresh, delErr)
		}
	}

	s.logger.Info("privacy settings updated",
		slog.String("user_id", userID),
		slog.String("precision_level", string(merged.PrecisionLevel)),
		slog.Bool("location_sharing_enabled", merged.LocationSharingEnabled))

	return merged, nil
}

// readCache returns the cached settings if present and decodable.
func (s *SettingsStore) readCache(ctx context.Context, key, userID string) (Settings, bool) {
	raw, err := s.cache.Get(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		s.metrics.IncCacheLookup(CacheResultMiss)
		return Settings{}, false
	}
	if err != nil {
		s.metrics.IncCacheLookup(CacheResultError)
		s.logger.Warn("privacy settings cache read failed, using store",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		return Settings{}, false
	}

	var settings Settings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil || settings.Validate() != nil {
		s.metrics.IncCacheLookup(CacheResultCorrupt)
		s.logger.Warn("discarding undecodable privacy settings cache entry",
			slog.String("user_id", userID))
		return Settings{}, false
	}

	s.metrics.IncCacheLookup(CacheResultHit)
	return settings, true
}

// writeCache populates the cache after a store read. Failures are logged only.
func (s *SettingsStore) writeCache(ctx context.Context, key, userID string, settings Settings) {
	if err := s.setCache(ctx, key, settings); err != nil {
		s.logger.Warn("failed to populate privacy settings cache",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
	}
}

func (s *SettingsStore) setCache(ctx context.Context, key string, settings Settings) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, key, string(payload), s.ttl)
}
