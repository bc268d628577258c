package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/geoprivacy/internal/geo"
	"github.com/onnwee/geoprivacy/internal/privacy"
	"github.com/onnwee/geoprivacy/internal/tracing"
)

// Defaults for statement retries.
const (
	DefaultMaxRetries      = 3
	DefaultInitialInterval = 100 * time.Millisecond
	DefaultMaxInterval     = 2 * time.Second
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Logger for retention activity.
	Logger *slog.Logger
	// Metrics for rows affected and retries. Optional.
	Metrics *Metrics
	// Now overrides the clock used to compute cutoffs. Default: time.Now.
	Now func() time.Time
	// MaxRetries bounds retries per statement. Zero uses DefaultMaxRetries;
	// a negative value disables retries.
	MaxRetries int
	// InitialInterval is the first retry delay. Default: 100ms.
	InitialInterval time.Duration
	// MaxInterval caps the retry delay. Default: 2s.
	MaxInterval time.Duration
}

// CleanupResult reports rows removed by Cleanup.
type CleanupResult struct {
	RoutePointsDeleted    int64
	GeofenceEventsDeleted int64
}

// Manager applies a user's history retention settings to stored data.
type Manager struct {
	settings privacy.SettingsGetter
	repo     HistoryRepository
	config   ManagerConfig
}

// NewManager creates a retention manager.
func NewManager(settings privacy.SettingsGetter, repo HistoryRepository, config ManagerConfig) *Manager {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.InitialInterval <= 0 {
		config.InitialInterval = DefaultInitialInterval
	}
	if config.MaxInterval <= 0 {
		config.MaxInterval = DefaultMaxInterval
	}

	return &Manager{
		settings: settings,
		repo:     repo,
		config:   config,
	}
}

// Cleanup deletes the user's route points and geofence events older than
// shareHistoryDuration days. Both deletes are always attempted; their
// failures are joined into the returned error.
func (m *Manager) Cleanup(ctx context.Context, userID string) (_ CleanupResult, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "retention.cleanup", attribute.String("user.id", userID))
	defer func() { endSpan(err) }()

	settings, err := m.settings.Get(ctx, userID)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("failed to load settings for cleanup: %w", err)
	}

	cutoff := m.config.Now().UTC().AddDate(0, 0, -settings.ShareHistoryDuration)

	var result CleanupResult
	var routeErr, geofenceErr error

	result.RoutePointsDeleted, routeErr = m.retry(ctx, "delete_route_points", func() (int64, error) {
		return m.repo.DeleteRoutePointsBefore(ctx, userID, cutoff)
	})
	if routeErr != nil {
		routeErr = fmt.Errorf("route points: %w", routeErr)
	}
	m.config.Metrics.AddRowsDeleted(TableRoutePoints, result.RoutePointsDeleted)

	result.GeofenceEventsDeleted, geofenceErr = m.retry(ctx, "delete_geofence_events", func() (int64, error) {
		return m.repo.DeleteGeofenceEventsBefore(ctx, userID, cutoff)
	})
	if geofenceErr != nil {
		geofenceErr = fmt.Errorf("geofence events: %w", geofenceErr)
	}
	m.config.Metrics.AddRowsDeleted(TableGeofenceEvents, result.GeofenceEventsDeleted)

	if err = errors.Join(routeErr, geofenceErr); err != nil {
		m.config.Logger.Error("location history cleanup failed",
			slog.String("user_id", userID),
			slog.Time("cutoff", cutoff),
			slog.Int64("route_points_deleted", result.RoutePointsDeleted),
			slog.Int64("geofence_events_deleted", result.GeofenceEventsDeleted),
			slog.String("error", err.Error()))
		return result, err
	}

	m.config.Logger.Debug("location history cleaned up",
		slog.String("user_id", userID),
		slog.Time("cutoff", cutoff),
		slog.Int64("route_points_deleted", result.RoutePointsDeleted),
		slog.Int64("geofence_events_deleted", result.GeofenceEventsDeleted))
	return result, nil
}

// AnonymizeOld degrades the user's route points older than anonymizeAfterHours
// to approximate precision. Points already degraded are left untouched.
func (m *Manager) AnonymizeOld(ctx context.Context, userID string) (_ int64, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "retention.anonymize", attribute.String("user.id", userID))
	defer func() { endSpan(err) }()

	settings, err := m.settings.Get(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to load settings for anonymization: %w", err)
	}

	cutoff := m.config.Now().UTC().Add(-time.Duration(settings.AnonymizeAfterHours) * time.Hour)

	n, err := m.retry(ctx, "anonymize_route_points", func() (int64, error) {
		return m.repo.AnonymizeRoutePointsBefore(ctx, userID, cutoff, degradeToApproximate)
	})
	m.config.Metrics.AddRowsAnonymized(n)
	if err != nil {
		m.config.Logger.Error("route point anonymization failed",
			slog.String("user_id", userID),
			slog.Time("cutoff", cutoff),
			slog.Int64("anonymized", n),
			slog.String("error", err.Error()))
		return n, fmt.Errorf("route points: %w", err)
	}

	m.config.Logger.Debug("route points anonymized",
		slog.String("user_id", userID),
		slog.Time("cutoff", cutoff),
		slog.Int64("anonymized", n))
	return n, nil
}

// degradeToApproximate replaces a stored point with one inside the
// approximate radius. Accuracy never reports better than that radius.
func degradeToApproximate(p geo.Point) geo.Point {
	anon := privacy.Anonymize(p, privacy.ApproximateRadiusMeters)
	return geo.Point{
		Latitude:  anon.ApproximateLatitude,
		Longitude: anon.ApproximateLongitude,
		Accuracy:  math.Max(p.Accuracy, privacy.ApproximateRadiusMeters),
		Timestamp: p.Timestamp,
	}
}

// retry runs op with exponential backoff. Rows reported by failed attempts
// are summed so partial progress is not lost from the result.
func (m *Manager) retry(ctx context.Context, operation string, op func() (int64, error)) (int64, error) {
	var total int64
	attempt := func() error {
		n, err := op()
		total += n
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}

	if m.config.MaxRetries < 0 {
		return total, attempt()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.config.InitialInterval
	bo.MaxInterval = m.config.MaxInterval
	bo.MaxElapsedTime = 0 // bounded by WithMaxRetries

	b := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(m.config.MaxRetries)), ctx)
	notify := func(err error, wait time.Duration) {
		m.config.Metrics.IncRetries(operation)
		m.config.Logger.Warn("retrying retention statement",
			slog.String("operation", operation),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))
	}

	err := backoff.RetryNotify(attempt, b, notify)
	return total, err
}
