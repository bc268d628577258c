// Package retention purges and anonymizes historical location data on each
// user's schedule.
package retention

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/geoprivacy/internal/geo"
	"github.com/onnwee/geoprivacy/internal/tracing"
)

// DefaultAnonymizeBatchSize bounds the rows locked by one anonymize transaction.
const DefaultAnonymizeBatchSize = 500

// DegradeFunc returns the reduced-precision replacement for a stored point.
type DegradeFunc func(geo.Point) geo.Point

// HistoryRepository is the route-history store the retention rules act on.
type HistoryRepository interface {
	// DeleteRoutePointsBefore deletes the user's route points recorded before cutoff.
	DeleteRoutePointsBefore(ctx context.Context, userID string, cutoff time.Time) (int64, error)
	// DeleteGeofenceEventsBefore deletes the user's geofence events that occurred before cutoff.
	DeleteGeofenceEventsBefore(ctx context.Context, userID string, cutoff time.Time) (int64, error)
	// AnonymizeRoutePointsBefore rewrites, in place, the user's not yet anonymized
	// route points recorded before cutoff and returns the number of rows changed.
	AnonymizeRoutePointsBefore(ctx context.Context, userID string, cutoff time.Time, degrade DegradeFunc) (int64, error)
	// ListUsersWithHistory returns every user that owns route points or geofence events.
	ListUsersWithHistory(ctx context.Context) ([]string, error)
}

// PostgresHistoryRepository implements HistoryRepository on PostgreSQL.
type PostgresHistoryRepository struct {
	db        *sql.DB
	logger    *slog.Logger
	batchSize int
}

// NewPostgresHistoryRepository creates a new PostgresHistoryRepository.
// A non-positive batchSize uses DefaultAnonymizeBatchSize.
func NewPostgresHistoryRepository(db *sql.DB, logger *slog.Logger, batchSize int) *PostgresHistoryRepository {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = DefaultAnonymizeBatchSize
	}
	return &PostgresHistoryRepository{
		db:        db,
		logger:    logger,
		batchSize: batchSize,
	}
}

// DeleteRoutePointsBefore deletes old route points in a single statement.
func (r *PostgresHistoryRepository) DeleteRoutePointsBefore(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM route_points
		WHERE user_id = $1 AND recorded_at < $2
	`
	return r.execCount(ctx, "route_points", query, userID, cutoff)
}

// DeleteGeofenceEventsBefore deletes old geofence events in a single statement.
func (r *PostgresHistoryRepository) DeleteGeofenceEventsBefore(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM geofence_events
		WHERE user_id = $1 AND occurred_at < $2
	`
	return r.execCount(ctx, "geofence_events", query, userID, cutoff)
}

func (r *PostgresHistoryRepository) execCount(ctx context.Context, table, query string, args ...any) (_ int64, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, table, tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", table, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		r.logger.Warn("failed to get rows affected count",
			slog.String("table", table),
			slog.String("error", err.Error()))
		return 0, nil
	}
	return n, nil
}

// AnonymizeRoutePointsBefore degrades old points batch by batch. Each batch is
// its own transaction and stamps anonymized_at, so a retry after a partial
// failure resumes with the rows that remain.
func (r *PostgresHistoryRepository) AnonymizeRoutePointsBefore(ctx context.Context, userID string, cutoff time.Time, degrade DegradeFunc) (int64, error) {
	var total int64
	for {
		n, err := r.anonymizeBatch(ctx, userID, cutoff, degrade)
		total += n
		if err != nil {
			return total, err
		}
		if n < int64(r.batchSize) {
			return total, nil
		}
	}
}

type storedPoint struct {
	id    string
	point geo.Point
}

func (r *PostgresHistoryRepository) anonymizeBatch(ctx context.Context, userID string, cutoff time.Time, degrade DegradeFunc) (_ int64, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "route_points", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Always attempt rollback on function exit (no-op after successful commit)
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			r.logger.Warn("failed to rollback transaction",
				slog.String("error", err.Error()))
		}
	}()

	selectQuery := `
		SELECT id, latitude, longitude, accuracy, recorded_at
		FROM route_points
		WHERE user_id = $1 AND recorded_at < $2 AND anonymized_at IS NULL
		ORDER BY recorded_at
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.QueryContext(ctx, selectQuery, userID, cutoff, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to select route points: %w", err)
	}

	var batch []storedPoint
	for rows.Next() {
		var sp storedPoint
		if err := rows.Scan(&sp.id, &sp.point.Latitude, &sp.point.Longitude, &sp.point.Accuracy, &sp.point.Timestamp); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan route point: %w", err)
		}
		batch = append(batch, sp)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("failed to iterate route points: %w", err)
	}
	rows.Close()

	if len(batch) == 0 {
		return 0, nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE route_points
		SET latitude = $1, longitude = $2, accuracy = $3, anonymized_at = NOW()
		WHERE id = $4
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare anonymize statement: %w", err)
	}
	defer stmt.Close()

	for _, sp := range batch {
		degraded := degrade(sp.point)
		if _, err := stmt.ExecContext(ctx, degraded.Latitude, degraded.Longitude, degraded.Accuracy, sp.id); err != nil {
			return 0, fmt.Errorf("failed to anonymize route point %s: %w", sp.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit anonymize batch: %w", err)
	}
	return int64(len(batch)), nil
}

// ListUsersWithHistory returns the distinct owners of history rows.
func (r *PostgresHistoryRepository) ListUsersWithHistory(ctx context.Context) ([]string, error) {
	query := `
		SELECT user_id FROM route_points
		UNION
		SELECT user_id FROM geofence_events
		ORDER BY user_id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users with history: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// RoutePoint is a stored route sample.
type RoutePoint struct {
	ID           string
	UserID       string
	Point        geo.Point
	AnonymizedAt *time.Time
}

// GeofenceEvent is a stored geofence enter/exit record.
type GeofenceEvent struct {
	ID         string
	UserID     string
	OccurredAt time.Time
}

// InMemoryHistoryRepository implements HistoryRepository for tests.
type InMemoryHistoryRepository struct {
	mu             sync.RWMutex
	routePoints    map[string]RoutePoint
	geofenceEvents map[string]GeofenceEvent

	// Failure injection, consumed one call at a time.
	routeFailures    []error
	geofenceFailures []error

	// Cutoffs observed by the last calls, for assertions.
	LastRouteCutoff     time.Time
	LastGeofenceCutoff  time.Time
	LastAnonymizeCutoff time.Time
}

// NewInMemoryHistoryRepository creates an empty repository.
func NewInMemoryHistoryRepository() *InMemoryHistoryRepository {
	return &InMemoryHistoryRepository{
		routePoints:    make(map[string]RoutePoint),
		geofenceEvents: make(map[string]GeofenceEvent),
	}
}

// AddRoutePoint stores a route point and returns its generated ID.
func (r *InMemoryHistoryRepository) AddRoutePoint(userID string, p geo.Point) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.NewString()
	r.routePoints[id] = RoutePoint{ID: id, UserID: userID, Point: p}
	return id
}

// AddGeofenceEvent stores a geofence event and returns its generated ID.
func (r *InMemoryHistoryRepository) AddGeofenceEvent(userID string, occurredAt time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.NewString()
	r.geofenceEvents[id] = GeofenceEvent{ID: id, UserID: userID, OccurredAt: occurredAt}
	return id
}

// FailRoutePoints queues errors returned by the next route point deletes.
func (r *InMemoryHistoryRepository) FailRoutePoints(errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routeFailures = append(r.routeFailures, errs...)
}

// FailGeofenceEvents queues errors returned by the next geofence event deletes.
func (r *InMemoryHistoryRepository) FailGeofenceEvents(errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.geofenceFailures = append(r.geofenceFailures, errs...)
}

// RoutePoint returns a stored route point by ID.
func (r *InMemoryHistoryRepository) RoutePoint(id string) (RoutePoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rp, ok := r.routePoints[id]
	return rp, ok
}

// GeofenceEventExists reports whether the event is still stored.
func (r *InMemoryHistoryRepository) GeofenceEventExists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.geofenceEvents[id]
	return ok
}

// DeleteRoutePointsBefore deletes matching route points.
func (r *InMemoryHistoryRepository) DeleteRoutePointsBefore(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LastRouteCutoff = cutoff

	if len(r.routeFailures) > 0 {
		err := r.routeFailures[0]
		r.routeFailures = r.routeFailures[1:]
		return 0, err
	}

	var deleted int64
	for id, rp := range r.routePoints {
		if rp.UserID == userID && rp.Point.Timestamp.Before(cutoff) {
			delete(r.routePoints, id)
			deleted++
		}
	}
	return deleted, nil
}

// DeleteGeofenceEventsBefore deletes matching geofence events.
func (r *InMemoryHistoryRepository) DeleteGeofenceEventsBefore(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LastGeofenceCutoff = cutoff

	if len(r.geofenceFailures) > 0 {
		err := r.geofenceFailures[0]
		r.geofenceFailures = r.geofenceFailures[1:]
		return 0, err
	}

	var deleted int64
	for id, ev := range r.geofenceEvents {
		if ev.UserID == userID && ev.OccurredAt.Before(cutoff) {
			delete(r.geofenceEvents, id)
			deleted++
		}
	}
	return deleted, nil
}

// AnonymizeRoutePointsBefore degrades matching, not yet anonymized points.
func (r *InMemoryHistoryRepository) AnonymizeRoutePointsBefore(ctx context.Context, userID string, cutoff time.Time, degrade DegradeFunc) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LastAnonymizeCutoff = cutoff

	now := time.Now()
	var changed int64
	for id, rp := range r.routePoints {
		if rp.UserID != userID || !rp.Point.Timestamp.Before(cutoff) || rp.AnonymizedAt != nil {
			continue
		}
		rp.Point = degrade(rp.Point)
		stamped := now
		rp.AnonymizedAt = &stamped
		r.routePoints[id] = rp
		changed++
	}
	return changed, nil
}

// ListUsersWithHistory returns the distinct owners of history rows, sorted.
func (r *InMemoryHistoryRepository) ListUsersWithHistory(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, rp := range r.routePoints {
		seen[rp.UserID] = struct{}{}
	}
	for _, ev := range r.geofenceEvents {
		seen[ev.UserID] = struct{}{}
	}

	users := make([]string, 0, len(seen))
	for id := range seen {
		users = append(users, id)
	}
	sort.Strings(users)
	return users, nil
}
