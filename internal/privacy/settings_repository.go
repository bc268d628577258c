package privacy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/geoprivacy/internal/tracing"
)

// ErrSettingsNotFound is returned when a user has no stored settings row.
var ErrSettingsNotFound = errors.New("privacy settings not found")

// SettingsRepository persists one settings row per user.
type SettingsRepository interface {
	// GetSettings returns the stored row, or ErrSettingsNotFound.
	GetSettings(ctx context.Context, userID string) (Settings, error)
	// UpsertSettings writes the full record keyed by userID.
	UpsertSettings(ctx context.Context, userID string, settings Settings) error
}

// settingsRow mirrors the location_privacy_settings columns.
type settingsRow struct {
	UserID                 string
	LocationSharingEnabled bool
	PrecisionLevel         string
	ShareWithTaskers       bool
	ShareWithClients       bool
	ShareHistoryDuration   int
	AnonymizeAfterHours    int
	AllowEmergencyAccess   bool
	GeofenceNotifications  bool
	UpdatedAt              time.Time
}

// toSettings maps every column to its record field.
func (r settingsRow) toSettings() Settings {
	return Settings{
		LocationSharingEnabled: r.LocationSharingEnabled,
		PrecisionLevel:         PrecisionLevel(r.PrecisionLevel),
		ShareWithTaskers:       r.ShareWithTaskers,
		ShareWithClients:       r.ShareWithClients,
		ShareHistoryDuration:   r.ShareHistoryDuration,
		AnonymizeAfterHours:    r.AnonymizeAfterHours,
		AllowEmergencyAccess:   r.AllowEmergencyAccess,
		GeofenceNotifications:  r.GeofenceNotifications,
		UpdatedAt:              r.UpdatedAt,
	}
}

// rowFromSettings is the inverse of toSettings.
func rowFromSettings(userID string, s Settings) settingsRow {
	return settingsRow{
		UserID:                 userID,
		LocationSharingEnabled: s.LocationSharingEnabled,
		PrecisionLevel:         string(s.PrecisionLevel),
		ShareWithTaskers:       s.ShareWithTaskers,
		ShareWithClients:       s.ShareWithClients,
		ShareHistoryDuration:   s.ShareHistoryDuration,
		AnonymizeAfterHours:    s.AnonymizeAfterHours,
		AllowEmergencyAccess:   s.AllowEmergencyAccess,
		GeofenceNotifications:  s.GeofenceNotifications,
		UpdatedAt:              s.UpdatedAt,
	}
}

// PostgresSettingsRepository implements SettingsRepository on PostgreSQL.
type PostgresSettingsRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresSettingsRepository creates a new PostgresSettingsRepository.
func NewPostgresSettingsRepository(db *sql.DB, logger *slog.Logger) *PostgresSettingsRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSettingsRepository{
		db:     db,
		logger: logger,
	}
}

// GetSettings loads the settings row for userID.
func (r *PostgresSettingsRepository) GetSettings(ctx context.Context, userID string) (_ Settings, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "location_privacy_settings", tracing.DBOperationQuery)
	defer func() {
		// A missing row is an expected outcome.
		if errors.Is(err, ErrSettingsNotFound) {
			endSpan(nil)
			return
		}
		endSpan(err)
	}()

	query := `
		SELECT user_id, location_sharing_enabled, precision_level,
		       share_with_taskers, share_with_clients, share_history_duration,
		       anonymize_after_hours, allow_emergency_access, geofence_notifications,
		       updated_at
		FROM location_privacy_settings
		WHERE user_id = $1
	`

	var row settingsRow
	err = r.db.QueryRowContext(ctx, query, userID).Scan(
		&row.UserID,
		&row.LocationSharingEnabled,
		&row.PrecisionLevel,
		&row.ShareWithTaskers,
		&row.ShareWithClients,
		&row.ShareHistoryDuration,
		&row.AnonymizeAfterHours,
		&row.AllowEmergencyAccess,
		&row.GeofenceNotifications,
		&row.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{}, ErrSettingsNotFound
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to query privacy settings: %w", err)
	}

	return row.toSettings(), nil
}

// UpsertSettings inserts or replaces every column of the user's row.
func (r *PostgresSettingsRepository) UpsertSettings(ctx context.Context, userID string, settings Settings) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "location_privacy_settings", tracing.DBOperationUpsert)
	defer func() { endSpan(err) }()

	row := rowFromSettings(userID, settings)

	query := `
		INSERT INTO location_privacy_settings (
			user_id, location_sharing_enabled, precision_level,
			share_with_taskers, share_with_clients, share_history_duration,
			anonymize_after_hours, allow_emergency_access, geofence_notifications,
			updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			location_sharing_enabled = EXCLUDED.location_sharing_enabled,
			precision_level = EXCLUDED.precision_level,
			share_with_taskers = EXCLUDED.share_with_taskers,
			share_with_clients = EXCLUDED.share_with_clients,
			share_history_duration = EXCLUDED.share_history_duration,
			anonymize_after_hours = EXCLUDED.anonymize_after_hours,
			allow_emergency_access = EXCLUDED.allow_emergency_access,
			geofence_notifications = EXCLUDED.geofence_notifications,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		row.UserID,
		row.LocationSharingEnabled,
		row.PrecisionLevel,
		row.ShareWithTaskers,
		row.ShareWithClients,
		row.ShareHistoryDuration,
		row.AnonymizeAfterHours,
		row.AllowEmergencyAccess,
		row.GeofenceNotifications,
		row.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("failed to upsert privacy settings",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to upsert privacy settings: %w", err)
	}
	return nil
}

// InMemorySettingsRepository implements SettingsRepository for tests.
type InMemorySettingsRepository struct {
	mu       sync.RWMutex
	rows     map[string]settingsRow
	reads    int
	writes   int
	failNext error
}

// NewInMemorySettingsRepository creates an empty repository.
func NewInMemorySettingsRepository() *InMemorySettingsRepository {
	return &InMemorySettingsRepository{
		rows: make(map[string]settingsRow),
	}
}

// GetSettings returns the stored row or ErrSettingsNotFound.
func (r *InMemorySettingsRepository) GetSettings(ctx context.Context, userID string) (Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++

	if err := r.takeFailure(); err != nil {
		return Settings{}, err
	}

	row, ok := r.rows[userID]
	if !ok {
		return Settings{}, ErrSettingsNotFound
	}
	return row.toSettings(), nil
}

// UpsertSettings stores the full record.
func (r *InMemorySettingsRepository) UpsertSettings(ctx context.Context, userID string, settings Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++

	if err := r.takeFailure(); err != nil {
		return err
	}

	r.rows[userID] = rowFromSettings(userID, settings)
	return nil
}

// FailNext makes the next read or write return err.
func (r *InMemorySettingsRepository) FailNext(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = err
}

// Reads returns the number of GetSettings calls.
func (r *InMemorySettingsRepository) Reads() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reads
}

// Writes returns the number of UpsertSettings calls.
func (r *InMemorySettingsRepository) Writes() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.writes
}

func (r *InMemorySettingsRepository) takeFailure() error {
	err := r.failNext
	r.failNext = nil
	return err
}
