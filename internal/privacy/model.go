// Package privacy decides what representation of a user's position may be
// disclosed to a requester and resolves the per-user settings that drive it.
package privacy

import (
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/geoprivacy/internal/geo"
)

// Disclosure and settings errors.
var (
	// ErrSharingDisabled is returned when the target has turned location sharing off.
	ErrSharingDisabled = errors.New("location sharing disabled")

	// ErrPrecisionDisabled is returned when the target's precision level is disabled.
	ErrPrecisionDisabled = errors.New("location precision disabled")

	// ErrAccessDenied is returned by Discloser when the access chain says no.
	ErrAccessDenied = errors.New("location access denied")

	// ErrInvalidSettings is returned when an update would produce an invalid record.
	ErrInvalidSettings = errors.New("invalid privacy settings")
)

// PrecisionLevel is the coarseness of a disclosed location.
type PrecisionLevel string

// Precision levels.
const (
	PrecisionExact       PrecisionLevel = "exact"
	PrecisionApproximate PrecisionLevel = "approximate"
	PrecisionCity        PrecisionLevel = "city"
	PrecisionDisabled    PrecisionLevel = "disabled"
)

// Valid reports whether p is one of the known precision levels.
func (p PrecisionLevel) Valid() bool {
	switch p {
	case PrecisionExact, PrecisionApproximate, PrecisionCity, PrecisionDisabled:
		return true
	}
	return false
}

// Noise radii in meters for the degraded precision levels.
const (
	ApproximateRadiusMeters = 100
	CityRadiusMeters        = 5000
)

// AccessContext tags why a disclosure is requested.
type AccessContext int

// Access contexts. ContextNone is the zero value and never grants access.
const (
	ContextNone AccessContext = iota
	ContextEmergency
	ContextTask
	ContextNearby
)

// String returns the wire name of the context.
func (c AccessContext) String() string {
	switch c {
	case ContextEmergency:
		return "emergency"
	case ContextTask:
		return "task"
	case ContextNearby:
		return "nearby"
	default:
		return "none"
	}
}

// ParseAccessContext maps a wire name to an AccessContext.
func ParseAccessContext(s string) (AccessContext, error) {
	switch s {
	case "emergency":
		return ContextEmergency, nil
	case "task":
		return ContextTask, nil
	case "nearby":
		return ContextNearby, nil
	default:
		return ContextNone, fmt.Errorf("unknown access context %q", s)
	}
}

// Settings is a user's fully resolved location privacy record.
// The JSON shape is the cached representation.
type Settings struct {
	LocationSharingEnabled bool           `json:"locationSharingEnabled"`
	PrecisionLevel         PrecisionLevel `json:"precisionLevel"`
	ShareWithTaskers       bool           `json:"shareWithTaskers"`
	ShareWithClients       bool           `json:"shareWithClients"`
	ShareHistoryDuration   int            `json:"shareHistoryDuration"` // days
	AnonymizeAfterHours    int            `json:"anonymizeAfterHours"`
	AllowEmergencyAccess   bool           `json:"allowEmergencyAccess"`
	GeofenceNotifications  bool           `json:"geofenceNotifications"`
	UpdatedAt              time.Time      `json:"updatedAt"`
}

// DefaultSettings returns the record used for users with no stored settings.
// It is computed on every call and never persisted implicitly.
func DefaultSettings() Settings {
	return Settings{
		LocationSharingEnabled: true,
		PrecisionLevel:         PrecisionApproximate,
		ShareWithTaskers:       true,
		ShareWithClients:       true,
		ShareHistoryDuration:   7,
		AnonymizeAfterHours:    24,
		AllowEmergencyAccess:   true,
		GeofenceNotifications:  true,
	}
}

// Validate checks the record can be persisted.
func (s Settings) Validate() error {
	if !s.PrecisionLevel.Valid() {
		return fmt.Errorf("%w: unknown precision level %q", ErrInvalidSettings, s.PrecisionLevel)
	}
	if s.ShareHistoryDuration < 0 {
		return fmt.Errorf("%w: share history duration must not be negative", ErrInvalidSettings)
	}
	if s.AnonymizeAfterHours < 0 {
		return fmt.Errorf("%w: anonymize window must not be negative", ErrInvalidSettings)
	}
	return nil
}

// SettingsUpdate is a partial update. Nil fields keep their current value.
type SettingsUpdate struct {
	LocationSharingEnabled *bool           `json:"locationSharingEnabled,omitempty"`
	PrecisionLevel         *PrecisionLevel `json:"precisionLevel,omitempty"`
	ShareWithTaskers       *bool           `json:"shareWithTaskers,omitempty"`
	ShareWithClients       *bool           `json:"shareWithClients,omitempty"`
	ShareHistoryDuration   *int            `json:"shareHistoryDuration,omitempty"`
	AnonymizeAfterHours    *int            `json:"anonymizeAfterHours,omitempty"`
	AllowEmergencyAccess   *bool           `json:"allowEmergencyAccess,omitempty"`
	GeofenceNotifications  *bool           `json:"geofenceNotifications,omitempty"`
}

// Apply returns current with every non-nil field of u laid over it.
func (u SettingsUpdate) Apply(current Settings) Settings {
	merged := current
	if u.LocationSharingEnabled != nil {
		merged.LocationSharingEnabled = *u.LocationSharingEnabled
	}
	if u.PrecisionLevel != nil {
		merged.PrecisionLevel = *u.PrecisionLevel
	}
	if u.ShareWithTaskers != nil {
		merged.ShareWithTaskers = *u.ShareWithTaskers
	}
	if u.ShareWithClients != nil {
		merged.ShareWithClients = *u.ShareWithClients
	}
	if u.ShareHistoryDuration != nil {
		merged.ShareHistoryDuration = *u.ShareHistoryDuration
	}
	if u.AnonymizeAfterHours != nil {
		merged.AnonymizeAfterHours = *u.AnonymizeAfterHours
	}
	if u.AllowEmergencyAccess != nil {
		merged.AllowEmergencyAccess = *u.AllowEmergencyAccess
	}
	if u.GeofenceNotifications != nil {
		merged.GeofenceNotifications = *u.GeofenceNotifications
	}
	return merged
}

// AnonymizedLocation is a randomly perturbed position. The true point lies
// within AccuracyRadius meters of the reported coordinates.
type AnonymizedLocation struct {
	ApproximateLatitude  float64   `json:"approximateLatitude"`
	ApproximateLongitude float64   `json:"approximateLongitude"`
	IsAnonymized         bool      `json:"isAnonymized"`
	AccuracyRadius       float64   `json:"accuracyRadius"`
	Timestamp            time.Time `json:"timestamp"`
	Geohash              string    `json:"geohash,omitempty"`
}

// Disclosure is the result of filtering a point. Exactly one of Exact or
// Approximate is set.
type Disclosure struct {
	Exact       *geo.Point          `json:"exact,omitempty"`
	Approximate *AnonymizedLocation `json:"approximate,omitempty"`
}

// IsExact reports whether the disclosure carries the raw point.
func (d Disclosure) IsExact() bool {
	return d.Exact != nil
}
