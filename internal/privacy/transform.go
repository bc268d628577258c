package privacy

import (
	"math"
	"math/rand/v2"

	"github.com/onnwee/geoprivacy/internal/geo"
)

// Filter maps a raw point to the representation the target's settings allow.
//
// ContextEmergency always returns the exact point; it is the only path that
// bypasses the sharing flag and precision level. Otherwise a disabled sharing
// flag yields ErrSharingDisabled and the precision level selects the output.
func Filter(point geo.Point, settings Settings, accessCtx AccessContext) (Disclosure, error) {
	if accessCtx == ContextEmergency {
		p := point
		return Disclosure{Exact: &p}, nil
	}

	if !settings.LocationSharingEnabled {
		return Disclosure{}, ErrSharingDisabled
	}

	switch settings.PrecisionLevel {
	case PrecisionExact:
		p := point
		return Disclosure{Exact: &p}, nil
	case PrecisionApproximate:
		loc := Anonymize(point, ApproximateRadiusMeters)
		return Disclosure{Approximate: &loc}, nil
	case PrecisionCity:
		loc := Anonymize(point, CityRadiusMeters)
		return Disclosure{Approximate: &loc}, nil
	default:
		// PrecisionDisabled and anything unrecognized.
		return Disclosure{}, ErrPrecisionDisabled
	}
}

// Anonymize moves point by a random offset of at most radiusMeters in a
// uniformly random direction. The offset magnitude is r*sqrt(u), which spreads
// reported points uniformly over the disc. Timestamp is copied verbatim.
// A non-positive radius yields no displacement.
func Anonymize(point geo.Point, radiusMeters float64) AnonymizedLocation {
	lat, lng := point.Latitude, point.Longitude
	if radiusMeters > 0 {
		bearing := rand.Float64() * 2 * math.Pi
		distance := radiusMeters * math.Sqrt(1-rand.Float64())
		lat, lng = geo.Offset(point.Latitude, point.Longitude, distance, bearing)
	}

	return AnonymizedLocation{
		ApproximateLatitude:  lat,
		ApproximateLongitude: lng,
		IsAnonymized:         true,
		AccuracyRadius:       radiusMeters,
		Timestamp:            point.Timestamp,
		Geohash:              geo.Encode(lat, lng, geo.PrecisionForRadius(radiusMeters)),
	}
}
