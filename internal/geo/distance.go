package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used for all spherical math.
const EarthRadiusMeters = 6371008.8

// Distance returns the great-circle distance in meters between two coordinates
// using the haversine formula.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := radians(lat1)
	phi2 := radians(lat2)
	dPhi := radians(lat2 - lat1)
	dLambda := radians(lng2 - lng1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	if a > 1 {
		a = 1
	}
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(a))
}

// Offset returns the coordinate reached by travelling distanceMeters from
// (lat, lng) along the given bearing (radians clockwise from north).
// The resulting longitude is normalized to [-180, 180].
func Offset(lat, lng, distanceMeters, bearing float64) (float64, float64) {
	delta := distanceMeters / EarthRadiusMeters
	phi1 := radians(lat)
	lambda1 := radians(lng)

	sinPhi2 := math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(bearing)
	sinPhi2 = math.Max(-1, math.Min(1, sinPhi2))
	phi2 := math.Asin(sinPhi2)

	y := math.Sin(bearing) * math.Sin(delta) * math.Cos(phi1)
	x := math.Cos(delta) - math.Sin(phi1)*sinPhi2
	lambda2 := lambda1 + math.Atan2(y, x)

	return degrees(phi2), NormalizeLongitude(degrees(lambda2))
}

// NormalizeLongitude wraps a longitude into [-180, 180].
func NormalizeLongitude(lng float64) float64 {
	if lng >= -180 && lng <= 180 {
		return lng
	}
	return math.Mod(math.Mod(lng+180, 360)+360, 360) - 180
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
